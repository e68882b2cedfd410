package asyncagi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surycat/obelus/agi"
	"github.com/surycat/obelus/ami"
)

// fakeCarrierTransport is the socket the ami.Engine writes AGI actions
// through; the adapter never touches it directly.
type fakeCarrierTransport struct {
	writes [][]byte
}

func (t *fakeCarrierTransport) Write(p []byte) error {
	cp := make([]byte, len(p))
	copy(cp, p)
	t.writes = append(t.writes, cp)
	return nil
}

func (t *fakeCarrierTransport) Close() error { return nil }

func (t *fakeCarrierTransport) lastWrite() string {
	if len(t.writes) == 0 {
		return ""
	}
	return string(t.writes[len(t.writes)-1])
}

func authenticatedCarrier(t *testing.T) (*ami.Engine, *fakeCarrierTransport) {
	t.Helper()
	e := ami.NewEngine()
	tr := &fakeCarrierTransport{}
	e.ConnectionMade(tr)
	e.DataReceived([]byte("Asterisk Call Manager/8.10.0\r\n"))
	actionID, result := e.SendAction("Login", nil, nil)
	e.DataReceived([]byte("Response: Success\r\nActionID: " + actionID + "\r\n\r\n"))
	require.True(t, result.Done())
	require.Equal(t, ami.StateAuthenticated, e.State())
	return e, tr
}

func startEvent(channel, env string) []byte {
	escaped := strings.ReplaceAll(env, "\n", `\n`)
	return []byte("Event: AsyncAGI\r\nSubEvent: Start\r\nChannel: " + channel + "\r\nEnv: " + escaped + "\r\n\r\n")
}

func execEvent(channel, result string) []byte {
	escaped := strings.ReplaceAll(result, "\n", `\n`)
	return []byte("Event: AsyncAGI\r\nSubEvent: Exec\r\nChannel: " + channel + "\r\nResult: " + escaped + "\r\n\r\n")
}

func TestAdapterStartEventFeedsEnvironment(t *testing.T) {
	carrier, _ := authenticatedCarrier(t)
	agiEngine := agi.NewEngine()
	New(carrier, agiEngine, "SIP/100-1", nil)

	carrier.DataReceived(startEvent("SIP/100-1", "agi_request: async\nagi_channel: SIP/100-1\n"))

	require.Equal(t, agi.StateReady, agiEngine.State())
	v, ok := agiEngine.Environment().Get("agi_channel")
	require.True(t, ok)
	assert.Equal(t, "SIP/100-1", v)
}

func TestAdapterWriteTranslatesToAGIAction(t *testing.T) {
	carrier, tr := authenticatedCarrier(t)
	agiEngine := agi.NewEngine()
	New(carrier, agiEngine, "SIP/100-1", nil)
	carrier.DataReceived(startEvent("SIP/100-1", "agi_request: async\n"))

	result := agiEngine.SendCommand("ANSWER")

	frame := tr.lastWrite()
	assert.Contains(t, frame, "Action: AGI")
	assert.Contains(t, frame, "Channel: SIP/100-1")
	assert.Contains(t, frame, "Command: ANSWER")
	assert.False(t, result.Done())
}

func TestAdapterExecEventDeliversReply(t *testing.T) {
	carrier, _ := authenticatedCarrier(t)
	agiEngine := agi.NewEngine()
	New(carrier, agiEngine, "SIP/100-1", nil)
	carrier.DataReceived(startEvent("SIP/100-1", "agi_request: async\n"))

	result := agiEngine.SendCommand("ANSWER")
	carrier.DataReceived(execEvent("SIP/100-1", "200 result=0"))

	require.True(t, result.Done())
	reply, err := result.Outcome()
	require.NoError(t, err)
	assert.Equal(t, 200, reply.Code)
}

func TestAdapterIgnoresOtherChannels(t *testing.T) {
	carrier, _ := authenticatedCarrier(t)
	agiEngine := agi.NewEngine()
	New(carrier, agiEngine, "SIP/100-1", nil)

	carrier.DataReceived(startEvent("SIP/999-1", "agi_request: async\n"))
	assert.Equal(t, agi.StateHeaderIngest, agiEngine.State())
}

func TestAdapterHangupTranslatesToSynthetic511(t *testing.T) {
	carrier, _ := authenticatedCarrier(t)
	agiEngine := agi.NewEngine()
	New(carrier, agiEngine, "SIP/100-1", nil)
	carrier.DataReceived(startEvent("SIP/100-1", "agi_request: async\n"))

	result := agiEngine.SendCommand("ANSWER")
	carrier.DataReceived([]byte("Event: Hangup\r\nChannel: SIP/100-1\r\nUniqueid: 123.1\r\nCause: 16\r\n\r\n"))

	require.True(t, result.Done())
	_, err := result.Outcome()
	require.Error(t, err)
	var dead *agi.AGIChannelDead
	require.ErrorAs(t, err, &dead)
	assert.True(t, agiEngine.Dead())
}
