package agi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records every frame written to it, standing in for the
// stdin/stdout pipe or FastAGI socket an embedder would otherwise own.
type fakeTransport struct {
	writes [][]byte
	closed bool
}

func (t *fakeTransport) Write(p []byte) error {
	cp := make([]byte, len(p))
	copy(cp, p)
	t.writes = append(t.writes, cp)
	return nil
}

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

func (t *fakeTransport) lastWrite() string {
	if len(t.writes) == 0 {
		return ""
	}
	return string(t.writes[len(t.writes)-1])
}

func ready(t *testing.T, opts ...Option) (*Engine, *fakeTransport) {
	t.Helper()
	e := NewEngine(opts...)
	tr := &fakeTransport{}
	e.ConnectionMade(tr)
	e.DataReceived([]byte("agi_request: myapp\nagi_channel: SIP/100-1\nagi_uniqueid: 123.1\n\n"))
	require.Equal(t, StateReady, e.State())
	return e, tr
}

func TestEngineEnvironmentIngestThenReady(t *testing.T) {
	e, _ := ready(t)

	v, ok := e.Environment().Get("agi_channel")
	require.True(t, ok)
	assert.Equal(t, "SIP/100-1", v)
}

func TestEngineCommandWritesImmediatelyWhenIdle(t *testing.T) {
	e, tr := ready(t)

	result := e.SendCommand(`ANSWER`)
	assert.Equal(t, "ANSWER\n", tr.lastWrite())
	assert.Equal(t, StateAwaitingReply, e.State())

	e.DataReceived([]byte("200 result=0\n"))
	require.True(t, result.Done())
	reply, err := result.Outcome()
	require.NoError(t, err)
	assert.Equal(t, 200, reply.Code)
	assert.Equal(t, "0", reply.Result)
	assert.Equal(t, StateReady, e.State())
}

func TestEngineCommandsQueueInFIFOOrder(t *testing.T) {
	e, tr := ready(t)

	first := e.SendCommand(`ANSWER`)
	second := e.SendCommand(`HANGUP`)

	assert.Equal(t, "ANSWER\n", tr.lastWrite())
	assert.False(t, second.Done())

	e.DataReceived([]byte("200 result=0\n"))
	require.True(t, first.Done())
	assert.Equal(t, "HANGUP\n", tr.lastWrite())

	e.DataReceived([]byte("200 result=1\n"))
	require.True(t, second.Done())
}

func TestEngineInformationalLinesAttachToPendingCommand(t *testing.T) {
	e, _ := ready(t)

	result := e.SendCommand(`EXEC Dial SIP/200`)
	e.DataReceived([]byte("100 Trying...\n"))
	assert.False(t, result.Done())

	e.DataReceived([]byte("200 result=1\n"))
	require.True(t, result.Done())
	reply, err := result.Outcome()
	require.NoError(t, err)
	assert.Equal(t, []string{"100 Trying..."}, reply.InfoLines)
}

func TestEngineInvalidCommandFailsOnlyThatCommand(t *testing.T) {
	e, _ := ready(t)

	bad := e.SendCommand(`GARBAGE`)
	e.DataReceived([]byte("510 Invalid or unknown command\n"))

	require.True(t, bad.Done())
	_, err := bad.Outcome()
	require.Error(t, err)
	var ce *AGICommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StateReady, e.State())

	good := e.SendCommand(`ANSWER`)
	e.DataReceived([]byte("200 result=0\n"))
	require.True(t, good.Done())
}

func TestEngineUsageErrorCollectsBodyThenFailsCommand(t *testing.T) {
	e, _ := ready(t)

	result := e.SendCommand(`EXEC Weird`)
	e.DataReceived([]byte("520 Invalid command syntax.  Proper usage follows:\n"))
	e.DataReceived([]byte("Weird: usage string\n"))
	e.DataReceived([]byte("520 End of proper usage\n"))

	require.True(t, result.Done())
	_, err := result.Outcome()
	require.Error(t, err)
	var ue *AGIUsageError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, []string{"Weird: usage string"}, ue.BodyLines)
	assert.Equal(t, StateReady, e.State())
}

func TestEngineDeadChannelFailsQueueAndStaysDead(t *testing.T) {
	e, _ := ready(t)

	inFlight := e.SendCommand(`EXEC Dial SIP/200`)
	queued := e.SendCommand(`HANGUP`)

	e.DataReceived([]byte("511 result=-1\n"))

	require.True(t, inFlight.Done())
	_, err := inFlight.Outcome()
	var dead *AGIChannelDead
	require.ErrorAs(t, err, &dead)

	require.True(t, queued.Done())
	_, err = queued.Outcome()
	require.ErrorAs(t, err, &dead)

	assert.True(t, e.Dead())
	assert.Equal(t, StateAwaitingReply, e.State())

	next := e.SendCommand(`ANSWER`)
	require.True(t, next.Done())
	_, err = next.Outcome()
	require.ErrorAs(t, err, &dead)
}

func TestEngineDeadChannelWithNoCommandInFlightStaysReady(t *testing.T) {
	e, _ := ready(t)

	e.DataReceived([]byte("511 result=-1\n"))

	assert.True(t, e.Dead())
	assert.Equal(t, StateReady, e.State())

	next := e.SendCommand(`ANSWER`)
	require.True(t, next.Done())
	_, err := next.Outcome()
	var dead *AGIChannelDead
	require.ErrorAs(t, err, &dead)
}

func TestEngineConnectionLostFailsQueuedCommands(t *testing.T) {
	e, _ := ready(t)

	result := e.SendCommand(`ANSWER`)
	e.ConnectionLost(nil)

	require.True(t, result.Done())
	_, err := result.Outcome()
	require.Error(t, err)
	assert.Equal(t, StateClosed, e.State())
}

func TestEngineSplitByteDeliveryOfEnvironmentProducesSameResult(t *testing.T) {
	whole := []byte("agi_request: myapp\nagi_channel: SIP/100-1\n\n")

	run := func(chunker func([]byte, func([]byte))) string {
		e := NewEngine()
		tr := &fakeTransport{}
		e.ConnectionMade(tr)
		chunker(whole, e.DataReceived)
		v, _ := e.Environment().Get("agi_channel")
		return v
	}

	oneShot := run(func(p []byte, feed func([]byte)) { feed(p) })
	trickled := run(func(p []byte, feed func([]byte)) {
		for _, b := range p {
			feed([]byte{b})
		}
	})

	assert.Equal(t, oneShot, trickled)
	assert.Equal(t, "SIP/100-1", oneShot)
}
