package obelus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramerNextLineCRLF(t *testing.T) {
	f := NewFramer()
	f.Feed([]byte("Response: Success\r\nActionID: 1\r\n\r\n"))

	line, ok, err := f.NextLine()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Response: Success", line)

	line, ok, err = f.NextLine()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ActionID: 1", line)

	line, ok, err = f.NextLine()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "", line)

	_, ok, err = f.NextLine()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFramerNextLineLF(t *testing.T) {
	f := NewFramer()
	f.Feed([]byte("one\ntwo\n"))

	line, ok, err := f.NextLine()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", line)

	line, ok, err = f.NextLine()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", line)
}

// Feeding the same bytes in any chunking, down to one byte per call,
// produces the same sequence of lines (spec.md §8).
func TestFramerSplitDelivery(t *testing.T) {
	whole := []byte("Event: Newchannel\r\nChannel: SIP/100-1\r\n\r\n")

	collect := func(chunks [][]byte) []string {
		f := NewFramer()
		var lines []string
		for _, c := range chunks {
			f.Feed(c)
			for {
				line, ok, err := f.NextLine()
				require.NoError(t, err)
				if !ok {
					break
				}
				lines = append(lines, line)
			}
		}
		return lines
	}

	oneShot := collect([][]byte{whole})

	var byteAtATime [][]byte
	for _, b := range whole {
		byteAtATime = append(byteAtATime, []byte{b})
	}
	trickled := collect(byteAtATime)

	assert.Equal(t, oneShot, trickled)
	assert.Equal(t, []string{"Event: Newchannel", "Channel: SIP/100-1", ""}, oneShot)
}

func TestFramerNextLinePartialStaysBuffered(t *testing.T) {
	f := NewFramer()
	f.Feed([]byte("partial"))
	_, ok, err := f.NextLine()
	require.NoError(t, err)
	assert.False(t, ok)

	f.Feed([]byte(" line\n"))
	line, ok, err := f.NextLine()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "partial line", line)
}

func TestParseHeaderLine(t *testing.T) {
	h, err := ParseHeaderLine("Response: Success")
	require.NoError(t, err)
	assert.Equal(t, Header{Name: "Response", Value: "Success"}, h)

	_, err = ParseHeaderLine("no colon here")
	assert.Error(t, err)
	var pe *ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestParseHeaderLineSingleLeadingSpaceOnly(t *testing.T) {
	h, err := ParseHeaderLine("X-Thing:   padded")
	require.NoError(t, err)
	assert.Equal(t, "  padded", h.Value)
}

func TestHeaderBlockGetIsCaseInsensitiveFirstOccurrence(t *testing.T) {
	block := HeaderBlock{Headers: []Header{
		{Name: "Variable", Value: "a=1"},
		{Name: "variable", Value: "b=2"},
	}}

	v, ok := block.Get("VARIABLE")
	require.True(t, ok)
	assert.Equal(t, "a=1", v)

	assert.Equal(t, []string{"a=1", "b=2"}, block.All("Variable"))
}

func TestEmitHeaderBlockRoundTrip(t *testing.T) {
	headers := []Header{
		{Name: "Action", Value: "Login"},
		{Name: "ActionID", Value: "1"},
	}
	frame := EmitHeaderBlock(headers)

	f := NewFramer()
	f.Feed(frame)

	var got []Header
	for {
		line, ok, err := f.NextLine()
		require.NoError(t, err)
		if !ok {
			break
		}
		if line == "" {
			break
		}
		h, err := ParseHeaderLine(line)
		require.NoError(t, err)
		got = append(got, h)
	}
	assert.Equal(t, headers, got)
}
