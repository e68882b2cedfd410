package agi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStatusLinePlain(t *testing.T) {
	code, result, value, extra, ok := parseStatusLine("200 result=1")
	assert.True(t, ok)
	assert.Equal(t, 200, code)
	assert.Equal(t, "1", result)
	assert.Equal(t, "", value)
	assert.Equal(t, "", extra)
}

func TestParseStatusLineWithVerboseValue(t *testing.T) {
	code, result, value, extra, ok := parseStatusLine("200 result=1 (speech) extra text")
	assert.True(t, ok)
	assert.Equal(t, 200, code)
	assert.Equal(t, "1", result)
	assert.Equal(t, "speech", value)
	assert.Equal(t, "extra text", extra)
}

func TestParseStatusLineNoResult(t *testing.T) {
	code, result, _, extra, ok := parseStatusLine("510 Invalid or unknown command")
	assert.True(t, ok)
	assert.Equal(t, 510, code)
	assert.Equal(t, "", result)
	assert.Equal(t, "Invalid or unknown command", extra)
}

func TestParseStatusLineTrimsCR(t *testing.T) {
	code, result, _, _, ok := parseStatusLine("200 result=0\r")
	assert.True(t, ok)
	assert.Equal(t, 200, code)
	assert.Equal(t, "0", result)
}

func TestParseStatusLineRejectsMalformedCode(t *testing.T) {
	_, _, _, _, ok := parseStatusLine("not-a-status-line")
	assert.False(t, ok)
}

func TestIsInformational(t *testing.T) {
	assert.True(t, isInformational(100))
	assert.True(t, isInformational(199))
	assert.False(t, isInformational(200))
	assert.False(t, isInformational(99))
}
