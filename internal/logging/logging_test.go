package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFiltersBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New("WARN", &buf)

	logger.Info().Msg("should be dropped")
	assert.Empty(t, buf.String())

	logger.Warn().Msg("should appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestNewFallsBackToInfoOnUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New("bogus", &buf)

	logger.Info().Msg("visible at default level")
	assert.Contains(t, buf.String(), "visible at default level")
}

func TestForCallStampsCallID(t *testing.T) {
	var buf bytes.Buffer
	base := New("INFO", &buf)
	call := ForCall(base, "call-123")

	call.Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "call-123", line["call_id"])
}
