package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "mode: echo\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.BindIP)
	assert.Equal(t, 5060, cfg.SipPort)
	assert.Equal(t, 30000, cfg.RtpPortStart)
	assert.Equal(t, []string{"PCMU", "PCMA"}, cfg.CodecPreference)
	assert.Equal(t, 5, cfg.TransactionGcSec)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, "sip_port: 5070\nmax_calls: 10\nmode: audiosocket\naudiosocket_target: \"127.0.0.1:9999\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5070, cfg.SipPort)
	assert.Equal(t, 10, cfg.MaxCalls)
	assert.Equal(t, "127.0.0.1:9999", cfg.AudiosocketAddr)
}

func TestLoadRejectsAudiosocketModeWithoutTarget(t *testing.T) {
	path := writeConfig(t, "mode: audiosocket\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsOddPortRange(t *testing.T) {
	path := writeConfig(t, "mode: echo\nrtp_port_start: 30001\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	path := writeConfig(t, "mode: bogus\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
