// Package config loads the gateway's YAML configuration into a typed,
// validated Config.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway's full runtime configuration, unmarshaled from
// YAML with defaults applied by Load.
type Config struct {
	BindIP           string   `yaml:"bind_ip"`
	SipPort          int      `yaml:"sip_port"`
	RtpPortStart     int      `yaml:"rtp_port_start"`
	RtpPortEnd       int      `yaml:"rtp_port_end"`
	RtpWorkers       int      `yaml:"rtp_workers"`
	MaxCalls         int      `yaml:"max_calls"`
	CodecPreference  []string `yaml:"codec_preference"`
	Mode             string   `yaml:"mode"`
	AudiosocketAddr  string   `yaml:"audiosocket_target"`
	RecordingMode    bool     `yaml:"recording_mode"`
	RecordingPath    string   `yaml:"recording_path"`
	LogLevel         string   `yaml:"log_level"`
	CdrPath          string   `yaml:"cdr_path"`
	MetricsListen    string   `yaml:"metrics_listen"`
	TransactionGcSec int      `yaml:"transaction_gc_interval"`
}

// TransactionGcInterval returns TransactionGcSec as a time.Duration.
func (c *Config) TransactionGcInterval() time.Duration {
	return time.Duration(c.TransactionGcSec) * time.Second
}

func defaults() Config {
	return Config{
		BindIP:           "0.0.0.0",
		SipPort:          5060,
		RtpPortStart:     30000,
		RtpPortEnd:       40000,
		RtpWorkers:       runtime.NumCPU(),
		MaxCalls:         100,
		CodecPreference:  []string{"PCMU", "PCMA"},
		Mode:             "echo",
		RecordingPath:    "recordings",
		LogLevel:         "INFO",
		TransactionGcSec: 5,
	}
}

// Load reads the YAML file at path, applies defaults for any key left
// unset, and validates the result. A malformed file or failed validation
// returns an error; the caller treats this as a startup-fatal condition.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.RtpWorkers <= 0 {
		cfg.RtpWorkers = runtime.NumCPU()
	}
	if cfg.TransactionGcSec <= 0 {
		cfg.TransactionGcSec = 5
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Validate checks invariants Load's defaulting can't guarantee on its own:
// port range parity and non-emptiness, a recognised mode, and a target
// address when mode requires one.
func (c *Config) Validate() error {
	if c.RtpPortStart%2 != 0 || c.RtpPortEnd%2 != 0 {
		return fmt.Errorf("rtp_port_start and rtp_port_end must be even-aligned")
	}
	if c.RtpPortEnd <= c.RtpPortStart {
		return fmt.Errorf("rtp_port_end must be greater than rtp_port_start")
	}
	switch c.Mode {
	case "echo":
	case "audiosocket":
		if c.AudiosocketAddr == "" {
			return fmt.Errorf("audiosocket_target is required when mode=audiosocket")
		}
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", "echo", "audiosocket", c.Mode)
	}
	switch c.LogLevel {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("log_level must be one of DEBUG|INFO|WARN|ERROR, got %q", c.LogLevel)
	}
	return nil
}
