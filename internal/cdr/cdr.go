// Package cdr appends one JSON call detail record per terminated call to
// a configured file, for operational visibility.
package cdr

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EndReason classifies why a call's media/signaling ended.
type EndReason string

const (
	EndRemoteBye         EndReason = "remote-bye"
	EndLocalBye          EndReason = "local-bye"
	EndCancel            EndReason = "cancel"
	EndFailed            EndReason = "failed"
	EndBackendDisconnect EndReason = "backend-disconnect"
)

// Record is one call's lifecycle summary.
type Record struct {
	CallID        string    `json:"call_id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	EndReason     EndReason `json:"end_reason"`
	RecordingPath string    `json:"recording_path,omitempty"`
}

// Sink appends Records as one JSON line per call. A Sink with no
// configured path is a no-op: the gateway always owns one, whether or
// not cdr_path was set.
type Sink struct {
	mu     sync.Mutex
	file   *os.File
	logger zerolog.Logger
}

// Open opens (creating/appending) the CDR file at path. An empty path
// disables recording without being an error.
func Open(path string, logger zerolog.Logger) (*Sink, error) {
	if path == "" {
		return &Sink{logger: logger}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Sink{file: f, logger: logger}, nil
}

// Write appends rec as a single JSON line. A failure is logged at ERROR
// and otherwise ignored: CDR writes never block or fail a call's teardown.
func (s *Sink) Write(rec Record) {
	if s.file == nil {
		return
	}
	line, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error().Err(err).Str("call_id", rec.CallID).Msg("cdr: marshal record failed")
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(line); err != nil {
		s.logger.Error().Err(err).Str("call_id", rec.CallID).Msg("cdr: write record failed")
	}
}

// Close closes the underlying file, if one is open.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
