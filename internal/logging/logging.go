// Package logging constructs the gateway's single structured logger and
// hands it to every other component explicitly, per spec's singleton
// collaborator guidance: no ambient global logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to out at the given level
// ("DEBUG"|"INFO"|"WARN"|"ERROR"); an unrecognised level falls back to
// INFO rather than failing, since logging setup itself must never be a
// startup-fatal condition.
func New(level string, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	return zerolog.New(out).Level(parseLevel(level)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ForCall returns a child logger that stamps every line with call_id, per
// spec's requirement that call-scoped log lines carry the call's identity.
func ForCall(base zerolog.Logger, callID string) zerolog.Logger {
	return base.With().Str("call_id", callID).Logger()
}
