// Package testlog routes zerolog output through testing.T.
package testlog

import (
	"testing"

	"github.com/rs/zerolog"
)

// New returns a debug-level logger that writes through t.Log, so output only
// shows up for failing or verbose tests.
func New(t testing.TB) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}
