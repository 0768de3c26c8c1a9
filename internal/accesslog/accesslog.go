// Package accesslog provides the wsgi.errors sink handed to applications
// through the environment, and the zerolog configuration the rest of the
// server logs through.
package accesslog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the process-wide structured logger. debug raises the
// level to zerolog.DebugLevel; otherwise it stays at InfoLevel.
func NewLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// ErrorsSink adapts a zerolog.Logger into the io.Writer an application
// writes wsgi.errors diagnostics to. Every write is logged at Warn level,
// tagged with the connection and request it came from; there is no
// buffering, since an application is expected to write full lines
// infrequently.
type ErrorsSink struct {
	log          *zerolog.Logger
	connectionID string
	requestID    string
}

// NewErrorsSink returns a wsgi.errors writer tagged with the connection and
// request that produced it, so concurrent requests' diagnostics don't
// interleave unattributed in the shared log stream.
func NewErrorsSink(log *zerolog.Logger, connectionID, requestID string) io.Writer {
	return &ErrorsSink{log: log, connectionID: connectionID, requestID: requestID}
}

func (s *ErrorsSink) Write(p []byte) (int, error) {
	s.log.Warn().
		Str("connection_id", s.connectionID).
		Str("request_id", s.requestID).
		Str("source", "wsgi.errors").
		Msg(string(p))
	return len(p), nil
}
