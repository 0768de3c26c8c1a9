// Package respframe implements the response-framing state machine described
// in the design notes: CollectHead -> AwaitFirstBody -> Streaming -> Done.
// It buffers status and headers until the first body byte is ready (or
// until the application is done producing nothing at all), enforces
// Content-Length accounting, and decides keep-alive.
package respframe

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/WhileEndless/syncwsgi/internal/stream"
	"github.com/WhileEndless/syncwsgi/pkg/constants"
	"github.com/WhileEndless/syncwsgi/pkg/errors"
)

// State is the framer's position in its finite automaton.
type State int

const (
	CollectHead State = iota
	AwaitFirstBody
	Streaming
	Done
)

// Header is one application-supplied response header.
type Header struct {
	Name  string
	Value string
}

var (
	statusRE = regexp.MustCompile(`\A[2-5]\d\d [A-Z][ -~]*\z`)
	headerKeyRE = regexp.MustCompile(`\A[A-Za-z][A-Za-z-]*\z`)
	headerValueRE = regexp.MustCompile(`\A[ -~]+\z`)
)

var deniedHeaders = map[string]bool{
	"status": true, "server": true, "date": true, "connection": true,
}

// capitalizeHeaderName turns e.g. "content-type" into "Content-Type".
func capitalizeHeaderName(name string) string {
	parts := strings.Split(strings.ToLower(name), "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "-")
}

// Framer drives one response's framing state machine over a Stream.
type Framer struct {
	stream *stream.Stream
	log    *zerolog.Logger

	version          string
	isHead           bool
	requestKeepAlive bool
	serverSoftware   string
	date             string
	drainBody        func() error

	state State

	status  string
	headers []Header

	contentLengthDeclared  *int
	contentLengthRemaining int

	keepAliveDecided bool
	headersSent      bool
	bodyDrained      bool
}

// Config bundles everything Framer needs from the current request that it
// doesn't own itself.
type Config struct {
	Stream           *stream.Stream
	Logger           *zerolog.Logger
	Version          string
	IsHead           bool
	RequestKeepAlive bool
	ServerSoftware   string
	Date             string
	// DrainBody discards any unread request body bytes. Called exactly
	// once, at the Streaming transition, unless the caller already drained
	// the body itself (see MarkBodyDrained).
	DrainBody func() error
}

// New creates a Framer in the CollectHead state.
func New(cfg Config) *Framer {
	return &Framer{
		stream:           cfg.Stream,
		log:              cfg.Logger,
		version:          cfg.Version,
		isHead:           cfg.IsHead,
		requestKeepAlive: cfg.RequestKeepAlive,
		serverSoftware:   cfg.ServerSoftware,
		date:             cfg.Date,
		drainBody:        cfg.DrainBody,
		state:            CollectHead,
	}
}

// MarkBodyDrained tells the framer the request body has already been fully
// consumed (e.g. the application read wsgi.input itself), so the Streaming
// transition should not attempt to discard it again.
func (f *Framer) MarkBodyDrained() { f.bodyDrained = true }

// State returns the framer's current state.
func (f *Framer) State() State { return f.state }

// KeepAliveDecided reports whether the connection should be reused, valid
// only once the framer has reached Streaming or Done.
func (f *Framer) KeepAliveDecided() bool { return f.keepAliveDecided }

// HeadersSent reports whether any byte of the response has left the write
// buffer.
func (f *Framer) HeadersSent() bool { return f.headersSent }

// StartResponse buffers status and headers for later emission. Calling it
// again before the first body byte discards the previous call, per the
// "last call wins" rule. The returned WriteFunc is the write() callable
// handed to the application.
func (f *Framer) StartResponse(status string, headers []Header) (func([]byte) error, error) {
	if f.state != CollectHead && f.state != AwaitFirstBody {
		return nil, errors.NewResponseSyntaxFault("start_response called after body started")
	}
	if f.stream.WriteBufferLen() > 0 {
		f.stream.DiscardWriteBuffer()
	}
	f.contentLengthDeclared = nil
	f.contentLengthRemaining = 0

	if !isValidStatus(status) {
		return nil, errors.NewResponseSyntaxFault("bad HTTP response status: " + status)
	}
	f.status = status
	f.headers = f.headers[:0]

	for _, h := range headers {
		key := strings.ToLower(h.Name)
		if deniedHeaders[key] || strings.HasPrefix(key, "proxy-") {
			continue
		}
		if f.isHead && (key == "content-length" || key == "content-transfer-encoding") {
			continue
		}
		value := strings.TrimSpace(h.Value)
		if key == "content-length" {
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return nil, errors.NewResponseSyntaxFault("bad content-length: " + h.Value)
			}
			f.contentLengthDeclared = &n
			f.contentLengthRemaining = n
			continue
		}
		if !headerKeyRE.MatchString(key) {
			return nil, errors.NewResponseSyntaxFault("invalid header key: " + h.Name)
		}
		if !headerValueRE.MatchString(value) {
			return nil, errors.NewResponseSyntaxFault(fmt.Sprintf("invalid value for key %q: %q", h.Name, value))
		}
		f.headers = append(f.headers, Header{Name: capitalizeHeaderName(h.Name), Value: value})
	}

	f.state = AwaitFirstBody
	return f.Write, nil
}

// IsHead reports whether the request being answered was a HEAD request.
func (f *Framer) IsHead() bool { return f.isHead }

// Write is the body-writing entry point: the same function StartResponse
// hands to the application as its write() callable, exported so other
// packages can drive an already-started response (used when draining a
// lazy output iterator).
func (f *Framer) Write(data []byte) error { return f.write(data) }

func isValidStatus(status string) bool {
	return statusRE.MatchString(status)
}

// write is the WriteFunc returned to the application. It transitions
// AwaitFirstBody -> Streaming on its first call (even with empty data, to
// support a zero-length response that never yields anything) and then
// performs autoflushed body writes, truncating and disabling keep-alive on
// overrun per the Content-Length invariant.
func (f *Framer) write(data []byte) error {
	if f.state == Done {
		return nil
	}
	if f.isHead {
		return f.writeHead(data)
	}
	return f.writeBody(data)
}

func (f *Framer) writeHead(data []byte) error {
	if len(data) == 0 && f.headersSent {
		return nil
	}
	if !f.headersSent {
		f.keepAliveDecided = f.requestKeepAlive
		if err := f.flushHeaders(); err != nil {
			return err
		}
		if err := f.drainOnce(); err != nil {
			return err
		}
		if err := f.stream.Flush(); err != nil {
			return err
		}
		f.headersSent = true
		f.state = Streaming
	}
	return nil
}

func (f *Framer) writeBody(data []byte) error {
	if f.headersSent {
		if f.contentLengthDeclared != nil {
			f.contentLengthRemaining -= len(data)
			if f.contentLengthRemaining < 0 {
				overrun := len(data) + f.contentLengthRemaining
				if _, err := f.stream.Write(data[:overrun]); err != nil {
					return err
				}
				f.state = Done
				f.keepAliveDecided = false
				return errors.NewResponseBodyTooLongFault(*f.contentLengthDeclared, *f.contentLengthDeclared-f.contentLengthRemaining)
			}
		}
		if _, err := f.stream.Write(data); err != nil {
			return err
		}
		return nil
	}

	f.keepAliveDecided = f.requestKeepAlive && f.contentLengthDeclared != nil
	if f.contentLengthDeclared != nil {
		f.contentLengthRemaining -= len(data)
		if f.contentLengthRemaining < 0 {
			overrun := len(data) + f.contentLengthRemaining
			f.keepAliveDecided = false
			if err := f.flushHeaders(); err != nil {
				return err
			}
			f.stream.SetWriteBufferLimit(0)
			if _, err := f.stream.Write(data[:overrun]); err != nil {
				return err
			}
			f.headersSent = true
			f.state = Done
			f.keepAliveDecided = false
			return errors.NewResponseBodyTooLongFault(*f.contentLengthDeclared, *f.contentLengthDeclared-f.contentLengthRemaining)
		}
	}

	if err := f.flushHeaders(); err != nil {
		return err
	}
	if 0 < len(data) && len(data) <= constants.CoalesceFlushThreshold {
		if _, err := f.stream.Write(data); err != nil {
			return err
		}
		if err := f.stream.Flush(); err != nil {
			return err
		}
		f.stream.SetWriteBufferLimit(0)
	} else {
		if err := f.stream.Flush(); err != nil {
			return err
		}
		f.stream.SetWriteBufferLimit(0)
		if _, err := f.stream.Write(data); err != nil {
			return err
		}
	}
	f.headersSent = true
	f.state = Streaming
	if err := f.drainOnce(); err != nil {
		return err
	}
	return nil
}

func (f *Framer) drainOnce() error {
	if f.bodyDrained || f.drainBody == nil {
		return nil
	}
	f.bodyDrained = true
	return f.drainBody()
}

// flushHeaders writes the buffered status line and headers, followed by the
// Connection decision and the blank line terminator. It does not flush the
// underlying connection; callers control flush timing for coalescing.
func (f *Framer) flushHeaders() error {
	if _, err := f.stream.WriteString(f.version + " " + f.status + "\r\n"); err != nil {
		return err
	}
	if _, err := f.stream.WriteString("Server: " + f.serverSoftware + "\r\n"); err != nil {
		return err
	}
	if _, err := f.stream.WriteString("Date: " + f.date + "\r\n"); err != nil {
		return err
	}
	for _, h := range f.headers {
		if _, err := f.stream.WriteString(h.Name + ": " + h.Value + "\r\n"); err != nil {
			return err
		}
	}
	if f.contentLengthDeclared != nil {
		if _, err := f.stream.WriteString("Content-Length: " + strconv.Itoa(*f.contentLengthDeclared) + "\r\n"); err != nil {
			return err
		}
	}
	conn := "close"
	if f.keepAliveDecided {
		conn = "Keep-Alive"
	}
	if _, err := f.stream.WriteString("Connection: " + conn + "\r\n\r\n"); err != nil {
		return err
	}
	return nil
}

// WriteFullBody handles a fully materialized (non-iterator) response body:
// the whole payload is known before any byte is written, so declared vs.
// produced length is reconciled up front instead of incrementally.
func (f *Framer) WriteFullBody(data []byte) error {
	if f.isHead {
		return f.writeHead(nil)
	}

	lengthMismatch := false
	if f.contentLengthDeclared != nil {
		declared := *f.contentLengthDeclared
		if len(data) > declared {
			if f.log != nil {
				f.log.Error().Int("declared", declared).Int("produced", len(data)).
					Msg("truncated buffered response body")
			}
			data = data[:declared]
			lengthMismatch = true
		} else if len(data) < declared {
			if f.log != nil {
				f.log.Error().Int("declared", declared).Int("produced", len(data)).
					Msg("buffered response body shorter than declared content length")
			}
			lengthMismatch = true
		}
	} else {
		declared := len(data)
		f.contentLengthDeclared = &declared
	}

	// A length mismatch (either direction) disables keep-alive and must
	// stay disabled: the client can no longer trust the declared
	// Content-Length to find the next pipelined response's start.
	if lengthMismatch {
		f.keepAliveDecided = false
	} else {
		f.keepAliveDecided = f.requestKeepAlive
	}

	if err := f.flushHeaders(); err != nil {
		return err
	}
	if err := f.drainOnce(); err != nil {
		return err
	}
	if _, err := f.stream.Write(data); err != nil {
		return err
	}
	f.headersSent = true
	f.state = Done
	return f.stream.Flush()
}

// Finish is called once the application's output is fully drained with no
// data ever produced (an empty Lazy iterator), ensuring headers still go
// out for a legitimately empty response.
func (f *Framer) Finish() error {
	if f.headersSent {
		f.state = Done
		return nil
	}
	err := f.write(nil)
	f.state = Done
	return err
}
