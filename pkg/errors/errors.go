// Package errors provides the structured Fault taxonomy used throughout syncwsgi.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FaultType represents the category of error a worker encountered.
type FaultType string

const (
	// FaultRequestHeadTooLong means the request head exceeded the size cap
	// before the terminating blank line was found.
	FaultRequestHeadTooLong FaultType = "request_head_too_long"
	// FaultMalformedRequestLine covers request lines that don't split into
	// exactly three tokens, or other request-line syntax errors.
	FaultMalformedRequestLine FaultType = "malformed_request_line"
	// FaultBadMethod means the request method isn't one of the closed set.
	FaultBadMethod FaultType = "bad_method"
	// FaultBadVersion means the request version wasn't HTTP/1.0 or HTTP/1.1.
	FaultBadVersion FaultType = "bad_version"
	// FaultBadURI means the target didn't match the sub-URL grammar.
	FaultBadURI FaultType = "bad_uri"
	// FaultBadContentLength means Content-Length was missing, unparsable, or
	// present where it shouldn't be.
	FaultBadContentLength FaultType = "bad_content_length"
	// FaultBadHeaderValue means a request header's value contained bytes
	// outside the field-value grammar (control characters, bare CR/LF).
	FaultBadHeaderValue FaultType = "bad_header_value"
	// FaultReadIO is a transport error on the read side.
	FaultReadIO FaultType = "read_io"
	// FaultWriteIO is a transport error on the write side.
	FaultWriteIO FaultType = "write_io"
	// FaultResponseSyntax means the application supplied a malformed status
	// or header to start_response.
	FaultResponseSyntax FaultType = "response_syntax"
	// FaultResponseBodyTooLong means the application produced more body
	// bytes than the declared Content-Length.
	FaultResponseBodyTooLong FaultType = "response_body_too_long"
	// FaultApplicationBeforeHeaders means the application raised (or never
	// called start_response) before any response header reached the wire.
	FaultApplicationBeforeHeaders FaultType = "application_before_headers"
	// FaultApplicationDuringStream means the application raised while its
	// output iterator was being drained.
	FaultApplicationDuringStream FaultType = "application_during_stream"
	// FaultWebSocketTruncated means a WebSocket message was cut short.
	FaultWebSocketTruncated FaultType = "websocket_truncated"
	// FaultWebSocketTooLarge means a WebSocket message exceeded the size cap.
	FaultWebSocketTooLarge FaultType = "websocket_too_large"
	// FaultWebSocketBadFrame means an unrecognized WebSocket frame type byte
	// was read.
	FaultWebSocketBadFrame FaultType = "websocket_bad_frame"
)

// Fault is a structured error carrying enough context to classify and log
// it per the policy table in the design notes, without resorting to string
// matching on error messages.
type Fault struct {
	Type      FaultType
	Op        string
	Message   string
	Cause     error
	Timestamp time.Time
}

// Error implements the error interface. Format: [type] op: message: cause
func (f *Fault) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", f.Type))
	if f.Op != "" {
		parts = append(parts, f.Op)
	}
	s := strings.Join(parts, " ")
	if f.Message != "" {
		s += ": " + f.Message
	}
	if f.Cause != nil {
		s += ": " + f.Cause.Error()
	}
	return s
}

// Unwrap returns the underlying error, if any.
func (f *Fault) Unwrap() error {
	return f.Cause
}

// Is reports whether target is a *Fault of the same Type.
func (f *Fault) Is(target error) bool {
	var t *Fault
	if errors.As(target, &t) {
		return f.Type == t.Type
	}
	return false
}

func newFault(t FaultType, op, message string, cause error) *Fault {
	return &Fault{Type: t, Op: op, Message: message, Cause: cause, Timestamp: time.Now()}
}

// NewReadIOFault wraps a read-side transport error.
func NewReadIOFault(op string, cause error) *Fault {
	return newFault(FaultReadIO, op, "I/O error reading from connection", cause)
}

// NewWriteIOFault wraps a write-side transport error.
func NewWriteIOFault(op string, cause error) *Fault {
	return newFault(FaultWriteIO, op, "I/O error writing to connection", cause)
}

// NewRequestHeadTooLongFault reports a request head that exceeded the cap.
func NewRequestHeadTooLongFault(capBytes int) *Fault {
	return newFault(FaultRequestHeadTooLong, "read_request_head",
		fmt.Sprintf("request head exceeded %d bytes", capBytes), nil)
}

// NewMalformedRequestLineFault reports a syntactically invalid request line.
func NewMalformedRequestLineFault(line string) *Fault {
	return newFault(FaultMalformedRequestLine, "parse_request_line",
		fmt.Sprintf("malformed request line: %q", line), nil)
}

// NewBadMethodFault reports a method outside the closed set.
func NewBadMethodFault(method string) *Fault {
	return newFault(FaultBadMethod, "validate_method", fmt.Sprintf("bad method: %q", method), nil)
}

// NewBadVersionFault reports a version other than HTTP/1.0 or HTTP/1.1.
func NewBadVersionFault(version string) *Fault {
	return newFault(FaultBadVersion, "validate_version", fmt.Sprintf("bad version: %q", version), nil)
}

// NewBadURIFault reports a target that failed the sub-URL grammar.
func NewBadURIFault(target string) *Fault {
	return newFault(FaultBadURI, "validate_uri", fmt.Sprintf("bad suburl: %q", target), nil)
}

// NewBadContentLengthFault reports a missing, unparsable, or unexpected
// Content-Length.
func NewBadContentLengthFault(reason string) *Fault {
	return newFault(FaultBadContentLength, "validate_content_length", reason, nil)
}

// NewBadHeaderValueFault reports a header whose value fails the field-value
// grammar.
func NewBadHeaderValueFault(name string) *Fault {
	return newFault(FaultBadHeaderValue, "validate_header_value", fmt.Sprintf("invalid value for header %q", name), nil)
}

// NewResponseSyntaxFault reports a malformed status line or header from the
// application.
func NewResponseSyntaxFault(message string) *Fault {
	return newFault(FaultResponseSyntax, "start_response", message, nil)
}

// NewResponseBodyTooLongFault reports body bytes beyond the declared
// Content-Length.
func NewResponseBodyTooLongFault(declared, produced int) *Fault {
	return newFault(FaultResponseBodyTooLong, "write_body",
		fmt.Sprintf("declared=%d produced=%d", declared, produced), nil)
}

// NewApplicationBeforeHeadersFault wraps an application panic/error that
// occurred before any header left the buffer.
func NewApplicationBeforeHeadersFault(cause error) *Fault {
	return newFault(FaultApplicationBeforeHeaders, "call_application",
		"application error before headers sent", cause)
}

// NewApplicationDuringStreamFault wraps an application error raised while
// its output iterator was being drained.
func NewApplicationDuringStreamFault(cause error) *Fault {
	return newFault(FaultApplicationDuringStream, "drain_application",
		"application error during streaming", cause)
}

// NewWebSocketTruncatedFault reports a message cut short mid-frame.
func NewWebSocketTruncatedFault() *Fault {
	return newFault(FaultWebSocketTruncated, "read_message", "message truncated", nil)
}

// NewWebSocketTooLargeFault reports a message beyond the size cap.
func NewWebSocketTooLargeFault(limit int) *Fault {
	return newFault(FaultWebSocketTooLarge, "read_message",
		fmt.Sprintf("message exceeds %d bytes", limit), nil)
}

// NewWebSocketBadFrameFault reports an unrecognized frame type byte.
func NewWebSocketBadFrameFault(frameType byte) *Fault {
	return newFault(FaultWebSocketBadFrame, "read_message",
		fmt.Sprintf("invalid frame type: %02X", frameType), nil)
}

// TypeOf returns the FaultType of err if it is (or wraps) a *Fault.
func TypeOf(err error) FaultType {
	var f *Fault
	if errors.As(err, &f) {
		return f.Type
	}
	return ""
}

// IsReadFault reports whether err is a read-side I/O fault.
func IsReadFault(err error) bool {
	return TypeOf(err) == FaultReadIO
}

// IsWriteFault reports whether err is a write-side I/O fault.
func IsWriteFault(err error) bool {
	return TypeOf(err) == FaultWriteIO
}
