// Package stream implements the buffered, single-consumer I/O adapter every
// worker reads and writes through. All blocking calls are ordinary blocking
// net.Conn I/O: the Go runtime parks the calling goroutine on the netpoller,
// which is this module's analogue of a coroutine yielding to its scheduler.
package stream

import (
	"bufio"
	"bytes"
	"io"
	"net"

	"github.com/WhileEndless/syncwsgi/pkg/errors"
)

// Kind classifies what ReadRequestHead found at the start of a connection.
type Kind int

const (
	// KindNormal is an ordinary HTTP request head.
	KindNormal Kind = iota
	// KindTLSClientHello means the first byte was 0x16 or 0x80: a TLS record
	// or SSLv2 ClientHello arriving on what the caller treated as a
	// plaintext port.
	KindTLSClientHello
	// KindPolicyFileProbe means the request was the literal Flash
	// cross-domain policy-file probe text.
	KindPolicyFileProbe
)

// HeaderField is one raw, order-preserved request header line, with
// continuation lines already folded into Value by a single space.
type HeaderField struct {
	Name  string
	Value string
}

// RequestHead is the result of a successful KindNormal parse.
type RequestHead struct {
	Method  string
	Target  string
	Version string
	Headers []HeaderField
}

const policyFileProbeText = "<policy-file-request/>"

// Stream wraps a net.Conn with line-oriented buffered reads and a
// coalescing write buffer with a tunable flush threshold. It is
// single-consumer: callers must not use a Stream from more than one
// goroutine concurrently, matching the cooperative, lock-free design of the
// core (see design notes §7).
type Stream struct {
	conn net.Conn
	r    *bufio.Reader

	wbuf       []byte
	writeLimit int // negative: buffer freely; 0: autoflush after every Write; n > 0: flush once more than n bytes are buffered
}

// New wraps conn in a Stream with a 4KiB read buffer.
func New(conn net.Conn) *Stream {
	return &Stream{
		conn:       conn,
		r:          bufio.NewReaderSize(conn, 4096),
		writeLimit: -1,
	}
}

// Conn returns the underlying connection, for peer-address lookups and
// close/upgrade operations.
func (s *Stream) Conn() net.Conn { return s.conn }

// SetWriteBufferLimit configures the write side. A negative limit means
// "buffer freely" (used while headers are still being assembled); zero
// means autoflush on every Write (used from the first response body byte
// onward); a positive limit flushes once more than n bytes are buffered.
func (s *Stream) SetWriteBufferLimit(n int) { s.writeLimit = n }

// WriteBufferLen reports how many bytes are currently buffered, unflushed.
func (s *Stream) WriteBufferLen() int { return len(s.wbuf) }

// DiscardWriteBuffer drops any unflushed bytes, used when start_response is
// called again before the first body byte (the framer resets to
// CollectHead) or when an error needs to preempt a half-written response.
func (s *Stream) DiscardWriteBuffer() { s.wbuf = s.wbuf[:0] }

// ReadBufferLen reports how many bytes are already buffered on the read
// side.
func (s *Stream) ReadBufferLen() int { return s.r.Buffered() }

// Write appends p to the write buffer, flushing immediately if the buffer
// is in autoflush mode or has grown past a positive limit.
func (s *Stream) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	s.wbuf = append(s.wbuf, p...)
	if s.writeLimit >= 0 && len(s.wbuf) > s.writeLimit {
		if err := s.Flush(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// WriteString is a convenience wrapper over Write.
func (s *Stream) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

// Flush pushes any buffered bytes to the underlying connection.
func (s *Stream) Flush() error {
	if len(s.wbuf) == 0 {
		return nil
	}
	_, err := s.conn.Write(s.wbuf)
	s.wbuf = s.wbuf[:0]
	if err != nil {
		return errors.NewWriteIOFault("flush", err)
	}
	return nil
}

// Peek returns the next n bytes without consuming them.
func (s *Stream) Peek(n int) ([]byte, error) {
	b, err := s.r.Peek(n)
	if err != nil && err != bufio.ErrBufferFull {
		return b, errors.NewReadIOFault("peek", err)
	}
	return b, nil
}

// Discard consumes and discards the next n bytes.
func (s *Stream) Discard(n int) (int, error) {
	d, err := s.r.Discard(n)
	if err != nil {
		return d, errors.NewReadIOFault("discard", err)
	}
	return d, nil
}

// ReadExact reads exactly n bytes or returns a read fault.
func (s *Stream) ReadExact(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, errors.NewReadIOFault("read_exact", err)
	}
	return buf, nil
}

// ReadUntil reads and returns bytes up to and including delim.
func (s *Stream) ReadUntil(delim byte) ([]byte, error) {
	b, err := s.r.ReadBytes(delim)
	if err != nil {
		return b, errors.NewReadIOFault("read_until", err)
	}
	return b, nil
}

// Read implements io.Reader by pulling from the buffered connection
// reader, so a Stream can back an io.LimitedReader for request bodies and
// WebSocket handshake trailers without duplicating its internal buffer.
func (s *Stream) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

// ReadByte reads a single byte.
func (s *Stream) ReadByte() (byte, error) {
	b, err := s.r.ReadByte()
	if err != nil {
		return 0, errors.NewReadIOFault("read_byte", err)
	}
	return b, nil
}

func isHTTPSpaceOrTab(b byte) bool { return b == ' ' || b == '\t' }

func trimCRLF(line []byte) []byte {
	return bytes.TrimRight(line, "\r\n")
}

// ReadRequestHead reads a request head (request line + headers up to the
// blank line) capped at maxBytes total, classifying pseudo-requests before
// committing to HTTP parsing.
//
// On a RequestHeadTooLong fault, the caller must not attempt to reuse the
// connection: the client's intent for the remaining bytes is unknown.
func (s *Stream) ReadRequestHead(maxBytes int) (*RequestHead, Kind, error) {
	first, err := s.Peek(1)
	if err != nil {
		return nil, KindNormal, err
	}
	if len(first) == 1 && (first[0] == 0x16 || first[0] == 0x80) {
		return nil, KindTLSClientHello, nil
	}
	if len(first) == 1 && first[0] == policyFileProbeText[0] {
		if probe, _ := s.r.Peek(len(policyFileProbeText)); string(probe) == policyFileProbeText {
			return nil, KindPolicyFileProbe, nil
		}
	}

	total := 0
	readLine := func() ([]byte, error) {
		line, err := s.ReadUntil('\n')
		total += len(line)
		if total > maxBytes {
			return nil, errors.NewRequestHeadTooLongFault(maxBytes)
		}
		if err != nil {
			return nil, err
		}
		return trimCRLF(line), nil
	}

	firstLine, err := readLine()
	if err != nil {
		return nil, KindNormal, err
	}

	if string(firstLine) == policyFileProbeText {
		return nil, KindPolicyFileProbe, nil
	}

	parts := bytes.SplitN(firstLine, []byte(" "), 3)
	if len(parts) != 3 {
		return nil, KindNormal, errors.NewMalformedRequestLineFault(string(firstLine))
	}
	head := &RequestHead{
		Method:  string(parts[0]),
		Target:  string(parts[1]),
		Version: string(parts[2]),
	}

	for {
		line, err := readLine()
		if err != nil {
			return nil, KindNormal, err
		}
		if len(line) == 0 {
			break
		}
		if isHTTPSpaceOrTab(line[0]) && len(head.Headers) > 0 {
			last := &head.Headers[len(head.Headers)-1]
			last.Value = last.Value + " " + string(bytes.TrimLeft(line, " \t"))
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			return nil, KindNormal, errors.NewMalformedRequestLineFault(string(line))
		}
		name := string(line[:colon])
		value := string(bytes.TrimSpace(line[colon+1:]))
		head.Headers = append(head.Headers, HeaderField{Name: name, Value: value})
	}

	return head, KindNormal, nil
}
