// Package ws implements the server side of the early (draft-75/draft-76)
// WebSocket handshake and its length-prefixed / 0x00-0xFF delimited frame
// coding, as consumed by an application that called
// start_response("WebSocket", headers).
package ws

import (
	"crypto/md5"
	"encoding/binary"
	"regexp"
	"strconv"
	"strings"

	"github.com/WhileEndless/syncwsgi/internal/stream"
	"github.com/WhileEndless/syncwsgi/pkg/constants"
	"github.com/WhileEndless/syncwsgi/pkg/errors"
)

var nonDigitRE = regexp.MustCompile(`\D+`)

// KeyDigest packs a Sec-WebSocket-Key{1,2} value into its 4-byte digest
// component: the digits form a number, the spaces form a divisor, and
// number/spaces packed big-endian is the result.
func KeyDigest(value string) ([]byte, error) {
	digits := nonDigitRE.ReplaceAllString(value, "")
	number, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return nil, errors.NewResponseSyntaxFault("invalid web socket key: " + value)
	}
	spaces := uint64(strings.Count(value, " "))
	if spaces == 0 || number%spaces != 0 {
		return nil, errors.NewResponseSyntaxFault("invalid number of spaces in web socket key: " + value)
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(number/spaces))
	return buf, nil
}

// HandshakeRequest carries everything needed to compute the handshake
// response headers and (for draft-76) the digest.
type HandshakeRequest struct {
	RequestVersion string // the client's HTTP version, e.g. "HTTP/1.0"
	Origin         string
	Host           string
	Path           string
	Scheme         string // "http" or "https"
	Key1, Key2     string // empty when draft-75
	HasKeys        bool
	Body8          []byte // the 8 trailing body bytes, when HasKeys
}

// HandshakeResponse is what the worker writes to the wire to complete the
// handshake.
type HandshakeResponse struct {
	Version  string // max(RequestVersion, "HTTP/1.1")
	Origin   string
	Location string
	Digest   []byte // 16 bytes for draft-76, nil for draft-75
}

// maxVersion returns the greater of the two HTTP version strings under
// lexical comparison, which happens to match numeric comparison for the
// only two versions this server accepts.
func maxVersion(a, b string) string {
	if a > b {
		return a
	}
	return b
}

// BuildHandshake computes the handshake response, including the draft-76
// MD5 digest when both keys are present.
func BuildHandshake(req HandshakeRequest) (*HandshakeResponse, error) {
	version := maxVersion(req.RequestVersion, "HTTP/1.1")
	wsProto := "ws"
	if req.Scheme == "https" {
		wsProto = "wss"
	}
	resp := &HandshakeResponse{
		Version:  version,
		Origin:   req.Origin,
		Location: wsProto + "://" + req.Host + req.Path,
	}
	if req.HasKeys {
		d1, err := KeyDigest(req.Key1)
		if err != nil {
			return nil, err
		}
		d2, err := KeyDigest(req.Key2)
		if err != nil {
			return nil, err
		}
		sum := md5.Sum(append(append(append([]byte{}, d1...), d2...), req.Body8...))
		resp.Digest = sum[:]
	}
	return resp, nil
}

// Conn is a message-based bidirectional connection layered over an already
// upgraded Stream. The handshake must already be complete.
type Conn struct {
	stream *stream.Stream
}

// New wraps an already-upgraded stream as a WebSocket connection.
func New(s *stream.Stream) *Conn {
	s.SetWriteBufferLimit(0)
	return &Conn{stream: s}
}

// ReadMessage reads one message. io.EOF-shaped truncation is reported as a
// WebSocketTruncated fault; an unrecognized frame type as
// WebSocketBadFrame; an over-large message as WebSocketTooLarge.
func (c *Conn) ReadMessage() ([]byte, error) {
	frameType, err := c.stream.ReadByte()
	if err != nil {
		return nil, err
	}

	switch frameType {
	case 0xFF:
		return c.readLengthPrefixed()
	case 0x00:
		return c.readDelimited()
	default:
		return nil, errors.NewWebSocketBadFrameFault(frameType)
	}
}

func (c *Conn) readLengthPrefixed() ([]byte, error) {
	var size uint64
	for {
		b, err := c.stream.ReadByte()
		if err != nil {
			return nil, errors.NewWebSocketTruncatedFault()
		}
		size = size*128 + uint64(b&0x7f)
		if b&0x80 == 0 {
			break
		}
		if size > constants.MaxWebSocketMessageSize {
			return nil, errors.NewWebSocketTooLargeFault(constants.MaxWebSocketMessageSize)
		}
	}
	if size == 0 {
		return nil, nil
	}
	if size > constants.MaxWebSocketMessageSize {
		return nil, errors.NewWebSocketTooLargeFault(constants.MaxWebSocketMessageSize)
	}
	msg, err := c.stream.ReadExact(int(size))
	if err != nil {
		return nil, errors.NewWebSocketTruncatedFault()
	}
	return msg, nil
}

// readDelimited reads a 0x00-framed message byte by byte instead of via
// Stream.ReadUntil, which buffers the whole run unbounded until it finds
// 0xFF or hits EOF: a peer that never sends the terminator would otherwise
// grow that buffer without limit. Enforcing the cap incrementally, the same
// way readLengthPrefixed does, turns that into a fault instead of an OOM.
func (c *Conn) readDelimited() ([]byte, error) {
	msg := make([]byte, 0, 64)
	for {
		b, err := c.stream.ReadByte()
		if err != nil {
			return nil, errors.NewWebSocketTruncatedFault()
		}
		if b == 0xFF {
			return msg, nil
		}
		if len(msg) >= constants.MaxWebSocketMessageSize {
			return nil, errors.NewWebSocketTooLargeFault(constants.MaxWebSocketMessageSize)
		}
		msg = append(msg, b)
	}
}

// WriteMessage frames msg as 0x00 <utf8> 0xFF. msg must not contain the
// byte 0xFF.
func (c *Conn) WriteMessage(msg []byte) error {
	for _, b := range msg {
		if b == 0xFF {
			return errors.NewResponseSyntaxFault("byte 0xFF in WebSocket message")
		}
	}
	framed := make([]byte, 0, len(msg)+2)
	framed = append(framed, 0x00)
	framed = append(framed, msg...)
	framed = append(framed, 0xFF)
	if _, err := c.stream.Write(framed); err != nil {
		return err
	}
	return c.stream.Flush()
}
