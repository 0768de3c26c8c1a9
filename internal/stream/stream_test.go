package stream

import (
	"net"
	"testing"
	"time"

	"golang.org/x/net/nettest"
)

func pipe(t *testing.T) (client, server net.Conn) {
	t.Helper()
	client, server = net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestReadRequestHeadSimpleGET(t *testing.T) {
	client, server := pipe(t)
	go func() {
		client.Write([]byte("GET /foo?x=1 HTTP/1.1\r\nHost: example.com\r\nAccept: text/html\r\n\r\n"))
	}()

	s := New(server)
	head, kind, err := s.ReadRequestHead(32768)
	if err != nil {
		t.Fatalf("ReadRequestHead: %v", err)
	}
	if kind != KindNormal {
		t.Fatalf("expected KindNormal, got %v", kind)
	}
	if head.Method != "GET" || head.Target != "/foo?x=1" || head.Version != "HTTP/1.1" {
		t.Fatalf("unexpected request line: %+v", head)
	}
	if len(head.Headers) != 2 {
		t.Fatalf("expected 2 headers, got %d: %+v", len(head.Headers), head.Headers)
	}
	if head.Headers[0].Name != "Host" || head.Headers[0].Value != "example.com" {
		t.Fatalf("unexpected header: %+v", head.Headers[0])
	}
}

func TestReadRequestHeadHeaderContinuation(t *testing.T) {
	client, server := pipe(t)
	go func() {
		client.Write([]byte("GET / HTTP/1.1\r\nX-Long: part-one\r\n part-two\r\n\r\n"))
	}()

	s := New(server)
	head, _, err := s.ReadRequestHead(32768)
	if err != nil {
		t.Fatalf("ReadRequestHead: %v", err)
	}
	if len(head.Headers) != 1 {
		t.Fatalf("expected 1 folded header, got %d", len(head.Headers))
	}
	if head.Headers[0].Value != "part-one part-two" {
		t.Fatalf("unexpected folded value: %q", head.Headers[0].Value)
	}
}

func TestReadRequestHeadDetectsTLSClientHello(t *testing.T) {
	client, server := pipe(t)
	go func() {
		client.Write([]byte{0x16, 0x03, 0x01, 0x00, 0x01})
	}()

	s := New(server)
	_, kind, err := s.ReadRequestHead(32768)
	if err != nil {
		t.Fatalf("ReadRequestHead: %v", err)
	}
	if kind != KindTLSClientHello {
		t.Fatalf("expected KindTLSClientHello, got %v", kind)
	}
}

func TestReadRequestHeadDetectsPolicyFileProbe(t *testing.T) {
	client, server := pipe(t)
	go func() {
		client.Write([]byte("<policy-file-request/>\x00"))
	}()

	s := New(server)
	_, kind, err := s.ReadRequestHead(32768)
	if err != nil {
		t.Fatalf("ReadRequestHead: %v", err)
	}
	if kind != KindPolicyFileProbe {
		t.Fatalf("expected KindPolicyFileProbe, got %v", kind)
	}
}

func TestReadRequestHeadTooLong(t *testing.T) {
	client, server := pipe(t)
	go func() {
		client.Write([]byte("GET / HTTP/1.1\r\n"))
		big := make([]byte, 100)
		for i := range big {
			big[i] = 'a'
		}
		for i := 0; i < 5; i++ {
			client.Write([]byte("X-Pad: "))
			client.Write(big)
			client.Write([]byte("\r\n"))
		}
	}()

	s := New(server)
	_, _, err := s.ReadRequestHead(64)
	if err == nil {
		t.Fatal("expected a RequestHeadTooLong fault, got nil")
	}
}

func TestReadRequestHeadMalformedRequestLine(t *testing.T) {
	client, server := pipe(t)
	go func() {
		client.Write([]byte("GET /\r\n\r\n"))
	}()

	s := New(server)
	_, _, err := s.ReadRequestHead(32768)
	if err == nil {
		t.Fatal("expected a malformed request line fault, got nil")
	}
}

// TestReadRequestHeadOverTCPPipe runs a request across a real
// loopback TCP connection, built by nettest.NewLocalPipe, instead of the
// synchronous net.Pipe used everywhere else in this file: net.Pipe's
// unbuffered, lockstep semantics can mask a Stream that secretly needs a
// real socket's buffering to behave.
func TestReadRequestHeadOverTCPPipe(t *testing.T) {
	client, server, stop, err := nettest.NewLocalPipe()
	if err != nil {
		t.Fatalf("nettest.NewLocalPipe: %v", err)
	}
	defer stop()

	go func() {
		client.Write([]byte("GET /ping HTTP/1.1\r\nHost: x\r\n\r\n"))
	}()

	s := New(server)
	head, kind, err := s.ReadRequestHead(32768)
	if err != nil {
		t.Fatalf("ReadRequestHead: %v", err)
	}
	if kind != KindNormal || head.Target != "/ping" {
		t.Fatalf("unexpected result: kind=%v head=%+v", kind, head)
	}
}

func TestWriteBufferCoalescing(t *testing.T) {
	client, server := pipe(t)

	s := New(server)
	s.SetWriteBufferLimit(-1)
	s.WriteString("hello ")
	s.WriteString("world")
	if s.WriteBufferLen() != 11 {
		t.Fatalf("expected 11 buffered bytes, got %d", s.WriteBufferLen())
	}

	recv := make([]byte, 11)
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _ := client.Read(recv)
		recv = recv[:n]
	}()

	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	<-done
	if string(recv) != "hello world" {
		t.Fatalf("unexpected bytes on the wire: %q", recv)
	}
}
