package respframe

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/WhileEndless/syncwsgi/internal/stream"
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

func readAll(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			return sb.String()
		}
	}
}

func newTestFramer(t *testing.T, isHead bool, drained *bool) (*Framer, net.Conn) {
	t.Helper()
	client, server := pipe(t)
	s := stream.New(server)
	f := New(Config{
		Stream:           s,
		Version:          "HTTP/1.1",
		IsHead:           isHead,
		RequestKeepAlive: true,
		ServerSoftware:   "test-server",
		Date:             "Thu, 01 Jan 1970 00:00:00 GMT",
		DrainBody: func() error {
			if drained != nil {
				*drained = true
			}
			return nil
		},
	})
	return f, client
}

func TestFramerBufferedBodyRoundTrip(t *testing.T) {
	drained := false
	f, client := newTestFramer(t, false, &drained)

	recvCh := make(chan string, 1)
	go func() {
		r := bufio.NewReader(client)
		data := make([]byte, 4096)
		n, _ := r.Read(data)
		recvCh <- string(data[:n])
	}()

	if err := f.WriteFullBody([]byte("hello")); err != nil {
		t.Fatalf("WriteFullBody: %v", err)
	}
	if !drained {
		t.Error("expected the request body to be drained")
	}
	if f.State() != Done {
		t.Errorf("expected Done, got %v", f.State())
	}
	if !f.KeepAliveDecided() {
		t.Error("expected keep-alive to be decided true")
	}

	select {
	case got := <-recvCh:
		if !strings.Contains(got, "HTTP/1.1") || !strings.HasSuffix(got, "hello") {
			t.Errorf("unexpected wire bytes: %q", got)
		}
		if !strings.Contains(got, "Content-Length: 5\r\n") {
			t.Errorf("expected Content-Length: 5, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response bytes")
	}
}

func TestFramerHeadResponseSuppressesBody(t *testing.T) {
	f, client := newTestFramer(t, true, nil)

	writeFn, err := f.StartResponse("200 OK", []Header{{Name: "Content-Length", Value: "5"}})
	if err != nil {
		t.Fatalf("StartResponse: %v", err)
	}

	recvCh := make(chan string, 1)
	go func() {
		r := bufio.NewReader(client)
		data := make([]byte, 4096)
		n, _ := r.Read(data)
		recvCh <- string(data[:n])
	}()

	if err := writeFn([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-recvCh:
		if strings.HasSuffix(got, "hello") {
			t.Errorf("HEAD response must not include a body, got %q", got)
		}
		if !strings.Contains(got, "Content-Length: 5\r\n") {
			t.Errorf("expected the declared Content-Length header to survive, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response bytes")
	}
}

func TestFramerOverrunTruncatesAndDisablesKeepAlive(t *testing.T) {
	f, client := newTestFramer(t, false, nil)

	writeFn, err := f.StartResponse("200 OK", []Header{{Name: "Content-Length", Value: "3"}})
	if err != nil {
		t.Fatalf("StartResponse: %v", err)
	}

	recvCh := make(chan string, 1)
	go func() {
		r := bufio.NewReader(client)
		recvCh <- readAll(t, r)
	}()

	writeErr := writeFn([]byte("abcdef"))
	client.Close()

	if writeErr == nil {
		t.Fatal("expected a response-body-too-long fault")
	}
	if f.KeepAliveDecided() {
		t.Error("overrun must disable keep-alive")
	}

	got := <-recvCh
	if !strings.HasSuffix(got, "abc") {
		t.Errorf("expected the body truncated to 3 bytes, got %q", got)
	}
}

func TestFramerWriteFullBodyOverrunTruncatesAndDisablesKeepAlive(t *testing.T) {
	f, client := newTestFramer(t, false, nil)

	if _, err := f.StartResponse("200 OK", []Header{{Name: "Content-Length", Value: "3"}}); err != nil {
		t.Fatalf("StartResponse: %v", err)
	}

	recvCh := make(chan string, 1)
	go func() {
		r := bufio.NewReader(client)
		recvCh <- readAll(t, r)
	}()

	if err := f.WriteFullBody([]byte("abcdef")); err != nil {
		t.Fatalf("WriteFullBody: %v", err)
	}
	client.Close()
	if f.KeepAliveDecided() {
		t.Error("overrun must disable keep-alive")
	}

	got := <-recvCh
	if !strings.HasSuffix(got, "abc") {
		t.Errorf("expected the body truncated to 3 bytes, got %q", got)
	}
	if !strings.Contains(got, "Connection: close\r\n") {
		t.Errorf("expected Connection: close, got %q", got)
	}
}

func TestFramerWriteFullBodyUnderrunDisablesKeepAlive(t *testing.T) {
	f, client := newTestFramer(t, false, nil)

	if _, err := f.StartResponse("200 OK", []Header{{Name: "Content-Length", Value: "10"}}); err != nil {
		t.Fatalf("StartResponse: %v", err)
	}

	recvCh := make(chan string, 1)
	go func() {
		r := bufio.NewReader(client)
		recvCh <- readAll(t, r)
	}()

	if err := f.WriteFullBody([]byte("abc")); err != nil {
		t.Fatalf("WriteFullBody: %v", err)
	}
	client.Close()
	if f.KeepAliveDecided() {
		t.Error("underrun must disable keep-alive")
	}

	got := <-recvCh
	if !strings.Contains(got, "Connection: close\r\n") {
		t.Errorf("expected Connection: close, got %q", got)
	}
}

func TestFramerRejectsStartResponseAfterStreaming(t *testing.T) {
	f, client := newTestFramer(t, false, nil)
	go readAll(t, bufio.NewReader(client))
	if err := f.WriteFullBody([]byte("ok")); err != nil {
		t.Fatalf("WriteFullBody: %v", err)
	}
	if _, err := f.StartResponse("200 OK", nil); err == nil {
		t.Fatal("expected start_response to be rejected once streaming has begun")
	}
}

func TestFramerRejectsBadStatus(t *testing.T) {
	f, _ := newTestFramer(t, false, nil)
	if _, err := f.StartResponse("banana", nil); err == nil {
		t.Fatal("expected a malformed status to be rejected")
	}
}

func TestFramerSilentlyDropsDeniedHeader(t *testing.T) {
	f, _ := newTestFramer(t, false, nil)
	if _, err := f.StartResponse("200 OK", []Header{{Name: "Connection", Value: "keep-alive"}}); err != nil {
		t.Fatalf("StartResponse should silently drop a reserved header, not error: %v", err)
	}
	for _, h := range f.headers {
		if strings.EqualFold(h.Name, "Connection") {
			t.Fatal("application-supplied Connection header should have been dropped")
		}
	}
}

func TestFramerEmptyOutputStillFlushesHeaders(t *testing.T) {
	f, client := newTestFramer(t, false, nil)

	recvCh := make(chan string, 1)
	go func() {
		r := bufio.NewReader(client)
		data := make([]byte, 4096)
		n, _ := r.Read(data)
		recvCh <- string(data[:n])
	}()

	if _, err := f.StartResponse("204 No Content", nil); err != nil {
		t.Fatalf("StartResponse: %v", err)
	}
	if err := f.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	select {
	case got := <-recvCh:
		if !strings.Contains(got, "204 No Content") {
			t.Errorf("expected the status line on the wire, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response bytes")
	}
}
