package wsgienv

import (
	"testing"

	"github.com/WhileEndless/syncwsgi/internal/stream"
)

func baseInfo() ServerInfo {
	return ServerInfo{
		SoftwareName: "test-server",
		ServerAddr:   "127.0.0.1",
		ServerName:   "example.com",
		ServerPort:   "8080",
		RemoteAddr:   "10.0.0.1",
		RemotePort:   "55555",
		URLScheme:    "http",
		ConnectionID: "conn-1",
		RequestID:    "req-1",
	}
}

func TestBuildGETNoBody(t *testing.T) {
	head := &stream.RequestHead{
		Method: "GET", Target: "/foo?x=1", Version: "HTTP/1.1",
		Headers: []stream.HeaderField{{Name: "Host", Value: "example.com"}},
	}
	result, err := Build(head, baseInfo())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.ContentLength != -1 {
		t.Fatalf("expected no body, got ContentLength=%d", result.ContentLength)
	}
	if result.Env["PATH_INFO"] != "/foo" || result.Env["QUERY_STRING"] != "x=1" {
		t.Fatalf("unexpected path/query: %+v %+v", result.Env["PATH_INFO"], result.Env["QUERY_STRING"])
	}
	if !result.RequestKeepAlive {
		t.Fatal("HTTP/1.1 should default to keep-alive")
	}
}

func TestBuildPOSTRequiresContentLength(t *testing.T) {
	head := &stream.RequestHead{Method: "POST", Target: "/submit", Version: "HTTP/1.1"}
	_, err := Build(head, baseInfo())
	if err == nil {
		t.Fatal("expected an error for POST without Content-Length")
	}
}

func TestBuildPOSTWithContentLength(t *testing.T) {
	head := &stream.RequestHead{
		Method: "POST", Target: "/submit", Version: "HTTP/1.1",
		Headers: []stream.HeaderField{{Name: "Content-Length", Value: "42"}},
	}
	result, err := Build(head, baseInfo())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.ContentLength != 42 {
		t.Fatalf("expected ContentLength=42, got %d", result.ContentLength)
	}
}

func TestBuildGETWithContentLengthNonZeroRejected(t *testing.T) {
	head := &stream.RequestHead{
		Method: "GET", Target: "/", Version: "HTTP/1.1",
		Headers: []stream.HeaderField{{Name: "Content-Length", Value: "5"}},
	}
	_, err := Build(head, baseInfo())
	if err == nil {
		t.Fatal("expected an error for GET with a nonzero Content-Length")
	}
}

func TestBuildCommaFoldsRepeatedHeaders(t *testing.T) {
	head := &stream.RequestHead{
		Method: "GET", Target: "/", Version: "HTTP/1.1",
		Headers: []stream.HeaderField{
			{Name: "Accept", Value: "text/html"},
			{Name: "Accept", Value: "application/json"},
		},
	}
	result, err := Build(head, baseInfo())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.Env["HTTP_ACCEPT"] != "text/html, application/json" {
		t.Fatalf("expected comma-folded Accept, got %v", result.Env["HTTP_ACCEPT"])
	}
}

func TestBuildConnectionCloseOverridesKeepAliveDefault(t *testing.T) {
	head := &stream.RequestHead{
		Method: "GET", Target: "/", Version: "HTTP/1.1",
		Headers: []stream.HeaderField{{Name: "Connection", Value: "close"}},
	}
	result, err := Build(head, baseInfo())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.RequestKeepAlive {
		t.Fatal("Connection: close should disable keep-alive")
	}
}

func TestBuildRejectsInvalidHeaderValue(t *testing.T) {
	head := &stream.RequestHead{
		Method: "GET", Target: "/", Version: "HTTP/1.1",
		Headers: []stream.HeaderField{{Name: "X-Evil", Value: "line1\x00line2"}},
	}
	_, err := Build(head, baseInfo())
	if err == nil {
		t.Fatal("expected an error for a header value containing a control byte")
	}
}

func TestBuildWebSocketKeysSetEightByteContentLength(t *testing.T) {
	head := &stream.RequestHead{
		Method: "GET", Target: "/chat", Version: "HTTP/1.1",
		Headers: []stream.HeaderField{
			{Name: "Sec-WebSocket-Key1", Value: "4 @1  46546xW%0l 1 5"},
			{Name: "Sec-WebSocket-Key2", Value: "12998 5 Y3 1  .P00"},
		},
	}
	result, err := Build(head, baseInfo())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !result.HasWebSocketKeys {
		t.Fatal("expected HasWebSocketKeys")
	}
	if result.ContentLength != 8 {
		t.Fatalf("expected ContentLength=8 for the handshake trailer, got %d", result.ContentLength)
	}
}
