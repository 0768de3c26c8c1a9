package syncwsgi

import (
	"bytes"
	"testing"

	"github.com/WhileEndless/syncwsgi/pkg/constants"
)

func TestSpoolBodySmallStaysBuffered(t *testing.T) {
	out, err := SpoolBody(bytes.NewReader([]byte("small body")))
	if err != nil {
		t.Fatalf("SpoolBody: %v", err)
	}
	if out.IsLazy() {
		t.Fatal("a small body should stay Buffered, not spill to Lazy")
	}
	if string(out.Materialize()) != "small body" {
		t.Fatalf("unexpected body: %q", out.Materialize())
	}
}

func TestSpoolBodyLargeSpillsAndStreams(t *testing.T) {
	large := bytes.Repeat([]byte("x"), constants.DefaultBodyMemLimit+1024)

	out, err := SpoolBody(bytes.NewReader(large))
	if err != nil {
		t.Fatalf("SpoolBody: %v", err)
	}
	if !out.IsLazy() {
		t.Fatal("a body past the memory limit should spill to a Lazy output")
	}

	it := out.Iterator()
	var got bytes.Buffer
	for {
		chunk, done, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if done {
			break
		}
		got.Write(chunk)
	}
	if err := it.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got.Len() != len(large) {
		t.Fatalf("expected %d bytes, got %d", len(large), got.Len())
	}
	if !bytes.Equal(got.Bytes(), large) {
		t.Fatal("streamed content did not match the original body")
	}
}
