package syncwsgi

import (
	"io"

	"github.com/WhileEndless/syncwsgi/pkg/buffer"
	"github.com/WhileEndless/syncwsgi/pkg/constants"
)

// SpoolBody reads r fully before the first response byte goes out (the
// framer needs a declared Content-Length to emit Keep-Alive, so a handler
// proxying from some upstream reader can't just hand over an unbounded
// stream as a Lazy output and still get keep-alive). Up to
// constants.DefaultBodyMemLimit bytes stay in memory as an ordinary
// Buffered output; past that, SpoolBody spills to a temp file and returns
// a Lazy output that streams the spilled file back out in fixed chunks
// instead of holding the whole body on the heap.
func SpoolBody(r io.Reader) (Output, error) {
	buf := buffer.New(constants.DefaultBodyMemLimit)
	if _, err := io.Copy(buf, r); err != nil {
		buf.Close()
		return Output{}, err
	}

	if !buf.IsSpilled() {
		data := buf.Bytes()
		buf.Close()
		return Buffered(data), nil
	}

	rc, err := buf.Reader()
	if err != nil {
		buf.Close()
		return Output{}, err
	}
	return Lazy(&spooledIterator{buf: buf, r: rc}), nil
}

// spooledIterator streams a spilled buffer's contents back out in fixed
// chunks and closes both the reader and the underlying buffer (removing
// its temp file) exactly once, when the drain loop calls Close.
type spooledIterator struct {
	buf *buffer.Buffer
	r   io.ReadCloser
}

const spoolChunkSize = 32 * 1024

func (it *spooledIterator) Next() ([]byte, bool, error) {
	chunk := make([]byte, spoolChunkSize)
	n, err := it.r.Read(chunk)
	if n > 0 {
		return chunk[:n], false, nil
	}
	if err != nil && err != io.EOF {
		return nil, false, err
	}
	return nil, true, nil
}

func (it *spooledIterator) Close() error {
	closeErr := it.r.Close()
	if err := it.buf.Close(); err != nil {
		return err
	}
	return closeErr
}
