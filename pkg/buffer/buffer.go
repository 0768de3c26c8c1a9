// Package buffer accumulates a response body produced synchronously by a
// WSGI-style application (a returned []byte, list, or tuple rather than a
// lazy iterator), spilling to a temp file once it grows past a memory
// threshold so a handler that returns a large buffered body can't exhaust
// the worker's heap.
package buffer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	// DefaultMemoryLimit is the default threshold before spilling to disk.
	DefaultMemoryLimit = 4 * 1024 * 1024 // 4MB
)

// Buffer stores data either in memory or spooled to a temporary file once
// the memory limit is exceeded.
type Buffer struct {
	buf    bytes.Buffer
	file   *os.File
	path   string
	size   int64
	limit  int64
	mu     sync.Mutex
	closed bool
}

// New creates a new Buffer with the provided memory limit.
func New(limit int64) *Buffer {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Buffer{limit: limit}
}

// NewWithData creates a new in-memory buffer preloaded with data.
func NewWithData(data []byte) *Buffer {
	b := &Buffer{limit: DefaultMemoryLimit, size: int64(len(data))}
	b.buf.Write(data)
	return b
}

// Write appends p, spilling to disk once the memory threshold is crossed.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, fmt.Errorf("buffer: write to closed buffer")
	}

	b.size += int64(len(p))

	if b.file == nil && int64(b.buf.Len()+len(p)) <= b.limit {
		return b.buf.Write(p)
	}

	if b.file == nil {
		tmp, err := os.CreateTemp("", "syncwsgi-body-*.tmp")
		if err != nil {
			return 0, fmt.Errorf("buffer: creating temp file: %w", err)
		}
		b.file = tmp
		b.path = tmp.Name()

		if b.buf.Len() > 0 {
			if _, err := tmp.Write(b.buf.Bytes()); err != nil {
				b.closeLocked()
				return 0, fmt.Errorf("buffer: spilling to temp file: %w", err)
			}
		}
		b.buf.Reset()
	}

	n, err := b.file.Write(p)
	if err != nil {
		return n, fmt.Errorf("buffer: writing to temp file: %w", err)
	}
	return n, nil
}

// Bytes returns the in-memory data; empty once the buffer has spilled.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file != nil {
		return nil
	}
	return b.buf.Bytes()
}

// Size returns the total number of bytes written.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// IsSpilled reports whether the buffer has spilled to disk.
func (b *Buffer) IsSpilled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file != nil
}

// Reader returns a fresh reader over the stored data.
func (b *Buffer) Reader() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("buffer: read from closed buffer")
	}

	if b.file != nil {
		if err := b.file.Sync(); err != nil {
			return nil, fmt.Errorf("buffer: syncing temp file: %w", err)
		}
		f, err := os.Open(b.path)
		if err != nil {
			return nil, fmt.Errorf("buffer: opening temp file: %w", err)
		}
		return f, nil
	}
	return io.NopCloser(bytes.NewReader(b.buf.Bytes())), nil
}

// Close releases the underlying temp file, if any. Safe to call more than
// once.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

func (b *Buffer) closeLocked() error {
	if b.closed {
		return nil
	}
	b.closed = true

	if b.file != nil {
		err := b.file.Close()
		if removeErr := os.Remove(b.path); removeErr != nil && err == nil {
			err = fmt.Errorf("buffer: removing temp file: %w", removeErr)
		}
		b.file = nil
		b.path = ""
		if err != nil {
			return fmt.Errorf("buffer: closing temp file: %w", err)
		}
	}
	return nil
}
