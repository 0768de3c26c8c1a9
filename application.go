package syncwsgi

import "github.com/WhileEndless/syncwsgi/internal/wsgiapp"

// Env, Header, StartResponseFunc, WriteFunc, Iterator, Output, and
// Application are defined in internal/wsgiapp and re-exported here so
// callers only ever import this package.
type (
	Env               = wsgiapp.Env
	Header            = wsgiapp.Header
	StartResponseFunc = wsgiapp.StartResponseFunc
	WriteFunc         = wsgiapp.WriteFunc
	Iterator          = wsgiapp.Iterator
	Output            = wsgiapp.Output
	Application       = wsgiapp.Application
)

// Buffered wraps a single, already-complete response body.
func Buffered(body []byte) Output { return wsgiapp.Buffered(body) }

// Sequence wraps a fixed, already-known list of response chunks.
func Sequence(chunks [][]byte) Output { return wsgiapp.Sequence(chunks) }

// Lazy wraps an iterator whose output is produced incrementally.
func Lazy(it Iterator) Output { return wsgiapp.Lazy(it) }
