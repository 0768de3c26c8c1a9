// Package wsgiapp defines the application contract: the callable interface
// workers invoke per request and the shapes an application's return value
// may take. It is kept separate from the root package so that both the
// worker and the root package can depend on it without a cycle; the root
// package re-exports these names directly.
package wsgiapp

// Env is the per-request environment mapping, re-declared here rather than
// imported from internal/wsgienv to keep the application contract free of
// any dependency on how the environment gets built.
type Env map[string]interface{}

// Header is one response header name/value pair.
type Header struct {
	Name  string
	Value string
}

// StartResponseFunc is the callable an Application invokes to begin its
// response. status is either a standard "NNN Reason" HTTP status line, or
// the literal string "WebSocket" to switch the connection into WebSocket
// mode instead of emitting an HTTP response.
//
// The returned value is a WriteFunc for an HTTP response, or a *ws.Conn
// (opaque here; the application asserts it to an interface with
// ReadMessage and WriteMessage) for a WebSocket upgrade.
type StartResponseFunc func(status string, headers []Header) (interface{}, error)

// WriteFunc is the write() callable returned from StartResponseFunc for a
// normal HTTP response.
type WriteFunc func(data []byte) error

// Iterator is implemented by an application that wants to stream its
// response body incrementally instead of returning it all at once. Close
// is always called exactly once, whether or not Next ever returned done.
type Iterator interface {
	// Next returns the next chunk, or done=true when there is no more
	// data. A non-nil error aborts the response.
	Next() (chunk []byte, done bool, err error)
	Close() error
}

// Output is the sum type an Application returns: exactly one of its three
// constructors should be used.
type Output struct {
	kind     outputKind
	buffered []byte
	sequence [][]byte
	lazy     Iterator
}

type outputKind int

const (
	kindBuffered outputKind = iota
	kindSequence
	kindLazy
)

// Buffered wraps a single, already-complete response body.
func Buffered(body []byte) Output { return Output{kind: kindBuffered, buffered: body} }

// Sequence wraps a fixed list of chunks, known in full up front (the
// Python str/list/tuple case): framing treats it the same as Buffered, by
// concatenation, but callers that already hold discrete chunks avoid a
// redundant copy until framing needs one.
func Sequence(chunks [][]byte) Output { return Output{kind: kindSequence, sequence: chunks} }

// Lazy wraps an iterator whose output isn't known until it's pulled.
func Lazy(it Iterator) Output { return Output{kind: kindLazy, lazy: it} }

// IsLazy reports whether this Output must be drained incrementally.
func (o Output) IsLazy() bool { return o.kind == kindLazy }

// Materialize concatenates a Buffered or Sequence output into one slice.
// It must not be called on a Lazy output.
func (o Output) Materialize() []byte {
	switch o.kind {
	case kindBuffered:
		return o.buffered
	case kindSequence:
		total := 0
		for _, c := range o.sequence {
			total += len(c)
		}
		out := make([]byte, 0, total)
		for _, c := range o.sequence {
			out = append(out, c...)
		}
		return out
	default:
		panic("wsgiapp: Materialize called on a Lazy output")
	}
}

// Iterator returns the wrapped iterator. Only valid when IsLazy is true.
func (o Output) Iterator() Iterator { return o.lazy }

// Application is the callable every request is dispatched to.
type Application func(env Env, startResponse StartResponseFunc) (Output, error)
