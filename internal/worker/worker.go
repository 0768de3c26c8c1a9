// Package worker implements the per-connection request loop: components F
// (the worker itself) and G (the drain task it sometimes spawns) from the
// design notes. It wires components A-E together around one Application.
package worker

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/WhileEndless/syncwsgi/internal/accesslog"
	"github.com/WhileEndless/syncwsgi/internal/reqparse"
	"github.com/WhileEndless/syncwsgi/internal/respframe"
	"github.com/WhileEndless/syncwsgi/internal/stream"
	"github.com/WhileEndless/syncwsgi/internal/ws"
	"github.com/WhileEndless/syncwsgi/internal/wsgiapp"
	"github.com/WhileEndless/syncwsgi/internal/wsgienv"
	"github.com/WhileEndless/syncwsgi/pkg/errors"
	"github.com/WhileEndless/syncwsgi/pkg/timing"
)

// Config bundles everything a Worker needs that doesn't vary per request.
type Config struct {
	App            wsgiapp.Application
	Log            zerolog.Logger
	ServerSoftware string
	ServerAddr     string
	ServerName     string
	ServerPort     string
	URLScheme      string
	MaxHeadBytes   int
	// DateString returns the current HTTP-date string; callers typically
	// supply a value cached and refreshed at most once per second.
	DateString func() string
	// PolicyFile, when non-nil, is sent verbatim in response to a Flash
	// cross-domain policy probe, after which the connection is closed.
	PolicyFile []byte
	// NewID generates connection and request correlation IDs.
	NewID func() string
}

// Worker serves one accepted connection at a time through Serve; a single
// Worker value is safe to reuse across goroutines and connections since it
// holds no per-connection state itself.
type Worker struct {
	cfg Config
}

// New builds a Worker from cfg.
func New(cfg Config) *Worker {
	return &Worker{cfg: cfg}
}

// requestState carries the bits handleRequest and its start_response
// closure need to share across a single request.
type requestState struct {
	framer *respframe.Framer
	wsUsed bool
}

// Serve drives the read-dispatch-write loop for one connection until the
// peer disconnects, a fault ends the connection, or a response declines
// keep-alive. It always closes conn before returning.
func (w *Worker) Serve(conn net.Conn) {
	defer conn.Close()

	connID := w.cfg.NewID()
	s := stream.New(conn)
	log := w.cfg.Log.With().Str("connection_id", connID).Logger()

	// A connection that acceptUpgrade already wrapped in TLS surfaces as a
	// *tls.Conn here; every request on it is reported to the application as
	// https regardless of the listener's static default scheme.
	urlScheme := w.cfg.URLScheme
	if _, ok := conn.(*tls.Conn); ok {
		urlScheme = "https"
	}

	for reqNum := 0; ; reqNum++ {
		head, kind, err := s.ReadRequestHead(w.cfg.MaxHeadBytes)
		if err != nil {
			if reqNum > 0 && errors.IsReadFault(err) {
				return
			}
			log.Debug().Err(err).Msg("request head read failed")
			return
		}

		switch kind {
		case stream.KindPolicyFileProbe:
			w.respondPolicyFile(s)
			return
		case stream.KindTLSClientHello:
			log.Debug().Msg("TLS handshake byte seen mid-pipeline, closing")
			return
		}

		keepAlive, err := w.handleRequest(s, &log, connID, reqNum, head, urlScheme)
		if err != nil {
			log.Warn().Err(err).Str("fault_type", string(errors.TypeOf(err))).Msg("request failed")
		}
		if !keepAlive {
			return
		}
		// Yield between pipelined requests so one busy connection cannot
		// starve the others sharing this goroutine's processor.
		runtime.Gosched()
	}
}

func (w *Worker) handleRequest(s *stream.Stream, log *zerolog.Logger, connID string, reqNum int, head *stream.RequestHead, urlScheme string) (keepAlive bool, err error) {
	if err := reqparse.ValidateMethod(head.Method); err != nil {
		w.respondBad(s, "400 Bad Request", "unsupported method")
		return false, err
	}
	if err := reqparse.ValidateVersion(head.Version); err != nil {
		w.respondBad(s, "400 Bad Request", "unsupported version")
		return false, err
	}
	if err := reqparse.ValidateTarget(head.Target); err != nil {
		w.respondBad(s, "400 Bad Request", "bad request target")
		return false, err
	}

	requestID := w.cfg.NewID()
	reqLog := log.With().Str("request_id", requestID).Int("request_num", reqNum).Logger()
	remoteAddr, remotePort := splitHostPort(s.Conn().RemoteAddr().String())

	timer := timing.NewTimer()
	defer func() { reqLog.Debug().Str("timing", timer.Metrics().String()).Msg("request timing") }()

	info := wsgienv.ServerInfo{
		SoftwareName: w.cfg.ServerSoftware,
		ServerAddr:   w.cfg.ServerAddr,
		ServerName:   w.cfg.ServerName,
		ServerPort:   w.cfg.ServerPort,
		RemoteAddr:   remoteAddr,
		RemotePort:   remotePort,
		URLScheme:    urlScheme,
		ConnectionID: connID,
		RequestID:    requestID,
	}
	info.ErrorsSink = accesslog.NewErrorsSink(&reqLog, connID, requestID)

	result, err := wsgienv.Build(head, info)
	if err != nil {
		w.respondBad(s, "400 Bad Request", "bad request")
		return false, err
	}

	var wsBody8 []byte
	var bodyReader *io.LimitedReader
	env := wsgiapp.Env(result.Env)

	switch {
	case result.HasWebSocketKeys:
		wsBody8, err = s.ReadExact(8)
		if err != nil {
			return false, err
		}
	case result.ContentLength >= 0:
		bodyReader = &io.LimitedReader{R: s, N: int64(result.ContentLength)}
		env["wsgi.input"] = bodyReader
	default:
		env["wsgi.input"] = &io.LimitedReader{R: s, N: 0}
	}

	isHead := head.Method == "HEAD"
	state := &requestState{}
	framerCfg := respframe.Config{
		Stream:           s,
		Logger:           &reqLog,
		Version:          head.Version,
		IsHead:           isHead,
		RequestKeepAlive: result.RequestKeepAlive,
		ServerSoftware:   w.cfg.ServerSoftware,
		Date:             w.cfg.DateString(),
		DrainBody: func() error {
			if bodyReader == nil {
				return nil
			}
			if _, err := io.Copy(io.Discard, bodyReader); err != nil {
				return errors.NewReadIOFault("drain_body", err)
			}
			return nil
		},
	}

	startResponse := w.makeStartResponse(s, head, result, wsBody8, framerCfg, state)

	timer.StartTTFB()
	out, appErr := w.invokeApplication(env, startResponse, state)
	timer.EndTTFB()

	if out.IsLazy() && out.Iterator() != nil && (state.wsUsed || appErr != nil || state.framer == nil) {
		// emitOutput never runs on these paths, so Close it here.
		_ = out.Iterator().Close()
	}

	if state.wsUsed {
		return false, appErr
	}

	if appErr != nil {
		if state.framer == nil || !state.framer.HeadersSent() {
			w.respondBad(s, "500 Internal Server Error", "application error")
		}
		return false, appErr
	}

	if state.framer == nil {
		// The application returned without ever calling start_response: a
		// contract violation, reported the same way an application error
		// before headers would be.
		w.respondBad(s, "500 Internal Server Error", "application did not start a response")
		return false, errors.NewApplicationBeforeHeadersFault(fmt.Errorf("start_response was never called"))
	}

	if err := w.emitOutput(state.framer, out); err != nil {
		return false, err
	}
	return state.framer.KeepAliveDecided(), nil
}

// invokeApplication calls the application, converting a panic into the
// same Fault taxonomy an explicit error would produce, classified by
// whether headers had already reached the wire.
func (w *Worker) invokeApplication(env wsgiapp.Env, startResponse wsgiapp.StartResponseFunc, state *requestState) (out wsgiapp.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("panic: %v", r)
			if state.framer != nil && state.framer.HeadersSent() {
				err = errors.NewApplicationDuringStreamFault(cause)
			} else {
				err = errors.NewApplicationBeforeHeadersFault(cause)
			}
		}
	}()
	return w.cfg.App(env, startResponse)
}

func (w *Worker) makeStartResponse(s *stream.Stream, head *stream.RequestHead, result *wsgienv.Result, wsBody8 []byte, framerCfg respframe.Config, state *requestState) wsgiapp.StartResponseFunc {
	return func(status string, headers []wsgiapp.Header) (interface{}, error) {
		if status == "WebSocket" {
			conn, err := w.upgradeToWebSocket(s, head, result, wsBody8, headers)
			if err != nil {
				return nil, err
			}
			state.wsUsed = true
			return conn, nil
		}

		if state.framer == nil {
			state.framer = respframe.New(framerCfg)
		}
		fHeaders := make([]respframe.Header, len(headers))
		for i, h := range headers {
			fHeaders[i] = respframe.Header{Name: h.Name, Value: h.Value}
		}
		writeFn, err := state.framer.StartResponse(status, fHeaders)
		if err != nil {
			return nil, err
		}
		return wsgiapp.WriteFunc(writeFn), nil
	}
}

// emitOutput drains the application's returned Output into the framer,
// choosing the materialized fast path for Buffered/Sequence and the
// incremental path (with its conditional HEAD drain task) for Lazy.
func (w *Worker) emitOutput(fr *respframe.Framer, out wsgiapp.Output) error {
	if !out.IsLazy() {
		return fr.WriteFullBody(out.Materialize())
	}
	return drainLazy(fr, out.Iterator())
}

// drainLazy pulls chunks from it and writes each through fr. For a HEAD
// request the bytes will never be written, so draining (and the
// exactly-once Close it must still receive) is handed to a background
// goroutine instead of delaying the response the client is waiting on.
func drainLazy(fr *respframe.Framer, it wsgiapp.Iterator) error {
	var once sync.Once
	closeIt := func() {
		once.Do(func() { _ = it.Close() })
	}

	if fr.IsHead() {
		go func() {
			defer closeIt()
			for {
				_, done, err := it.Next()
				if done || err != nil {
					return
				}
			}
		}()
		return fr.Finish()
	}

	defer closeIt()
	wrote := false
	for {
		chunk, done, err := it.Next()
		if err != nil {
			return errors.NewApplicationDuringStreamFault(err)
		}
		if done {
			break
		}
		wrote = true
		if err := fr.Write(chunk); err != nil {
			return err
		}
	}
	if !wrote {
		return fr.Finish()
	}
	return nil
}

func (w *Worker) upgradeToWebSocket(s *stream.Stream, head *stream.RequestHead, result *wsgienv.Result, body8 []byte, headers []wsgiapp.Header) (*ws.Conn, error) {
	origin, _ := result.Env["HTTP_ORIGIN"].(string)
	host, _ := result.Env["HTTP_HOST"].(string)
	path, _ := result.Env["PATH_INFO"].(string)
	if q, _ := result.Env["QUERY_STRING"].(string); q != "" {
		path += "?" + q
	}
	scheme, _ := result.Env["wsgi.url_scheme"].(string)

	resp, err := ws.BuildHandshake(ws.HandshakeRequest{
		RequestVersion: head.Version,
		Origin:         origin,
		Host:           host,
		Path:           path,
		Scheme:         scheme,
		Key1:           result.WebSocketKey1,
		Key2:           result.WebSocketKey2,
		HasKeys:        result.HasWebSocketKeys,
		Body8:          body8,
	})
	if err != nil {
		return nil, err
	}

	draft76 := resp.Digest != nil
	if _, err := s.WriteString(resp.Version + " 101 Web Socket Protocol Handshake\r\n"); err != nil {
		return nil, err
	}
	if _, err := s.WriteString("Upgrade: WebSocket\r\nConnection: Upgrade\r\n"); err != nil {
		return nil, err
	}
	if draft76 {
		if _, err := s.WriteString("Sec-WebSocket-Origin: " + resp.Origin + "\r\n"); err != nil {
			return nil, err
		}
		if _, err := s.WriteString("Sec-WebSocket-Location: " + resp.Location + "\r\n"); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.WriteString("WebSocket-Origin: " + resp.Origin + "\r\n"); err != nil {
			return nil, err
		}
		if _, err := s.WriteString("WebSocket-Location: " + resp.Location + "\r\n"); err != nil {
			return nil, err
		}
	}
	for _, h := range headers {
		if _, err := s.WriteString(h.Name + ": " + h.Value + "\r\n"); err != nil {
			return nil, err
		}
	}
	if _, err := s.WriteString("\r\n"); err != nil {
		return nil, err
	}
	if draft76 {
		if _, err := s.Write(resp.Digest); err != nil {
			return nil, err
		}
	}
	if err := s.Flush(); err != nil {
		return nil, err
	}

	return ws.New(s), nil
}

func (w *Worker) respondPolicyFile(s *stream.Stream) {
	if w.cfg.PolicyFile == nil {
		return
	}
	_, _ = s.Write(w.cfg.PolicyFile)
	_ = s.Flush()
}

// respondBad writes a minimal, always-valid error response and marks the
// connection for closure; callers never attempt to pipeline past it.
func (w *Worker) respondBad(s *stream.Stream, status, message string) {
	s.DiscardWriteBuffer()
	s.SetWriteBufferLimit(-1)
	body := message + "\n"
	_, _ = s.WriteString("HTTP/1.0 " + status + "\r\n")
	_, _ = s.WriteString("Server: " + w.cfg.ServerSoftware + "\r\n")
	_, _ = s.WriteString("Date: " + w.cfg.DateString() + "\r\n")
	_, _ = s.WriteString("Content-Type: text/plain\r\n")
	_, _ = s.WriteString(fmt.Sprintf("Content-Length: %d\r\n", len(body)))
	_, _ = s.WriteString("Connection: close\r\n\r\n")
	_, _ = s.WriteString(body)
	_ = s.Flush()
}

func splitHostPort(addr string) (host, port string) {
	idx := strings.LastIndexByte(addr, ':')
	if idx < 0 {
		return addr, ""
	}
	return addr[:idx], addr[idx+1:]
}
