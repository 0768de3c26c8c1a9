// Package wsgienv projects a parsed request head into the environment
// mapping handed to the application, applying the comma-folding and
// Content-Length rules from the design notes.
package wsgienv

import (
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/WhileEndless/syncwsgi/internal/stream"
	"github.com/WhileEndless/syncwsgi/pkg/errors"
)

// Env is the mapping passed to the application, modeled on the WSGI environ
// dict. Values are strings unless documented otherwise below.
type Env map[string]interface{}

// commaFoldedHeaders is the closed set of request headers joined with ", "
// across repetitions, taken from cherrypy.wsgiserver.comma_separated_headers
// via the original source.
var commaFoldedHeaders = map[string]bool{
	"ACCEPT": true, "ACCEPT_CHARSET": true, "ACCEPT_ENCODING": true,
	"ACCEPT_LANGUAGE": true, "ACCEPT_RANGES": true, "ALLOW": true,
	"CACHE_CONTROL": true, "CONNECTION": true, "CONTENT_ENCODING": true,
	"CONTENT_LANGUAGE": true, "EXPECT": true, "IF_MATCH": true,
	"IF_NONE_MATCH": true, "PRAGMA": true, "PROXY_AUTHENTICATE": true,
	"TE": true, "TRAILER": true, "TRANSFER_ENCODING": true, "UPGRADE": true,
	"VARY": true, "VIA": true, "WARNING": true, "WWW_AUTHENTICATE": true,
}

func canonicalHeaderKey(name string) string {
	return strings.ReplaceAll(strings.ToUpper(name), "-", "_")
}

// ServerInfo is the connection- and listener-level metadata folded into
// every request's environment.
type ServerInfo struct {
	SoftwareName string
	ServerAddr   string
	ServerName   string
	ServerPort   string
	RemoteAddr   string
	RemotePort   string
	URLScheme    string // "http" or "https"
	ConnectionID string
	RequestID    string
	ErrorsSink   io.Writer
}

// Result is the outcome of a successful Build.
type Result struct {
	Env Env
	// ContentLength is the number of body bytes to read, or -1 if there is
	// no body.
	ContentLength int
	// RequestKeepAlive is the client's keep-alive intent, derived from the
	// Connection header (or its absence, defaulted by HTTP version).
	RequestKeepAlive bool
	// WebSocketKey1, WebSocketKey2 are present when both
	// Sec-WebSocket-Key{1,2} headers were sent (candidate draft-76
	// handshake).
	WebSocketKey1, WebSocketKey2 string
	HasWebSocketKeys             bool
}

// Build projects head into an Env, applying comma-folding and the
// Content-Length rules in the design notes. A non-nil error is always a
// *errors.Fault suitable for translating into a 400 response.
func Build(head *stream.RequestHead, info ServerInfo) (*Result, error) {
	env := Env{
		"REQUEST_METHOD":   head.Method,
		"SERVER_PROTOCOL":  head.Version,
		"SCRIPT_NAME":      "",
		"SERVER_ADDR":      info.ServerAddr,
		"SERVER_NAME":      info.ServerName,
		"SERVER_PORT":      info.ServerPort,
		"REMOTE_ADDR":      info.RemoteAddr,
		"REMOTE_HOST":      info.RemoteAddr,
		"REMOTE_PORT":      info.RemotePort,
		"wsgi.version":     [2]int{1, 0},
		"wsgi.url_scheme":  info.URLScheme,
		"wsgi.multithread": true,
		"wsgi.multiprocess": false,
		"wsgi.run_once":    false,
		"wsgi.errors":      info.ErrorsSink,
		"syncwsgi.connection_id": info.ConnectionID,
		"syncwsgi.request_id":    info.RequestID,
	}
	if info.URLScheme == "https" {
		env["HTTPS"] = "on"
	} else {
		env["HTTPS"] = "off"
	}

	path, query := splitTarget(head.Target)
	env["PATH_INFO"] = path
	env["QUERY_STRING"] = query

	requestKeepAlive := head.Version == "HTTP/1.1"
	var rawContentLength string
	haveContentLength := false

	for _, h := range head.Headers {
		key := canonicalHeaderKey(h.Name)
		switch key {
		case "CONNECTION":
			requestKeepAlive = strings.EqualFold(h.Value, "keep-alive")
		case "CONTENT_LENGTH":
			rawContentLength = h.Value
			haveContentLength = true
			env["CONTENT_LENGTH"] = h.Value
		case "CONTENT_TYPE":
			env["CONTENT_TYPE"] = h.Value
		default:
			if strings.HasPrefix(key, "PROXY_") {
				continue
			}
			if !httpguts.ValidHeaderFieldValue(h.Value) {
				return nil, errors.NewBadHeaderValueFault(h.Name)
			}
			envKey := "HTTP_" + key
			if existing, ok := env[envKey].(string); ok && commaFoldedHeaders[key] {
				env[envKey] = existing + ", " + h.Value
			} else {
				env[envKey] = h.Value
			}
		}
	}

	result := &Result{Env: env, ContentLength: -1, RequestKeepAlive: requestKeepAlive}

	key1, ok1 := env["HTTP_SEC_WEBSOCKET_KEY1"].(string)
	key2, ok2 := env["HTTP_SEC_WEBSOCKET_KEY2"].(string)
	if ok1 && ok2 {
		result.HasWebSocketKeys = true
		result.WebSocketKey1 = key1
		result.WebSocketKey2 = key2
	}

	bodyMethod := head.Method == "POST" || head.Method == "PUT"

	if !haveContentLength {
		if bodyMethod {
			return nil, errors.NewBadContentLengthFault("missing content-length for " + head.Method)
		}
		if result.HasWebSocketKeys && head.Method == "GET" {
			result.ContentLength = 8
		}
	} else {
		n, err := strconv.Atoi(strings.TrimSpace(rawContentLength))
		if err != nil || n < 0 {
			return nil, errors.NewBadContentLengthFault("bad content-length: " + rawContentLength)
		}
		if !bodyMethod {
			if n != 0 {
				return nil, errors.NewBadContentLengthFault("unexpected content-length on " + head.Method)
			}
			delete(env, "CONTENT_LENGTH")
		} else {
			result.ContentLength = n
		}
	}

	return result, nil
}

func splitTarget(target string) (path, query string) {
	for i := 0; i < len(target); i++ {
		if target[i] == '?' {
			return target[:i], target[i+1:]
		}
	}
	return target, ""
}
