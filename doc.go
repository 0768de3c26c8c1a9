// Package syncwsgi implements a cooperative HTTP/1.x server that dispatches
// to a WSGI-style Application callable, with a non-standard extension that
// lets an Application switch a connection into early-draft WebSocket
// framing by calling its start_response callable with the status
// "WebSocket".
//
// A Worker handles one connection's request/response pipeline on an
// ordinary goroutine: every blocking call is plain net.Conn I/O, so the Go
// runtime's netpoller parks and resumes the goroutine the way a cooperative
// scheduler parks and resumes a tasklet. There is no explicit event loop to
// wire up.
package syncwsgi
