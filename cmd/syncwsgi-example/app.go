package main

import (
	"fmt"
	"strconv"

	"github.com/WhileEndless/syncwsgi"
)

// demoApplication routes on PATH_INFO to three demo handlers: a Buffered
// greeting, a Lazy counter, and a WebSocket echo.
func demoApplication(env syncwsgi.Env, startResponse syncwsgi.StartResponseFunc) (syncwsgi.Output, error) {
	path, _ := env["PATH_INFO"].(string)
	switch path {
	case "/count":
		return countHandler(env, startResponse)
	case "/echo":
		return echoHandler(env, startResponse)
	default:
		return greetingHandler(env, startResponse)
	}
}

func greetingHandler(env syncwsgi.Env, startResponse syncwsgi.StartResponseFunc) (syncwsgi.Output, error) {
	method, _ := env["REQUEST_METHOD"].(string)
	body := []byte(fmt.Sprintf("hello from syncwsgi (%s)\n", method))
	_, err := startResponse("200 OK", []syncwsgi.Header{
		{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
	})
	if err != nil {
		return syncwsgi.Output{}, err
	}
	return syncwsgi.Buffered(body), nil
}

// countIterator streams "0\n".."9\n" one chunk at a time, demonstrating the
// Lazy output path and the conditional HEAD drain task.
type countIterator struct {
	next int
}

func (c *countIterator) Next() ([]byte, bool, error) {
	if c.next >= 10 {
		return nil, true, nil
	}
	chunk := []byte(strconv.Itoa(c.next) + "\n")
	c.next++
	return chunk, false, nil
}

func (c *countIterator) Close() error { return nil }

func countHandler(_ syncwsgi.Env, startResponse syncwsgi.StartResponseFunc) (syncwsgi.Output, error) {
	_, err := startResponse("200 OK", []syncwsgi.Header{
		{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
	})
	if err != nil {
		return syncwsgi.Output{}, err
	}
	return syncwsgi.Lazy(&countIterator{}), nil
}

// echoHandler upgrades to WebSocket and bounces every message back to the
// sender until the client disconnects.
func echoHandler(_ syncwsgi.Env, startResponse syncwsgi.StartResponseFunc) (syncwsgi.Output, error) {
	raw, err := startResponse("WebSocket", nil)
	if err != nil {
		return syncwsgi.Output{}, err
	}
	conn, ok := raw.(interface {
		ReadMessage() ([]byte, error)
		WriteMessage([]byte) error
	})
	if !ok {
		return syncwsgi.Output{}, fmt.Errorf("syncwsgi: start_response(\"WebSocket\", ...) returned %T", raw)
	}
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			return syncwsgi.Buffered(nil), nil
		}
		if err := conn.WriteMessage(msg); err != nil {
			return syncwsgi.Buffered(nil), nil
		}
	}
}
