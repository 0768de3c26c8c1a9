// Package timing provides per-request latency measurement for the worker loop.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures the timing breakdown of a single worker request-response
// cycle, attached to access-log entries.
type Metrics struct {
	// TLSHandshake is non-zero only when the upgrade decision performed a
	// handshake for this connection (recorded once, on the first request).
	TLSHandshake time.Duration `json:"tls_handshake,omitempty"`

	// TTFB is the time from "request head fully parsed" to "first response
	// body byte handed to the stream" — the worker's own processing time,
	// including the application call.
	TTFB time.Duration `json:"ttfb"`

	// TotalTime is head-parsed to response-fully-written for this request.
	TotalTime time.Duration `json:"total_time"`
}

// Timer accumulates the marks for one request.
type Timer struct {
	start     time.Time
	tlsStart  time.Time
	tlsEnd    time.Time
	ttfbStart time.Time
	ttfbEnd   time.Time
}

// NewTimer starts a timer at the moment the request head finished parsing.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartTLS marks the beginning of an upgrade-decision TLS handshake.
func (t *Timer) StartTLS() { t.tlsStart = time.Now() }

// EndTLS marks the end of an upgrade-decision TLS handshake.
func (t *Timer) EndTLS() { t.tlsEnd = time.Now() }

// StartTTFB marks the point the worker begins waiting for the application's
// first body byte.
func (t *Timer) StartTTFB() { t.ttfbStart = time.Now() }

// EndTTFB marks the point the first body byte is ready to write.
func (t *Timer) EndTTFB() { t.ttfbEnd = time.Now() }

// Metrics computes the final breakdown as of now.
func (t *Timer) Metrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}
	if !t.tlsStart.IsZero() && !t.tlsEnd.IsZero() {
		m.TLSHandshake = t.tlsEnd.Sub(t.tlsStart)
	}
	if !t.ttfbStart.IsZero() && !t.ttfbEnd.IsZero() {
		m.TTFB = t.ttfbEnd.Sub(t.ttfbStart)
	}
	return m
}

// String renders a compact human-readable summary for debug logging.
func (m Metrics) String() string {
	return fmt.Sprintf("ttfb=%v total=%v tls=%v", m.TTFB, m.TotalTime, m.TLSHandshake)
}
