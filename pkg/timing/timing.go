// Package timing provides per-session duration instrumentation for the
// dial and forward phases of a proxied connection.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures the timing breakdown for one session.
type Metrics struct {
	// DNSLookup is the time spent resolving the origin hostname.
	DNSLookup time.Duration `json:"dns_lookup"`

	// TCPConnect is the time spent establishing the TCP connection to
	// the origin.
	TCPConnect time.Duration `json:"tcp_connect"`

	// TTFB is the time spent waiting for the first byte of the response
	// header from the origin.
	TTFB time.Duration `json:"ttfb"`

	// TotalTime is the total session duration from accept to close.
	TotalTime time.Duration `json:"total_time"`
}

// Timer measures the phases of a single session.
type Timer struct {
	start     time.Time
	dnsStart  time.Time
	dnsEnd    time.Time
	tcpStart  time.Time
	tcpEnd    time.Time
	ttfbStart time.Time
	ttfbEnd   time.Time
}

// NewTimer starts a new timing measurement session.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartDNS marks the beginning of DNS resolution.
func (t *Timer) StartDNS() { t.dnsStart = time.Now() }

// EndDNS marks the end of DNS resolution.
func (t *Timer) EndDNS() { t.dnsEnd = time.Now() }

// StartTCP marks the beginning of the TCP dial.
func (t *Timer) StartTCP() { t.tcpStart = time.Now() }

// EndTCP marks the end of the TCP dial.
func (t *Timer) EndTCP() { t.tcpEnd = time.Now() }

// StartTTFB marks when the forwarder starts waiting for the first response
// byte from the origin.
func (t *Timer) StartTTFB() { t.ttfbStart = time.Now() }

// EndTTFB marks when the forwarder receives the first response byte.
func (t *Timer) EndTTFB() { t.ttfbEnd = time.Now() }

// GetMetrics returns the calculated timing metrics.
func (t *Timer) GetMetrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}

	if !t.dnsStart.IsZero() && !t.dnsEnd.IsZero() {
		m.DNSLookup = t.dnsEnd.Sub(t.dnsStart)
	}
	if !t.tcpStart.IsZero() && !t.tcpEnd.IsZero() {
		m.TCPConnect = t.tcpEnd.Sub(t.tcpStart)
	}
	if !t.ttfbStart.IsZero() && !t.ttfbEnd.IsZero() {
		m.TTFB = t.ttfbEnd.Sub(t.ttfbStart)
	}

	return m
}

// String provides a human-readable representation of the metrics.
func (m Metrics) String() string {
	return fmt.Sprintf("DNSLookup: %v, TCPConnect: %v, TTFB: %v, TotalTime: %v",
		m.DNSLookup, m.TCPConnect, m.TTFB, m.TotalTime)
}
