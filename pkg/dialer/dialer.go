// Package dialer resolves and connects to an origin server on behalf of
// the Dialing step of a session.
package dialer

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/keywordgate/proxy/pkg/perrors"
	"github.com/keywordgate/proxy/pkg/timing"
)

// DefaultDialTimeout bounds the TCP connect phase when the caller supplies
// no deadline of its own.
const DefaultDialTimeout = 10 * time.Second

// DefaultDNSTimeout bounds the DNS resolution phase.
const DefaultDNSTimeout = 5 * time.Second

// Dialer resolves a hostname and opens a TCP connection to it, recording
// DNS and TCP phase durations on the supplied timer.
type Dialer struct {
	resolver    *net.Resolver
	dnsTimeout  time.Duration
	dialTimeout time.Duration
}

// New creates a Dialer using the system resolver and default timeouts.
func New() *Dialer {
	return &Dialer{
		resolver:    net.DefaultResolver,
		dnsTimeout:  DefaultDNSTimeout,
		dialTimeout: DefaultDialTimeout,
	}
}

// Dial resolves host and connects to (host, port), recording DNS and TCP
// phase timings on timer. port must already default to "80" by the caller
// when absent from the request.
func (d *Dialer) Dial(ctx context.Context, host, port string, timer *timing.Timer) (net.Conn, error) {
	dialAddr, err := d.resolveAddress(ctx, host, port, timer)
	if err != nil {
		return nil, err
	}

	conn, err := d.connectTCP(ctx, dialAddr, timer)
	if err != nil {
		return nil, perrors.NewUpstreamUnreachableError("dial", host, atoiOrZero(port), err)
	}

	return conn, nil
}

func (d *Dialer) resolveAddress(ctx context.Context, host, port string, timer *timing.Timer) (string, error) {
	timer.StartDNS()
	defer timer.EndDNS()

	ctxLookup, cancel := context.WithTimeout(ctx, d.dnsTimeout)
	defer cancel()

	addrs, err := d.resolver.LookupIPAddr(ctxLookup, host)
	if err != nil {
		return "", perrors.NewUpstreamUnreachableError("lookup", host, atoiOrZero(port), err)
	}
	if len(addrs) == 0 {
		return "", perrors.NewUpstreamUnreachableError("lookup", host, atoiOrZero(port), nil)
	}

	return net.JoinHostPort(addrs[0].IP.String(), port), nil
}

func (d *Dialer) connectTCP(ctx context.Context, dialAddr string, timer *timing.Timer) (net.Conn, error) {
	timer.StartTCP()
	defer timer.EndTCP()

	dialer := &net.Dialer{Timeout: d.dialTimeout}
	return dialer.DialContext(ctx, "tcp", dialAddr)
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
