// Package listener implements the proxy's accept loop: open a TCP
// listening socket, then spawn one goroutine per accepted connection to
// run a session, tracking them so the listener can wait for in-flight
// sessions to finish on shutdown.
package listener

import (
	"context"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/keywordgate/proxy/pkg/dialer"
	"github.com/keywordgate/proxy/pkg/session"
	"github.com/keywordgate/proxy/pkg/sock"
)

// Listener owns the listening socket and the set of in-flight sessions
// spawned from it.
type Listener struct {
	ln     net.Listener
	dialer *dialer.Dialer
	log    *logrus.Logger
	wg     sync.WaitGroup
}

// Open binds a TCP listening socket on the given port, listening on all
// local addresses.
func Open(port string, log *logrus.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, dialer: dialer.New(), log: log}, nil
}

// Addr reports the address the listener is bound to.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until ctx is canceled or Close is called,
// spawning one goroutine per connection to run a Session. It blocks until
// the accept loop exits, then waits for all in-flight sessions to finish.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		l.log.WithField("remote", conn.RemoteAddr()).Info("received connection")

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.serveConn(ctx, conn)
		}()
	}
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	entry := l.log.WithField("remote", conn.RemoteAddr())
	sess := session.New(sock.New(conn), l.dialer, entry)
	if err := sess.Run(ctx); err != nil {
		entry.WithError(err).Debug("session ended with error")
	}
}

// Close stops accepting new connections. In-flight sessions are left to
// finish on their own; callers wanting to wait for them should rely on
// Serve's return instead.
func (l *Listener) Close() error {
	return l.ln.Close()
}
