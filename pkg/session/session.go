// Package session implements the per-connection state machine: read the
// client's request header, apply the URL filter, dial the origin, rewrite
// the request, launch the Response Forwarder, and pump client bytes to
// the origin until either side closes.
package session

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/keywordgate/proxy/pkg/constants"
	"github.com/keywordgate/proxy/pkg/dialer"
	"github.com/keywordgate/proxy/pkg/filter"
	"github.com/keywordgate/proxy/pkg/forwarder"
	"github.com/keywordgate/proxy/pkg/httpmsg"
	"github.com/keywordgate/proxy/pkg/perrors"
	"github.com/keywordgate/proxy/pkg/sock"
	"github.com/keywordgate/proxy/pkg/timing"
)

const defaultHTTPPort = "80"

// Session carries the state of a single accepted client connection
// through ReadingHeader, UrlFilterCheck, Dialing, Rewriting, Pumping and
// Closing.
type Session struct {
	client *sock.Socket
	dialer *dialer.Dialer
	log    *logrus.Entry
}

// New creates a Session bound to an already-accepted client connection.
func New(client *sock.Socket, d *dialer.Dialer, log *logrus.Entry) *Session {
	return &Session{client: client, dialer: d, log: log}
}

// Run drives the session to completion. It always closes the client
// socket (and, if dialed, the server socket) before returning, regardless
// of which branch terminated it.
func (s *Session) Run(ctx context.Context) error {
	defer s.client.Close()

	timer := timing.NewTimer()

	buf, received, err := s.readUntilHeaderComplete()
	if err != nil {
		if perrors.GetErrorType(err) == perrors.TypeTooLarge {
			s.log.Warn("request header exceeded maximum size")
		} else {
			s.log.WithError(err).Debug("session ended during header read")
		}
		return err
	}

	// The filter runs on the raw bytes as soon as a blank line terminates
	// the header, independent of whether the start line goes on to parse
	// cleanly: a forbidden phrase containing a space (e.g. "paris hilton")
	// can appear in a request line that the start-line regex itself will
	// never match, and the block must still fire.
	if word, found := filter.Match(buf[:received]); found {
		s.log.WithField("keyword", word).Warn("blocking request: URL filter matched")
		s.client.Send([]byte(constants.URLBlockedResponse))
		return nil
	}

	req, headerEnd, err := httpmsg.ParseRequestHeader(buf[:received])
	if err != nil {
		s.log.WithError(err).Debug("session ended: header did not parse")
		return err
	}

	host, port, err := hostAndPort(req)
	if err != nil {
		s.log.WithError(err).Debug("session ended: no Host field")
		return err
	}

	s.log.WithFields(logrus.Fields{"host": host, "port": port}).Info("dialing origin")
	conn, err := s.dialer.Dial(ctx, host, port, timer)
	if err != nil {
		s.log.WithError(err).Warn("upstream unreachable")
		return err
	}
	server := sock.New(conn)

	connRequest := req.Method == "CONNECT"
	modifyRequest := !connRequest

	if modifyRequest {
		rewriteRequest(req, host, port)
	} else {
		s.client.Send([]byte(constants.ConnectionEstablishedResponse))
	}

	timer.StartTTFB()
	fwd := forwarder.New(s.client, !connRequest, timer, s.log)
	done := make(chan error, 1)
	go func() { done <- fwd.Run(server) }()

	if !connRequest {
		serialized := httpmsg.SerializeRequest(req)
		server.Send(serialized)
		if headerEnd < received {
			server.Send(buf[headerEnd:received])
		}
	}

	s.pump(server)

	if err := <-done; err != nil {
		s.log.WithError(err).Debug("response forwarder ended with error")
	}
	server.Close()

	s.log.WithField("metrics", timer.GetMetrics().String()).Debug("session closed")

	return nil
}

// readUntilHeaderComplete implements the read half of ReadingHeader: read
// into the MaxHeaderSize client buffer until a blank-line header terminator
// appears, the client disconnects, or the buffer overflows first. It does
// not require the header to parse successfully — only that it is complete
// — so the URL filter can inspect raw bytes ahead of the start-line parse.
func (s *Session) readUntilHeaderComplete() (buf []byte, received int, err error) {
	buf = make([]byte, constants.MaxHeaderSize)

	for {
		if !s.client.Open() {
			return buf, received, perrors.NewIOError("client closed before header received", nil)
		}

		if received == len(buf) {
			s.client.Send([]byte(constants.HeaderTooLargeResponse))
			return buf, received, perrors.NewTooLargeError("read-header", constants.MaxHeaderSize)
		}

		n, recvErr := s.client.Recv(buf[received:])
		if recvErr != nil {
			return buf, received, recvErr
		}
		received += n

		if httpmsg.FindHeaderEnd(buf[:received]) != -1 {
			return buf, received, nil
		}
	}
}

// pump implements the client-to-server half of Pumping: loop while both
// sockets remain open, forwarding each chunk read from the client. Uses
// the Socket's non-blocking recv semantics, so a zero-byte result with
// both sockets open simply spins back around. An accepted limitation; a
// blocking read per direction or an event loop would remove it.
func (s *Session) pump(server *sock.Socket) {
	buf := make([]byte, constants.ReceiveBufferSize)
	for {
		if !server.Open() || !s.client.Open() {
			return
		}

		n, err := s.client.Recv(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		if _, err := server.Send(buf[:n]); err != nil {
			return
		}
	}
}

// hostAndPort extracts the origin hostname and port from the request's
// Host field, defaulting the port to "80" when absent. A missing Host
// field is fatal.
func hostAndPort(req *httpmsg.Request) (host, port string, err error) {
	hostValue, ok := req.Fields.Get("Host")
	if !ok {
		return "", "", perrors.NewValidationError("request has no Host field")
	}

	if idx := strings.IndexByte(hostValue, ':'); idx >= 0 {
		return hostValue[:idx], hostValue[idx+1:], nil
	}

	return hostValue, defaultHTTPPort, nil
}

// rewriteRequest implements Rewriting for a non-CONNECT request: force
// Connection: close and shorten the target to origin-form.
func rewriteRequest(req *httpmsg.Request, host, port string) {
	if !req.Fields.Replace("Connection", "close") {
		req.Fields.Append("Connection", "close")
	}

	req.Target = stripAuthority(req.Target, host, port)
}

// stripAuthority removes a "http://host[:port]" or "host[:port]" prefix
// from target, leaving an origin-form resource path. A target that does
// not carry the scheme-and-authority prefix is returned unchanged.
func stripAuthority(target, host, port string) string {
	rest := target
	if strings.HasPrefix(rest, "http://") {
		rest = rest[len("http://"):]
	}

	// The host must match exactly, not merely as a string prefix: the
	// byte right after it must end the authority (':' or '/') or the
	// string, otherwise "example.com.attacker.net" would pass a bare
	// HasPrefix("example.com") check.
	if !strings.HasPrefix(rest, host) {
		return target
	}
	rest = rest[len(host):]
	if rest != "" && rest[0] != ':' && rest[0] != '/' {
		return target
	}

	if strings.HasPrefix(rest, ":") {
		// Likewise the port must match exactly, not as a string prefix
		// ("8" must not consume the leading digit of "80").
		afterPort := rest[1:]
		portEnd := len(port)
		if len(afterPort) < portEnd || afterPort[:portEnd] != port {
			return target
		}
		if len(afterPort) > portEnd && afterPort[portEnd] != '/' {
			return target
		}
		rest = afterPort[portEnd:]
	}

	if rest == "" {
		rest = "/"
	}
	return rest
}
