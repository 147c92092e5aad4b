package forwarder

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keywordgate/proxy/pkg/sock"
	"github.com/keywordgate/proxy/pkg/timing"
)

func silentLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// serverClientPair wires up two independent net.Pipe()s: one stands in for
// the origin connection the Forwarder reads from (server, read via
// RecvBlocking; origin is the test's write side of that same pipe), the
// other for the client connection the Forwarder writes to (client; clientRaw
// is the test's read side). A single net.Pipe() can't serve both roles —
// a pipe end's Write only ever reaches its peer's Read, never its own, so
// reusing one Socket for both the Forwarder's read and the test's injected
// writes would deliver those writes straight to the test's clientRaw,
// bypassing the Forwarder entirely.
func serverClientPair(t *testing.T) (server *sock.Socket, origin net.Conn, client *sock.Socket, clientRaw net.Conn) {
	t.Helper()

	originConn, forwarderReadConn := net.Pipe()
	forwarderWriteConn, clientRawConn := net.Pipe()

	return sock.New(forwarderReadConn), originConn, sock.New(forwarderWriteConn), clientRawConn
}

func readAllFromClient(t *testing.T, clientRaw net.Conn, done <-chan error) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 4096)
	clientRaw.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("forwarder run: %v", err)
			}
			return out
		default:
		}
		n, err := clientRaw.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			return out
		}
	}
}

func TestForwarderStreamsNonTextUnbuffered(t *testing.T) {
	server, origin, client, clientRaw := serverClientPair(t)
	defer clientRaw.Close()
	defer origin.Close()

	f := New(client, true, timing.NewTimer(), silentLogger())
	done := make(chan error, 1)
	go func() { done <- f.Run(server) }()

	go func() {
		origin.Write([]byte("HTTP/1.1 200 OK\r\nContent-Type: image/png\r\n\r\n"))
		origin.Write([]byte("binarydata"))
		origin.Close()
	}()

	out := readAllFromClient(t, clientRaw, done)
	want := "HTTP/1.1 200 OK\r\nContent-Type: image/png\r\n\r\nbinarydata"
	if string(out) != want {
		t.Fatalf("got %q, want %q", out, want)
	}
	if f.BlockedResponse() {
		t.Fatal("expected response not blocked")
	}
}

func TestForwarderBlocksFilteredTextResponse(t *testing.T) {
	server, origin, client, clientRaw := serverClientPair(t)
	defer clientRaw.Close()
	defer origin.Close()

	f := New(client, true, timing.NewTimer(), silentLogger())
	done := make(chan error, 1)
	go func() { done <- f.Run(server) }()

	go func() {
		origin.Write([]byte("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\n"))
		origin.Write([]byte("I love SpongeBob"))
		origin.Close()
	}()

	out := readAllFromClient(t, clientRaw, done)
	if string(out) != contentBlockedWire() {
		t.Fatalf("expected canned content-blocked reply, got %q", out)
	}
	if !f.BlockedResponse() {
		t.Fatal("expected response to be blocked")
	}
}

func TestForwarderForwardsCleanTextResponse(t *testing.T) {
	server, origin, client, clientRaw := serverClientPair(t)
	defer clientRaw.Close()
	defer origin.Close()

	f := New(client, true, timing.NewTimer(), silentLogger())
	done := make(chan error, 1)
	go func() { done <- f.Run(server) }()

	go func() {
		origin.Write([]byte("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n<html>hello</html>"))
		origin.Close()
	}()

	out := readAllFromClient(t, clientRaw, done)
	want := "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n<html>hello</html>"
	if string(out) != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func contentBlockedWire() string {
	return "HTTP/1.1 301 Moved Permanently\r\n" +
		"Location: http://www.ida.liu.se/~TDTS04/labs/2011/ass2/error2.html\r\n" +
		"Connection: close\r\n" +
		"\r\n"
}
