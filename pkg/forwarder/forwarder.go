// Package forwarder streams an origin server's response bytes to the
// client, buffering until the response header is recognized, then
// deciding whether to stream unbuffered, forward the buffered response,
// or replace it with the canned content-blocked reply.
package forwarder

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/keywordgate/proxy/pkg/buffer"
	"github.com/keywordgate/proxy/pkg/constants"
	"github.com/keywordgate/proxy/pkg/filter"
	"github.com/keywordgate/proxy/pkg/httpmsg"
	"github.com/keywordgate/proxy/pkg/perrors"
	"github.com/keywordgate/proxy/pkg/sock"
	"github.com/keywordgate/proxy/pkg/timing"
)

// Forwarder carries the state of one response-forwarding pass: the
// client socket it writes to, the buffered cache kept until a filtering
// decision is made, and the flags driving that decision.
type Forwarder struct {
	client        *sock.Socket
	cache         *buffer.Cache
	timer         *timing.Timer
	log           *logrus.Entry
	haveHeader    bool
	applyFilter   bool
	blockResponse bool
	ttfbRecorded  bool
}

// New creates a Forwarder that writes to client. applyFilter should be
// false for a CONNECT response (never filtered), true otherwise; it is
// re-evaluated once the response header is recognized. timer may be nil,
// in which case TTFB is not recorded; log must not be.
func New(client *sock.Socket, applyFilter bool, timer *timing.Timer, log *logrus.Entry) *Forwarder {
	return &Forwarder{client: client, applyFilter: applyFilter, timer: timer, log: log}
}

// BlockedResponse reports whether the response was replaced with the
// canned content-blocked reply.
func (f *Forwarder) BlockedResponse() bool {
	return f.blockResponse
}

// Run reads from server in ServerSideReceiveBufferSize chunks until EOF,
// feeding each chunk through the buffer-until-header / stream-or-
// accumulate protocol described in the package docs. It closes the
// server socket itself when the response is blocked or a fatal error
// occurs, so the session's client-to-server pump observes the closed
// socket and exits. Any returned error signals the caller to tear down
// the whole session.
func (f *Forwarder) Run(server *sock.Socket) error {
	buf := make([]byte, constants.ServerSideReceiveBufferSize)

	for {
		n, err := server.RecvBlocking(buf)
		if err != nil {
			server.Close()
			return err
		}

		if n > 0 && !f.ttfbRecorded {
			if f.timer != nil {
				f.timer.EndTTFB()
			}
			f.ttfbRecorded = true
		}

		blocked, herr := f.handleChunk(buf[:n])
		if herr != nil {
			server.Close()
			return herr
		}
		if blocked {
			server.Close()
			return nil
		}
		if n == 0 {
			return nil
		}

		// A read that returned data and observed EOF in the same call
		// has already closed the socket; deliver the final empty chunk
		// now instead of tripping over ErrClosed next iteration.
		if !server.Open() {
			if _, herr = f.handleChunk(nil); herr != nil {
				return herr
			}
			return nil
		}
	}
}

func (f *Forwarder) handleChunk(chunk []byte) (blocked bool, err error) {
	if f.applyFilter {
		if f.cache == nil {
			f.cache = buffer.New(buffer.DefaultMemoryLimit)
		}
		if len(chunk) > 0 {
			if _, werr := f.cache.Write(chunk); werr != nil {
				return false, werr
			}
		}

		if !f.haveHeader {
			full, rerr := readAll(f.cache)
			if rerr != nil {
				return false, rerr
			}

			if resp, _, perr := httpmsg.ParseResponseHeader(full); perr == nil {
				f.haveHeader = true
				f.applyFilter = filter.ShouldApplyContentFilter(resp)
			}

			if !f.haveHeader && f.cache.Size() > constants.MaxHeaderSize {
				f.cache.Close()
				f.cache = nil
				return false, perrors.NewTooLargeError("forward", constants.MaxHeaderSize)
			}
		}
	}

	var toSend []byte
	flushCache := false

	switch {
	case !f.applyFilter:
		if f.cache != nil && f.cache.Size() > 0 {
			data, rerr := readAll(f.cache)
			if rerr != nil {
				return false, rerr
			}
			toSend = data
			flushCache = true
		} else {
			toSend = chunk
		}

	case len(chunk) == 0:
		data, rerr := readAll(f.cache)
		if rerr != nil {
			return false, rerr
		}
		word, found := filter.Match(data)
		f.blockResponse = found
		if f.blockResponse {
			f.log.WithField("keyword", word).Warn("blocking response: content filter matched")
			toSend = []byte(constants.ContentBlockedResponse)
		} else {
			toSend = data
		}
		flushCache = true
	}

	if toSend != nil {
		// A send failure aborts the session silently from the client's
		// point of view; the socket is already in a bad state.
		f.client.Send(toSend)
	}

	if flushCache {
		f.cache.Close()
		f.cache = nil
	}

	return f.blockResponse, nil
}

func readAll(b *buffer.Cache) ([]byte, error) {
	r, err := b.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
