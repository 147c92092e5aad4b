// Package buffer implements the response forwarder's accumulate-until-
// filtered cache: response bytes collected while a filtering decision is
// still pending, held in memory up to a threshold and spilled to a temp
// file beyond it, bounding the proxy's resident memory per session.
package buffer

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/keywordgate/proxy/pkg/constants"
	"github.com/keywordgate/proxy/pkg/perrors"
)

// DefaultMemoryLimit is sized as a multiple of the request header budget
// rather than a flat arbitrary figure: the cache only needs to outgrow a
// handful of header-sized chunks before a filtering decision is reached,
// at which point it either flushes (clean response) or spills (large
// unfiltered one still being accumulated).
const DefaultMemoryLimit = 16 * constants.MaxHeaderSize

// Cache accumulates response bytes in memory, spilling to a temp file
// once spillLimit is exceeded. Safe for concurrent Write/Reader/Close.
type Cache struct {
	mem        bytes.Buffer
	spill      *os.File
	spillPath  string
	written    int64
	spillLimit int64
	mu         sync.Mutex
	closed     bool
}

// New creates a Cache that spills to disk once its in-memory content
// exceeds limit bytes. A non-positive limit falls back to
// DefaultMemoryLimit.
func New(limit int64) *Cache {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Cache{spillLimit: limit}
}

// Write appends p, spilling the accumulated content to a temp file the
// first time the total would exceed the configured limit.
func (c *Cache) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, perrors.NewIOError("cache is closed", nil)
	}

	c.written += int64(len(p))

	if c.spill == nil && int64(c.mem.Len()+len(p)) <= c.spillLimit {
		return c.mem.Write(p)
	}

	if c.spill == nil {
		tmp, err := os.CreateTemp("", "proxy-response-*.tmp")
		if err != nil {
			return 0, perrors.NewIOError("creating spill file", err)
		}
		c.spill = tmp
		c.spillPath = tmp.Name()

		if c.mem.Len() > 0 {
			if _, err := tmp.Write(c.mem.Bytes()); err != nil {
				c.closeLocked()
				return 0, perrors.NewIOError("writing to spill file", err)
			}
		}
		c.mem.Reset()
	}

	n, err := c.spill.Write(p)
	if err != nil {
		return n, perrors.NewIOError("writing to spill file", err)
	}
	return n, nil
}

// Size returns the total number of bytes written so far.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}

// Spilled reports whether the cache has overflowed to disk.
func (c *Cache) Spilled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spill != nil
}

// Reader returns a fresh reader over everything written so far.
func (c *Cache) Reader() (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, perrors.NewIOError("cache is closed", nil)
	}

	if c.spill != nil {
		if err := c.spill.Sync(); err != nil {
			return nil, perrors.NewIOError("syncing spill file", err)
		}
		f, err := os.Open(c.spillPath)
		if err != nil {
			return nil, perrors.NewIOError("opening spill file for reading", err)
		}
		return f, nil
	}

	return io.NopCloser(bytes.NewReader(c.mem.Bytes())), nil
}

// Close releases any spill file. Idempotent and safe for concurrent use.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Cache) closeLocked() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if c.spill == nil {
		return nil
	}

	err := c.spill.Close()
	if removeErr := os.Remove(c.spillPath); removeErr != nil && err == nil {
		err = perrors.NewIOError("removing spill file", removeErr)
	}
	c.spill = nil
	c.spillPath = ""
	if err != nil {
		return perrors.NewIOError("closing spill file", err)
	}
	return nil
}
