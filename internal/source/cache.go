// Package source keeps one opened decoder per media URI for the lifetime of
// an editing or export session.
//
// Handles are reference counted. Clear retires every entry: idle decoders are
// closed immediately, decoders still held are closed when their last Handle
// is released. A failed open is remembered as unavailable until the next Clear
// so a broken URI costs one probe, not one per frame.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/eleven-am/splice/internal/domain"
)

var ErrUnavailable = errors.New("media unavailable")

type entry struct {
	decoder domain.Decoder
	err     error
	refs    int
	retired bool
}

type Cache struct {
	opener domain.Opener
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group
	// epoch invalidates opens that were in flight when Clear ran.
	epoch uint64
}

func NewCache(opener domain.Opener, logger zerolog.Logger) *Cache {
	return &Cache{
		opener:  opener,
		logger:  logger.With().Str("component", "source-cache").Logger(),
		entries: make(map[string]*entry),
	}
}

// Handle is one reference to a cached decoder.
type Handle struct {
	cache *Cache
	uri   string
	entry *entry
	once  sync.Once
}

func (h *Handle) Decoder() domain.Decoder {
	return h.entry.decoder
}

func (h *Handle) URI() string {
	return h.uri
}

func (h *Handle) Release() {
	h.once.Do(func() {
		h.cache.release(h.entry)
	})
}

// Acquire returns a handle for uri, opening it on first use. Concurrent
// callers for the same uri share one open. The error wraps ErrUnavailable
// when the source could not be opened.
func (c *Cache) Acquire(ctx context.Context, uri string) (*Handle, error) {
	if uri == "" {
		return nil, fmt.Errorf("empty uri: %w", ErrUnavailable)
	}

	for {
		if h, err, ok := c.lookup(uri); ok {
			return h, err
		}

		c.mu.Lock()
		epoch := c.epoch
		c.mu.Unlock()

		_, _, _ = c.group.Do(uri, func() (interface{}, error) {
			c.open(ctx, uri, epoch)
			return nil, nil
		})

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (c *Cache) lookup(uri string) (*Handle, error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[uri]
	if !ok {
		return nil, nil, false
	}
	if e.err != nil {
		return nil, fmt.Errorf("%s: %w: %v", uri, ErrUnavailable, e.err), true
	}
	e.refs++
	return &Handle{cache: c, uri: uri, entry: e}, nil, true
}

func (c *Cache) open(ctx context.Context, uri string, epoch uint64) {
	c.mu.Lock()
	_, exists := c.entries[uri]
	c.mu.Unlock()
	if exists {
		return
	}

	dec, err := c.opener.Open(ctx, uri)
	if err != nil && ctx.Err() != nil {
		// a cancelled caller says nothing about the source itself
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		if dec != nil {
			_ = dec.Close()
		}
		return
	}

	if err != nil {
		c.logger.Warn().Err(err).Str("uri", uri).Msg("source unavailable")
		c.entries[uri] = &entry{err: err}
		return
	}

	c.logger.Debug().Str("uri", uri).Msg("source opened")
	c.entries[uri] = &entry{decoder: dec}
}

func (c *Cache) release(e *entry) {
	c.mu.Lock()
	e.refs--
	closeNow := e.retired && e.refs == 0
	c.mu.Unlock()

	if closeNow {
		_ = e.decoder.Close()
	}
}

// Clear disposes every cached decoder. Later acquires reopen.
func (c *Cache) Clear() {
	c.mu.Lock()
	var idle []domain.Decoder
	for uri, e := range c.entries {
		if e.decoder != nil {
			e.retired = true
			if e.refs == 0 {
				idle = append(idle, e.decoder)
			}
		}
		delete(c.entries, uri)
	}
	c.epoch++
	c.mu.Unlock()

	for _, dec := range idle {
		_ = dec.Close()
	}
	c.logger.Debug().Int("closed", len(idle)).Msg("source cache cleared")
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
