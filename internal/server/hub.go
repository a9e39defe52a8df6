package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bodul/wafflegram/internal/docstore"
	"github.com/bodul/wafflegram/internal/gridcache"
)

var (
	// ErrTooManyGrids reports that every grid slot of the hub is in use.
	ErrTooManyGrids = errors.New("too many grids")
	// ErrInvalidGrid reports a grid name no cache can be built for.
	ErrInvalidGrid = errors.New("invalid grid name")
)

const defaultMaxGrids = 64

type hubEntry struct {
	grid     string
	cache    *gridcache.Cache
	refs     int
	lastUsed time.Time
}

// Hub owns one grid cache per grid name over a shared store. When all slots
// are taken, opening another grid closes the least recently used cache that
// nobody holds.
type Hub struct {
	store    docstore.Store
	opts     []gridcache.Option
	logger   *slog.Logger
	maxGrids int
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*hubEntry
	closed  bool
}

// NewHub creates a hub. opts are applied to every cache it opens.
func NewHub(store docstore.Store, logger *slog.Logger, opts ...gridcache.Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		store:    store,
		opts:     append([]gridcache.Option{gridcache.WithLogger(logger)}, opts...),
		logger:   logger,
		maxGrids: defaultMaxGrids,
		now:      time.Now,
		entries:  make(map[string]*hubEntry),
	}
}

// Acquire returns the ready cache for grid, opening it on first use. The
// cache stays open at least until release is called; release may be called
// more than once.
func (h *Hub) Acquire(ctx context.Context, grid string) (c *gridcache.Cache, release func(), err error) {
	e, err := h.acquire(grid)
	if err != nil {
		return nil, nil, err
	}
	release = sync.OnceFunc(func() { h.release(e) })
	if err := e.cache.WaitUntilReady(ctx); err != nil {
		release()
		if e.cache.State() == gridcache.StateFailed {
			h.remove(e)
		}
		return nil, nil, err
	}
	return e.cache, release, nil
}

func (h *Hub) acquire(grid string) (*hubEntry, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, gridcache.ErrClosed
	}
	if e, ok := h.entries[grid]; ok {
		e.refs++
		e.lastUsed = h.now()
		h.mu.Unlock()
		return e, nil
	}

	var victim *hubEntry
	if len(h.entries) >= h.maxGrids {
		victim = h.idleLocked()
		if victim == nil {
			h.mu.Unlock()
			return nil, fmt.Errorf("%w: all %d in use", ErrTooManyGrids, h.maxGrids)
		}
		delete(h.entries, victim.grid)
	}
	c, err := gridcache.New(h.store, grid, h.opts...)
	if err != nil {
		h.mu.Unlock()
		if victim != nil {
			victim.cache.Close()
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidGrid, err)
	}
	e := &hubEntry{grid: grid, cache: c, refs: 1, lastUsed: h.now()}
	h.entries[grid] = e
	h.mu.Unlock()

	if victim != nil {
		victim.cache.Close()
		h.logger.Info("evicted idle grid", "grid", victim.grid, "idle", h.now().Sub(victim.lastUsed))
	}
	h.logger.Info("opened grid", "grid", grid, "cache", c.ID())
	return e, nil
}

// idleLocked returns the least recently used entry nobody holds.
func (h *Hub) idleLocked() *hubEntry {
	var oldest *hubEntry
	for _, e := range h.entries {
		if e.refs > 0 {
			continue
		}
		if oldest == nil || e.lastUsed.Before(oldest.lastUsed) {
			oldest = e
		}
	}
	return oldest
}

func (h *Hub) release(e *hubEntry) {
	h.mu.Lock()
	e.refs--
	e.lastUsed = h.now()
	h.mu.Unlock()
}

// remove drops a failed cache so the next Acquire retries the bootstrap.
func (h *Hub) remove(e *hubEntry) {
	h.mu.Lock()
	if h.entries[e.grid] == e {
		delete(h.entries, e.grid)
	}
	h.mu.Unlock()
	e.cache.Close()
}

// Grids returns the number of open grids.
func (h *Hub) Grids() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Close closes every cache.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	entries := h.entries
	h.entries = make(map[string]*hubEntry)
	h.mu.Unlock()
	for _, e := range entries {
		e.cache.Close()
	}
	return nil
}
