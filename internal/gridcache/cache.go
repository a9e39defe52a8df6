// Package gridcache keeps an in-memory view of one grid's cells coherent with
// a document store.
//
// A Cache bootstraps from a store query, then follows the store's change
// feed. Saves are written through to the store and never touch the cache
// directly: a cell changes only when the store echoes the write back on its
// feed, so the cache always reflects what the store accepted.
//
// Usage:
//
//	c, err := gridcache.New(store, "main")
//	if err != nil { ... }
//	defer c.Close()
//	if err := c.WaitUntilReady(ctx); err != nil { ... }
//	unsubscribe := c.OnChange(func(cell.Cell) { redraw() })
//	c.Save(ctx, keypair, cell.Cell{X: 1, Y: 1, Kind: cell.KindColor, Content: "#ff0000"})
package gridcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/bodul/wafflegram/internal/cell"
	"github.com/bodul/wafflegram/internal/docstore"
	"github.com/bodul/wafflegram/internal/pathtmpl"
)

// State is a cache lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateBootstrapping
	StateReady
	// StateFailed is entered when every bootstrap attempt failed or the
	// cache was closed before becoming ready.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBootstrapping:
		return "bootstrapping"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// GridConfig holds grid dimensions.
type GridConfig struct {
	NumX int `json:"numX"`
	NumY int `json:"numY"`
}

// DefaultConfig is the 3×3 grid every cache uses unless configured.
var DefaultConfig = GridConfig{NumX: 3, NumY: 3}

// Contains reports whether (x, y) lies inside the grid.
func (g GridConfig) Contains(x, y int) bool {
	return x >= 0 && x < g.NumX && y >= 0 && y < g.NumY
}

func (g GridConfig) valid() bool {
	return g.NumX > 0 && g.NumY > 0 && g.NumX <= maxDimension && g.NumY <= maxDimension
}

const (
	maxDimension = 256
	tracerName   = "github.com/bodul/wafflegram/internal/gridcache"
)

type entry struct {
	cell      cell.Cell
	timestamp int64
}

// Cache is the in-memory projection of one grid. It is safe for concurrent
// use.
type Cache struct {
	id        string
	store     docstore.Store
	grid      string
	namespace string
	cellTmpl  *pathtmpl.Template

	storedConfig bool
	retry        retryPolicy
	logger       *slog.Logger
	metrics      *Metrics
	tracer       trace.Tracer

	mu      sync.RWMutex
	config  GridConfig
	state   State
	cells   map[string]entry
	pending []entry // accepted during bootstrap, replayed before ready
	closed  bool

	notifier notifier

	ready   chan struct{}
	bootErr error
	done    chan struct{}

	cancel      context.CancelFunc
	unsubscribe func()
	closeOnce   sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithNamespace sets the top-level path segment, cell.DefaultNamespace by
// default.
func WithNamespace(ns string) Option {
	return func(c *Cache) { c.namespace = ns }
}

// WithConfig sets the grid dimensions.
func WithConfig(cfg GridConfig) Option {
	return func(c *Cache) { c.config = cfg }
}

// WithStoredConfig makes bootstrap read the grid dimensions once from the
// grid's config.json document, keeping the configured ones if it is absent
// or invalid.
func WithStoredConfig() Option {
	return func(c *Cache) { c.storedConfig = true }
}

// WithLogger sets the logger, slog.Default() by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics records cache metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithTracerProvider sets where bootstrap and save spans go, the global
// provider by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Cache) { c.tracer = tp.Tracer(tracerName) }
}

// WithBootstrapRetry sets how often the bootstrap query is attempted and the
// backoff between attempts.
func WithBootstrapRetry(attempts uint, initial, max time.Duration) Option {
	return func(c *Cache) {
		c.retry = retryPolicy{attempts: attempts, initial: initial, max: max}
	}
}

// New creates a cache for grid over store and starts bootstrapping it in
// the background. It returns without waiting; see WaitUntilReady.
func New(store docstore.Store, grid string, opts ...Option) (*Cache, error) {
	if store == nil {
		return nil, errors.New("gridcache: store is required")
	}
	c := &Cache{
		id:        uuid.NewString(),
		store:     store,
		grid:      grid,
		namespace: cell.DefaultNamespace,
		config:    DefaultConfig,
		retry:     defaultRetry,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		cells:     make(map[string]entry),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.config.valid() {
		return nil, fmt.Errorf("gridcache: invalid grid dimensions %dx%d", c.config.NumX, c.config.NumY)
	}
	c.cellTmpl = cell.Template(c.namespace)
	if _, err := cell.Path(c.namespace, grid, 0, 0); err != nil {
		return nil, fmt.Errorf("gridcache: grid name %q: %w", grid, err)
	}
	if err := docstore.ValidatePath("/" + c.namespace + "/grid:" + grid); err != nil {
		return nil, fmt.Errorf("gridcache: grid name %q: %w", grid, err)
	}
	c.logger = c.logger.With("grid", grid, "cache", c.id)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = StateBootstrapping
	// Subscribe before querying so no write is missed; events seen during
	// bootstrap are buffered.
	c.unsubscribe = store.Subscribe(c.handleWriteEvent)
	go c.hatch(ctx)
	return c, nil
}

// ID returns an opaque handle identifying the cache in logs.
func (c *Cache) ID() string { return c.id }

// Name returns the grid name.
func (c *Cache) Name() string { return c.grid }

// Namespace returns the top-level path segment of the grid's documents.
func (c *Cache) Namespace() string { return c.namespace }

// Config returns the grid dimensions.
func (c *Cache) Config() GridConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// State returns the lifecycle state.
func (c *Cache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Ready returns a channel closed once bootstrap has finished, successfully
// or not.
func (c *Cache) Ready() <-chan struct{} { return c.ready }

// WaitUntilReady blocks until bootstrap finishes or ctx is done. It returns
// the bootstrap error when the cache failed.
func (c *Cache) WaitUntilReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return c.bootErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the cell at (x, y), or an empty cell if it was never written.
func (c *Cache) Get(x, y int) (cell.Cell, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.config.Contains(x, y) {
		return cell.Cell{}, fmt.Errorf("%w: (%d,%d) in %dx%d grid", ErrOutOfBounds, x, y, c.config.NumX, c.config.NumY)
	}
	if e, ok := c.cells[cell.Key(x, y)]; ok {
		return e.cell, nil
	}
	return cell.Empty(x, y), nil
}

// Cells returns every cell of the grid in row-major order.
func (c *Cache) Cells() []cell.Cell {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]cell.Cell, 0, c.config.NumX*c.config.NumY)
	for y := 0; y < c.config.NumY; y++ {
		for x := 0; x < c.config.NumX; x++ {
			if e, ok := c.cells[cell.Key(x, y)]; ok {
				out = append(out, e.cell)
			} else {
				out = append(out, cell.Empty(x, y))
			}
		}
	}
	return out
}

// OnChange registers fn to be called with every cell accepted from the
// change feed, after the cache has been updated. Calls happen on the
// store's feed goroutine, in registration order, one event at a time.
// Bootstrap completion is not a change.
func (c *Cache) OnChange(fn func(cell.Cell)) (unsubscribe func()) {
	return c.notifier.add(fn)
}

// Observers returns the number of registered change observers.
func (c *Cache) Observers() int { return c.notifier.len() }

// Close releases the change-feed subscription and stops a bootstrap in
// progress. Events arriving after Close are not applied, and once it returns
// no observer is called again. It is safe to call more than once, but not
// from an observer.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
		c.unsubscribe()
		c.notifier.close()
		<-c.done
		c.logger.Debug("grid cache closed")
	})
	return nil
}
