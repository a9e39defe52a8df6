package gridcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bodul/wafflegram/internal/cell"
	"github.com/bodul/wafflegram/internal/docstore"
)

type retryPolicy struct {
	attempts uint
	initial  time.Duration
	max      time.Duration
}

var defaultRetry = retryPolicy{attempts: 8, initial: 200 * time.Millisecond, max: 10 * time.Second}

// hatch loads the grid from the store and marks the cache ready.
func (c *Cache) hatch(ctx context.Context) {
	defer close(c.done)
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "gridcache.bootstrap",
		trace.WithAttributes(attribute.String("grid", c.grid)))
	defer span.End()

	if c.storedConfig {
		c.loadStoredConfig(ctx)
	}

	docs, err := c.queryCells(ctx)
	if err != nil {
		if ctx.Err() != nil {
			err = ErrClosed
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "bootstrap failed")
		c.fail(err)
		c.metrics.bootstrap(c.grid, "failed", time.Since(start))
		return
	}

	loaded := make([]entry, 0, len(docs))
	for _, doc := range docs {
		e, result, err := c.accept(doc)
		if result != resultAccepted {
			c.logDropped(doc.Path, result, err)
			continue
		}
		loaded = append(loaded, e)
	}

	c.mu.Lock()
	// Paths are unique in a query result; should one repeat, the later one
	// in scan order wins.
	for _, e := range loaded {
		c.cells[e.cell.Key()] = e
	}
	replayed := 0
	for _, e := range c.pending {
		if c.applyLocked(e) {
			replayed++
		}
	}
	c.pending = nil
	closed := c.closed
	if closed {
		c.state = StateFailed
		c.bootErr = ErrClosed
	} else {
		c.state = StateReady
	}
	n := len(c.cells)
	c.mu.Unlock()
	close(c.ready)

	if closed {
		c.metrics.bootstrap(c.grid, "failed", time.Since(start))
		c.logger.Debug("grid cache closed during bootstrap")
		return
	}
	c.metrics.cells(c.grid, n)
	c.metrics.bootstrap(c.grid, "ready", time.Since(start))
	span.SetAttributes(attribute.Int("cells", n))
	c.logger.Info("grid cache ready",
		"loaded", len(loaded), "replayed", replayed, "duration", time.Since(start))
}

func (c *Cache) fail(err error) {
	c.mu.Lock()
	c.state = StateFailed
	c.bootErr = err
	c.pending = nil
	c.mu.Unlock()
	c.unsubscribe()
	close(c.ready)
	if errors.Is(err, ErrClosed) {
		c.logger.Debug("grid cache closed during bootstrap")
		return
	}
	c.logger.Error("grid cache bootstrap failed", "error", err)
}

// queryCells fetches every non-empty cell document of the grid, retrying
// with exponential backoff.
func (c *Cache) queryCells(ctx context.Context) ([]docstore.Document, error) {
	tmpl, err := cell.GridTemplate(c.namespace, c.grid)
	if err != nil {
		return nil, err
	}
	q := docstore.Query{PathTemplate: tmpl.String(), MinContentLength: 1}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.initial
	b.MaxInterval = c.retry.max

	return backoff.Retry(ctx, func() ([]docstore.Document, error) {
		docs, err := c.store.Query(ctx, q)
		if err != nil && (errors.Is(err, docstore.ErrClosed) || ctx.Err() != nil) {
			return nil, backoff.Permanent(err)
		}
		return docs, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.retry.attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("bootstrap query failed, retrying", "error", err, "retry_in", next)
		}),
	)
}

// loadStoredConfig reads the grid dimensions from config.json. Absent or
// invalid documents keep the configured dimensions.
func (c *Cache) loadStoredConfig(ctx context.Context) {
	path, err := cell.ConfigPath(c.namespace, c.grid)
	if err != nil {
		return
	}
	doc, ok, err := docstore.GetLatest(ctx, c.store, path)
	if err != nil {
		c.logger.Warn("load grid config", "path", path, "error", err)
		return
	}
	if !ok || len(doc.Content) == 0 {
		return
	}
	cfg := c.Config()
	if err := json.Unmarshal(doc.Content, &cfg); err != nil || !cfg.valid() {
		c.logger.Warn("ignoring invalid grid config", "path", path, "error", err, "config", cfg)
		return
	}
	c.mu.Lock()
	c.config = cfg
	c.mu.Unlock()
	c.logger.Info("loaded grid config", "numX", cfg.NumX, "numY", cfg.NumY)
}
