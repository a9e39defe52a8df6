package gridcache

import (
	"errors"

	"github.com/bodul/wafflegram/internal/cell"
	"github.com/bodul/wafflegram/internal/docstore"
)

// Feed event results, used as metric labels.
const (
	resultAccepted           = "accepted"
	resultBuffered           = "buffered"
	resultSuperseded         = "superseded"
	resultNotWrite           = "not_write"
	resultNotLatest          = "not_latest"
	resultEmpty              = "empty"
	resultOtherPath          = "other_path"
	resultOtherGrid          = "other_grid"
	resultOutOfBounds        = "out_of_bounds"
	resultDecodeError        = "decode_error"
	resultCoordinateMismatch = "coordinate_mismatch"
	resultClosed             = "closed"
)

// handleWriteEvent is the store subscriber. It runs on the store's feed
// goroutine.
func (c *Cache) handleWriteEvent(evt docstore.WriteEvent) {
	if evt.Kind != docstore.EventDocumentWrite {
		c.metrics.feedEvent(c.grid, resultNotWrite)
		if evt.Kind == docstore.EventStoreClosed {
			c.logger.Info("store closed, cache no longer follows writes")
		}
		return
	}
	if !evt.IsLatest {
		c.metrics.feedEvent(c.grid, resultNotLatest)
		return
	}
	e, result, err := c.accept(evt.Document)
	if result != resultAccepted {
		c.metrics.feedEvent(c.grid, result)
		c.logDropped(evt.Document.Path, result, err)
		return
	}

	c.mu.Lock()
	switch c.state {
	case StateBootstrapping:
		if !c.closed {
			c.pending = append(c.pending, e)
			result = resultBuffered
		} else {
			result = resultClosed
		}
		c.mu.Unlock()
		c.metrics.feedEvent(c.grid, result)
		return
	case StateReady:
		if c.closed {
			c.mu.Unlock()
			c.metrics.feedEvent(c.grid, resultClosed)
			return
		}
	default:
		c.mu.Unlock()
		c.metrics.feedEvent(c.grid, resultClosed)
		return
	}
	applied := c.applyLocked(e)
	n := len(c.cells)
	c.mu.Unlock()

	if !applied {
		c.metrics.feedEvent(c.grid, resultSuperseded)
		return
	}
	c.metrics.feedEvent(c.grid, resultAccepted)
	c.metrics.cells(c.grid, n)
	c.notifier.notify(e.cell)
}

// accept runs the content checks shared by bootstrap and the feed: non-empty
// content, a cell path of this grid inside the bounds, decodable content
// whose coordinates agree with the path.
func (c *Cache) accept(doc docstore.Document) (entry, string, error) {
	if len(doc.Content) == 0 {
		return entry{}, resultEmpty, nil
	}
	loc, ok := cell.ParsePath(c.cellTmpl, doc.Path)
	if !ok {
		return entry{}, resultOtherPath, nil
	}
	if loc.Grid != c.grid {
		return entry{}, resultOtherGrid, nil
	}
	decoded, err := cell.Decode(doc.Content)
	if err != nil {
		return entry{}, resultDecodeError, err
	}
	if decoded.X != loc.X || decoded.Y != loc.Y {
		return entry{}, resultCoordinateMismatch, &CoordinateMismatchError{
			Path: doc.Path, PathX: loc.X, PathY: loc.Y, CellX: decoded.X, CellY: decoded.Y,
		}
	}
	c.mu.RLock()
	inside := c.config.Contains(loc.X, loc.Y)
	c.mu.RUnlock()
	if !inside {
		return entry{}, resultOutOfBounds, nil
	}
	return entry{cell: decoded, timestamp: doc.Timestamp}, resultAccepted, nil
}

// applyLocked stores e unless the cache already holds a strictly newer
// revision of the same cell. c.mu must be held for writing.
func (c *Cache) applyLocked(e entry) bool {
	key := e.cell.Key()
	if cur, ok := c.cells[key]; ok && cur.timestamp > e.timestamp {
		return false
	}
	c.cells[key] = e
	return true
}

func (c *Cache) logDropped(path, result string, err error) {
	var mismatch *CoordinateMismatchError
	switch {
	case result == resultDecodeError:
		c.logger.Warn("dropping undecodable cell document", "path", path, "error", err)
	case errors.As(err, &mismatch):
		c.logger.Warn("dropping cell document with mismatched coordinates", "path", path, "error", err)
	case result == resultOutOfBounds:
		c.logger.Debug("dropping cell outside grid", "path", path)
	}
}
