package gridcache

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds reports a coordinate outside the grid's dimensions.
	ErrOutOfBounds = errors.New("coordinate out of bounds")
	// ErrClosed reports a cache that was closed before it became ready.
	ErrClosed = errors.New("grid cache closed")
)

// CoordinateMismatchError reports a document whose path addresses one cell
// while its content claims another.
type CoordinateMismatchError struct {
	Path         string
	PathX, PathY int
	CellX, CellY int
}

func (e *CoordinateMismatchError) Error() string {
	return fmt.Sprintf("document %s: path is cell (%d,%d) but content claims (%d,%d)",
		e.Path, e.PathX, e.PathY, e.CellX, e.CellY)
}

// WriteRejectedError reports a save that the store refused or that never
// reached the store.
type WriteRejectedError struct {
	Path string
	Err  error
}

func (e *WriteRejectedError) Error() string {
	if e.Path == "" {
		return "write rejected: " + e.Err.Error()
	}
	return fmt.Sprintf("write %s rejected: %v", e.Path, e.Err)
}

func (e *WriteRejectedError) Unwrap() error { return e.Err }
