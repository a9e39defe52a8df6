// Package cell defines the grid Cell, its JSON document encoding and the
// document paths cells are stored under.
package cell

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind tells how a cell's Content is interpreted.
type Kind string

const (
	// KindColor holds a CSS color such as "#ff9900", or "" for blank.
	KindColor Kind = "COLOR"
	// KindImageURL holds the URL of an image on the web.
	KindImageURL Kind = "IMAGE_URL"
	// KindImageB64 holds base64 JPEG bytes without a mime prefix.
	KindImageB64 Kind = "IMAGE_B64"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindColor, KindImageURL, KindImageB64:
		return true
	}
	return false
}

// Cell is one addressable unit of a grid.
type Cell struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Kind    Kind   `json:"kind"`
	Content string `json:"content"`
	Caption string `json:"caption,omitempty"` // empty means no caption
}

// Empty returns the blank cell synthesized for coordinates never written.
func Empty(x, y int) Cell {
	return Cell{X: x, Y: y, Kind: KindColor}
}

// Key returns the cache key of the cell.
func (c Cell) Key() string { return Key(c.X, c.Y) }

// HasCaption reports whether the cell carries display text.
func (c Cell) HasCaption() bool { return c.Caption != "" }

// Key formats the cache key for a coordinate.
func Key(x, y int) string {
	return strconv.Itoa(x) + "-" + strconv.Itoa(y)
}

// DecodeError reports document content that is not a valid Cell.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode cell: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes a cell to document content.
func Encode(c Cell) ([]byte, error) {
	if !c.Kind.Valid() {
		return nil, fmt.Errorf("encode cell: unknown kind %q", c.Kind)
	}
	return json.Marshal(c)
}

// wireCell uses pointers so missing required fields can be told apart from
// zero values.
type wireCell struct {
	X       *int    `json:"x"`
	Y       *int    `json:"y"`
	Kind    *Kind   `json:"kind"`
	Content *string `json:"content"`
	Caption *string `json:"caption"`
}

// Decode parses document content into a Cell. Any failure is a
// *DecodeError.
func Decode(content []byte) (Cell, error) {
	var w wireCell
	dec := json.NewDecoder(bytes.NewReader(content))
	if err := dec.Decode(&w); err != nil {
		return Cell{}, &DecodeError{Err: err}
	}
	if dec.More() {
		return Cell{}, &DecodeError{Err: fmt.Errorf("trailing data after object")}
	}
	switch {
	case w.X == nil:
		return Cell{}, &DecodeError{Err: fmt.Errorf("missing x")}
	case w.Y == nil:
		return Cell{}, &DecodeError{Err: fmt.Errorf("missing y")}
	case w.Kind == nil:
		return Cell{}, &DecodeError{Err: fmt.Errorf("missing kind")}
	case !w.Kind.Valid():
		return Cell{}, &DecodeError{Err: fmt.Errorf("unknown kind %q", *w.Kind)}
	case w.Content == nil:
		return Cell{}, &DecodeError{Err: fmt.Errorf("missing content")}
	}
	c := Cell{X: *w.X, Y: *w.Y, Kind: *w.Kind, Content: *w.Content}
	if w.Caption != nil {
		c.Caption = *w.Caption
	}
	return c, nil
}
