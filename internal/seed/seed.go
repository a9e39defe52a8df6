// Package seed loads grid fixtures from YAML and writes them through a grid
// cache.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bodul/wafflegram/internal/cell"
	"github.com/bodul/wafflegram/internal/gridcache"
	"github.com/bodul/wafflegram/internal/identity"
)

//go:embed default.yaml
var defaultFixture []byte

// Fixture is a set of cells for one grid.
type Fixture struct {
	Grid  string        `yaml:"grid"`
	Cells []FixtureCell `yaml:"cells"`
}

// FixtureCell is one cell entry of a fixture.
type FixtureCell struct {
	X       int       `yaml:"x"`
	Y       int       `yaml:"y"`
	Kind    cell.Kind `yaml:"kind"`
	Content string    `yaml:"content"`
	Caption string    `yaml:"caption,omitempty"`
}

// Cell converts f to a cell.
func (f FixtureCell) Cell() cell.Cell {
	return cell.Cell{X: f.X, Y: f.Y, Kind: f.Kind, Content: f.Content, Caption: f.Caption}
}

// Default returns the built-in fixture.
func Default() (*Fixture, error) {
	return Parse(bytes.NewReader(defaultFixture))
}

// LoadFile reads a fixture from path.
func LoadFile(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a YAML fixture. Unknown fields and unknown cell kinds are
// errors.
func Parse(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var fx Fixture
	if err := dec.Decode(&fx); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("parse fixture: empty document")
		}
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if fx.Grid == "" {
		return nil, errors.New("parse fixture: grid is required")
	}
	seen := make(map[string]bool, len(fx.Cells))
	for i, c := range fx.Cells {
		if !c.Kind.Valid() {
			return nil, fmt.Errorf("parse fixture: cell %d: unknown kind %q", i, c.Kind)
		}
		key := cell.Key(c.X, c.Y)
		if seen[key] {
			return nil, fmt.Errorf("parse fixture: cell %d: duplicate coordinate %s", i, key)
		}
		seen[key] = true
	}
	return &fx, nil
}

// Saver is the part of a grid cache seeding needs.
type Saver interface {
	Submit(ctx context.Context, author *identity.Keypair, c cell.Cell) (gridcache.Outcome, error)
}

// Report counts the outcome of each seeded cell.
type Report struct {
	Accepted int
	Ignored  int
	Rejected int
	Errors   []error
}

// Apply saves every fixture cell as author. Every cell is attempted; the
// returned error joins the rejections.
func Apply(ctx context.Context, s Saver, author *identity.Keypair, fx *Fixture) (Report, error) {
	var r Report
	for _, fc := range fx.Cells {
		if err := ctx.Err(); err != nil {
			r.Errors = append(r.Errors, err)
			break
		}
		o, err := s.Submit(ctx, author, fc.Cell())
		switch o {
		case gridcache.OutcomeAccepted:
			r.Accepted++
		case gridcache.OutcomeIgnored:
			r.Ignored++
		default:
			r.Rejected++
			r.Errors = append(r.Errors, fmt.Errorf("cell (%d,%d): %w", fc.X, fc.Y, err))
		}
	}
	return r, errors.Join(r.Errors...)
}
