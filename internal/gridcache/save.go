package gridcache

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bodul/wafflegram/internal/cell"
	"github.com/bodul/wafflegram/internal/docstore"
	"github.com/bodul/wafflegram/internal/identity"
)

// Outcome is the result of a save.
type Outcome int

const (
	// OutcomeAccepted means the store took the write; the change reaches
	// the cache through the feed.
	OutcomeAccepted Outcome = iota + 1
	// OutcomeIgnored means the store kept an existing revision.
	OutcomeIgnored
	// OutcomeRejected means the write never made it into the store.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeRejected:
		return "rejected"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Validate checks that c can be saved to this grid.
func (c *Cache) Validate(v cell.Cell) error {
	cfg := c.Config()
	if !cfg.Contains(v.X, v.Y) {
		return fmt.Errorf("%w: (%d,%d) in %dx%d grid", ErrOutOfBounds, v.X, v.Y, cfg.NumX, cfg.NumY)
	}
	if !v.Kind.Valid() {
		return fmt.Errorf("unknown cell kind %q", v.Kind)
	}
	return nil
}

// Save writes v to the store under author. The cache itself is not touched;
// an accepted write shows up once the store delivers it on the feed.
// Failures are logged and reported as OutcomeRejected.
func (c *Cache) Save(ctx context.Context, author *identity.Keypair, v cell.Cell) Outcome {
	o, _ := c.Submit(ctx, author, v)
	return o
}

// Submit is Save that also returns the *WriteRejectedError behind an
// OutcomeRejected, for callers that report the cause.
func (c *Cache) Submit(ctx context.Context, author *identity.Keypair, v cell.Cell) (Outcome, error) {
	ctx, span := c.tracer.Start(ctx, "gridcache.save", trace.WithAttributes(
		attribute.String("grid", c.grid),
		attribute.Int("x", v.X),
		attribute.Int("y", v.Y),
		attribute.String("kind", string(v.Kind)),
	))
	defer span.End()

	o, err := c.submit(ctx, author, v)
	c.metrics.write(c.grid, o)
	span.SetAttributes(attribute.String("outcome", o.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write rejected")
		c.logger.Warn("cell write rejected", "x", v.X, "y", v.Y, "error", err)
		return o, err
	}
	if o == OutcomeIgnored {
		c.logger.Info("cell write ignored by store", "x", v.X, "y", v.Y)
	}
	return o, nil
}

func (c *Cache) submit(ctx context.Context, author *identity.Keypair, v cell.Cell) (Outcome, error) {
	if author == nil {
		return OutcomeRejected, &WriteRejectedError{Err: docstore.ErrNoIdentity}
	}
	if err := c.Validate(v); err != nil {
		return OutcomeRejected, &WriteRejectedError{Err: err}
	}
	path, err := cell.Path(c.namespace, c.grid, v.X, v.Y)
	if err != nil {
		return OutcomeRejected, &WriteRejectedError{Err: err}
	}
	content, err := cell.Encode(v)
	if err != nil {
		return OutcomeRejected, &WriteRejectedError{Path: path, Err: err}
	}
	res, err := c.store.Set(ctx, author, docstore.DocToSet{
		Format:  docstore.DefaultFormat,
		Path:    path,
		Content: content,
	})
	if err != nil {
		return OutcomeRejected, &WriteRejectedError{Path: path, Err: err}
	}
	if res == docstore.WriteIgnored {
		return OutcomeIgnored, nil
	}
	c.logger.Debug("cell written", "path", path, "author", author.Address)
	return OutcomeAccepted, nil
}
