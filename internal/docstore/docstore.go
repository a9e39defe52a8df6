// Package docstore defines the document store the grid cache runs against:
// an append-only, multi-writer set of signed documents addressed by path,
// with last-write-wins per path and a change feed of write events.
//
// Implementations live in the memstore and sqlitestore subpackages.
package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/bodul/wafflegram/internal/identity"
	"github.com/bodul/wafflegram/internal/pathtmpl"
)

// DefaultFormat is the document format stamped on writes that leave it empty.
const DefaultFormat = "es.4"

var (
	// ErrNoIdentity reports a write attempted without an author keypair.
	ErrNoIdentity = errors.New("no author identity")
	// ErrInvalidPath reports a path that breaks the path rules.
	ErrInvalidPath = errors.New("invalid document path")
	// ErrPermissionDenied reports a write to a path owned by another author.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidDocument reports an ingested document that fails validation.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrClosed reports use of a closed store.
	ErrClosed = errors.New("store closed")
)

// Document is one author's revision of a path.
type Document struct {
	Format    string
	Path      string
	Author    string
	Content   []byte
	Timestamp int64 // microseconds since the Unix epoch
	Signature string
}

// Newer reports whether d wins over other under last-write-wins: the higher
// timestamp wins, ties are broken by signature.
func (d Document) Newer(other Document) bool {
	if d.Timestamp != other.Timestamp {
		return d.Timestamp > other.Timestamp
	}
	return d.Signature > other.Signature
}

// DocToSet is the part of a document supplied by a writer. The store fills in
// author, timestamp and signature.
type DocToSet struct {
	Format  string
	Path    string
	Content []byte
}

// Query selects the latest document of every path matching PathTemplate.
type Query struct {
	PathTemplate string
	// MinContentLength drops documents with shorter content. Zero keeps
	// everything, one drops deleted (empty) documents.
	MinContentLength int
}

// Matcher compiles the query's template.
func (q Query) Matcher() (*pathtmpl.Template, error) {
	t, err := pathtmpl.Parse(q.PathTemplate)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return t, nil
}

// Keep reports whether doc passes the content filter.
func (q Query) Keep(doc Document) bool {
	return len(doc.Content) >= q.MinContentLength
}

// WriteResult is the store's verdict on a write that did not fail.
type WriteResult int

const (
	// WriteAccepted means the document was stored and will appear on the feed.
	WriteAccepted WriteResult = iota + 1
	// WriteIgnored means the write changed nothing: it was obsolete or
	// identical to the author's current revision.
	WriteIgnored
)

func (r WriteResult) String() string {
	switch r {
	case WriteAccepted:
		return "accepted"
	case WriteIgnored:
		return "ignored"
	}
	return fmt.Sprintf("WriteResult(%d)", int(r))
}

// EventKind distinguishes feed events.
type EventKind string

const (
	// EventDocumentWrite carries a stored document.
	EventDocumentWrite EventKind = "DOCUMENT_WRITE"
	// EventStoreClosed is the last event of a store's feed.
	EventStoreClosed EventKind = "STORE_CLOSED"
)

// WriteEvent is delivered to subscribers for every stored document.
type WriteEvent struct {
	Kind     EventKind
	Document Document
	// IsLatest is true when Document was the winning revision of its path
	// at the time it was stored.
	IsLatest bool
}

// Store is the contract the grid cache consumes.
type Store interface {
	// Query returns the latest document of each matching path, ordered by
	// path.
	Query(ctx context.Context, q Query) ([]Document, error)
	// Set signs and stores a document under author.
	Set(ctx context.Context, author *identity.Keypair, doc DocToSet) (WriteResult, error)
	// Subscribe registers fn for every write event. Events are delivered one
	// at a time in storage order on a goroutine owned by the store. The
	// returned function unsubscribes.
	Subscribe(fn func(WriteEvent)) (unsubscribe func())
}

// Ingester accepts documents signed elsewhere, the primitive peers sync
// through.
type Ingester interface {
	Ingest(ctx context.Context, doc Document) (WriteResult, error)
}

// GetLatest returns the latest document at path, if any.
func GetLatest(ctx context.Context, s Store, path string) (Document, bool, error) {
	if err := ValidatePath(path); err != nil {
		return Document{}, false, err
	}
	docs, err := s.Query(ctx, Query{PathTemplate: path})
	if err != nil {
		return Document{}, false, err
	}
	for _, d := range docs {
		if d.Path == path {
			return d, true, nil
		}
	}
	return Document{}, false, nil
}
