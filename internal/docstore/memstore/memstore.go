// Package memstore is an in-memory docstore.Store.
package memstore

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bodul/wafflegram/internal/docstore"
	"github.com/bodul/wafflegram/internal/identity"
)

// Store holds every author's revision of every path in memory.
type Store struct {
	mu     sync.RWMutex
	docs   map[string]map[string]docstore.Document // path -> author -> doc
	feed   *docstore.Feed
	now    func() time.Time
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		docs: make(map[string]map[string]docstore.Document),
		feed: docstore.NewFeed(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query returns the latest matching document of every path.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tmpl, err := q.Matcher()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}

	var out []docstore.Document
	for path, byAuthor := range s.docs {
		if !tmpl.Match(path) {
			continue
		}
		latest := docstore.Latest(revisions(byAuthor))
		if q.Keep(latest) {
			out = append(out, latest)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Set signs doc as author and stores it.
func (s *Store) Set(ctx context.Context, author *identity.Keypair, doc docstore.DocToSet) (docstore.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, docstore.ErrClosed
	}

	var latest *docstore.Document
	if byAuthor := s.docs[doc.Path]; len(byAuthor) > 0 {
		l := docstore.Latest(revisions(byAuthor))
		latest = &l
		if author != nil && l.Author == author.Address && bytes.Equal(l.Content, doc.Content) {
			return docstore.WriteIgnored, nil
		}
	}
	signed, err := docstore.Sign(author, doc, docstore.NextTimestamp(s.now(), latest))
	if err != nil {
		return 0, err
	}
	s.put(signed)
	return docstore.WriteAccepted, nil
}

// Ingest stores a document signed by another peer.
func (s *Store) Ingest(ctx context.Context, doc docstore.Document) (docstore.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := docstore.Verify(doc, s.now()); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, docstore.ErrClosed
	}
	if own, ok := s.docs[doc.Path][doc.Author]; ok && !doc.Newer(own) {
		return docstore.WriteIgnored, nil
	}
	s.put(doc)
	return docstore.WriteAccepted, nil
}

// put stores doc and publishes it. Callers hold the write lock, so events
// are queued in storage order.
func (s *Store) put(doc docstore.Document) {
	byAuthor := s.docs[doc.Path]
	if byAuthor == nil {
		byAuthor = make(map[string]docstore.Document)
		s.docs[doc.Path] = byAuthor
	}
	byAuthor[doc.Author] = doc
	latest := docstore.Latest(revisions(byAuthor))
	s.feed.Publish(docstore.WriteEvent{
		Kind:     docstore.EventDocumentWrite,
		Document: doc,
		IsLatest: latest.Author == doc.Author,
	})
}

// History returns every author's revision of path, newest first.
func (s *Store) History(path string) []docstore.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := revisions(s.docs[path])
	sort.Slice(docs, func(i, j int) bool { return docs[i].Newer(docs[j]) })
	return docs
}

// Subscribe registers fn on the store's change feed.
func (s *Store) Subscribe(fn func(docstore.WriteEvent)) func() {
	return s.feed.Subscribe(fn)
}

// Subscribers returns the number of change feed subscribers.
func (s *Store) Subscribers() int { return s.feed.Subscribers() }

// Flush waits until every event stored so far has been delivered.
func (s *Store) Flush() { s.feed.Flush() }

// Close stops the change feed. Later calls fail with docstore.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.feed.Close()
	return nil
}

func revisions(byAuthor map[string]docstore.Document) []docstore.Document {
	docs := make([]docstore.Document, 0, len(byAuthor))
	for _, d := range byAuthor {
		docs = append(docs, d)
	}
	return docs
}
