package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bodul/wafflegram/internal/docstore"
	"github.com/bodul/wafflegram/internal/identity"
)

func newKeypair(t *testing.T, name string) *identity.Keypair {
	t.Helper()
	kp, err := identity.Generate(name)
	if err != nil {
		t.Fatalf("generate %s: %v", name, err)
	}
	return kp
}

type recorder struct {
	mu     sync.Mutex
	events []docstore.WriteEvent
}

func (r *recorder) record(evt docstore.WriteEvent) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []docstore.WriteEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]docstore.WriteEvent(nil), r.events...)
}

func TestSetAndQuery(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	kp := newKeypair(t, "suzy")

	for _, p := range []string{"/app/grid:main/cell:0-0.json", "/app/grid:main/cell:1-0.json", "/app/grid:other/cell:0-0.json"} {
		if res, err := s.Set(ctx, kp, docstore.DocToSet{Path: p, Content: []byte("x")}); err != nil || res != docstore.WriteAccepted {
			t.Fatalf("set %s: %v %v", p, res, err)
		}
	}
	if _, err := s.Set(ctx, kp, docstore.DocToSet{Path: "/app/grid:main/cell:2-0.json"}); err != nil {
		t.Fatalf("set empty: %v", err)
	}

	docs, err := s.Query(ctx, docstore.Query{PathTemplate: "/app/grid:main/cell:{x}-{y}.json", MinContentLength: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 non-empty main docs, got %d", len(docs))
	}
	if docs[0].Path != "/app/grid:main/cell:0-0.json" || docs[1].Path != "/app/grid:main/cell:1-0.json" {
		t.Fatalf("unexpected order %s, %s", docs[0].Path, docs[1].Path)
	}

	all, _ := s.Query(ctx, docstore.Query{PathTemplate: "/app/grid:main/cell:{x}-{y}.json"})
	if len(all) != 3 {
		t.Fatalf("expected 3 main docs without content filter, got %d", len(all))
	}
}

func TestLastWriteWins(t *testing.T) {
	ctx := context.Background()
	clock := time.UnixMicro(1_000_000)
	s := New(WithClock(func() time.Time { return clock }))
	defer s.Close()
	suzy, bobo := newKeypair(t, "suzy"), newKeypair(t, "bobo")
	path := "/app/grid:main/cell:1-1.json"

	s.Set(ctx, suzy, docstore.DocToSet{Path: path, Content: []byte("red")})
	// Same clock reading: the second write is bumped past the first.
	s.Set(ctx, bobo, docstore.DocToSet{Path: path, Content: []byte("blue")})

	doc, ok, err := docstore.GetLatest(ctx, s, path)
	if err != nil || !ok {
		t.Fatalf("get latest: %v %v", ok, err)
	}
	if string(doc.Content) != "blue" || doc.Author != bobo.Address {
		t.Fatalf("expected bobo's blue to win, got %s by %s", doc.Content, doc.Author)
	}
	if doc.Timestamp != 1_000_001 {
		t.Fatalf("expected bumped timestamp 1000001, got %d", doc.Timestamp)
	}
	if h := s.History(path); len(h) != 2 || h[0].Author != bobo.Address {
		t.Fatalf("unexpected history %+v", h)
	}
}

func TestSetIdenticalContentIgnored(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	kp := newKeypair(t, "suzy")
	doc := docstore.DocToSet{Path: "/app/a.json", Content: []byte("same")}

	s.Set(ctx, kp, doc)
	res, err := s.Set(ctx, kp, doc)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if res != docstore.WriteIgnored {
		t.Fatalf("expected ignored, got %v", res)
	}
}

func TestSetErrors(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	suzy, bobo := newKeypair(t, "suzy"), newKeypair(t, "bobo")

	if _, err := s.Set(ctx, nil, docstore.DocToSet{Path: "/a"}); !errors.Is(err, docstore.ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
	if _, err := s.Set(ctx, suzy, docstore.DocToSet{Path: "no-slash"}); !errors.Is(err, docstore.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
	owned := "/~" + suzy.Address + "/about.json"
	if _, err := s.Set(ctx, bobo, docstore.DocToSet{Path: owned, Content: []byte("x")}); !errors.Is(err, docstore.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if _, err := s.Set(ctx, suzy, docstore.DocToSet{Path: owned, Content: []byte("x")}); err != nil {
		t.Fatalf("owner write: %v", err)
	}
}

func TestSubscribeEvents(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	suzy, bobo := newKeypair(t, "suzy"), newKeypair(t, "bobo")
	path := "/app/grid:main/cell:0-0.json"

	var rec recorder
	unsub := s.Subscribe(rec.record)

	s.Set(ctx, suzy, docstore.DocToSet{Path: path, Content: []byte("1")})
	s.Set(ctx, bobo, docstore.DocToSet{Path: path, Content: []byte("2")})
	s.Flush()

	events := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for i, evt := range events {
		if evt.Kind != docstore.EventDocumentWrite || !evt.IsLatest {
			t.Fatalf("event %d: unexpected %+v", i, evt)
		}
	}
	if string(events[1].Document.Content) != "2" {
		t.Fatalf("events out of order: %+v", events)
	}

	unsub()
	if s.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", s.Subscribers())
	}
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := New()
	defer s.Close()
	remote := newKeypair(t, "peer")
	path := "/app/grid:main/cell:0-0.json"

	older, _ := docstore.Sign(remote, docstore.DocToSet{Path: path, Content: []byte("old")}, now.Add(-time.Minute).UnixMicro())
	newer, _ := docstore.Sign(remote, docstore.DocToSet{Path: path, Content: []byte("new")}, now.UnixMicro())

	var rec recorder
	s.Subscribe(rec.record)

	if res, err := s.Ingest(ctx, newer); err != nil || res != docstore.WriteAccepted {
		t.Fatalf("ingest newer: %v %v", res, err)
	}
	if res, err := s.Ingest(ctx, older); err != nil || res != docstore.WriteIgnored {
		t.Fatalf("ingest older: expected ignored, got %v %v", res, err)
	}

	forged := newer
	forged.Content = []byte("forged")
	forged.Timestamp++
	if _, err := s.Ingest(ctx, forged); !errors.Is(err, docstore.ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}

	s.Flush()
	if n := len(rec.snapshot()); n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
}

func TestIngestNotLatest(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := New()
	defer s.Close()
	local, remote := newKeypair(t, "suzy"), newKeypair(t, "peer")
	path := "/app/grid:main/cell:0-0.json"

	s.Set(ctx, local, docstore.DocToSet{Path: path, Content: []byte("local")})
	stale, _ := docstore.Sign(remote, docstore.DocToSet{Path: path, Content: []byte("stale")}, now.Add(-time.Hour).UnixMicro())

	var rec recorder
	s.Subscribe(rec.record)
	if res, err := s.Ingest(ctx, stale); err != nil || res != docstore.WriteAccepted {
		t.Fatalf("ingest: %v %v", res, err)
	}
	s.Flush()

	events := rec.snapshot()
	if len(events) != 1 || events[0].IsLatest {
		t.Fatalf("expected one non-latest event, got %+v", events)
	}
}

func TestClosed(t *testing.T) {
	s := New()
	s.Close()
	if _, err := s.Query(context.Background(), docstore.Query{PathTemplate: "/a"}); !errors.Is(err, docstore.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	kp := newKeypair(t, "suzy")
	if _, err := s.Set(context.Background(), kp, docstore.DocToSet{Path: "/a"}); !errors.Is(err, docstore.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
