package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bodul/wafflegram/internal/docstore"
	"github.com/bodul/wafflegram/internal/docstore/sqlitestore/migrations"
	"github.com/bodul/wafflegram/internal/identity"
)

func openTempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func newKeypair(t *testing.T, name string) *identity.Keypair {
	t.Helper()
	kp, err := identity.Generate(name)
	if err != nil {
		t.Fatalf("generate %s: %v", name, err)
	}
	return kp
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSetQueryAndReopen(t *testing.T) {
	ctx := context.Background()
	s, path := openTempStore(t)
	suzy, bobo := newKeypair(t, "suzy"), newKeypair(t, "bobo")
	cellPath := "/app/grid:main/cell:1-1.json"

	if res, err := s.Set(ctx, suzy, docstore.DocToSet{Path: cellPath, Content: []byte("red")}); err != nil || res != docstore.WriteAccepted {
		t.Fatalf("set suzy: %v %v", res, err)
	}
	if res, err := s.Set(ctx, bobo, docstore.DocToSet{Path: cellPath, Content: []byte("blue")}); err != nil || res != docstore.WriteAccepted {
		t.Fatalf("set bobo: %v %v", res, err)
	}
	if _, err := s.Set(ctx, suzy, docstore.DocToSet{Path: "/app/grid:main/cell:0-0.json"}); err != nil {
		t.Fatalf("set empty: %v", err)
	}
	// "_" in a prefix is escaped, not a LIKE wildcard.
	if _, err := s.Set(ctx, suzy, docstore.DocToSet{Path: "/myXapp/grid:main/cell:2-2.json", Content: []byte("x")}); err != nil {
		t.Fatalf("set decoy: %v", err)
	}
	if docs, err := s.Query(ctx, docstore.Query{PathTemplate: "/my_app/grid:main/cell:{x}-{y}.json"}); err != nil || len(docs) != 0 {
		t.Fatalf("expected no docs under /my_app, got %d %v", len(docs), err)
	}

	query := docstore.Query{PathTemplate: "/app/grid:main/cell:{x}-{y}.json", MinContentLength: 1}
	docs, err := s.Query(ctx, query)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 || string(docs[0].Content) != "blue" || docs[0].Author != bobo.Address {
		t.Fatalf("unexpected docs %+v", docs)
	}
	if err := docstore.Verify(docs[0], time.Now()); err != nil {
		t.Fatalf("stored document should verify: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	docs, err = reopened.Query(ctx, query)
	if err != nil {
		t.Fatalf("query after reopen: %v", err)
	}
	if len(docs) != 1 || string(docs[0].Content) != "blue" {
		t.Fatalf("unexpected docs after reopen %+v", docs)
	}
}

func TestSetIgnoredAndErrors(t *testing.T) {
	ctx := context.Background()
	s, _ := openTempStore(t)
	suzy := newKeypair(t, "suzy")
	doc := docstore.DocToSet{Path: "/app/a.json", Content: []byte("same")}

	s.Set(ctx, suzy, doc)
	if res, err := s.Set(ctx, suzy, doc); err != nil || res != docstore.WriteIgnored {
		t.Fatalf("expected ignored, got %v %v", res, err)
	}
	if _, err := s.Set(ctx, nil, doc); !errors.Is(err, docstore.ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
	if _, err := s.Set(ctx, suzy, docstore.DocToSet{Path: "/bad path"}); !errors.Is(err, docstore.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

func TestEventsAndIngest(t *testing.T) {
	ctx := context.Background()
	s, _ := openTempStore(t)
	local, remote := newKeypair(t, "suzy"), newKeypair(t, "peer")
	cellPath := "/app/grid:main/cell:0-0.json"

	var (
		mu     sync.Mutex
		events []docstore.WriteEvent
	)
	s.Subscribe(func(evt docstore.WriteEvent) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	})

	s.Set(ctx, local, docstore.DocToSet{Path: cellPath, Content: []byte("local")})
	stale, _ := docstore.Sign(remote, docstore.DocToSet{Path: cellPath, Content: []byte("stale")}, time.Now().Add(-time.Hour).UnixMicro())
	if res, err := s.Ingest(ctx, stale); err != nil || res != docstore.WriteAccepted {
		t.Fatalf("ingest: %v %v", res, err)
	}
	if res, err := s.Ingest(ctx, stale); err != nil || res != docstore.WriteIgnored {
		t.Fatalf("re-ingest: expected ignored, got %v %v", res, err)
	}
	s.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[0].IsLatest || events[1].IsLatest {
		t.Fatalf("expected latest then stale, got %v then %v", events[0].IsLatest, events[1].IsLatest)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	s, _ := openTempStore(t)
	if err := applyMigrations(context.Background(), s.DB(), migrations.FS); err != nil {
		t.Fatalf("re-apply migrations: %v", err)
	}
	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 migration row, got %d", n)
	}
}

func TestUpSection(t *testing.T) {
	got := upSection("-- +migrate Up\nCREATE TABLE a(x);\n-- +migrate Down\nDROP TABLE a;")
	if got != "\nCREATE TABLE a(x);\n" {
		t.Fatalf("unexpected up section %q", got)
	}
	if got := upSection("CREATE TABLE b(x);"); got != "CREATE TABLE b(x);" {
		t.Fatalf("expected whole content without markers, got %q", got)
	}
}
