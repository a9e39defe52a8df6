// Package sqlitestore is a docstore.Store persisted in SQLite.
package sqlitestore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bodul/wafflegram/internal/docstore"
	"github.com/bodul/wafflegram/internal/docstore/sqlitestore/migrations"
	"github.com/bodul/wafflegram/internal/identity"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for documents. Writes are
// serialized so change events are published in commit order.
type Store struct {
	sqlDB  *sql.DB
	feed   *docstore.Feed
	now    func() time.Time
	mu     sync.Mutex
	closed bool
}

// Open opens a SQLite store at the provided path, creating it if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB, feed: docstore.NewFeed(), now: time.Now}, nil
}

// DB returns the underlying sql.DB instance.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Close stops the change feed and closes the database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.feed.Close()
	return s.sqlDB.Close()
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

const selectColumns = "path, author, format, content, timestamp, signature"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (docstore.Document, error) {
	var d docstore.Document
	if err := row.Scan(&d.Path, &d.Author, &d.Format, &d.Content, &d.Timestamp, &d.Signature); err != nil {
		return docstore.Document{}, err
	}
	return d, nil
}

// likeEscaper escapes LIKE wildcards with a backslash.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Query returns the latest matching document of every path.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	tmpl, err := q.Matcher()
	if err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, docstore.ErrClosed
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM documents WHERE path LIKE ? ESCAPE '\\' ORDER BY path, timestamp DESC, signature DESC",
		likeEscaper.Replace(tmpl.LiteralPrefix())+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var (
		out      []docstore.Document
		lastPath string
	)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if d.Path == lastPath {
			continue // older revision of a path already seen
		}
		lastPath = d.Path
		if tmpl.Match(d.Path) && q.Keep(d) {
			out = append(out, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func latestTx(ctx context.Context, tx *sql.Tx, path string) (*docstore.Document, error) {
	d, err := scanDocument(tx.QueryRowContext(ctx,
		"SELECT "+selectColumns+" FROM documents WHERE path = ? ORDER BY timestamp DESC, signature DESC LIMIT 1", path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest %s: %w", path, err)
	}
	return &d, nil
}

func upsertTx(ctx context.Context, tx *sql.Tx, d docstore.Document) error {
	content := d.Content
	if content == nil {
		content = []byte{}
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO documents (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(path, author) DO UPDATE SET
    format = excluded.format,
    content = excluded.content,
    timestamp = excluded.timestamp,
    signature = excluded.signature`,
		d.Path, d.Author, d.Format, content, d.Timestamp, d.Signature)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", d.Path, err)
	}
	return nil
}

// Set signs doc as author and stores it.
func (s *Store) Set(ctx context.Context, author *identity.Keypair, doc docstore.DocToSet) (docstore.WriteResult, error) {
	if author == nil {
		return 0, docstore.ErrNoIdentity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, docstore.ErrClosed
	}

	return s.write(ctx, func(tx *sql.Tx) (*docstore.Document, error) {
		latest, err := latestTx(ctx, tx, doc.Path)
		if err != nil {
			return nil, err
		}
		if latest != nil && latest.Author == author.Address && bytes.Equal(latest.Content, doc.Content) {
			return nil, nil
		}
		signed, err := docstore.Sign(author, doc, docstore.NextTimestamp(s.now(), latest))
		if err != nil {
			return nil, err
		}
		return &signed, nil
	})
}

// Ingest stores a document signed by another peer.
func (s *Store) Ingest(ctx context.Context, doc docstore.Document) (docstore.WriteResult, error) {
	if err := docstore.Verify(doc, s.now()); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, docstore.ErrClosed
	}

	return s.write(ctx, func(tx *sql.Tx) (*docstore.Document, error) {
		own, err := scanDocument(tx.QueryRowContext(ctx,
			"SELECT "+selectColumns+" FROM documents WHERE path = ? AND author = ?", doc.Path, doc.Author))
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("load own revision: %w", err)
		case !doc.Newer(own):
			return nil, nil
		}
		return &doc, nil
	})
}

// write runs decide in a transaction and stores the document it returns;
// a nil document means the write is ignored. Callers hold s.mu.
func (s *Store) write(ctx context.Context, decide func(*sql.Tx) (*docstore.Document, error)) (docstore.WriteResult, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	doc, err := decide(tx)
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return docstore.WriteIgnored, nil
	}
	if err := upsertTx(ctx, tx, *doc); err != nil {
		return 0, err
	}
	latest, err := latestTx(ctx, tx, doc.Path)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit write: %w", err)
	}

	s.feed.Publish(docstore.WriteEvent{
		Kind:     docstore.EventDocumentWrite,
		Document: *doc,
		IsLatest: latest != nil && latest.Author == doc.Author,
	})
	return docstore.WriteAccepted, nil
}

// Subscribe registers fn on the store's change feed.
func (s *Store) Subscribe(fn func(docstore.WriteEvent)) func() {
	return s.feed.Subscribe(fn)
}

// Flush waits until every event stored so far has been delivered.
func (s *Store) Flush() { s.feed.Flush() }
