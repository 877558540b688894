// Package sqlite stores documents in a single SQLite table, one row per
// document with its body as JSON. A batch is one transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"binledger/internal/docstore"

	"github.com/rs/xid"
	_ "modernc.org/sqlite"
)

var _ docstore.Store = (*Store)(nil)

type Store struct {
	db    *sql.DB
	hub   *docstore.Hub
	clock func() time.Time
}

// Open creates the database directory if needed, migrates the schema and
// returns a ready store.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection serializes writers; readers wait instead of hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{
		db:    db,
		clock: func() time.Time { return time.Now().UTC() },
	}
	s.hub = docstore.NewHub(s.List)
	return s, nil
}

func (s *Store) Close() error {
	s.hub.Close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", docstore.ErrUnavailable, op, err)
}

func (s *Store) Read(ctx context.Context, p docstore.Path) (docstore.Document, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, string(p)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("read "+p.String(), err)
	}
	doc, err := decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", p, err)
	}
	return doc, true, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) List(ctx context.Context, collection docstore.Path) (docstore.Snapshot, error) {
	return s.list(ctx, s.db, collection)
}

// ListAll reads every collection inside one read transaction.
func (s *Store) ListAll(ctx context.Context, collections ...docstore.Path) ([]docstore.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin list", err)
	}
	defer tx.Rollback()

	snaps := make([]docstore.Snapshot, 0, len(collections))
	for _, c := range collections {
		snap, err := s.list(ctx, tx, c)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func (s *Store) list(ctx context.Context, q queryer, collection docstore.Path) (docstore.Snapshot, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT path, doc_id, data, updated_at FROM documents WHERE collection = ? ORDER BY doc_id`,
		string(collection))
	if err != nil {
		return docstore.Snapshot{}, unavailable("list "+collection.String(), err)
	}
	defer rows.Close()

	snap := docstore.Snapshot{Collection: collection, ReadAt: s.clock()}
	for rows.Next() {
		var path, id, raw, updated string
		if err := rows.Scan(&path, &id, &raw, &updated); err != nil {
			return docstore.Snapshot{}, unavailable("scan "+collection.String(), err)
		}
		doc, err := decode(raw)
		if err != nil {
			slog.WarnContext(ctx, "Skipping undecodable document", "path", path, "error", err)
			continue
		}
		updatedAt, _ := time.Parse(time.RFC3339Nano, updated)
		snap.Docs = append(snap.Docs, docstore.Snap{
			ID:        id,
			Path:      docstore.Path(path),
			Data:      doc,
			UpdatedAt: updatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return docstore.Snapshot{}, unavailable("iterate "+collection.String(), err)
	}
	return snap, nil
}

func (s *Store) Write(ctx context.Context, p docstore.Path, doc docstore.Document) error {
	return s.Batch().Write(p, doc).Commit(ctx)
}

func (s *Store) WriteMerge(ctx context.Context, p docstore.Path, partial docstore.Document) error {
	return s.Batch().WriteMerge(p, partial).Commit(ctx)
}

func (s *Store) Delete(ctx context.Context, p docstore.Path) error {
	return s.Batch().Delete(p).Commit(ctx)
}

func (s *Store) Batch() docstore.Batch {
	return docstore.NewBatch(s.apply)
}

func (s *Store) apply(ctx context.Context, muts []docstore.Mutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	now := s.clock()
	stamp := now.Format(time.RFC3339Nano)

	for _, m := range muts {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, string(m.Path)).Scan(&raw)
		exists := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return unavailable("read "+m.Path.String(), err)
		}
		if err := docstore.CheckPrecondition(m, exists); err != nil {
			return err
		}

		var current docstore.Document
		if exists {
			if current, err = decode(raw); err != nil {
				return fmt.Errorf("decode %s: %w", m.Path, err)
			}
		}

		next := docstore.Resolve(m, current, now)
		if next == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, string(m.Path)); err != nil {
				return unavailable("delete "+m.Path.String(), err)
			}
			continue
		}

		body, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode %s: %w", m.Path, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (path, collection, doc_id, data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
			string(m.Path), string(m.Path.Parent()), m.Path.ID(), string(body), stamp, stamp)
		if err != nil {
			return unavailable("write "+m.Path.String(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}

	s.hub.Notify(docstore.Collections(muts)...)
	return nil
}

func (s *Store) Subscribe(ctx context.Context, collection docstore.Path, onSnapshot func(docstore.Snapshot), onError func(error)) (docstore.Unsubscribe, error) {
	return s.hub.Subscribe(ctx, collection, onSnapshot, onError)
}

// Touch re-reads collections for local subscribers after another process
// wrote to the same database file.
func (s *Store) Touch(_ context.Context, collections ...docstore.Path) error {
	s.hub.Notify(collections...)
	return nil
}

func (s *Store) NewID() string {
	return xid.New().String()
}

func decode(raw string) (docstore.Document, error) {
	var doc docstore.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = docstore.Document{}
	}
	return doc, nil
}
