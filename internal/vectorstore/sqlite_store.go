package vectorstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBacking persists one Collection's versions to a SQLite database
// file at <dir>/<name>/<name>.db, so each knowledge_type has its own
// directory. Grounded in the teacher's
// internal/memory/db.go connection setup (WAL journal mode, busy timeout,
// bounded connection pool) adapted from mattn/go-sqlite3 to the pure-Go
// modernc.org/sqlite driver, which is the teacher's actual direct go.mod
// dependency.
type SQLiteBacking struct {
	db   *sql.DB
	name string
}

// OpenSQLiteBacking opens (creating if needed) the backing store for a
// collection named name in the subdirectory dir/name.
func OpenSQLiteBacking(dir, name string) (*SQLiteBacking, error) {
	dir = filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create collection directory: %w", err)
	}

	path := filepath.Join(dir, name+".db")
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open collection db %s: %w", path, err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)

	backing := &SQLiteBacking{db: db, name: name}
	if err := backing.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate collection db %s: %w", path, err)
	}
	return backing, nil
}

func (s *SQLiteBacking) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			key TEXT NOT NULL,
			version INTEGER NOT NULL,
			value_json TEXT NOT NULL,
			metadata_json TEXT NOT NULL,
			embedding_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (key, version)
		);
		CREATE TABLE IF NOT EXISTS header (
			embedding_model TEXT NOT NULL,
			dimension INTEGER NOT NULL
		);
	`)
	return err
}

// WriteHeader records the embedding model/dimension used, for migration
// detection per spec section 6.
func (s *SQLiteBacking) WriteHeader(model string, dimension int) error {
	_, err := s.db.Exec(`DELETE FROM header`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO header (embedding_model, dimension) VALUES (?, ?)`, model, dimension)
	return err
}

// Append persists one Entry version.
func (s *SQLiteBacking) Append(e Entry) error {
	valueJSON, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	embJSON, err := json.Marshal(e.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO entries (key, version, value_json, metadata_json, embedding_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Key, e.Version, string(valueJSON), string(metaJSON), string(embJSON), e.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// LoadAll reads every persisted entry back, grouped by key in version
// order. A row whose JSON fails to decode fails the whole load with an
// error, which NewPersistent turns into an empty, degraded collection.
func (s *SQLiteBacking) LoadAll() (map[string][]Entry, error) {
	rows, err := s.db.Query(`SELECT key, version, value_json, metadata_json, embedding_json, created_at FROM entries ORDER BY key, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]Entry)
	for rows.Next() {
		var (
			key, valueJSON, metaJSON, embJSON, createdAt string
			version                                      int
		)
		if err := rows.Scan(&key, &version, &valueJSON, &metaJSON, &embJSON, &createdAt); err != nil {
			return nil, err
		}

		var e Entry
		e.Key = key
		e.Version = version
		if err := json.Unmarshal([]byte(valueJSON), &e.Value); err != nil {
			return nil, fmt.Errorf("decode value of %s v%d: %w", key, version, err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s v%d: %w", key, version, err)
		}
		if err := json.Unmarshal([]byte(embJSON), &e.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding of %s v%d: %w", key, version, err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = ts
		}
		out[key] = append(out[key], e)
	}
	return out, rows.Err()
}

// Clear deletes every persisted entry.
func (s *SQLiteBacking) Clear() error {
	_, err := s.db.Exec(`DELETE FROM entries`)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteBacking) Close() error {
	return s.db.Close()
}

// NewPersistent creates a Collection whose writes are mirrored to a
// SQLiteBacking and whose initial state is hydrated from it. A failure to
// hydrate leaves the collection empty and degraded rather than failing
// startup, per spec section 4.B failure modes.
func NewPersistent(name string, embedder Embedder, backing *SQLiteBacking) *Collection {
	c := New(name, embedder)
	if backing == nil {
		return c
	}

	loaded, err := backing.LoadAll()
	if err != nil {
		c.mu.Lock()
		c.markDegraded("on-disk load failure: " + err.Error())
		c.mu.Unlock()
		return c
	}

	c.mu.Lock()
	for k, vs := range loaded {
		c.versions[k] = vs
	}
	c.mu.Unlock()

	c.backing = backing
	return c
}
