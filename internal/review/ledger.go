package review

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ledger is the Review Coordinator's durable audit trail: every request,
// submission, and finalization is appended as a row so a review's outcome
// survives a process restart, even though the in-memory map remains the
// coordinator's source of truth for live reads (spec section 5's
// single-writer-per-entity model is unaffected by the ledger, which is
// write-only from the coordinator's perspective).
//
// Grounded in the teacher's internal/memory/db.go connection setup,
// mirroring internal/vectorstore's modernc.org/sqlite backing rather than
// introducing a second driver.
type ledger struct {
	db *sql.DB
}

func openLedger(path string) (*ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create review ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open review ledger %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)

	l := &ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate review ledger %s: %w", path, err)
	}
	return l, nil
}

func (l *ledger) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS review_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			review_id TEXT NOT NULL,
			event TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_review_events_review_id ON review_events(review_id);
	`)
	return err
}

func (l *ledger) record(reviewID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[REVIEW] ledger: failed to marshal %s payload for %s: %v", event, reviewID, err)
		return
	}
	if _, err := l.db.Exec(
		`INSERT INTO review_events (review_id, event, payload_json, recorded_at) VALUES (?, ?, ?, ?)`,
		reviewID, event, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		log.Printf("[REVIEW] ledger: failed to record %s for %s: %v", event, reviewID, err)
	}
}

// History returns every recorded event for reviewID, oldest first — used
// to audit or reconstruct a review's lifecycle after a restart.
func (l *ledger) History(reviewID string) ([]LedgerEvent, error) {
	rows, err := l.db.Query(
		`SELECT event, payload_json, recorded_at FROM review_events WHERE review_id = ? ORDER BY id ASC`,
		reviewID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEvent
	for rows.Next() {
		var ev LedgerEvent
		var recordedAt string
		if err := rows.Scan(&ev.Event, &ev.PayloadJSON, &recordedAt); err != nil {
			return nil, err
		}
		ev.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LedgerEvent is one durable row of a review's audit trail.
type LedgerEvent struct {
	Event       string
	PayloadJSON string
	RecordedAt  time.Time
}

func (l *ledger) Close() error {
	return l.db.Close()
}
