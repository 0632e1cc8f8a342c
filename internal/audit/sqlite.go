package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/gzhole/logwarden/internal/redact"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps audit records in a local SQLite database so they can be
// queried by outcome and time.
type SQLiteStore struct {
	db       *sql.DB
	redactor *redact.Redactor
}

func OpenSQLite(path string, redactor *redact.Redactor) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		entry_offset INTEGER NOT NULL,
		first_line TEXT NOT NULL,
		verdict TEXT,
		severity TEXT,
		outcome TEXT NOT NULL,
		executions INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		created_at TEXT DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_records_outcome ON records(outcome);
	CREATE INDEX IF NOT EXISTS idx_records_started_at ON records(started_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, redactor: redactor}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Write(ctx context.Context, rec Record) error {
	rec = scrub(rec, s.redactor)
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	var verdict, severity sql.NullString
	if rec.Classification != nil {
		verdict = sql.NullString{String: string(rec.Classification.Verdict), Valid: true}
		severity = sql.NullString{String: rec.Classification.Severity, Valid: rec.Classification.Severity != ""}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO records
			(id, started_at, duration_ms, entry_offset, first_line, verdict, severity, outcome, executions, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.Duration.Milliseconds(),
		rec.Entry.Offset, rec.Entry.FirstLine(), verdict, severity, string(rec.Outcome),
		len(rec.Executions), string(payload))
	return err
}

// Recent returns the newest records first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM records
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) ByOutcome(ctx context.Context, outcome Outcome, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM records
		WHERE outcome = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, string(outcome), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// OutcomeCounts returns the number of records per outcome.
func (s *SQLiteStore) OutcomeCounts(ctx context.Context) (map[Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM records GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Outcome]int)
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		counts[Outcome(outcome)] = count
	}
	return counts, rows.Err()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
