package retrace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "modernc.org/sqlite"
)

// LocalStore is a RecordStore backed by an embedded SQLite file, for
// development and air-gapped setups where no Retrace server runs. It
// honors the same contract as the server: upsert keyed on decision_id,
// with run identity and start time never overwritten.
type LocalStore struct {
	db *sql.DB
}

const localSchema = `
CREATE TABLE IF NOT EXISTS decision_records (
	decision_id TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	ts          TEXT NOT NULL,
	record      TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_local_records_run ON decision_records (run_id);
CREATE INDEX IF NOT EXISTS idx_local_records_outcome ON decision_records (outcome);
`

// OpenLocalStore opens (creating if needed) a local record store at the
// given file path. Use ":memory:" for an ephemeral store.
func OpenLocalStore(path string) (*LocalStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("retrace: open local store: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent finalizes.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(localSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("retrace: init local store schema: %w", err)
	}
	return &LocalStore{db: db}, nil
}

// UpsertDecisionRecord inserts or updates a record. On conflict the
// mutable columns are replaced; decision_id, run_id, and the original
// timestamp are preserved.
func (s *LocalStore) UpsertDecisionRecord(ctx context.Context, rec DecisionRecord) error {
	if rec.DecisionID == "" {
		return fmt.Errorf("retrace: local store: decision_id is required")
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("retrace: local store: marshal record: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	// On conflict the incoming blob is patched so the run_id and original
	// timestamp inside it stay those of the first insert; otherwise a
	// retried finalize could silently rewrite run identity.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decision_records (decision_id, run_id, outcome, ts, record, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (decision_id) DO UPDATE SET
			outcome = excluded.outcome,
			record = json_set(excluded.record,
				'$.run_id', decision_records.run_id,
				'$.timestamp', json_extract(decision_records.record, '$.timestamp')),
			updated_at = excluded.updated_at`,
		rec.DecisionID, rec.RunID, string(rec.Outcome),
		rec.Timestamp.UTC().Format(time.RFC3339Nano), string(encoded), now)
	if err != nil {
		return fmt.Errorf("retrace: local store: upsert decision %s: %w", rec.DecisionID, err)
	}
	return nil
}

// GetDecisionRecord retrieves a record by ID. Missing records yield an
// *Error with status 404, so IsNotFound works against both stores.
func (s *LocalStore) GetDecisionRecord(ctx context.Context, decisionID string) (*DecisionRecord, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM decision_records WHERE decision_id = ?`, decisionID).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &Error{StatusCode: http.StatusNotFound, Code: "NOT_FOUND",
			Message: fmt.Sprintf("decision %s not found", decisionID)}
	}
	if err != nil {
		return nil, fmt.Errorf("retrace: local store: get decision %s: %w", decisionID, err)
	}
	var rec DecisionRecord
	if err := json.Unmarshal([]byte(encoded), &rec); err != nil {
		return nil, fmt.Errorf("retrace: local store: decode decision %s: %w", decisionID, err)
	}
	return &rec, nil
}

// ListDecisionRecords retrieves stored records newest first, optionally
// filtered by run ID.
func (s *LocalStore) ListDecisionRecords(ctx context.Context, runID string, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT record FROM decision_records`
	args := []any{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("retrace: local store: list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []DecisionRecord
	for rows.Next() {
		var encoded string
		if err := rows.Scan(&encoded); err != nil {
			return nil, fmt.Errorf("retrace: local store: scan decision: %w", err)
		}
		var rec DecisionRecord
		if err := json.Unmarshal([]byte(encoded), &rec); err != nil {
			return nil, fmt.Errorf("retrace: local store: decode decision: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the underlying database handle.
func (s *LocalStore) Close() error {
	return s.db.Close()
}
