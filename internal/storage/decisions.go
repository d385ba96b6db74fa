package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/retracehq/retrace/internal/model"
)

// recordColumns is the column list shared by every record query, in scan
// order.
const recordColumns = `decision_id, run_id, trace_id, span_id, ts,
	actor_type, actor_id, actor_name, subject_entities, evidence,
	policies, approvals, actions, outcome, outcome_reason,
	precedent_refs, metadata`

// UpsertDecisionRecord inserts a record or, when the decision_id already
// exists, replaces its mutable columns. Identity never changes on
// conflict: decision_id, run_id, and the original run timestamp are
// written once. Returns true when the record was newly inserted.
func (db *DB) UpsertDecisionRecord(ctx context.Context, rec model.DecisionRecord) (bool, error) {
	var actorType, actorID, actorName *string
	if rec.Actor != nil {
		t := string(rec.Actor.Type)
		actorType = &t
		actorID = &rec.Actor.ID
		actorName = rec.Actor.Name
	}

	var inserted bool
	err := db.pool.QueryRow(ctx, `
		INSERT INTO decision_records (decision_id, run_id, trace_id, span_id, ts,
			actor_type, actor_id, actor_name, subject_entities, evidence,
			policies, approvals, actions, outcome, outcome_reason,
			precedent_refs, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now(), now())
		ON CONFLICT (decision_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			outcome_reason = EXCLUDED.outcome_reason,
			evidence = EXCLUDED.evidence,
			policies = EXCLUDED.policies,
			approvals = EXCLUDED.approvals,
			actions = EXCLUDED.actions,
			metadata = EXCLUDED.metadata,
			updated_at = now()
		RETURNING (xmax = 0)`,
		rec.DecisionID, rec.RunID, rec.TraceID, rec.SpanID, rec.Timestamp,
		actorType, actorID, actorName, jsonOrEmpty(rec.SubjectEntities), jsonOrEmpty(rec.Evidence),
		jsonOrEmpty(rec.Policies), jsonOrEmpty(rec.Approvals), jsonOrEmpty(rec.Actions),
		string(rec.Outcome), rec.OutcomeReason,
		jsonOrEmpty(rec.PrecedentRefs), rec.Metadata,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("storage: upsert decision %s: %w", rec.DecisionID, err)
	}
	return inserted, nil
}

// GetDecisionRecord retrieves a record by ID. Returns ErrNotFound when
// no record exists.
func (db *DB) GetDecisionRecord(ctx context.Context, decisionID string) (model.DecisionRecord, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM decision_records WHERE decision_id = $1`, decisionID)

	rec, err := scanDecisionRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.DecisionRecord{}, fmt.Errorf("storage: decision %s: %w", decisionID, ErrNotFound)
		}
		return model.DecisionRecord{}, fmt.Errorf("storage: get decision %s: %w", decisionID, err)
	}
	return rec, nil
}

// ListFilter narrows ListDecisionRecords. Zero values mean "no filter".
type ListFilter struct {
	RunID   string
	Outcome model.Outcome
	Limit   int
	Offset  int
}

// MaxListLimit caps list page sizes.
const MaxListLimit = 100

// ListDecisionRecords retrieves records newest first. Limit defaults to
// 50 and is clamped to MaxListLimit.
func (db *DB) ListDecisionRecords(ctx context.Context, f ListFilter) ([]model.DecisionRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var conditions []string
	var args []any
	if f.RunID != "" {
		args = append(args, f.RunID)
		conditions = append(conditions, fmt.Sprintf("run_id = $%d", len(args)))
	}
	if f.Outcome != "" {
		args = append(args, string(f.Outcome))
		conditions = append(conditions, fmt.Sprintf("outcome = $%d", len(args)))
	}

	query := `SELECT ` + recordColumns + ` FROM decision_records`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// MaxPrecedentLimit caps precedent search result sizes.
const MaxPrecedentLimit = 50

// SearchPrecedents finds records matching the given policy, tool, and
// outcome filters, newest first. Policy and tool filters use JSONB
// containment against the policies and actions columns.
func (db *DB) SearchPrecedents(ctx context.Context, req model.PrecedentSearchRequest) ([]model.DecisionRecord, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > MaxPrecedentLimit {
		limit = MaxPrecedentLimit
	}

	var conditions []string
	var args []any
	if req.PolicyID != nil && *req.PolicyID != "" {
		args = append(args, []map[string]any{{"policy_id": *req.PolicyID}})
		conditions = append(conditions, fmt.Sprintf("policies @> $%d", len(args)))
	}
	if req.Tool != nil && *req.Tool != "" {
		args = append(args, []map[string]any{{"tool": *req.Tool}})
		conditions = append(conditions, fmt.Sprintf("actions @> $%d", len(args)))
	}
	if req.Outcome != nil && *req.Outcome != "" {
		args = append(args, string(*req.Outcome))
		conditions = append(conditions, fmt.Sprintf("outcome = $%d", len(args)))
	}

	query := `SELECT ` + recordColumns + ` FROM decision_records`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d", len(args))

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: search precedents: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecisionRecord(row rowScanner) (model.DecisionRecord, error) {
	var rec model.DecisionRecord
	var actorType, actorID, actorName *string
	var outcome string

	err := row.Scan(
		&rec.DecisionID, &rec.RunID, &rec.TraceID, &rec.SpanID, &rec.Timestamp,
		&actorType, &actorID, &actorName, &rec.SubjectEntities, &rec.Evidence,
		&rec.Policies, &rec.Approvals, &rec.Actions, &outcome, &rec.OutcomeReason,
		&rec.PrecedentRefs, &rec.Metadata,
	)
	if err != nil {
		return model.DecisionRecord{}, err
	}

	rec.Outcome = model.Outcome(outcome)
	if actorType != nil && actorID != nil {
		rec.Actor = &model.Actor{
			Type: model.ActorType(*actorType),
			ID:   *actorID,
			Name: actorName,
		}
	}
	return rec, nil
}

func collectRecords(rows pgx.Rows) ([]model.DecisionRecord, error) {
	records := make([]model.DecisionRecord, 0)
	for rows.Next() {
		rec, err := scanDecisionRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate decisions: %w", err)
	}
	return records, nil
}

// jsonOrEmpty normalizes nil slices to empty ones so JSONB columns store
// [] instead of null and containment queries behave uniformly.
func jsonOrEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
