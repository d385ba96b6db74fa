package model

import (
	"fmt"
	"time"
)

// Field length limits for ingested records. These keep a single oversized
// field from filling Postgres TEXT columns with caller-controlled garbage.
const (
	MaxIDLen            = 512
	MaxOutcomeReasonLen = 32 * 1024 // 32 KB
	MaxEvidenceItems    = 1000
	MaxActionItems      = 1000
)

// Outcome enumerates terminal dispositions of a decision record.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeDenied    Outcome = "denied"
	OutcomeEscalated Outcome = "escalated"
	OutcomePending   Outcome = "pending"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeCommitted, OutcomeDenied, OutcomeEscalated, OutcomePending:
		return true
	}
	return false
}

// ActorType enumerates the kinds of principals that appear in records.
type ActorType string

const (
	ActorAgent  ActorType = "agent"
	ActorHuman  ActorType = "human"
	ActorSystem ActorType = "system"
)

// Valid reports whether t is a known actor type.
func (t ActorType) Valid() bool {
	switch t {
	case ActorAgent, ActorHuman, ActorSystem:
		return true
	}
	return false
}

// PolicyResult enumerates the outcome of a single policy evaluation.
type PolicyResult string

const (
	PolicyPass PolicyResult = "pass"
	PolicyFail PolicyResult = "fail"
	PolicyWarn PolicyResult = "warn"
	PolicySkip PolicyResult = "skip"
)

// Valid reports whether r is a known policy result.
func (r PolicyResult) Valid() bool {
	switch r {
	case PolicyPass, PolicyFail, PolicyWarn, PolicySkip:
		return true
	}
	return false
}

// Actor identifies who performed or authorized something.
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id"`
	Name *string   `json:"name,omitempty"`
}

// EntityRef is a stable reference to a domain entity touched by a run.
// IDs are opaque strings assigned by the caller (e.g. "state:account:3"),
// not required to be UUIDs.
type EntityRef struct {
	Namespace string   `json:"namespace"`
	Type      string   `json:"type"`
	ID        string   `json:"id"`
	Aliases   []string `json:"aliases,omitempty"`
}

// Evidence is a single observed input: something the agent read before
// acting. SnapshotHash is derived from Snapshot at creation time and is
// advisory, not a tamper-proofing mechanism.
type Evidence struct {
	EvidenceID   string         `json:"evidence_id"`
	Source       string         `json:"source"`
	RetrievedAt  time.Time      `json:"retrieved_at"`
	EntityRef    *EntityRef     `json:"entity_ref,omitempty"`
	Snapshot     map[string]any `json:"snapshot,omitempty"`
	SnapshotHash string         `json:"snapshot_hash,omitempty"`
	ToolName     *string        `json:"tool_name,omitempty"`
	ToolArgs     map[string]any `json:"tool_args,omitempty"`
}

// PolicyEval records the result of one policy check. Evaluations are
// append-only and never deduplicated: two evaluations of the same policy
// are two distinct audit facts.
type PolicyEval struct {
	PolicyID   string       `json:"policy_id"`
	Version    string       `json:"version"`
	Result     PolicyResult `json:"result"`
	InputsHash *string      `json:"inputs_hash,omitempty"`
	Message    *string      `json:"message,omitempty"`
}

// Approval records a human (or system) sign-off obtained during a run.
type Approval struct {
	ApprovalID string    `json:"approval_id"`
	Approver   Actor     `json:"approver"`
	Granted    bool      `json:"granted"`
	GrantedAt  time.Time `json:"granted_at"`
	Reason     *string   `json:"reason,omitempty"`
}

// Action is a side effect the agent committed (or attempted).
type Action struct {
	ActionID     string         `json:"action_id"`
	Tool         string         `json:"tool"`
	Operation    *string        `json:"operation,omitempty"`
	TargetEntity *EntityRef     `json:"target_entity,omitempty"`
	CommittedAt  time.Time      `json:"committed_at"`
	Params       map[string]any `json:"params,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Success      bool           `json:"success"`
}

// DecisionRecord is the immutable audit unit: everything one agent run
// read, checked, was approved for, and did, plus the final disposition.
type DecisionRecord struct {
	DecisionID      string         `json:"decision_id"`
	RunID           string         `json:"run_id"`
	TraceID         *string        `json:"trace_id,omitempty"`
	SpanID          *string        `json:"span_id,omitempty"`
	Timestamp       time.Time      `json:"timestamp"` // run start
	Actor           *Actor         `json:"actor,omitempty"`
	SubjectEntities []EntityRef    `json:"subject_entities,omitempty"`
	Evidence        []Evidence     `json:"evidence,omitempty"`
	Policies        []PolicyEval   `json:"policies,omitempty"`
	Approvals       []Approval     `json:"approvals,omitempty"`
	Actions         []Action       `json:"actions,omitempty"`
	Outcome         Outcome        `json:"outcome"`
	OutcomeReason   *string        `json:"outcome_reason,omitempty"`
	PrecedentRefs   []string       `json:"precedent_refs,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Validate checks the structural invariants an ingested record must hold.
// It does not second-guess semantics (an all-failed-actions record with
// outcome committed is the producer's claim to make).
func (r DecisionRecord) Validate() error {
	if r.DecisionID == "" {
		return fmt.Errorf("decision_id is required")
	}
	if len(r.DecisionID) > MaxIDLen {
		return fmt.Errorf("decision_id exceeds maximum length of %d characters", MaxIDLen)
	}
	if r.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if len(r.RunID) > MaxIDLen {
		return fmt.Errorf("run_id exceeds maximum length of %d characters", MaxIDLen)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if !r.Outcome.Valid() {
		return fmt.Errorf("outcome must be one of committed, denied, escalated, pending (got %q)", r.Outcome)
	}
	if r.OutcomeReason != nil && len(*r.OutcomeReason) > MaxOutcomeReasonLen {
		return fmt.Errorf("outcome_reason exceeds maximum length of %d bytes", MaxOutcomeReasonLen)
	}
	if r.Actor != nil && !r.Actor.Type.Valid() {
		return fmt.Errorf("actor.type must be one of agent, human, system (got %q)", r.Actor.Type)
	}
	if len(r.Evidence) > MaxEvidenceItems {
		return fmt.Errorf("evidence exceeds maximum of %d items", MaxEvidenceItems)
	}
	if len(r.Actions) > MaxActionItems {
		return fmt.Errorf("actions exceeds maximum of %d items", MaxActionItems)
	}
	for i, p := range r.Policies {
		if !p.Result.Valid() {
			return fmt.Errorf("policies[%d].result must be one of pass, fail, warn, skip (got %q)", i, p.Result)
		}
	}
	for i, a := range r.Approvals {
		if !a.Approver.Type.Valid() {
			return fmt.Errorf("approvals[%d].approver.type must be one of agent, human, system (got %q)", i, a.Approver.Type)
		}
	}
	return nil
}
