package retrace

import "time"

// Outcome is the terminal disposition of a decision record.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeDenied    Outcome = "denied"
	OutcomeEscalated Outcome = "escalated"
	OutcomePending   Outcome = "pending"
)

// ActorType identifies the kind of principal behind an actor.
type ActorType string

const (
	ActorAgent  ActorType = "agent"
	ActorHuman  ActorType = "human"
	ActorSystem ActorType = "system"
)

// PolicyResult is the outcome of a single policy evaluation.
type PolicyResult string

const (
	PolicyPass PolicyResult = "pass"
	PolicyFail PolicyResult = "fail"
	PolicyWarn PolicyResult = "warn"
	PolicySkip PolicyResult = "skip"
)

// EventKind classifies a normalized tool event.
type EventKind string

const (
	// EventRead becomes Evidence on the record.
	EventRead EventKind = "read"
	// EventWrite becomes an Action on the record.
	EventWrite EventKind = "write"
	// EventUnclassified defers classification to the tool name.
	EventUnclassified EventKind = ""
)

// Actor identifies who performed or authorized something.
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id"`
	Name *string   `json:"name,omitempty"`
}

// EntityRef is a stable reference to a domain entity. IDs are opaque
// strings chosen by the caller (e.g. "state:account:3").
type EntityRef struct {
	Namespace string   `json:"namespace"`
	Type      string   `json:"type"`
	ID        string   `json:"id"`
	Aliases   []string `json:"aliases,omitempty"`
}

// Evidence is something the agent read before acting.
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

// NewEvidence builds an Evidence item with a fresh ID, the given source
// and snapshot, and the snapshot fingerprint derived from the snapshot
// content. The hash is always recomputed here; there is no way to attach
// a hash that disagrees with the snapshot it describes.
func NewEvidence(source string, snapshot map[string]any) Evidence {
	ev := Evidence{
		EvidenceID:  NewID(),
		Source:      source,
		RetrievedAt: time.Now().UTC(),
		Snapshot:    snapshot,
	}
	if snapshot != nil {
		ev.SnapshotHash = SnapshotHash(snapshot)
	}
	return ev
}

// PolicyEval records the result of one policy check.
type PolicyEval struct {
	PolicyID   string       `json:"policy_id"`
	Version    string       `json:"version"`
	Result     PolicyResult `json:"result"`
	InputsHash *string      `json:"inputs_hash,omitempty"`
	Message    *string      `json:"message,omitempty"`
}

// Approval records a sign-off obtained during a run.
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

// DecisionRecord is the immutable audit unit for one agent run.
type DecisionRecord struct {
	DecisionID      string         `json:"decision_id"`
	RunID           string         `json:"run_id"`
	TraceID         *string        `json:"trace_id,omitempty"`
	SpanID          *string        `json:"span_id,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
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

// NormalizedEvent is the adapter-facing contract: host-framework adapters
// translate their native tool callbacks into this shape. A zero Kind
// means "classify from the tool name".
type NormalizedEvent struct {
	Kind      EventKind      `json:"kind,omitempty"`
	ID        string         `json:"id"`
	ToolName  string         `json:"tool_name"`
	Args      map[string]any `json:"args,omitempty"`
	Output    any            `json:"output,omitempty"`
	Error     *string        `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
