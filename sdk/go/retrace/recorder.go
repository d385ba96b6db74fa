package retrace

import (
	"fmt"
	"sync"
	"time"
)

// Recorder accumulates the audit trail for a single agent run and folds
// it into one DecisionRecord on finalize. A Recorder belongs to exactly
// one run and is driven by that run's callback goroutine; it is not safe
// for concurrent use. Cross-run concurrency is the Registry's job.
type Recorder struct {
	runID      string
	classifier Classifier
	actor      *Actor
	traceID    *string
	spanID     *string
	metadata   map[string]any

	startTime time.Time

	subjects      []EntityRef
	evidence      []Evidence
	policies      []PolicyEval
	approvals     []Approval
	actions       []Action
	precedentRefs []string

	seenIDs          map[string]struct{}
	pendingInterrupt bool
	success          bool
	outcomeReason    *string

	done      bool
	finalized *DecisionRecord
}

// RecorderOption configures a Recorder at construction time.
type RecorderOption func(*Recorder)

// WithClassifier overrides the zero-value classifier.
func WithClassifier(c Classifier) RecorderOption {
	return func(r *Recorder) { r.classifier = c }
}

// WithActor attributes the run to an actor.
func WithActor(a Actor) RecorderOption {
	return func(r *Recorder) { r.actor = &a }
}

// WithTrace attaches distributed-tracing correlation IDs to the record.
func WithTrace(traceID, spanID string) RecorderOption {
	return func(r *Recorder) {
		if traceID != "" {
			r.traceID = &traceID
		}
		if spanID != "" {
			r.spanID = &spanID
		}
	}
}

// WithRunMetadata attaches free-form metadata to the finalized record.
func WithRunMetadata(md map[string]any) RecorderOption {
	return func(r *Recorder) { r.metadata = md }
}

// NewRecorder starts accumulation for a run. The run's start time is
// captured now and becomes the record's timestamp.
func NewRecorder(runID string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		runID:     runID,
		startTime: time.Now().UTC(),
		seenIDs:   make(map[string]struct{}),
		success:   true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunID returns the run this recorder belongs to.
func (r *Recorder) RunID() string { return r.runID }

// Finalized reports whether the run has been finalized. Once true, all
// further signals are ignored.
func (r *Recorder) Finalized() bool { return r.done }

// RecordEvent folds one normalized tool event into the run. Events that
// carry an ID already seen on this run are dropped (duplicate delivery
// is the common case for framework notification hooks); events with an
// empty ID are always accepted. Reads become Evidence, writes become
// Actions, and a failed write marks the whole run unsuccessful.
func (r *Recorder) RecordEvent(ev NormalizedEvent) {
	if r.done {
		return
	}
	if ev.ID != "" {
		if _, dup := r.seenIDs[ev.ID]; dup {
			return
		}
		r.seenIDs[ev.ID] = struct{}{}
	}

	kind := ev.Kind
	if kind == EventUnclassified {
		kind = r.classifier.Classify(ev.ToolName)
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	id := ev.ID
	if id == "" {
		id = NewID()
	}

	switch kind {
	case EventWrite:
		action := Action{
			ActionID:    id,
			Tool:        ev.ToolName,
			CommittedAt: ts,
			Params:      ev.Args,
			Result:      snapshotOf(ev.Output),
			Success:     ev.Error == nil,
		}
		r.actions = append(r.actions, action)
		if ev.Error != nil {
			r.success = false
			reason := fmt.Sprintf("tool %s failed: %s", ev.ToolName, *ev.Error)
			r.outcomeReason = &reason
		}
	default:
		tool := ev.ToolName
		evidence := Evidence{
			EvidenceID:  id,
			Source:      ev.ToolName,
			RetrievedAt: ts,
			Snapshot:    snapshotOf(ev.Output),
			ToolName:    &tool,
			ToolArgs:    ev.Args,
		}
		if evidence.Snapshot != nil {
			evidence.SnapshotHash = SnapshotHash(evidence.Snapshot)
		}
		r.evidence = append(r.evidence, evidence)
	}
}

// snapshotOf normalizes a tool output into a snapshot map. Map outputs
// pass through; any other non-nil value is wrapped so scalar and string
// outputs still get fingerprinted.
func snapshotOf(output any) map[string]any {
	switch v := output.(type) {
	case nil:
		return nil
	case map[string]any:
		return v
	default:
		return map[string]any{"output": v}
	}
}

// RecordPolicy appends one policy evaluation. Evaluations are audit
// facts and are never deduplicated: evaluating the same policy twice
// yields two entries.
func (r *Recorder) RecordPolicy(policyID, version string, result PolicyResult, message string) {
	if r.done {
		return
	}
	eval := PolicyEval{PolicyID: policyID, Version: version, Result: result}
	if message != "" {
		eval.Message = &message
	}
	r.policies = append(r.policies, eval)
}

// RecordPolicyError records that a policy engine itself failed. The run
// continues; the failure is preserved as a warn-result evaluation so the
// audit trail shows the check was attempted but inconclusive.
func (r *Recorder) RecordPolicyError(policyID, version string, err error) {
	if r.done {
		return
	}
	msg := fmt.Sprintf("evaluation error: %v", err)
	r.policies = append(r.policies, PolicyEval{
		PolicyID: policyID,
		Version:  version,
		Result:   PolicyWarn,
		Message:  &msg,
	})
}

// OnInterrupt marks the run as awaiting human input and preserves the
// interrupt payload as evidence of what was shown to the approver.
func (r *Recorder) OnInterrupt(payload map[string]any) {
	if r.done {
		return
	}
	r.pendingInterrupt = true
	ev := Evidence{
		EvidenceID:  NewID(),
		Source:      "interrupt",
		RetrievedAt: time.Now().UTC(),
		Snapshot:    payload,
	}
	if payload != nil {
		ev.SnapshotHash = SnapshotHash(payload)
	}
	r.evidence = append(r.evidence, ev)
}

// OnResume records the human response to a pending interrupt as an
// Approval. A resume with no pending interrupt is a framework replay
// artifact and is ignored.
func (r *Recorder) OnResume(approverID string, resumeValue any) {
	if r.done || !r.pendingInterrupt {
		return
	}
	r.pendingInterrupt = false
	approval := Approval{
		ApprovalID: NewID(),
		Approver:   Actor{Type: ActorHuman, ID: approverID},
		Granted:    true,
		GrantedAt:  time.Now().UTC(),
	}
	if resumeValue != nil {
		reason := fmt.Sprint(resumeValue)
		approval.Reason = &reason
	}
	r.approvals = append(r.approvals, approval)
}

// AddSubject registers a domain entity this run is about.
func (r *Recorder) AddSubject(ref EntityRef) {
	if r.done {
		return
	}
	r.subjects = append(r.subjects, ref)
}

// AddPrecedent links a prior decision that influenced this run.
func (r *Recorder) AddPrecedent(decisionID string) {
	if r.done {
		return
	}
	r.precedentRefs = append(r.precedentRefs, decisionID)
}

// Finalize derives the outcome and produces the run's DecisionRecord.
// Returns nil when the run committed no actions: observation-only runs
// produce no audit unit. Finalize is terminal and idempotent; the second
// call returns the same record (or nil) and intervening signals are
// ignored.
//
// Outcome precedence: an explicit denial (FinalizeDenied) beats a failed
// policy, which beats a failed write action, which beats plain success.
func (r *Recorder) Finalize() *DecisionRecord {
	if r.done {
		return r.finalized
	}
	outcome := OutcomeCommitted
	reason := r.outcomeReason
	if failed := firstFailedPolicy(r.policies); failed != nil {
		outcome = OutcomeDenied
		if failed.Message != nil {
			reason = failed.Message
		} else {
			msg := fmt.Sprintf("policy %s failed", failed.PolicyID)
			reason = &msg
		}
	} else if !r.success {
		outcome = OutcomeDenied
	}
	return r.finalizeAs(outcome, reason)
}

// FinalizeDenied finalizes with an explicit terminal denial (operator
// cancel, upstream abort). The explicit signal takes precedence over
// anything accumulated.
func (r *Recorder) FinalizeDenied(reason string) *DecisionRecord {
	if r.done {
		return r.finalized
	}
	var rp *string
	if reason != "" {
		rp = &reason
	}
	return r.finalizeAs(OutcomeDenied, rp)
}

func (r *Recorder) finalizeAs(outcome Outcome, reason *string) *DecisionRecord {
	r.done = true
	if len(r.actions) == 0 {
		return nil
	}

	rec := &DecisionRecord{
		DecisionID:      NewID(),
		RunID:           r.runID,
		TraceID:         r.traceID,
		SpanID:          r.spanID,
		Timestamp:       r.startTime,
		Actor:           r.actor,
		SubjectEntities: append([]EntityRef(nil), r.subjects...),
		Evidence:        append([]Evidence(nil), r.evidence...),
		Policies:        append([]PolicyEval(nil), r.policies...),
		Approvals:       append([]Approval(nil), r.approvals...),
		Actions:         append([]Action(nil), r.actions...),
		Outcome:         outcome,
		OutcomeReason:   reason,
		PrecedentRefs:   append([]string(nil), r.precedentRefs...),
	}
	if r.metadata != nil {
		md := make(map[string]any, len(r.metadata))
		for k, v := range r.metadata {
			md[k] = v
		}
		rec.Metadata = md
	}
	r.finalized = rec
	return rec
}

func firstFailedPolicy(policies []PolicyEval) *PolicyEval {
	for i := range policies {
		if policies[i].Result == PolicyFail {
			return &policies[i]
		}
	}
	return nil
}

// Registry tracks live recorders by run ID. Each recorder is driven by
// its own run's goroutine, so the registry locks only map membership,
// never accumulation.
type Registry struct {
	mu       sync.Mutex
	byRun    map[string]*Recorder
	defaults []RecorderOption
}

// NewRegistry creates a Registry. The given options are applied to every
// recorder the registry creates.
func NewRegistry(defaults ...RecorderOption) *Registry {
	return &Registry{
		byRun:    make(map[string]*Recorder),
		defaults: defaults,
	}
}

// Get returns the recorder for a run, or nil if none is live.
func (g *Registry) Get(runID string) *Recorder {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.byRun[runID]
}

// GetOrCreate returns the live recorder for a run, creating one on first
// sight. Extra options apply only when a recorder is created here.
func (g *Registry) GetOrCreate(runID string, opts ...RecorderOption) *Recorder {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.byRun[runID]; ok {
		return r
	}
	r := NewRecorder(runID, append(append([]RecorderOption(nil), g.defaults...), opts...)...)
	g.byRun[runID] = r
	return r
}

// Remove drops a run's recorder, returning it if present. Callers remove
// after finalize so abandoned runs do not accumulate forever.
func (g *Registry) Remove(runID string) *Recorder {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.byRun[runID]
	delete(g.byRun, runID)
	return r
}

// Len reports the number of live recorders.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.byRun)
}
