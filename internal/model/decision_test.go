package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() DecisionRecord {
	return DecisionRecord{
		DecisionID: "dec-1",
		RunID:      "run-1",
		Timestamp:  time.Now().UTC(),
		Outcome:    OutcomeCommitted,
	}
}

func TestDecisionRecord_Validate(t *testing.T) {
	require.NoError(t, validRecord().Validate())

	tests := []struct {
		name    string
		mutate  func(*DecisionRecord)
		wantErr string
	}{
		{
			name:    "missing decision_id",
			mutate:  func(r *DecisionRecord) { r.DecisionID = "" },
			wantErr: "decision_id is required",
		},
		{
			name:    "oversized decision_id",
			mutate:  func(r *DecisionRecord) { r.DecisionID = strings.Repeat("x", MaxIDLen+1) },
			wantErr: "decision_id exceeds",
		},
		{
			name:    "missing run_id",
			mutate:  func(r *DecisionRecord) { r.RunID = "" },
			wantErr: "run_id is required",
		},
		{
			name:    "zero timestamp",
			mutate:  func(r *DecisionRecord) { r.Timestamp = time.Time{} },
			wantErr: "timestamp is required",
		},
		{
			name:    "unknown outcome",
			mutate:  func(r *DecisionRecord) { r.Outcome = "approved" },
			wantErr: "outcome must be one of",
		},
		{
			name: "oversized outcome_reason",
			mutate: func(r *DecisionRecord) {
				reason := strings.Repeat("x", MaxOutcomeReasonLen+1)
				r.OutcomeReason = &reason
			},
			wantErr: "outcome_reason exceeds",
		},
		{
			name:    "unknown actor type",
			mutate:  func(r *DecisionRecord) { r.Actor = &Actor{Type: "robot", ID: "r2"} },
			wantErr: "actor.type must be one of",
		},
		{
			name: "too many evidence items",
			mutate: func(r *DecisionRecord) {
				r.Evidence = make([]Evidence, MaxEvidenceItems+1)
			},
			wantErr: "evidence exceeds",
		},
		{
			name: "unknown policy result",
			mutate: func(r *DecisionRecord) {
				r.Policies = []PolicyEval{{PolicyID: "p1", Result: "maybe"}}
			},
			wantErr: "policies[0].result",
		},
		{
			name: "unknown approver type",
			mutate: func(r *DecisionRecord) {
				r.Approvals = []Approval{{ApprovalID: "a1", Approver: Actor{Type: "bot", ID: "x"}}}
			},
			wantErr: "approvals[0].approver.type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(&rec)
			err := rec.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnums_Valid(t *testing.T) {
	for _, o := range []Outcome{OutcomeCommitted, OutcomeDenied, OutcomeEscalated, OutcomePending} {
		assert.True(t, o.Valid(), o)
	}
	assert.False(t, Outcome("").Valid())
	assert.False(t, Outcome("rejected").Valid())

	for _, r := range []PolicyResult{PolicyPass, PolicyFail, PolicyWarn, PolicySkip} {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, PolicyResult("error").Valid())

	for _, a := range []ActorType{ActorAgent, ActorHuman, ActorSystem} {
		assert.True(t, a.Valid(), a)
	}
	assert.False(t, ActorType("service").Valid())
}
