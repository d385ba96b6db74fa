// Package explain derives human-readable explanation chains from stored
// decision records. All functions are pure: the record already contains
// everything there is to say.
package explain

import (
	"fmt"
	"strings"

	"github.com/retracehq/retrace/internal/model"
)

// Explain builds the four explanation chains and the one-line summary
// for a record. Steps are numbered from 1 in the order the record holds
// them, which is the order the run produced them.
func Explain(rec model.DecisionRecord) model.Explanation {
	ex := model.Explanation{
		DecisionID:    rec.DecisionID,
		Outcome:       rec.Outcome,
		OutcomeReason: rec.OutcomeReason,
		EvidenceChain: make([]model.ExplainStep, 0, len(rec.Evidence)),
		PolicyChain:   make([]model.ExplainStep, 0, len(rec.Policies)),
		ApprovalChain: make([]model.ExplainStep, 0, len(rec.Approvals)),
		ActionChain:   make([]model.ExplainStep, 0, len(rec.Actions)),
	}

	for i, ev := range rec.Evidence {
		ex.EvidenceChain = append(ex.EvidenceChain, model.ExplainStep{
			Step:    i + 1,
			Type:    "evidence",
			Summary: fmt.Sprintf("Read from %s", ev.Source),
			Detail:  ev,
		})
	}
	for i, p := range rec.Policies {
		ex.PolicyChain = append(ex.PolicyChain, model.ExplainStep{
			Step:    i + 1,
			Type:    "policy",
			Summary: fmt.Sprintf("Policy %s %s", p.PolicyID, p.Result),
			Detail:  p,
		})
	}
	for i, a := range rec.Approvals {
		verdict := "Denied"
		if a.Granted {
			verdict = "Approved"
		}
		ex.ApprovalChain = append(ex.ApprovalChain, model.ExplainStep{
			Step:    i + 1,
			Type:    "approval",
			Summary: fmt.Sprintf("%s by %s", verdict, a.Approver.ID),
			Detail:  a,
		})
	}
	for i, a := range rec.Actions {
		ex.ActionChain = append(ex.ActionChain, model.ExplainStep{
			Step:    i + 1,
			Type:    "action",
			Summary: fmt.Sprintf("Executed %s", a.Tool),
			Detail:  a,
		})
	}

	ex.Summary = Summarize(rec)
	return ex
}

// Summarize renders the one-sentence-per-aspect summary. Clauses appear
// in a fixed order and only when their list is non-empty; the outcome
// clause is always present. Example:
//
//	Gathered 1 pieces of evidence. Evaluated 1 policies (1 passed). Executed 1/1 actions. Outcome: committed.
func Summarize(rec model.DecisionRecord) string {
	var clauses []string

	if n := len(rec.Evidence); n > 0 {
		clauses = append(clauses, fmt.Sprintf("Gathered %d pieces of evidence", n))
	}
	if n := len(rec.Policies); n > 0 {
		passed := 0
		for _, p := range rec.Policies {
			if p.Result == model.PolicyPass {
				passed++
			}
		}
		clauses = append(clauses, fmt.Sprintf("Evaluated %d policies (%d passed)", n, passed))
	}
	if n := len(rec.Approvals); n > 0 {
		granted := 0
		for _, a := range rec.Approvals {
			if a.Granted {
				granted++
			}
		}
		clauses = append(clauses, fmt.Sprintf("Received %d/%d approvals", granted, n))
	}
	if n := len(rec.Actions); n > 0 {
		succeeded := 0
		for _, a := range rec.Actions {
			if a.Success {
				succeeded++
			}
		}
		clauses = append(clauses, fmt.Sprintf("Executed %d/%d actions", succeeded, n))
	}

	clauses = append(clauses, fmt.Sprintf("Outcome: %s", rec.Outcome))
	return strings.Join(clauses, ". ") + "."
}
