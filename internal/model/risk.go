package model

import "time"

// RunMode distinguishes persisted runs from what-if evaluations.
type RunMode string

const (
	RunModeReal           RunMode = "real"
	RunModeCounterfactual RunMode = "counterfactual"
)

// RunState is the per-invoice risk-run state machine:
// pending -> in_progress -> ready | error. A fresh trigger from error
// returns to in_progress.
type RunState string

const (
	RunStatePending    RunState = "pending"
	RunStateInProgress RunState = "in_progress"
	RunStateReady      RunState = "ready"
	RunStateError      RunState = "error"
)

// Evaluation is the output of a single contributor.
type Evaluation struct {
	Raw     float64        `json:"raw_score"`
	Details map[string]any `json:"details,omitempty"`
}

// ContributorResult is one contributor's weighted share of a composite score.
type ContributorResult struct {
	Name         string         `json:"name"`
	RawScore     float64        `json:"raw_score"`
	Weight       float64        `json:"weight"`
	Contribution float64        `json:"contribution"`
	Details      map[string]any `json:"details,omitempty"`
}

// RiskScore is the composite risk verdict for one invoice. Contributors are
// kept in evaluation order, not sorted by magnitude, so explanation output
// is deterministic. At most one current RiskScore exists per invoice.
type RiskScore struct {
	InvoiceID     string              `json:"invoice_id"`
	Composite     float64             `json:"composite"`
	Contributors  []ContributorResult `json:"contributors"`
	PolicyVersion string              `json:"policy_version"`
	ComputedAt    time.Time           `json:"computed_at"`
}

// Contributor returns the result with the given name, or nil.
func (r *RiskScore) Contributor(name string) *ContributorResult {
	for i := range r.Contributors {
		if r.Contributors[i].Name == name {
			return &r.Contributors[i]
		}
	}
	return nil
}
