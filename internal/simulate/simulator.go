// Package simulate answers what-if questions: how would an invoice's risk
// score change under hypothetical line edits, without touching any state.
package simulate

import (
	"context"
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/finvela/risk-engine/internal/arith"
	"github.com/finvela/risk-engine/internal/config"
	"github.com/finvela/risk-engine/internal/model"
	"github.com/finvela/risk-engine/internal/risk"
	"github.com/finvela/risk-engine/internal/store"
)

// Scorer evaluates invoice snapshots without persistence side effects. The
// simulator resolves the weight vector once and scores both snapshots under
// it, so before and after composites never diverge on weights alone.
type Scorer interface {
	ResolveWeights(ctx context.Context, inv *model.InvoiceSnapshot, mode model.RunMode) (map[string]float64, string, error)
	ComputeWith(ctx context.Context, inv *model.InvoiceSnapshot, mode model.RunMode, weights map[string]float64, version string) (*model.RiskScore, error)
}

// Simulator runs counterfactual evaluations against cloned snapshots.
// Nothing it computes is ever written back: no score, no baseline fold, no
// fingerprint, no run-state transition.
type Simulator struct {
	store  store.Store
	scorer Scorer
	cfg    config.CounterfactualConfig
}

// NewSimulator creates a Simulator.
func NewSimulator(st store.Store, scorer Scorer, cfg config.CounterfactualConfig) *Simulator {
	return &Simulator{store: st, scorer: scorer, cfg: cfg}
}

// Simulate applies the hypothetical line changes to a clone of the stored
// invoice and scores both versions in counterfactual mode.
func (s *Simulator) Simulate(ctx context.Context, invoiceID string, changes []model.LineChange) (*model.CounterfactualResult, error) {
	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(store.ErrNotFound, "simulate: invoice %s", invoiceID)
		}
		return nil, eris.Wrapf(err, "simulate: load invoice %s", invoiceID)
	}

	if err := s.validate(inv, changes); err != nil {
		return nil, err
	}

	after := inv.Clone()
	var notes []string
	for _, change := range changes {
		line := after.Line(change.LineNo)
		before := *line
		arith.ApplyChange(line, change)
		notes = append(notes, describeChange(before, *line))
	}
	totalsAfter := arith.RecomputeTotals(after)
	after.Subtotal = totalsAfter.Subtotal
	after.TaxTotal = totalsAfter.TaxTotal
	after.Amount = totalsAfter.GrandTotal

	// One weight vector for both runs, resolved from the original snapshot.
	// The patched totals may land in a different policy bucket; comparing
	// composites only makes sense under the same weights.
	weights, version, err := s.scorer.ResolveWeights(ctx, inv, model.RunModeCounterfactual)
	if err != nil {
		return nil, eris.Wrap(err, "simulate: resolve weights")
	}
	riskBefore, err := s.scorer.ComputeWith(ctx, inv, model.RunModeCounterfactual, weights, version)
	if err != nil {
		return nil, eris.Wrap(err, "simulate: score original")
	}
	riskAfter, err := s.scorer.ComputeWith(ctx, after, model.RunModeCounterfactual, weights, version)
	if err != nil {
		return nil, eris.Wrap(err, "simulate: score modified")
	}

	totalsBefore := arith.RecomputeTotals(inv)
	notes = append(notes,
		fmt.Sprintf("grand total %.2f -> %.2f", totalsBefore.GrandTotal, totalsAfter.GrandTotal),
		describeRiskShift(riskBefore.Composite, riskAfter.Composite),
	)
	result := &model.CounterfactualResult{
		InvoiceID:      invoiceID,
		TotalsBefore:   totalsBefore,
		TotalsAfter:    totalsAfter,
		TotalsDelta:    totalsAfter.Sub(totalsBefore),
		RiskBefore:     riskBefore,
		RiskAfter:      riskAfter,
		DeltaComposite: riskAfter.Composite - riskBefore.Composite,
		Notes:          notes,
	}

	zap.L().Debug("simulate: counterfactual evaluated",
		zap.String("invoice_id", invoiceID),
		zap.Int("changes", len(changes)),
		zap.Float64("delta_composite", result.DeltaComposite),
	)
	return result, nil
}

// validate enforces the guardrails on the change set: non-empty, bounded,
// every change targets a distinct existing line with at least one override,
// and no price or quantity override strays beyond the configured fraction
// of its original value.
func (s *Simulator) validate(inv *model.InvoiceSnapshot, changes []model.LineChange) error {
	if len(changes) == 0 {
		return risk.NewValidationError("changes", "at least one line change is required")
	}
	if s.cfg.MaxLines > 0 && len(changes) > s.cfg.MaxLines {
		return risk.NewValidationError("changes",
			fmt.Sprintf("at most %d line changes allowed, got %d", s.cfg.MaxLines, len(changes)))
	}

	seen := make(map[int]bool, len(changes))
	for _, change := range changes {
		field := fmt.Sprintf("changes[line_no=%d]", change.LineNo)
		if seen[change.LineNo] {
			return risk.NewValidationError(field, "duplicate line number in change set")
		}
		seen[change.LineNo] = true

		line := inv.Line(change.LineNo)
		if line == nil {
			return risk.NewValidationError(field, "line does not exist on invoice")
		}
		if !change.HasOverride() {
			return risk.NewValidationError(field, "change carries no overrides")
		}
		if change.Quantity != nil && *change.Quantity < 0 {
			return risk.NewValidationError(field, "quantity must be non-negative")
		}
		if change.UnitPrice != nil && *change.UnitPrice < 0 {
			return risk.NewValidationError(field, "unit price must be non-negative")
		}
		if change.TaxRate != nil && (*change.TaxRate < 0 || *change.TaxRate > 1) {
			return risk.NewValidationError(field, "tax rate must be a fraction in [0, 1]")
		}
		if s.cfg.MaxDeltaPct > 0 {
			if change.UnitPrice != nil && exceedsDelta(line.UnitPrice, *change.UnitPrice, s.cfg.MaxDeltaPct) {
				return risk.NewValidationError(field,
					fmt.Sprintf("unit price override beyond %.0f%% of original", s.cfg.MaxDeltaPct*100))
			}
			if change.Quantity != nil && exceedsDelta(line.Quantity, *change.Quantity, s.cfg.MaxDeltaPct) {
				return risk.NewValidationError(field,
					fmt.Sprintf("quantity override beyond %.0f%% of original", s.cfg.MaxDeltaPct*100))
			}
		}
	}
	return nil
}

func exceedsDelta(original, proposed, maxPct float64) bool {
	if original == 0 {
		return proposed != 0
	}
	return math.Abs(proposed-original)/math.Abs(original) > maxPct
}

func describeChange(before, after model.LineItem) string {
	return fmt.Sprintf("line %d: total %.2f -> %.2f", before.LineNo, before.LineTotal, after.LineTotal)
}

func describeRiskShift(before, after float64) string {
	switch delta := after - before; {
	case delta > 0:
		return fmt.Sprintf("risk increased by %.3f", delta)
	case delta < 0:
		return fmt.Sprintf("risk decreased by %.3f", -delta)
	default:
		return "risk unchanged"
	}
}
