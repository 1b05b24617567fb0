package arith

import (
	"context"
	"fmt"
	"math"

	"github.com/finvela/risk-engine/internal/model"
)

// Validator is the arithmetic-consistency contributor. Any mismatch beyond
// tolerance scores 1.0; there is no partial credit because every mismatch is
// audit-relevant.
type Validator struct {
	tolerance float64
}

// NewValidator creates a Validator with the given absolute tolerance in
// minor currency units (e.g. 0.5 paise-level slack for rounding).
func NewValidator(tolerance float64) *Validator {
	return &Validator{tolerance: tolerance}
}

func (v *Validator) Name() string { return "arithmetic" }

// Evaluate recomputes every line total and the invoice grand total and
// compares them to the declared values.
func (v *Validator) Evaluate(_ context.Context, inv *model.InvoiceSnapshot) (model.Evaluation, error) {
	if len(inv.Lines) == 0 {
		return model.Evaluation{
			Raw: 0,
			Details: map[string]any{
				"status": "insufficient_data",
				"reason": "invoice has no line items",
			},
		}, nil
	}

	var mismatches []map[string]any
	var sumLineTotals float64

	for _, line := range inv.Lines {
		_, _, expected := RecomputeLine(line)
		sumLineTotals += line.LineTotal
		if diff := math.Abs(line.LineTotal - expected); diff > v.tolerance {
			mismatches = append(mismatches, map[string]any{
				"field":    fmt.Sprintf("line %d total", line.LineNo),
				"line_no":  line.LineNo,
				"expected": expected,
				"actual":   line.LineTotal,
				"diff":     Round2(diff),
			})
		}
	}

	sumLineTotals = Round2(sumLineTotals)
	if diff := math.Abs(inv.Amount - sumLineTotals); diff > v.tolerance {
		mismatches = append(mismatches, map[string]any{
			"field":    "grand total",
			"expected": sumLineTotals,
			"actual":   inv.Amount,
			"diff":     Round2(diff),
		})
	}

	if inv.TaxTotal != 0 {
		expectedTax := RecomputeTotals(inv).TaxTotal
		if diff := math.Abs(inv.TaxTotal - expectedTax); diff > v.tolerance {
			mismatches = append(mismatches, map[string]any{
				"field":    "tax total",
				"expected": expectedTax,
				"actual":   inv.TaxTotal,
				"diff":     Round2(diff),
			})
		}
	}

	details := map[string]any{
		"tolerance":     v.tolerance,
		"checked_lines": len(inv.Lines),
	}
	if len(mismatches) == 0 {
		details["status"] = "pass"
		return model.Evaluation{Raw: 0, Details: details}, nil
	}
	details["status"] = "fail"
	details["mismatches"] = mismatches
	return model.Evaluation{Raw: 1, Details: details}, nil
}
