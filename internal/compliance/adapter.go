package compliance

import (
	"context"

	"go.uber.org/zap"

	"github.com/finvela/risk-engine/internal/model"
)

// Status-to-risk mapping. A missing mandatory ID is itself a compliance
// failure, so it maps to maximal risk rather than being skipped.
var statusScores = map[VerificationStatus]float64{
	StatusInvalid:    1.0,
	StatusUnknown:    0.5,
	StatusUnverified: 0.5,
	StatusVerified:   0.0,
}

const missingIDScore = 1.0

// Adapter is the regulatory-ID contributor. It wraps the external verifier
// and never fails the run: collaborator errors degrade to unknown.
type Adapter struct {
	verifier Verifier
}

// NewAdapter creates the compliance contributor.
func NewAdapter(verifier Verifier) *Adapter {
	return &Adapter{verifier: verifier}
}

func (a *Adapter) Name() string { return "gst_compliance" }

// Evaluate checks both declared regulatory IDs and scores the worse of the
// two.
func (a *Adapter) Evaluate(ctx context.Context, inv *model.InvoiceSnapshot) (model.Evaluation, error) {
	vendor := a.checkID(ctx, inv.VendorGSTIN, "vendor_gstin")
	company := a.checkID(ctx, inv.CompanyGSTIN, "company_gstin")

	raw := vendor.score
	if company.score > raw {
		raw = company.score
	}
	return model.Evaluation{
		Raw: raw,
		Details: map[string]any{
			"vendor_gstin":  vendor.details,
			"company_gstin": company.details,
		},
	}, nil
}

type idCheck struct {
	score   float64
	details map[string]any
}

func (a *Adapter) checkID(ctx context.Context, id, label string) idCheck {
	if id == "" {
		return idCheck{
			score:   missingIDScore,
			details: map[string]any{"status": "missing", "reason": "mandatory ID not declared"},
		}
	}
	if !ValidSyntax(id) {
		return idCheck{
			score:   statusScores[StatusInvalid],
			details: map[string]any{"status": string(StatusInvalid), "reason": "malformed GSTIN"},
		}
	}

	verification, err := a.verifier.Verify(ctx, id)
	if err != nil {
		// Collaborator failure must not fail the risk run.
		zap.L().Warn("compliance: verification degraded to unknown",
			zap.String("id_field", label),
			zap.Error(err),
		)
		return idCheck{
			score: statusScores[StatusUnknown],
			details: map[string]any{
				"status":   string(StatusUnknown),
				"degraded": true,
				"error":    err.Error(),
			},
		}
	}

	details := map[string]any{"status": string(verification.Status)}
	if len(verification.Raw) > 0 {
		details["raw"] = verification.Raw
	}
	return idCheck{score: statusScores[verification.Status], details: details}
}
