// Package duplicate decides whether an invoice has likely been seen before,
// using an ordered set of independent rules over append-only vendor
// fingerprints.
package duplicate

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/finvela/risk-engine/internal/config"
	"github.com/finvela/risk-engine/internal/model"
	"github.com/finvela/risk-engine/internal/store"
)

// insufficientDataScore is the deliberately small non-zero signal emitted
// when duplication could not be ruled out: uncertainty, not absence of risk.
const insufficientDataScore = 0.2

// Matcher is the duplicate-likelihood contributor and the owner of
// VendorFingerprint records.
type Matcher struct {
	store store.Store
	rules []Rule
}

// NewMatcher creates a Matcher with the standard rule set.
func NewMatcher(st store.Store, cfg config.DuplicateConfig) *Matcher {
	return &Matcher{
		store: st,
		rules: []Rule{
			exactRule{},
			fuzzyRule{threshold: cfg.SimilarityThreshold, amountTolerance: cfg.AmountTolerance},
			hashRule{},
		},
	}
}

func (m *Matcher) Name() string { return "duplicate" }

// Evaluate runs every rule against the vendor's past invoices. Any rule
// reporting duplicate wins outright; otherwise any insufficient_data verdict
// yields the small uncertainty score.
func (m *Matcher) Evaluate(ctx context.Context, inv *model.InvoiceSnapshot) (model.Evaluation, error) {
	vendorKey := inv.VendorKey()
	if vendorKey == "" {
		return model.Evaluation{
			Raw:     insufficientDataScore,
			Details: map[string]any{"status": "insufficient_data", "reason": "no vendor identity"},
		}, nil
	}

	fp, err := m.store.GetFingerprint(ctx, vendorKey)
	if err != nil && !eris.Is(err, store.ErrNotFound) {
		return model.Evaluation{}, eris.Wrapf(err, "duplicate: load fingerprint %s", vendorKey)
	}

	// Exclude the invoice's own prior fingerprint so reprocessing does not
	// match against itself.
	var entries []model.FingerprintEntry
	if fp != nil {
		for _, entry := range fp.Entries {
			if entry.InvoiceID != inv.InvoiceID {
				entries = append(entries, entry)
			}
		}
	}

	results := make([]RuleResult, 0, len(m.rules))
	anyDuplicate := false
	anyInsufficient := false
	var matches []string
	for _, rule := range m.rules {
		res := rule.Check(inv, entries)
		results = append(results, res)
		switch res.Status {
		case StatusDuplicate:
			anyDuplicate = true
			matches = append(matches, res.Matches...)
		case StatusInsufficientData:
			anyInsufficient = true
		}
	}

	details := map[string]any{
		"vendor_key":      vendorKey,
		"candidate_count": len(entries),
		"checks":          results,
	}

	switch {
	case anyDuplicate:
		details["matches"] = dedupe(matches)
		return model.Evaluation{Raw: 1, Details: details}, nil
	case anyInsufficient:
		details["status"] = "insufficient_data"
		return model.Evaluation{Raw: insufficientDataScore, Details: details}, nil
	default:
		return model.Evaluation{Raw: 0, Details: details}, nil
	}
}

// Record appends the invoice's fingerprint entry for future comparisons.
// Called only after real runs; counterfactual evaluations never reach here.
func (m *Matcher) Record(ctx context.Context, inv *model.InvoiceSnapshot) error {
	vendorKey := inv.VendorKey()
	if vendorKey == "" {
		return nil
	}
	entry := model.FingerprintEntry{
		InvoiceID:       inv.InvoiceID,
		InvoiceNo:       inv.InvoiceNo,
		InvoiceDate:     inv.InvoiceDate,
		Amount:          inv.Amount,
		ContentHash:     ContentHash(inv),
		DescriptionNorm: DescriptionNorm(inv),
	}
	return eris.Wrapf(m.store.AppendFingerprint(ctx, vendorKey, entry),
		"duplicate: record fingerprint %s", vendorKey)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
