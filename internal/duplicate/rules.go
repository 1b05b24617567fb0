package duplicate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/finvela/risk-engine/internal/model"
	"github.com/finvela/risk-engine/internal/textnorm"
)

// Status is a single rule's verdict.
type Status string

const (
	StatusDuplicate        Status = "duplicate"
	StatusNotDuplicate     Status = "not_duplicate"
	StatusInsufficientData Status = "insufficient_data"
)

// RuleResult is one rule's verdict plus the invoices it matched.
type RuleResult struct {
	Rule    string   `json:"rule"`
	Status  Status   `json:"status"`
	Matches []string `json:"matches,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// Rule checks one independent duplicate signal against a vendor's past
// invoices. Rules form an open set: the matcher runs whatever it was
// constructed with, in order.
type Rule interface {
	Name() string
	Check(inv *model.InvoiceSnapshot, entries []model.FingerprintEntry) RuleResult
}

// exactRule flags a past invoice from the same vendor with the same date
// and the same amount (to the paisa).
type exactRule struct{}

func (exactRule) Name() string { return "exact_amount_date" }

func (r exactRule) Check(inv *model.InvoiceSnapshot, entries []model.FingerprintEntry) RuleResult {
	if inv.InvoiceDate.IsZero() || inv.Amount == 0 {
		return RuleResult{Rule: r.Name(), Status: StatusInsufficientData, Reason: "missing date or amount"}
	}
	var matches []string
	for _, entry := range entries {
		if entry.InvoiceDate.IsZero() {
			continue
		}
		sameDay := entry.InvoiceDate.Format("2006-01-02") == inv.InvoiceDate.Format("2006-01-02")
		if sameDay && math.Abs(entry.Amount-inv.Amount) < 0.01 {
			matches = append(matches, entry.InvoiceID)
		}
	}
	if len(matches) > 0 {
		return RuleResult{Rule: r.Name(), Status: StatusDuplicate, Matches: matches}
	}
	return RuleResult{Rule: r.Name(), Status: StatusNotDuplicate}
}

// fuzzyRule flags a past invoice whose normalized line descriptions are
// nearly identical and whose amount is within tolerance.
type fuzzyRule struct {
	threshold       float64
	amountTolerance float64
}

func (fuzzyRule) Name() string { return "fuzzy_description_amount" }

func (r fuzzyRule) Check(inv *model.InvoiceSnapshot, entries []model.FingerprintEntry) RuleResult {
	descNorm := DescriptionNorm(inv)
	if descNorm == "" {
		return RuleResult{Rule: r.Name(), Status: StatusInsufficientData, Reason: "no line descriptions"}
	}
	var matches []string
	comparable := 0
	for _, entry := range entries {
		if entry.DescriptionNorm == "" {
			continue
		}
		comparable++
		sim := levenshtein.Similarity(descNorm, entry.DescriptionNorm, nil)
		if sim >= r.threshold && math.Abs(entry.Amount-inv.Amount) <= r.amountTolerance {
			matches = append(matches, entry.InvoiceID)
		}
	}
	if len(matches) > 0 {
		return RuleResult{Rule: r.Name(), Status: StatusDuplicate, Matches: matches}
	}
	if comparable == 0 && len(entries) > 0 {
		return RuleResult{Rule: r.Name(), Status: StatusInsufficientData, Reason: "no comparable descriptions"}
	}
	return RuleResult{Rule: r.Name(), Status: StatusNotDuplicate}
}

// hashRule flags an identical canonical content hash.
type hashRule struct{}

func (hashRule) Name() string { return "content_fingerprint" }

func (r hashRule) Check(inv *model.InvoiceSnapshot, entries []model.FingerprintEntry) RuleResult {
	hash := ContentHash(inv)
	var matches []string
	for _, entry := range entries {
		if entry.ContentHash != "" && entry.ContentHash == hash {
			matches = append(matches, entry.InvoiceID)
		}
	}
	if len(matches) > 0 {
		return RuleResult{Rule: r.Name(), Status: StatusDuplicate, Matches: matches}
	}
	return RuleResult{Rule: r.Name(), Status: StatusNotDuplicate}
}

// DescriptionNorm joins the invoice's normalized line descriptions in line
// order. Used both for fingerprint entries and fuzzy comparison.
func DescriptionNorm(inv *model.InvoiceSnapshot) string {
	parts := make([]string, 0, len(inv.Lines))
	for _, line := range inv.Lines {
		if norm := textnorm.Normalize(line.Description); norm != "" {
			parts = append(parts, norm)
		}
	}
	return strings.Join(parts, " | ")
}

// ContentHash is a canonical sha256 over the header fields and lines that
// identify invoice content, independent of storage ids.
func ContentHash(inv *model.InvoiceSnapshot) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%.2f\n",
		textnorm.NormalizeID(inv.VendorGSTIN),
		textnorm.NormalizeID(inv.InvoiceNo),
		inv.InvoiceDate.Format("2006-01-02"),
		inv.Amount,
	)
	for _, line := range inv.Lines {
		fmt.Fprintf(h, "%d|%s|%.4f|%.4f|%.4f\n",
			line.LineNo,
			textnorm.Normalize(line.Description),
			line.Quantity,
			line.UnitPrice,
			line.TaxRate,
		)
	}
	return hex.EncodeToString(h.Sum(nil))
}
