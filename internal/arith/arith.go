// Package arith recomputes invoice totals and flags arithmetic mismatches.
package arith

import (
	"math"

	"github.com/finvela/risk-engine/internal/model"
)

// Round2 rounds to two decimal places, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// RecomputeLine returns the expected subtotal, tax, and total for one line.
func RecomputeLine(line model.LineItem) (subtotal, tax, total float64) {
	subtotal = Round2(line.Quantity * line.UnitPrice)
	tax = Round2(subtotal * line.TaxRate)
	total = Round2(subtotal + tax)
	return subtotal, tax, total
}

// RecomputeTotals returns the expected invoice totals from its lines,
// ignoring the declared per-line totals.
func RecomputeTotals(inv *model.InvoiceSnapshot) model.Totals {
	var t model.Totals
	for _, line := range inv.Lines {
		subtotal, tax, total := RecomputeLine(line)
		t.Subtotal += subtotal
		t.TaxTotal += tax
		t.GrandTotal += total
	}
	t.Subtotal = Round2(t.Subtotal)
	t.TaxTotal = Round2(t.TaxTotal)
	t.GrandTotal = Round2(t.GrandTotal)
	return t
}

// ApplyChange patches a cloned line in place and refreshes its LineTotal.
func ApplyChange(line *model.LineItem, change model.LineChange) {
	if change.Quantity != nil {
		line.Quantity = *change.Quantity
	}
	if change.UnitPrice != nil {
		line.UnitPrice = *change.UnitPrice
	}
	if change.TaxRate != nil {
		line.TaxRate = *change.TaxRate
	}
	if change.HSNCode != nil {
		line.HSNCode = *change.HSNCode
	}
	if change.Description != nil {
		line.Description = *change.Description
	}
	_, _, line.LineTotal = RecomputeLine(*line)
}
