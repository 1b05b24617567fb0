package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvoiceSnapshot_Clone(t *testing.T) {
	inv := &InvoiceSnapshot{
		InvoiceID: "inv-1",
		Lines: []LineItem{
			{LineNo: 1, UnitPrice: 100},
			{LineNo: 2, UnitPrice: 200},
		},
	}

	clone := inv.Clone()
	clone.Lines[0].UnitPrice = 999
	clone.Amount = 42

	assert.Equal(t, 100.0, inv.Lines[0].UnitPrice, "clone edits must not touch the original")
	assert.Equal(t, 0.0, inv.Amount)
}

func TestInvoiceSnapshot_Line(t *testing.T) {
	inv := &InvoiceSnapshot{
		Lines: []LineItem{{LineNo: 1}, {LineNo: 3}},
	}
	assert.NotNil(t, inv.Line(3))
	assert.Nil(t, inv.Line(2))

	// Returned pointer aliases the slice so callers can edit in place.
	inv.Line(1).UnitPrice = 50
	assert.Equal(t, 50.0, inv.Lines[0].UnitPrice)
}

func TestInvoiceSnapshot_VendorKey(t *testing.T) {
	assert.Equal(t, "27AAPFU0939F1ZV", (&InvoiceSnapshot{VendorGSTIN: "27AAPFU0939F1ZV", VendorName: "Acme"}).VendorKey())
	assert.Equal(t, "Acme", (&InvoiceSnapshot{VendorName: "Acme"}).VendorKey())
	assert.Equal(t, "", (&InvoiceSnapshot{}).VendorKey())
}

func TestRiskScore_Contributor(t *testing.T) {
	score := &RiskScore{
		Contributors: []ContributorResult{
			{Name: "arithmetic", RawScore: 1},
			{Name: "duplicate", RawScore: 0.2},
		},
	}
	assert.NotNil(t, score.Contributor("duplicate"))
	assert.Equal(t, 1.0, score.Contributor("arithmetic").RawScore)
	assert.Nil(t, score.Contributor("ghost"))
}

func TestPriceBaseline_SeenInvoice(t *testing.T) {
	b := &PriceBaseline{Observations: []PriceObservation{{InvoiceID: "inv-1"}}}
	assert.True(t, b.SeenInvoice("inv-1"))
	assert.False(t, b.SeenInvoice("inv-2"))
}

func TestLineChange_HasOverride(t *testing.T) {
	assert.False(t, LineChange{LineNo: 1}.HasOverride())
	qty := 2.0
	assert.True(t, LineChange{LineNo: 1, Quantity: &qty}.HasOverride())
}

func TestTotals_Sub(t *testing.T) {
	delta := Totals{Subtotal: 100, TaxTotal: 18, GrandTotal: 118}.
		Sub(Totals{Subtotal: 80, TaxTotal: 14.4, GrandTotal: 94.4})
	assert.InDelta(t, 20, delta.Subtotal, 1e-9)
	assert.InDelta(t, 3.6, delta.TaxTotal, 1e-9)
	assert.InDelta(t, 23.6, delta.GrandTotal, 1e-9)
}
