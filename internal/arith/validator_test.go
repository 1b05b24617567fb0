package arith

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvela/risk-engine/internal/model"
)

func consistentInvoice() *model.InvoiceSnapshot {
	return &model.InvoiceSnapshot{
		InvoiceID:   "inv-1",
		InvoiceNo:   "A-100",
		VendorName:  "Acme Traders",
		Currency:    "INR",
		InvoiceDate: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Amount:      920400,
		Lines: []model.LineItem{
			{LineNo: 1, Description: "industrial compressor", Quantity: 1, UnitPrice: 780000, TaxRate: 0.18, LineTotal: 920400},
		},
	}
}

func TestValidator_Consistent(t *testing.T) {
	v := NewValidator(0.5)
	eval, err := v.Evaluate(context.Background(), consistentInvoice())
	require.NoError(t, err)
	assert.Equal(t, 0.0, eval.Raw)
	assert.Equal(t, "pass", eval.Details["status"])
}

func TestValidator_LineMismatch(t *testing.T) {
	inv := consistentInvoice()
	inv.Lines[0].LineTotal = 920500 // off by 100
	inv.Amount = 920500

	v := NewValidator(0.5)
	eval, err := v.Evaluate(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, 1.0, eval.Raw)
	assert.Equal(t, "fail", eval.Details["status"])

	mismatches := eval.Details["mismatches"].([]map[string]any)
	require.Len(t, mismatches, 1)
	assert.Equal(t, 1, mismatches[0]["line_no"])
	assert.Equal(t, 920400.0, mismatches[0]["expected"])
	assert.Equal(t, 920500.0, mismatches[0]["actual"])
}

func TestValidator_GrandTotalMismatch(t *testing.T) {
	inv := consistentInvoice()
	inv.Amount = 930000 // lines are fine, declared total is not

	v := NewValidator(0.5)
	eval, err := v.Evaluate(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, 1.0, eval.Raw)

	mismatches := eval.Details["mismatches"].([]map[string]any)
	require.Len(t, mismatches, 1)
	assert.Equal(t, "grand total", mismatches[0]["field"])
}

func TestValidator_WithinTolerance(t *testing.T) {
	inv := consistentInvoice()
	inv.Lines[0].LineTotal = 920400.3
	inv.Amount = 920400.3

	v := NewValidator(0.5)
	eval, err := v.Evaluate(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, 0.0, eval.Raw, "rounding-level differences must not flag")
}

func TestValidator_TighterTolerance(t *testing.T) {
	inv := consistentInvoice()
	inv.Lines[0].LineTotal = 920400.3
	inv.Amount = 920400.3

	v := NewValidator(0.1)
	eval, err := v.Evaluate(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, 1.0, eval.Raw, "same invoice flags under a tighter tolerance")
}

func TestValidator_TaxTotalMismatch(t *testing.T) {
	inv := consistentInvoice()
	inv.TaxTotal = 150000 // expected 140400

	v := NewValidator(0.5)
	eval, err := v.Evaluate(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, 1.0, eval.Raw)
}

func TestValidator_NoLines(t *testing.T) {
	v := NewValidator(0.5)
	eval, err := v.Evaluate(context.Background(), &model.InvoiceSnapshot{InvoiceID: "empty"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, eval.Raw)
	assert.Equal(t, "insufficient_data", eval.Details["status"])
}
