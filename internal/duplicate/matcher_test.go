package duplicate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvela/risk-engine/internal/config"
	"github.com/finvela/risk-engine/internal/model"
	"github.com/finvela/risk-engine/internal/store"
)

func dupConfig() config.DuplicateConfig {
	return config.DuplicateConfig{SimilarityThreshold: 0.82, AmountTolerance: 0.5}
}

func invoice(id, no string, day int, amount float64, desc string) *model.InvoiceSnapshot {
	return &model.InvoiceSnapshot{
		InvoiceID:   id,
		InvoiceNo:   no,
		VendorName:  "Acme Traders",
		VendorGSTIN: "27AAPFU0939F1ZV",
		Currency:    "INR",
		InvoiceDate: time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC),
		Amount:      amount,
		Lines: []model.LineItem{
			{LineNo: 1, Description: desc, Quantity: 1, UnitPrice: amount, LineTotal: amount},
		},
	}
}

func TestMatcher_NoHistory(t *testing.T) {
	m := NewMatcher(store.NewMemory(), dupConfig())
	eval, err := m.Evaluate(context.Background(), invoice("inv-1", "A-1", 10, 500, "office chairs"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, eval.Raw)
}

func TestMatcher_ExactDuplicate(t *testing.T) {
	st := store.NewMemory()
	m := NewMatcher(st, dupConfig())

	prior := invoice("inv-1", "A-1", 10, 500, "office chairs")
	require.NoError(t, m.Record(context.Background(), prior))

	dup := invoice("inv-2", "A-2", 10, 500, "completely different goods")
	eval, err := m.Evaluate(context.Background(), dup)
	require.NoError(t, err)
	assert.Equal(t, 1.0, eval.Raw, "same vendor, day, and amount is a duplicate regardless of description")
	assert.Contains(t, eval.Details["matches"], "inv-1")
}

func TestMatcher_FuzzyDuplicate(t *testing.T) {
	st := store.NewMemory()
	m := NewMatcher(st, dupConfig())

	prior := invoice("inv-1", "A-1", 10, 500, "ergonomic office chairs model x200")
	require.NoError(t, m.Record(context.Background(), prior))

	// Different day, near-identical description, same amount.
	near := invoice("inv-2", "A-2", 15, 500, "ergonomic office chairs model x201")
	eval, err := m.Evaluate(context.Background(), near)
	require.NoError(t, err)
	assert.Equal(t, 1.0, eval.Raw)
}

func TestMatcher_ContentHashDuplicate(t *testing.T) {
	st := store.NewMemory()
	m := NewMatcher(st, dupConfig())

	prior := invoice("inv-1", "A-1", 10, 500, "office chairs")
	require.NoError(t, m.Record(context.Background(), prior))

	// Same invoice number and content resubmitted under a new ID.
	resubmitted := invoice("inv-2", "A-1", 10, 500, "office chairs")
	eval, err := m.Evaluate(context.Background(), resubmitted)
	require.NoError(t, err)
	assert.Equal(t, 1.0, eval.Raw)
}

func TestMatcher_SelfExclusion(t *testing.T) {
	st := store.NewMemory()
	m := NewMatcher(st, dupConfig())

	inv := invoice("inv-1", "A-1", 10, 500, "office chairs")
	require.NoError(t, m.Record(context.Background(), inv))

	// Reprocessing the same invoice must not match its own fingerprint.
	eval, err := m.Evaluate(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, 0.0, eval.Raw)
}

func TestMatcher_InsufficientData(t *testing.T) {
	st := store.NewMemory()
	m := NewMatcher(st, dupConfig())

	prior := invoice("inv-1", "A-1", 10, 500, "office chairs")
	require.NoError(t, m.Record(context.Background(), prior))

	// No date and no amount: the exact rule cannot run.
	vague := invoice("inv-2", "A-2", 12, 600, "desk lamps")
	vague.InvoiceDate = time.Time{}
	vague.Amount = 0
	eval, err := m.Evaluate(context.Background(), vague)
	require.NoError(t, err)
	assert.Equal(t, insufficientDataScore, eval.Raw, "unresolvable checks score the uncertainty signal")
}

func TestMatcher_NoVendorIdentity(t *testing.T) {
	m := NewMatcher(store.NewMemory(), dupConfig())
	inv := invoice("inv-1", "A-1", 10, 500, "office chairs")
	inv.VendorGSTIN = ""
	inv.VendorName = ""

	eval, err := m.Evaluate(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, insufficientDataScore, eval.Raw)
}

func TestMatcher_RecordIdempotent(t *testing.T) {
	st := store.NewMemory()
	m := NewMatcher(st, dupConfig())

	inv := invoice("inv-1", "A-1", 10, 500, "office chairs")
	require.NoError(t, m.Record(context.Background(), inv))
	require.NoError(t, m.Record(context.Background(), inv))

	fp, err := st.GetFingerprint(context.Background(), inv.VendorKey())
	require.NoError(t, err)
	assert.Len(t, fp.Entries, 1)
}

func TestContentHash_IgnoresStorageID(t *testing.T) {
	a := invoice("inv-1", "A-1", 10, 500, "office chairs")
	b := invoice("inv-2", "A-1", 10, 500, "office chairs")
	assert.Equal(t, ContentHash(a), ContentHash(b))

	c := invoice("inv-3", "A-1", 10, 500, "office tables")
	assert.NotEqual(t, ContentHash(a), ContentHash(c))
}

func TestDescriptionNorm(t *testing.T) {
	inv := &model.InvoiceSnapshot{
		Lines: []model.LineItem{
			{LineNo: 1, Description: "  Office   CHAIRS "},
			{LineNo: 2, Description: "Desk-Lamps (LED)"},
		},
	}
	assert.Equal(t, "office chairs | desk lamps led", DescriptionNorm(inv))
}
