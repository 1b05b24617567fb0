package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvela/risk-engine/internal/model"
)

// storeSuite exercises the Store contract against any backend.
func storeSuite(t *testing.T, st Store) {
	ctx := context.Background()

	t.Run("invoice round trip", func(t *testing.T) {
		inv := &model.InvoiceSnapshot{
			InvoiceID:  "inv-1",
			InvoiceNo:  "A-100",
			VendorName: "Acme Traders",
			Currency:   "INR",
			Amount:     1416,
			Lines: []model.LineItem{
				{LineNo: 1, Description: "compressor", Quantity: 1, UnitPrice: 1200, TaxRate: 0.18, LineTotal: 1416},
			},
		}
		require.NoError(t, st.SaveInvoice(ctx, inv))

		got, err := st.GetInvoice(ctx, "inv-1")
		require.NoError(t, err)
		assert.Equal(t, inv.InvoiceNo, got.InvoiceNo)
		assert.Equal(t, inv.Lines, got.Lines)

		_, err = st.GetInvoice(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("risk score overwrites in place", func(t *testing.T) {
		score := &model.RiskScore{InvoiceID: "inv-1", Composite: 0.4, PolicyVersion: "seed"}
		require.NoError(t, st.SaveRiskScore(ctx, score))

		score.Composite = 0.7
		require.NoError(t, st.SaveRiskScore(ctx, score))

		got, err := st.GetRiskScore(ctx, "inv-1")
		require.NoError(t, err)
		assert.Equal(t, 0.7, got.Composite)
	})

	t.Run("run state machine", func(t *testing.T) {
		state, _, err := st.GetRunState(ctx, "inv-run")
		require.NoError(t, err)
		assert.Equal(t, model.RunStatePending, state)

		require.NoError(t, st.AcquireRun(ctx, "inv-run"))
		assert.ErrorIs(t, st.AcquireRun(ctx, "inv-run"), ErrRunInProgress)

		require.NoError(t, st.ReleaseRun(ctx, "inv-run", model.RunStateError, "boom"))
		state, detail, err := st.GetRunState(ctx, "inv-run")
		require.NoError(t, err)
		assert.Equal(t, model.RunStateError, state)
		assert.Equal(t, "boom", detail)

		// Error state does not block a fresh trigger.
		require.NoError(t, st.AcquireRun(ctx, "inv-run"))
		require.NoError(t, st.ReleaseRun(ctx, "inv-run", model.RunStateReady, ""))
	})

	t.Run("baseline optimistic versioning", func(t *testing.T) {
		baseline := &model.PriceBaseline{
			CategoryKey: "hsn:8414",
			MedianPrice: 100,
			Scale:       5,
			SampleCount: 6,
		}
		require.NoError(t, st.PutBaseline(ctx, baseline))

		got, err := st.GetBaseline(ctx, "hsn:8414")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)

		// Writing with a stale version loses.
		stale := *got
		stale.Version = 0
		assert.ErrorIs(t, st.PutBaseline(ctx, &stale), ErrVersionConflict)

		// Writing with the read version wins and bumps.
		got.MedianPrice = 110
		require.NoError(t, st.PutBaseline(ctx, got))
		got, err = st.GetBaseline(ctx, "hsn:8414")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		assert.Equal(t, 110.0, got.MedianPrice)

		list, err := st.ListBaselines(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("policy state optimistic versioning", func(t *testing.T) {
		state := &model.PolicyState{
			BucketKey: "lt10k|new|INR",
			Weights:   map[string]float64{"market_outlier": 0.5, "arithmetic": 0.5},
			Trials:    1,
		}
		require.NoError(t, st.PutPolicyState(ctx, state))

		got, err := st.GetPolicyState(ctx, "lt10k|new|INR")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, 0.5, got.Weights["market_outlier"])

		stale := *got
		stale.Version = 5
		assert.ErrorIs(t, st.PutPolicyState(ctx, &stale), ErrVersionConflict)

		list, err := st.ListPolicyStates(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("fingerprint append is idempotent per invoice", func(t *testing.T) {
		entry := model.FingerprintEntry{InvoiceID: "inv-1", InvoiceNo: "A-100", Amount: 1416}
		require.NoError(t, st.AppendFingerprint(ctx, "vendor-1", entry))
		require.NoError(t, st.AppendFingerprint(ctx, "vendor-1", entry))
		require.NoError(t, st.AppendFingerprint(ctx, "vendor-1",
			model.FingerprintEntry{InvoiceID: "inv-2", InvoiceNo: "A-101", Amount: 900}))

		fp, err := st.GetFingerprint(ctx, "vendor-1")
		require.NoError(t, err)
		assert.Len(t, fp.Entries, 2)

		_, err = st.GetFingerprint(ctx, "vendor-2")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	st := NewMemory()
	defer st.Close()
	require.NoError(t, st.Migrate(context.Background()))
	storeSuite(t, st)
}

func TestMemoryStore_CloneIsolation(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	inv := &model.InvoiceSnapshot{
		InvoiceID: "inv-1",
		Lines:     []model.LineItem{{LineNo: 1, UnitPrice: 100}},
	}
	require.NoError(t, st.SaveInvoice(ctx, inv))

	// Mutating the caller's copy must not leak into the store.
	inv.Lines[0].UnitPrice = 999
	got, err := st.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Lines[0].UnitPrice)

	// Mutating a returned copy must not leak either.
	got.Lines[0].UnitPrice = 555
	again, err := st.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, again.Lines[0].UnitPrice)
}
