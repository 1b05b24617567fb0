package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvela/risk-engine/internal/config"
	"github.com/finvela/risk-engine/internal/model"
	"github.com/finvela/risk-engine/internal/store"
)

func priors() map[string]float64 {
	return map[string]float64{
		"market_outlier": 0.30,
		"arithmetic":     0.25,
		"duplicate":      0.25,
		"gst_compliance": 0.20,
	}
}

func polConfig() config.PolicyConfig {
	return config.PolicyConfig{Enabled: true, Epsilon: 0.1, LearningRate: 0.2}
}

func assertWeightVector(t *testing.T, weights map[string]float64) {
	t.Helper()
	sum := 0.0
	for name, w := range weights {
		assert.GreaterOrEqual(t, w, 0.0, name)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9, "weights must sum to 1.0")
}

func TestBucketKey(t *testing.T) {
	inv := &model.InvoiceSnapshot{Amount: 920400, Currency: "INR"}
	assert.Equal(t, "1l-10l|new|INR", BucketKey(inv, 0))
	assert.Equal(t, "1l-10l|seen|INR", BucketKey(inv, 3))
	assert.Equal(t, "1l-10l|established|INR", BucketKey(inv, 25))

	small := &model.InvoiceSnapshot{Amount: 500, Currency: "INR"}
	assert.Equal(t, "lt10k|new|INR", BucketKey(small, 0))

	large := &model.InvoiceSnapshot{Amount: 5_000_000, Currency: "USD"}
	assert.Equal(t, "gt10l|new|USD", BucketKey(large, 0))
}

func TestNormalize(t *testing.T) {
	assertWeightVector(t, Normalize(priors()))
	assertWeightVector(t, Normalize(map[string]float64{"a": 3, "b": 1}))
	assertWeightVector(t, Normalize(map[string]float64{"a": -5, "b": 2}))

	uniform := Normalize(map[string]float64{"a": 0, "b": 0})
	assert.Equal(t, 0.5, uniform["a"])
	assert.Equal(t, 0.5, uniform["b"])

	negOnly := Normalize(map[string]float64{"a": -1, "b": -2})
	assertWeightVector(t, negOnly)
}

func TestPolicy_ResolveFreshBucket(t *testing.T) {
	p := New(store.NewMemory(), polConfig(), priors())
	p.rand = func() float64 { return 0.99 } // never explore

	inv := &model.InvoiceSnapshot{Amount: 500, Currency: "INR"}
	weights, version, err := p.Resolve(context.Background(), inv, 0)
	require.NoError(t, err)
	assert.Equal(t, SeedVersion, version)
	assertWeightVector(t, weights)
	assert.InDelta(t, 0.30, weights["market_outlier"], 1e-9)
}

func TestPolicy_ResolveDisabled(t *testing.T) {
	cfg := polConfig()
	cfg.Enabled = false
	p := New(store.NewMemory(), cfg, priors())

	weights, version, err := p.Resolve(context.Background(), &model.InvoiceSnapshot{Amount: 500, Currency: "INR"}, 0)
	require.NoError(t, err)
	assert.Equal(t, SeedVersion, version)
	assertWeightVector(t, weights)
}

func TestPolicy_ResolveLearnedBucket(t *testing.T) {
	st := store.NewMemory()
	p := New(st, polConfig(), priors())
	p.rand = func() float64 { return 0.99 }

	inv := &model.InvoiceSnapshot{Amount: 500, Currency: "INR"}
	bucket := BucketKey(inv, 0)
	require.NoError(t, st.PutPolicyState(context.Background(), &model.PolicyState{
		BucketKey: bucket,
		Weights:   map[string]float64{"market_outlier": 0.7, "arithmetic": 0.1, "duplicate": 0.1, "gst_compliance": 0.1},
	}))

	weights, version, err := p.Resolve(context.Background(), inv, 0)
	require.NoError(t, err)
	assert.Equal(t, bucket+"@v1", version)
	assert.InDelta(t, 0.7, weights["market_outlier"], 1e-9)
	assertWeightVector(t, weights)
}

func TestPolicy_ResolveExplores(t *testing.T) {
	st := store.NewMemory()
	p := New(st, polConfig(), priors())
	p.rand = func() float64 { return 0.0 } // always explore

	inv := &model.InvoiceSnapshot{Amount: 500, Currency: "INR"}
	bucket := BucketKey(inv, 0)
	require.NoError(t, st.PutPolicyState(context.Background(), &model.PolicyState{
		BucketKey: bucket,
		Weights:   map[string]float64{"market_outlier": 1},
	}))

	weights, version, err := p.Resolve(context.Background(), inv, 0)
	require.NoError(t, err)
	assert.Equal(t, SeedVersion, version, "exploration falls back to the prior")
	assert.InDelta(t, 0.30, weights["market_outlier"], 1e-9)
}

func TestPolicy_ResolveCurrentNeverExplores(t *testing.T) {
	st := store.NewMemory()
	p := New(st, polConfig(), priors())
	p.rand = func() float64 { return 0.0 } // Resolve would explore

	inv := &model.InvoiceSnapshot{Amount: 500, Currency: "INR"}
	bucket := BucketKey(inv, 0)
	require.NoError(t, st.PutPolicyState(context.Background(), &model.PolicyState{
		BucketKey: bucket,
		Weights:   map[string]float64{"market_outlier": 0.7, "arithmetic": 0.1, "duplicate": 0.1, "gst_compliance": 0.1},
	}))

	weights, version, err := p.ResolveCurrent(context.Background(), inv, 0)
	require.NoError(t, err)
	assert.Equal(t, bucket+"@v1", version)
	assert.InDelta(t, 0.7, weights["market_outlier"], 1e-9)
	assertWeightVector(t, weights)
}

func TestPolicy_ResolveCurrentFreshBucket(t *testing.T) {
	p := New(store.NewMemory(), polConfig(), priors())

	weights, version, err := p.ResolveCurrent(context.Background(), &model.InvoiceSnapshot{Amount: 500, Currency: "INR"}, 0)
	require.NoError(t, err)
	assert.Equal(t, SeedVersion, version)
	assertWeightVector(t, weights)
}

func TestPolicy_UpdateConfirmedRisky(t *testing.T) {
	st := store.NewMemory()
	p := New(st, polConfig(), priors())

	// Only market_outlier flagged; the analyst confirmed the invoice risky,
	// so its weight should grow.
	contributions := map[string]float64{
		"market_outlier": 0.9,
		"arithmetic":     0.0,
		"duplicate":      0.0,
		"gst_compliance": 0.0,
	}
	require.NoError(t, p.Update(context.Background(), "lt10k|new|INR", contributions, true))

	state, err := st.GetPolicyState(context.Background(), "lt10k|new|INR")
	require.NoError(t, err)
	assertWeightVector(t, state.Weights)
	assert.Greater(t, state.Weights["market_outlier"], 0.30)
	assert.Less(t, state.Weights["arithmetic"], 0.25)
	assert.Equal(t, 1, state.Trials)
	assert.Equal(t, 1.0, state.CumulativeReward)
}

func TestPolicy_UpdateConfirmedClean(t *testing.T) {
	st := store.NewMemory()
	p := New(st, polConfig(), priors())

	// market_outlier flagged but the analyst cleared the invoice: a false
	// positive should cost it weight.
	contributions := map[string]float64{
		"market_outlier": 0.9,
		"arithmetic":     0.0,
		"duplicate":      0.0,
		"gst_compliance": 0.0,
	}
	require.NoError(t, p.Update(context.Background(), "lt10k|new|INR", contributions, false))

	state, err := st.GetPolicyState(context.Background(), "lt10k|new|INR")
	require.NoError(t, err)
	assertWeightVector(t, state.Weights)
	assert.Less(t, state.Weights["market_outlier"], 0.30)
	assert.Equal(t, 0.0, state.CumulativeReward)
}

func TestPolicy_UpdateAccumulates(t *testing.T) {
	st := store.NewMemory()
	p := New(st, polConfig(), priors())

	contributions := map[string]float64{"market_outlier": 1, "arithmetic": 0, "duplicate": 0, "gst_compliance": 0}
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Update(context.Background(), "lt10k|new|INR", contributions, true))
	}

	state, err := st.GetPolicyState(context.Background(), "lt10k|new|INR")
	require.NoError(t, err)
	assert.Equal(t, 3, state.Trials)
	assert.Equal(t, int64(3), state.Version)
	assertWeightVector(t, state.Weights)
}

func TestPolicy_UpdateDisabled(t *testing.T) {
	st := store.NewMemory()
	cfg := polConfig()
	cfg.Enabled = false
	p := New(st, cfg, priors())

	require.NoError(t, p.Update(context.Background(), "lt10k|new|INR", map[string]float64{"a": 1}, true))
	_, err := st.GetPolicyState(context.Background(), "lt10k|new|INR")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPolicy_UpdateNoContributions(t *testing.T) {
	p := New(store.NewMemory(), polConfig(), priors())
	assert.Error(t, p.Update(context.Background(), "lt10k|new|INR", nil, true))
}
