// Package policy maintains per-context contributor weight vectors and
// adapts them from analyst feedback.
package policy

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/finvela/risk-engine/internal/config"
	"github.com/finvela/risk-engine/internal/model"
	"github.com/finvela/risk-engine/internal/store"
)

// SeedVersion marks scores computed from the static prior, before any
// learned state exists for the bucket.
const SeedVersion = "seed"

// casRetries bounds optimistic-write retries on a contended bucket.
const casRetries = 5

// Policy resolves contributor weights per context bucket and folds
// confirmed analyst feedback back into them.
type Policy struct {
	store  store.Store
	cfg    config.PolicyConfig
	priors map[string]float64
	rand   func() float64
	now    func() time.Time
}

// New creates a Policy. priors is the static weight vector used before a
// bucket has learned anything; it is renormalized on every read.
func New(st store.Store, cfg config.PolicyConfig, priors map[string]float64) *Policy {
	return &Policy{
		store:  st,
		cfg:    cfg,
		priors: priors,
		rand:   rand.Float64,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// BucketKey derives the context bucket for an invoice: amount band, how
// much history the vendor has, and the currency.
func BucketKey(inv *model.InvoiceSnapshot, vendorInvoiceCount int) string {
	return fmt.Sprintf("%s|%s|%s", amountBand(inv.Amount), historyBand(vendorInvoiceCount), inv.Currency)
}

func amountBand(amount float64) string {
	switch {
	case amount < 10_000:
		return "lt10k"
	case amount < 100_000:
		return "10k-1l"
	case amount < 1_000_000:
		return "1l-10l"
	default:
		return "gt10l"
	}
}

func historyBand(count int) string {
	switch {
	case count == 0:
		return "new"
	case count < 10:
		return "seen"
	default:
		return "established"
	}
}

// Resolve returns the weight vector to score an invoice with and the policy
// version to stamp on the result. Disabled policy, a fresh bucket, or an
// epsilon exploration roll all fall back to the prior.
func (p *Policy) Resolve(ctx context.Context, inv *model.InvoiceSnapshot, vendorInvoiceCount int) (map[string]float64, string, error) {
	return p.resolve(ctx, inv, vendorInvoiceCount, true)
}

// ResolveCurrent returns the bucket's current weight vector with the
// exploration roll suppressed. What-if evaluations read weights through
// this path so identical inputs always see the same vector.
func (p *Policy) ResolveCurrent(ctx context.Context, inv *model.InvoiceSnapshot, vendorInvoiceCount int) (map[string]float64, string, error) {
	return p.resolve(ctx, inv, vendorInvoiceCount, false)
}

func (p *Policy) resolve(ctx context.Context, inv *model.InvoiceSnapshot, vendorInvoiceCount int, explore bool) (map[string]float64, string, error) {
	prior := Normalize(p.priors)
	if !p.cfg.Enabled {
		return prior, SeedVersion, nil
	}

	bucket := BucketKey(inv, vendorInvoiceCount)
	state, err := p.store.GetPolicyState(ctx, bucket)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return prior, SeedVersion, nil
		}
		return nil, "", eris.Wrapf(err, "policy: load bucket %s", bucket)
	}

	// Epsilon-greedy exploration keeps the prior arm alive so a bucket can
	// recover from early skewed feedback.
	if explore && p.rand() < p.cfg.Epsilon {
		zap.L().Debug("policy: exploring with prior weights", zap.String("bucket", bucket))
		return prior, SeedVersion, nil
	}

	return Normalize(state.Weights), fmt.Sprintf("%s@v%d", bucket, state.Version), nil
}

// Update folds one confirmed feedback signal into the bucket's weights.
// Contributors that agreed with the analyst gain weight at the configured
// learning rate; the vector is renormalized after every step. Writes use
// optimistic versioning with a bounded retry.
func (p *Policy) Update(ctx context.Context, bucket string, contributions map[string]float64, confirmedRisky bool) error {
	if !p.cfg.Enabled {
		return nil
	}
	if len(contributions) == 0 {
		return eris.New("policy: no contributions to learn from")
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		state, err := p.store.GetPolicyState(ctx, bucket)
		if err != nil {
			if !eris.Is(err, store.ErrNotFound) {
				return eris.Wrapf(err, "policy: load bucket %s", bucket)
			}
			state = &model.PolicyState{BucketKey: bucket, Weights: Normalize(p.priors)}
		}

		state.Weights = p.step(state.Weights, contributions, confirmedRisky)
		state.Trials++
		if confirmedRisky {
			state.CumulativeReward++
		}
		state.UpdatedAt = p.now()

		err = p.store.PutPolicyState(ctx, state)
		if err == nil {
			return nil
		}
		if !eris.Is(err, store.ErrVersionConflict) {
			return eris.Wrapf(err, "policy: put bucket %s", bucket)
		}
		zap.L().Debug("policy: bucket write conflict, retrying",
			zap.String("bucket", bucket),
			zap.Int("attempt", attempt+1),
		)
	}
	return eris.Errorf("policy: bucket %s contended beyond %d attempts", bucket, casRetries)
}

// step moves each weight toward the contributor's per-signal reward by an
// exponential moving average and renormalizes.
func (p *Policy) step(weights, contributions map[string]float64, confirmedRisky bool) map[string]float64 {
	lr := p.cfg.LearningRate
	if lr <= 0 || lr > 1 {
		lr = 0.2
	}

	next := make(map[string]float64, len(weights))
	for name, w := range weights {
		raw := contributions[name]
		// A contributor that scored high on a confirmed-risky invoice was
		// right; one that scored high on a confirmed-clean invoice was wrong.
		reward := raw
		if !confirmedRisky {
			reward = 1 - raw
		}
		next[name] = (1-lr)*w + lr*reward
	}
	return Normalize(next)
}

// Normalize clamps negatives to zero and rescales the vector to sum 1.0.
// A degenerate all-zero vector becomes uniform.
func Normalize(weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	sum := 0.0
	for name, w := range weights {
		if w < 0 {
			w = 0
		}
		out[name] = w
		sum += w
	}
	if sum == 0 {
		if len(out) == 0 {
			return out
		}
		uniform := 1.0 / float64(len(out))
		for name := range out {
			out[name] = uniform
		}
		return out
	}
	for name := range out {
		out[name] /= sum
	}
	return out
}

// Names returns the contributor names in a weight vector, sorted.
func Names(weights map[string]float64) []string {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
