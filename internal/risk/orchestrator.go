// Package risk composes contributor scores into an explainable composite
// risk verdict and drives the per-invoice run lifecycle.
package risk

import (
	"context"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/finvela/risk-engine/internal/config"
	"github.com/finvela/risk-engine/internal/model"
	"github.com/finvela/risk-engine/internal/policy"
	"github.com/finvela/risk-engine/internal/store"
)

// Contributor is one independent risk signal. Evaluate must treat malformed
// invoice data as a scoring concern (insufficient data, not an error) and
// reserve the error return for infrastructure failures.
type Contributor interface {
	Name() string
	Evaluate(ctx context.Context, inv *model.InvoiceSnapshot) (model.Evaluation, error)
}

// Orchestrator fans an invoice out to every registered contributor and
// folds the results into a weighted composite.
type Orchestrator struct {
	contributors []Contributor
	policy       *policy.Policy
	store        store.Store
	cfg          config.RiskConfig
	now          func() time.Time
}

// NewOrchestrator creates an Orchestrator. Contributor registration order is
// preserved in every RiskScore so explanations are stable across runs.
func NewOrchestrator(st store.Store, pol *policy.Policy, cfg config.RiskConfig, contributors ...Contributor) *Orchestrator {
	return &Orchestrator{
		contributors: contributors,
		policy:       pol,
		store:        st,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Compute evaluates all contributors concurrently and returns the composite
// score. The composite is the weight-normalized sum of clamped raw scores,
// itself clamped to [0, 1].
func (o *Orchestrator) Compute(ctx context.Context, inv *model.InvoiceSnapshot, mode model.RunMode) (*model.RiskScore, error) {
	resolved, version, err := o.ResolveWeights(ctx, inv, mode)
	if err != nil {
		return nil, err
	}
	return o.ComputeWith(ctx, inv, mode, resolved, version)
}

// ResolveWeights returns the weight vector and policy version the invoice
// would be scored with. Counterfactual mode reads the bucket's current
// weights without an exploration roll, so identical inputs always resolve
// the same vector.
func (o *Orchestrator) ResolveWeights(ctx context.Context, inv *model.InvoiceSnapshot, mode model.RunMode) (map[string]float64, string, error) {
	history, err := o.VendorHistory(ctx, inv)
	if err != nil {
		return nil, "", err
	}
	if mode == model.RunModeCounterfactual {
		return o.policy.ResolveCurrent(ctx, inv, history)
	}
	return o.policy.Resolve(ctx, inv, history)
}

// ComputeWith scores the invoice under an already-resolved weight vector.
// The simulator holds one vector across the original and the patched
// snapshot so their composites stay directly comparable.
func (o *Orchestrator) ComputeWith(ctx context.Context, inv *model.InvoiceSnapshot, mode model.RunMode, resolved map[string]float64, version string) (*model.RiskScore, error) {
	if len(o.contributors) == 0 {
		return nil, eris.New("risk: no contributors registered")
	}
	weights := o.restrict(resolved)

	evals := make([]model.Evaluation, len(o.contributors))
	g, gctx := errgroup.WithContext(ctx)
	for i, contrib := range o.contributors {
		i, contrib := i, contrib
		g.Go(func() error {
			eval, err := contrib.Evaluate(gctx, inv)
			if err != nil {
				return eris.Wrapf(err, "risk: contributor %s", contrib.Name())
			}
			evals[i] = eval
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]model.ContributorResult, len(o.contributors))
	composite := 0.0
	for i, contrib := range o.contributors {
		name := contrib.Name()
		raw := clamp01(evals[i].Raw)
		w := weights[name]
		results[i] = model.ContributorResult{
			Name:         name,
			RawScore:     raw,
			Weight:       w,
			Contribution: raw * w,
			Details:      o.capDetails(evals[i].Details),
		}
		composite += raw * w
	}
	composite = clamp01(composite)

	zap.L().Debug("risk: composite computed",
		zap.String("invoice_id", inv.InvoiceID),
		zap.String("mode", string(mode)),
		zap.Float64("composite", composite),
		zap.String("policy_version", version),
	)

	return &model.RiskScore{
		InvoiceID:     inv.InvoiceID,
		Composite:     composite,
		Contributors:  results,
		PolicyVersion: version,
		ComputedAt:    o.now(),
	}, nil
}

// VendorHistory counts the vendor's prior invoices, excluding this one.
func (o *Orchestrator) VendorHistory(ctx context.Context, inv *model.InvoiceSnapshot) (int, error) {
	vendorKey := inv.VendorKey()
	if vendorKey == "" {
		return 0, nil
	}
	fp, err := o.store.GetFingerprint(ctx, vendorKey)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "risk: load vendor history %s", vendorKey)
	}
	count := 0
	for _, entry := range fp.Entries {
		if entry.InvoiceID != inv.InvoiceID {
			count++
		}
	}
	return count, nil
}

// Bucket returns the policy bucket the invoice falls into.
func (o *Orchestrator) Bucket(ctx context.Context, inv *model.InvoiceSnapshot) (string, error) {
	history, err := o.VendorHistory(ctx, inv)
	if err != nil {
		return "", err
	}
	return policy.BucketKey(inv, history), nil
}

// restrict projects the resolved weight vector onto the registered
// contributor set and renormalizes, so an unknown name in stored state
// cannot leak weight out of the composite.
func (o *Orchestrator) restrict(resolved map[string]float64) map[string]float64 {
	restricted := make(map[string]float64, len(o.contributors))
	for _, contrib := range o.contributors {
		restricted[contrib.Name()] = resolved[contrib.Name()]
	}
	return policy.Normalize(restricted)
}

// capDetails bounds how many entries a contributor's detail map may carry
// in the persisted explanation. Scalar entries like status survive the cut;
// list and map values are dropped first since they carry the bulk.
func (o *Orchestrator) capDetails(details map[string]any) map[string]any {
	limit := o.cfg.MaxContribDetails
	if limit <= 0 || len(details) <= limit {
		return details
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		bi, bj := bulkyDetail(details[keys[i]]), bulkyDetail(details[keys[j]])
		if bi != bj {
			return !bi
		}
		return keys[i] < keys[j]
	})
	capped := make(map[string]any, limit+1)
	for _, k := range keys[:limit] {
		capped[k] = details[k]
	}
	capped["truncated"] = len(details) - limit
	return capped
}

func bulkyDetail(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	default:
		return false
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(v, 1))
}
