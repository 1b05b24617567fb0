// Package benchmark maintains robust per-category price baselines and
// scores unit prices against them.
package benchmark

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/finvela/risk-engine/internal/config"
	"github.com/finvela/risk-engine/internal/model"
	"github.com/finvela/risk-engine/internal/store"
	"github.com/finvela/risk-engine/internal/textnorm"
)

// madToSigma rescales a MAD-based deviation so it is comparable to a
// standard deviation under normality.
const madToSigma = 0.6745

// casRetries bounds optimistic-write retries on a contended bucket.
const casRetries = 5

// Engine is the price-anomaly contributor and the owner of PriceBaseline
// records.
type Engine struct {
	store       store.Store
	cfg         config.BenchmarkConfig
	topOutliers int
}

// NewEngine creates a benchmark Engine. topOutliers caps how many outlier
// lines are retained in details.
func NewEngine(st store.Store, cfg config.BenchmarkConfig, topOutliers int) *Engine {
	if topOutliers <= 0 {
		topOutliers = 4
	}
	return &Engine{store: st, cfg: cfg, topOutliers: topOutliers}
}

func (e *Engine) Name() string { return "market_outlier" }

// BucketKey derives the baseline bucket for a line: the HSN code when
// declared, otherwise the normalized description.
func BucketKey(line model.LineItem) string {
	if key := textnorm.NormalizeID(line.HSNCode); key != "" {
		return "hsn:" + key
	}
	if key := textnorm.Normalize(line.Description); key != "" {
		return "desc:" + key
	}
	return ""
}

type lineVerdict struct {
	LineNo       int     `json:"line_no"`
	CategoryKey  string  `json:"category_key"`
	UnitPrice    float64 `json:"unit_price"`
	Median       float64 `json:"median"`
	Scale        float64 `json:"scale"`
	SampleCount  int     `json:"sample_count"`
	RobustZ      float64 `json:"robust_z"`
	OutlierScore float64 `json:"outlier_score"`
}

// Evaluate scores each line against its bucket baseline and returns the
// worst line's outlier score: one egregious line must not be diluted by
// many normal ones.
func (e *Engine) Evaluate(ctx context.Context, inv *model.InvoiceSnapshot) (model.Evaluation, error) {
	if len(inv.Lines) == 0 {
		return model.Evaluation{
			Raw:     0,
			Details: map[string]any{"status": "insufficient_data", "reason": "invoice has no line items"},
		}, nil
	}

	var verdicts []lineVerdict
	var insufficient []map[string]any
	raw := 0.0

	for _, line := range inv.Lines {
		key := BucketKey(line)
		if key == "" {
			insufficient = append(insufficient, map[string]any{
				"line_no": line.LineNo,
				"status":  "insufficient_data",
				"reason":  "no category key",
			})
			continue
		}

		baseline, err := e.store.GetBaseline(ctx, key)
		if err != nil && !eris.Is(err, store.ErrNotFound) {
			return model.Evaluation{}, eris.Wrapf(err, "benchmark: load baseline %s", key)
		}
		if baseline == nil || baseline.SampleCount < e.cfg.MinSamples {
			count := 0
			if baseline != nil {
				count = baseline.SampleCount
			}
			insufficient = append(insufficient, map[string]any{
				"line_no":      line.LineNo,
				"status":       "insufficient_data",
				"category_key": key,
				"sample_count": count,
				"min_samples":  e.cfg.MinSamples,
			})
			continue
		}

		z := e.robustZ(line.UnitPrice, baseline)
		score := clamp(math.Abs(z)/e.cfg.ZCap, 0, 1)
		if score > raw {
			raw = score
		}
		verdicts = append(verdicts, lineVerdict{
			LineNo:       line.LineNo,
			CategoryKey:  key,
			UnitPrice:    line.UnitPrice,
			Median:       baseline.MedianPrice,
			Scale:        baseline.Scale,
			SampleCount:  baseline.SampleCount,
			RobustZ:      z,
			OutlierScore: score,
		})
	}

	sort.Slice(verdicts, func(i, j int) bool {
		return verdicts[i].OutlierScore > verdicts[j].OutlierScore
	})
	if len(verdicts) > e.topOutliers {
		verdicts = verdicts[:e.topOutliers]
	}

	details := map[string]any{"z_cap": e.cfg.ZCap}
	if len(verdicts) > 0 {
		details["top_outliers"] = verdicts
	}
	if len(insufficient) > 0 {
		details["insufficient_lines"] = insufficient
	}
	if len(verdicts) == 0 {
		details["status"] = "insufficient_data"
	}
	return model.Evaluation{Raw: raw, Details: details}, nil
}

// robustZ computes the MAD-scaled deviation of price from the bucket
// median. Scale is floored to keep a zero MAD from blowing up the ratio.
func (e *Engine) robustZ(price float64, baseline *model.PriceBaseline) float64 {
	scale := math.Max(baseline.Scale, e.cfg.ScaleFloor)
	return madToSigma * (price - baseline.MedianPrice) / scale
}

// Fold records the invoice's line prices into their bucket baselines and
// recomputes median and MAD. Folding the same invoice twice is a no-op:
// each baseline tracks the invoice IDs already folded.
func (e *Engine) Fold(ctx context.Context, inv *model.InvoiceSnapshot) error {
	perBucket := make(map[string][]model.PriceObservation)
	order := make([]string, 0)
	for _, line := range inv.Lines {
		key := BucketKey(line)
		if key == "" {
			continue
		}
		if _, ok := perBucket[key]; !ok {
			order = append(order, key)
		}
		perBucket[key] = append(perBucket[key], model.PriceObservation{
			InvoiceID:  inv.InvoiceID,
			UnitPrice:  line.UnitPrice,
			ObservedAt: time.Now().UTC(),
		})
	}

	for _, key := range order {
		if err := e.foldBucket(ctx, key, inv.InvoiceID, perBucket[key]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) foldBucket(ctx context.Context, key, invoiceID string, observations []model.PriceObservation) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		baseline, err := e.store.GetBaseline(ctx, key)
		if err != nil && !eris.Is(err, store.ErrNotFound) {
			return eris.Wrapf(err, "benchmark: load baseline %s", key)
		}
		if baseline == nil {
			baseline = &model.PriceBaseline{CategoryKey: key}
		}
		if baseline.SeenInvoice(invoiceID) {
			return nil
		}

		baseline.Observations = append(baseline.Observations, observations...)
		baseline.SampleCount = len(baseline.Observations)
		baseline.MedianPrice, baseline.Scale = medianAndMAD(baseline.Observations)

		err = e.store.PutBaseline(ctx, baseline)
		if err == nil {
			return nil
		}
		if !eris.Is(err, store.ErrVersionConflict) {
			return eris.Wrapf(err, "benchmark: put baseline %s", key)
		}
		zap.L().Debug("benchmark: baseline write conflict, retrying",
			zap.String("category_key", key),
			zap.Int("attempt", attempt+1),
		)
	}
	return eris.Errorf("benchmark: baseline %s contended beyond %d attempts", key, casRetries)
}

// medianAndMAD recomputes the robust statistics from the full observation
// set rather than streaming averages, so refolds cannot drift.
func medianAndMAD(observations []model.PriceObservation) (med, mad float64) {
	prices := make([]float64, len(observations))
	for i, obs := range observations {
		prices[i] = obs.UnitPrice
	}
	med = median(prices)
	deviations := make([]float64, len(prices))
	for i, p := range prices {
		deviations[i] = math.Abs(p - med)
	}
	mad = median(deviations)
	return med, mad
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
