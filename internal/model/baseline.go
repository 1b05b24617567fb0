package model

import "time"

// PriceObservation is one unit price folded into a baseline, tagged with the
// invoice it came from so reprocessing the same invoice never double-counts.
type PriceObservation struct {
	InvoiceID  string    `json:"invoice_id"`
	UnitPrice  float64   `json:"unit_price"`
	ObservedAt time.Time `json:"observed_at"`
}

// PriceBaseline is the robust price statistic for one category bucket.
// Scale is the median absolute deviation. SampleCount never shrinks.
// Version supports optimistic concurrency on writes.
type PriceBaseline struct {
	CategoryKey  string             `json:"category_key"`
	MedianPrice  float64            `json:"median_price"`
	Scale        float64            `json:"scale"`
	SampleCount  int                `json:"sample_count"`
	Observations []PriceObservation `json:"observations"`
	Version      int64              `json:"version"`
	LastUpdated  time.Time          `json:"last_updated"`
}

// SeenInvoice reports whether the invoice already contributed observations.
func (b *PriceBaseline) SeenInvoice(invoiceID string) bool {
	for _, obs := range b.Observations {
		if obs.InvoiceID == invoiceID {
			return true
		}
	}
	return false
}
