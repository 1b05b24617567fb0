package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/finvela/risk-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrVersionConflict is returned when an optimistic write loses the race:
// the record's version no longer matches the one the caller read.
var ErrVersionConflict = eris.New("store: version conflict")

// Store defines the persistence interface for the risk engine.
//
// Baselines and policy states carry a version counter. Writers must pass
// back the version they read; the store bumps it on success and returns
// ErrVersionConflict on mismatch. This keeps per-bucket writes serialized
// without broad locks.
type Store interface {
	// Invoices
	SaveInvoice(ctx context.Context, inv *model.InvoiceSnapshot) error
	GetInvoice(ctx context.Context, invoiceID string) (*model.InvoiceSnapshot, error)

	// Risk scores: overwrite-in-place, at most one current score per invoice.
	SaveRiskScore(ctx context.Context, score *model.RiskScore) error
	GetRiskScore(ctx context.Context, invoiceID string) (*model.RiskScore, error)

	// Run state machine. AcquireRun atomically moves the invoice's run state
	// to in_progress and fails with ErrRunInProgress if it already is.
	AcquireRun(ctx context.Context, invoiceID string) error
	ReleaseRun(ctx context.Context, invoiceID string, state model.RunState, detail string) error
	GetRunState(ctx context.Context, invoiceID string) (model.RunState, string, error)

	// Price baselines
	GetBaseline(ctx context.Context, categoryKey string) (*model.PriceBaseline, error)
	PutBaseline(ctx context.Context, baseline *model.PriceBaseline) error
	ListBaselines(ctx context.Context) ([]model.PriceBaseline, error)

	// Policy state
	GetPolicyState(ctx context.Context, bucketKey string) (*model.PolicyState, error)
	PutPolicyState(ctx context.Context, state *model.PolicyState) error
	ListPolicyStates(ctx context.Context) ([]model.PolicyState, error)

	// Vendor fingerprints: append-only per vendor.
	GetFingerprint(ctx context.Context, vendorKey string) (*model.VendorFingerprint, error)
	AppendFingerprint(ctx context.Context, vendorKey string, entry model.FingerprintEntry) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ErrRunInProgress is returned by AcquireRun when a real run is already
// in progress for the invoice.
var ErrRunInProgress = eris.New("store: run already in progress")
