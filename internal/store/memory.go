package store

import (
	"context"
	"sync"
	"time"

	"github.com/finvela/risk-engine/internal/model"
)

// MemoryStore is an in-memory Store used by unit tests and the simulate
// command when no database is configured.
type MemoryStore struct {
	mu           sync.Mutex
	invoices     map[string]*model.InvoiceSnapshot
	scores       map[string]*model.RiskScore
	runStates    map[string]runRecord
	baselines    map[string]*model.PriceBaseline
	policies     map[string]*model.PolicyState
	fingerprints map[string]*model.VendorFingerprint
}

type runRecord struct {
	state  model.RunState
	detail string
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		invoices:     make(map[string]*model.InvoiceSnapshot),
		scores:       make(map[string]*model.RiskScore),
		runStates:    make(map[string]runRecord),
		baselines:    make(map[string]*model.PriceBaseline),
		policies:     make(map[string]*model.PolicyState),
		fingerprints: make(map[string]*model.VendorFingerprint),
	}
}

func (m *MemoryStore) SaveInvoice(_ context.Context, inv *model.InvoiceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.InvoiceID] = inv.Clone()
	return nil
}

func (m *MemoryStore) GetInvoice(_ context.Context, invoiceID string) (*model.InvoiceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return nil, ErrNotFound
	}
	return inv.Clone(), nil
}

func (m *MemoryStore) SaveRiskScore(_ context.Context, score *model.RiskScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *score
	cp.Contributors = append([]model.ContributorResult(nil), score.Contributors...)
	m.scores[score.InvoiceID] = &cp
	return nil
}

func (m *MemoryStore) GetRiskScore(_ context.Context, invoiceID string) (*model.RiskScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	score, ok := m.scores[invoiceID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *score
	cp.Contributors = append([]model.ContributorResult(nil), score.Contributors...)
	return &cp, nil
}

func (m *MemoryStore) AcquireRun(_ context.Context, invoiceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.runStates[invoiceID]; ok && rec.state == model.RunStateInProgress {
		return ErrRunInProgress
	}
	m.runStates[invoiceID] = runRecord{state: model.RunStateInProgress}
	return nil
}

func (m *MemoryStore) ReleaseRun(_ context.Context, invoiceID string, state model.RunState, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runStates[invoiceID] = runRecord{state: state, detail: detail}
	return nil
}

func (m *MemoryStore) GetRunState(_ context.Context, invoiceID string) (model.RunState, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.runStates[invoiceID]
	if !ok {
		return model.RunStatePending, "", nil
	}
	return rec.state, rec.detail, nil
}

func (m *MemoryStore) GetBaseline(_ context.Context, categoryKey string) (*model.PriceBaseline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.baselines[categoryKey]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBaseline(b), nil
}

func (m *MemoryStore) PutBaseline(_ context.Context, baseline *model.PriceBaseline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.baselines[baseline.CategoryKey]
	if exists && current.Version != baseline.Version {
		return ErrVersionConflict
	}
	if !exists && baseline.Version != 0 {
		return ErrVersionConflict
	}
	cp := cloneBaseline(baseline)
	cp.Version = baseline.Version + 1
	cp.LastUpdated = time.Now().UTC()
	m.baselines[baseline.CategoryKey] = cp
	return nil
}

func (m *MemoryStore) ListBaselines(_ context.Context) ([]model.PriceBaseline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.PriceBaseline, 0, len(m.baselines))
	for _, b := range m.baselines {
		out = append(out, *cloneBaseline(b))
	}
	return out, nil
}

func (m *MemoryStore) GetPolicyState(_ context.Context, bucketKey string) (*model.PolicyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[bucketKey]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePolicy(p), nil
}

func (m *MemoryStore) PutPolicyState(_ context.Context, state *model.PolicyState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.policies[state.BucketKey]
	if exists && current.Version != state.Version {
		return ErrVersionConflict
	}
	if !exists && state.Version != 0 {
		return ErrVersionConflict
	}
	cp := clonePolicy(state)
	cp.Version = state.Version + 1
	cp.UpdatedAt = time.Now().UTC()
	m.policies[state.BucketKey] = cp
	return nil
}

func (m *MemoryStore) ListPolicyStates(_ context.Context) ([]model.PolicyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.PolicyState, 0, len(m.policies))
	for _, p := range m.policies {
		out = append(out, *clonePolicy(p))
	}
	return out, nil
}

func (m *MemoryStore) GetFingerprint(_ context.Context, vendorKey string) (*model.VendorFingerprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fp, ok := m.fingerprints[vendorKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := model.VendorFingerprint{
		VendorKey: fp.VendorKey,
		Entries:   append([]model.FingerprintEntry(nil), fp.Entries...),
	}
	return &cp, nil
}

func (m *MemoryStore) AppendFingerprint(_ context.Context, vendorKey string, entry model.FingerprintEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fp, ok := m.fingerprints[vendorKey]
	if !ok {
		fp = &model.VendorFingerprint{VendorKey: vendorKey}
		m.fingerprints[vendorKey] = fp
	}
	for _, existing := range fp.Entries {
		if existing.InvoiceID == entry.InvoiceID {
			return nil // append-only, but reprocessing must not duplicate
		}
	}
	fp.Entries = append(fp.Entries, entry)
	return nil
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func cloneBaseline(b *model.PriceBaseline) *model.PriceBaseline {
	cp := *b
	cp.Observations = append([]model.PriceObservation(nil), b.Observations...)
	return &cp
}

func clonePolicy(p *model.PolicyState) *model.PolicyState {
	cp := *p
	cp.Weights = make(map[string]float64, len(p.Weights))
	for k, v := range p.Weights {
		cp.Weights[k] = v
	}
	return &cp
}
