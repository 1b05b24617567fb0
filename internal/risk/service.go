package risk

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/finvela/risk-engine/internal/model"
	"github.com/finvela/risk-engine/internal/store"
)

// BaselineFolder absorbs a scored invoice's prices into the learned
// baselines.
type BaselineFolder interface {
	Fold(ctx context.Context, inv *model.InvoiceSnapshot) error
}

// FingerprintRecorder appends a scored invoice to its vendor's history.
type FingerprintRecorder interface {
	Record(ctx context.Context, inv *model.InvoiceSnapshot) error
}

// FeedbackLearner folds confirmed analyst verdicts back into the policy.
type FeedbackLearner interface {
	Update(ctx context.Context, bucket string, contributions map[string]float64, confirmedRisky bool) error
}

// Service owns the run lifecycle around the orchestrator: run-state
// transitions, score persistence, and post-run learning side effects.
type Service struct {
	store    store.Store
	orch     *Orchestrator
	folder   BaselineFolder
	recorder FingerprintRecorder
	learner  FeedbackLearner
}

// NewService wires the orchestrator to its persistence side effects.
func NewService(st store.Store, orch *Orchestrator, folder BaselineFolder, recorder FingerprintRecorder, learner FeedbackLearner) *Service {
	return &Service{
		store:    st,
		orch:     orch,
		folder:   folder,
		recorder: recorder,
		learner:  learner,
	}
}

// Run executes a full real risk run synchronously: acquire the run slot,
// score, persist, learn. Returns ErrAlreadyRunning if a run for this
// invoice is in progress.
func (s *Service) Run(ctx context.Context, invoiceID string) (*model.RiskScore, error) {
	inv, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := s.acquire(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.execute(ctx, inv)
}

// TriggerAsync acquires the run slot synchronously, so the caller learns
// immediately whether the run was accepted, then completes it in the
// background.
func (s *Service) TriggerAsync(ctx context.Context, invoiceID string) error {
	inv, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if err := s.acquire(ctx, invoiceID); err != nil {
		return err
	}
	go func() {
		// Detached from the request context: an aborted HTTP request must not
		// abandon a run that was already accepted.
		if _, err := s.execute(context.Background(), inv); err != nil {
			zap.L().Error("risk: background run failed",
				zap.String("invoice_id", invoiceID),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// GetScore returns the current composite score for an invoice.
func (s *Service) GetScore(ctx context.Context, invoiceID string) (*model.RiskScore, error) {
	score, err := s.store.GetRiskScore(ctx, invoiceID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return nil, ErrNotComputed
		}
		return nil, eris.Wrapf(err, "risk: load score %s", invoiceID)
	}
	return score, nil
}

// RunStatus reports the invoice's run state and any error detail.
func (s *Service) RunStatus(ctx context.Context, invoiceID string) (model.RunState, string, error) {
	state, detail, err := s.store.GetRunState(ctx, invoiceID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return model.RunStatePending, "", nil
		}
		return "", "", eris.Wrapf(err, "risk: load run state %s", invoiceID)
	}
	return state, detail, nil
}

// Feedback records an analyst's confirmed verdict on a scored invoice and
// lets the policy learn from it.
func (s *Service) Feedback(ctx context.Context, invoiceID string, confirmedRisky bool) error {
	score, err := s.GetScore(ctx, invoiceID)
	if err != nil {
		return err
	}
	inv, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	bucket, err := s.orch.Bucket(ctx, inv)
	if err != nil {
		return err
	}

	contributions := make(map[string]float64, len(score.Contributors))
	for _, c := range score.Contributors {
		contributions[c.Name] = c.RawScore
	}
	return s.learner.Update(ctx, bucket, contributions, confirmedRisky)
}

func (s *Service) loadInvoice(ctx context.Context, invoiceID string) (*model.InvoiceSnapshot, error) {
	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(store.ErrNotFound, "risk: invoice %s", invoiceID)
		}
		return nil, eris.Wrapf(err, "risk: load invoice %s", invoiceID)
	}
	return inv, nil
}

func (s *Service) acquire(ctx context.Context, invoiceID string) error {
	if err := s.store.AcquireRun(ctx, invoiceID); err != nil {
		if eris.Is(err, store.ErrRunInProgress) {
			return ErrAlreadyRunning
		}
		return eris.Wrapf(err, "risk: acquire run %s", invoiceID)
	}
	return nil
}

// execute runs the scoring pipeline after the run slot has been acquired.
// Any failure releases the slot into the error state with detail, so the
// invoice can be retriggered.
func (s *Service) execute(ctx context.Context, inv *model.InvoiceSnapshot) (*model.RiskScore, error) {
	score, err := s.orch.Compute(ctx, inv, model.RunModeReal)
	if err != nil {
		s.release(ctx, inv.InvoiceID, model.RunStateError, eris.ToString(err, false))
		return nil, err
	}
	if err := s.store.SaveRiskScore(ctx, score); err != nil {
		err = eris.Wrapf(err, "risk: save score %s", inv.InvoiceID)
		s.release(ctx, inv.InvoiceID, model.RunStateError, eris.ToString(err, false))
		return nil, err
	}

	s.learn(ctx, inv, score)

	s.release(ctx, inv.InvoiceID, model.RunStateReady, "")
	zap.L().Info("risk: run complete",
		zap.String("invoice_id", inv.InvoiceID),
		zap.Float64("composite", score.Composite),
		zap.String("policy_version", score.PolicyVersion),
	)
	return score, nil
}

// learn applies post-run side effects. Prices from invoices that failed the
// arithmetic check or matched a duplicate are kept out of the baselines;
// learning failures degrade the run, they do not fail it.
func (s *Service) learn(ctx context.Context, inv *model.InvoiceSnapshot, score *model.RiskScore) {
	arithClean := true
	if c := score.Contributor("arithmetic"); c != nil && c.RawScore > 0 {
		arithClean = false
	}
	likelyDuplicate := false
	if c := score.Contributor("duplicate"); c != nil && c.RawScore >= 1 {
		likelyDuplicate = true
	}

	if arithClean && !likelyDuplicate {
		if err := s.folder.Fold(ctx, inv); err != nil {
			zap.L().Warn("risk: baseline fold failed",
				zap.String("invoice_id", inv.InvoiceID),
				zap.Error(err),
			)
		}
	}
	if err := s.recorder.Record(ctx, inv); err != nil {
		zap.L().Warn("risk: fingerprint record failed",
			zap.String("invoice_id", inv.InvoiceID),
			zap.Error(err),
		)
	}
}

func (s *Service) release(ctx context.Context, invoiceID string, state model.RunState, detail string) {
	if err := s.store.ReleaseRun(ctx, invoiceID, state, detail); err != nil {
		zap.L().Error("risk: release run failed",
			zap.String("invoice_id", invoiceID),
			zap.String("state", string(state)),
			zap.Error(err),
		)
	}
}
