package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/finvela/risk-engine/internal/arith"
	"github.com/finvela/risk-engine/internal/benchmark"
	"github.com/finvela/risk-engine/internal/compliance"
	"github.com/finvela/risk-engine/internal/duplicate"
	"github.com/finvela/risk-engine/internal/policy"
	"github.com/finvela/risk-engine/internal/risk"
	"github.com/finvela/risk-engine/internal/simulate"
	"github.com/finvela/risk-engine/internal/store"
)

// engineEnv holds the store and the wired scoring components needed by the
// run/serve/simulate commands.
type engineEnv struct {
	Store     store.Store
	Service   *risk.Service
	Simulator *simulate.Simulator
	Policy    *policy.Policy
	Benchmark *benchmark.Engine
}

// Close releases resources held by the engine environment.
func (env *engineEnv) Close() {
	if env.Store != nil {
		_ = env.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "risk-engine.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine sets up the store and wires the contributors, policy,
// orchestrator, and simulator. Callers should defer env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	verifier, err := compliance.NewVerifier(cfg.Compliance)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	bench := benchmark.NewEngine(st, cfg.Benchmark, cfg.Risk.MaxContribDetails)
	matcher := duplicate.NewMatcher(st, cfg.Duplicate)
	pol := policy.New(st, cfg.Policy, cfg.Risk.PriorWeights)

	orch := risk.NewOrchestrator(st, pol, cfg.Risk,
		bench,
		arith.NewValidator(cfg.Risk.Tolerance),
		matcher,
		compliance.NewAdapter(verifier),
	)

	return &engineEnv{
		Store:     st,
		Service:   risk.NewService(st, orch, bench, matcher, pol),
		Simulator: simulate.NewSimulator(st, orch, cfg.Counterfactual),
		Policy:    pol,
		Benchmark: bench,
	}, nil
}
