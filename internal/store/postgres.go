package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/finvela/risk-engine/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool (used by tests with pgxmock).
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS invoices (
	invoice_id TEXT PRIMARY KEY,
	snapshot   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS risk_scores (
	invoice_id  TEXT PRIMARY KEY,
	score       JSONB NOT NULL,
	computed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS run_states (
	invoice_id TEXT PRIMARY KEY,
	state      TEXT NOT NULL DEFAULT 'pending',
	detail     TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS price_baselines (
	category_key TEXT PRIMARY KEY,
	data         JSONB NOT NULL,
	version      BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS policy_states (
	bucket_key TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	version    BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS vendor_fingerprints (
	vendor_key TEXT PRIMARY KEY,
	entries    JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_states_state ON run_states(state);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveInvoice(ctx context.Context, inv *model.InvoiceSnapshot) error {
	snapshot, err := json.Marshal(inv)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal invoice")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO invoices (invoice_id, snapshot, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (invoice_id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at`,
		inv.InvoiceID, snapshot, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save invoice")
}

func (s *PostgresStore) GetInvoice(ctx context.Context, invoiceID string) (*model.InvoiceSnapshot, error) {
	var snapshot []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM invoices WHERE invoice_id = $1`, invoiceID,
	).Scan(&snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get invoice")
	}
	var inv model.InvoiceSnapshot
	if err := json.Unmarshal(snapshot, &inv); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal invoice")
	}
	return &inv, nil
}

func (s *PostgresStore) SaveRiskScore(ctx context.Context, score *model.RiskScore) error {
	data, err := json.Marshal(score)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal risk score")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO risk_scores (invoice_id, score, computed_at) VALUES ($1, $2, $3)
		 ON CONFLICT (invoice_id) DO UPDATE SET score = EXCLUDED.score, computed_at = EXCLUDED.computed_at`,
		score.InvoiceID, data, score.ComputedAt,
	)
	return eris.Wrap(err, "postgres: save risk score")
}

func (s *PostgresStore) GetRiskScore(ctx context.Context, invoiceID string) (*model.RiskScore, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT score FROM risk_scores WHERE invoice_id = $1`, invoiceID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get risk score")
	}
	var score model.RiskScore
	if err := json.Unmarshal(data, &score); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal risk score")
	}
	return &score, nil
}

func (s *PostgresStore) AcquireRun(ctx context.Context, invoiceID string) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO run_states (invoice_id, state, detail, updated_at) VALUES ($1, $2, '', $3)
		 ON CONFLICT (invoice_id) DO UPDATE SET state = EXCLUDED.state, detail = '', updated_at = EXCLUDED.updated_at
		 WHERE run_states.state != $2`,
		invoiceID, string(model.RunStateInProgress), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: acquire run")
	}
	if tag.RowsAffected() == 0 {
		return ErrRunInProgress
	}
	return nil
}

func (s *PostgresStore) ReleaseRun(ctx context.Context, invoiceID string, state model.RunState, detail string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_states (invoice_id, state, detail, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (invoice_id) DO UPDATE SET state = EXCLUDED.state, detail = EXCLUDED.detail, updated_at = EXCLUDED.updated_at`,
		invoiceID, string(state), detail, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: release run")
}

func (s *PostgresStore) GetRunState(ctx context.Context, invoiceID string) (model.RunState, string, error) {
	var state, detail string
	err := s.pool.QueryRow(ctx,
		`SELECT state, detail FROM run_states WHERE invoice_id = $1`, invoiceID,
	).Scan(&state, &detail)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RunStatePending, "", nil
	}
	if err != nil {
		return "", "", eris.Wrap(err, "postgres: get run state")
	}
	return model.RunState(state), detail, nil
}

func (s *PostgresStore) GetBaseline(ctx context.Context, categoryKey string) (*model.PriceBaseline, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM price_baselines WHERE category_key = $1`, categoryKey,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get baseline")
	}
	var baseline model.PriceBaseline
	if err := json.Unmarshal(data, &baseline); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal baseline")
	}
	return &baseline, nil
}

func (s *PostgresStore) PutBaseline(ctx context.Context, baseline *model.PriceBaseline) error {
	next := *baseline
	next.Version = baseline.Version + 1
	next.LastUpdated = time.Now().UTC()
	data, err := json.Marshal(&next)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal baseline")
	}
	return s.versionedPut(ctx, "price_baselines", "category_key",
		baseline.CategoryKey, data, baseline.Version)
}

func (s *PostgresStore) ListBaselines(ctx context.Context) ([]model.PriceBaseline, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM price_baselines ORDER BY category_key`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list baselines")
	}
	defer rows.Close()

	var out []model.PriceBaseline
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan baseline")
		}
		var baseline model.PriceBaseline
		if err := json.Unmarshal(data, &baseline); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal baseline")
		}
		out = append(out, baseline)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list baselines iterate")
}

func (s *PostgresStore) GetPolicyState(ctx context.Context, bucketKey string) (*model.PolicyState, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM policy_states WHERE bucket_key = $1`, bucketKey,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get policy state")
	}
	var state model.PolicyState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal policy state")
	}
	return &state, nil
}

func (s *PostgresStore) PutPolicyState(ctx context.Context, state *model.PolicyState) error {
	next := *state
	next.Version = state.Version + 1
	next.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(&next)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal policy state")
	}
	return s.versionedPut(ctx, "policy_states", "bucket_key",
		state.BucketKey, data, state.Version)
}

func (s *PostgresStore) ListPolicyStates(ctx context.Context) ([]model.PolicyState, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM policy_states ORDER BY bucket_key`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list policy states")
	}
	defer rows.Close()

	var out []model.PolicyState
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan policy state")
		}
		var state model.PolicyState
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal policy state")
		}
		out = append(out, state)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list policy states iterate")
}

func (s *PostgresStore) GetFingerprint(ctx context.Context, vendorKey string) (*model.VendorFingerprint, error) {
	var entries []byte
	err := s.pool.QueryRow(ctx,
		`SELECT entries FROM vendor_fingerprints WHERE vendor_key = $1`, vendorKey,
	).Scan(&entries)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get fingerprint")
	}
	fp := model.VendorFingerprint{VendorKey: vendorKey}
	if err := json.Unmarshal(entries, &fp.Entries); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal fingerprint")
	}
	return &fp, nil
}

func (s *PostgresStore) AppendFingerprint(ctx context.Context, vendorKey string, entry model.FingerprintEntry) error {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fingerprint entry")
	}
	// Single statement append that skips entries already recorded for the
	// invoice, so reprocessing stays idempotent.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO vendor_fingerprints (vendor_key, entries) VALUES ($1, jsonb_build_array($2::jsonb))
		 ON CONFLICT (vendor_key) DO UPDATE
		 SET entries = vendor_fingerprints.entries || $2::jsonb
		 WHERE NOT vendor_fingerprints.entries @> jsonb_build_array(jsonb_build_object('invoice_id', $3::text))`,
		vendorKey, entryJSON, entry.InvoiceID,
	)
	return eris.Wrap(err, "postgres: append fingerprint")
}

func (s *PostgresStore) versionedPut(ctx context.Context, table, keyCol, key string, data []byte, readVersion int64) error {
	if readVersion == 0 {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO `+table+` (`+keyCol+`, data, version) VALUES ($1, $2, 1)`,
			key, data,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrVersionConflict
			}
			return eris.Wrapf(err, "postgres: insert %s", table)
		}
		return nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+table+` SET data = $1, version = version + 1 WHERE `+keyCol+` = $2 AND version = $3`,
		data, key, readVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update %s", table)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key")
}
