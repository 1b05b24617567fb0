package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/finvela/risk-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS invoices (
	invoice_id TEXT PRIMARY KEY,
	snapshot   TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS risk_scores (
	invoice_id  TEXT PRIMARY KEY,
	score       TEXT NOT NULL,
	computed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS run_states (
	invoice_id TEXT PRIMARY KEY,
	state      TEXT NOT NULL DEFAULT 'pending',
	detail     TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS price_baselines (
	category_key TEXT PRIMARY KEY,
	data         TEXT NOT NULL,
	version      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS policy_states (
	bucket_key TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	version    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS vendor_fingerprints (
	vendor_key TEXT PRIMARY KEY,
	entries    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_states_state ON run_states(state);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveInvoice(ctx context.Context, inv *model.InvoiceSnapshot) error {
	snapshot, err := json.Marshal(inv)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal invoice")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO invoices (invoice_id, snapshot, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(invoice_id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		inv.InvoiceID, string(snapshot), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save invoice")
}

func (s *SQLiteStore) GetInvoice(ctx context.Context, invoiceID string) (*model.InvoiceSnapshot, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM invoices WHERE invoice_id = ?`, invoiceID,
	).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get invoice")
	}
	var inv model.InvoiceSnapshot
	if err := json.Unmarshal([]byte(snapshot), &inv); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal invoice")
	}
	return &inv, nil
}

func (s *SQLiteStore) SaveRiskScore(ctx context.Context, score *model.RiskScore) error {
	data, err := json.Marshal(score)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal risk score")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO risk_scores (invoice_id, score, computed_at) VALUES (?, ?, ?)
		 ON CONFLICT(invoice_id) DO UPDATE SET score = excluded.score, computed_at = excluded.computed_at`,
		score.InvoiceID, string(data), score.ComputedAt,
	)
	return eris.Wrap(err, "sqlite: save risk score")
}

func (s *SQLiteStore) GetRiskScore(ctx context.Context, invoiceID string) (*model.RiskScore, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT score FROM risk_scores WHERE invoice_id = ?`, invoiceID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get risk score")
	}
	var score model.RiskScore
	if err := json.Unmarshal([]byte(data), &score); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal risk score")
	}
	return &score, nil
}

// AcquireRun is the IN_PROGRESS guard: a single upsert whose conflict branch
// only fires when the current state is not in_progress, so concurrent
// triggers resolve atomically inside SQLite.
func (s *SQLiteStore) AcquireRun(ctx context.Context, invoiceID string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_states (invoice_id, state, detail, updated_at) VALUES (?, ?, '', ?)
		 ON CONFLICT(invoice_id) DO UPDATE SET state = excluded.state, detail = '', updated_at = excluded.updated_at
		 WHERE run_states.state != ?`,
		invoiceID, string(model.RunStateInProgress), time.Now().UTC(), string(model.RunStateInProgress),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: acquire run")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: acquire run rows affected")
	}
	if n == 0 {
		return ErrRunInProgress
	}
	return nil
}

func (s *SQLiteStore) ReleaseRun(ctx context.Context, invoiceID string, state model.RunState, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_states (invoice_id, state, detail, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(invoice_id) DO UPDATE SET state = excluded.state, detail = excluded.detail, updated_at = excluded.updated_at`,
		invoiceID, string(state), detail, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: release run")
}

func (s *SQLiteStore) GetRunState(ctx context.Context, invoiceID string) (model.RunState, string, error) {
	var state, detail string
	err := s.db.QueryRowContext(ctx,
		`SELECT state, detail FROM run_states WHERE invoice_id = ?`, invoiceID,
	).Scan(&state, &detail)
	if err == sql.ErrNoRows {
		return model.RunStatePending, "", nil
	}
	if err != nil {
		return "", "", eris.Wrap(err, "sqlite: get run state")
	}
	return model.RunState(state), detail, nil
}

func (s *SQLiteStore) GetBaseline(ctx context.Context, categoryKey string) (*model.PriceBaseline, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM price_baselines WHERE category_key = ?`, categoryKey,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get baseline")
	}
	var baseline model.PriceBaseline
	if err := json.Unmarshal([]byte(data), &baseline); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal baseline")
	}
	return &baseline, nil
}

func (s *SQLiteStore) PutBaseline(ctx context.Context, baseline *model.PriceBaseline) error {
	next := *baseline
	next.Version = baseline.Version + 1
	next.LastUpdated = time.Now().UTC()
	data, err := json.Marshal(&next)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal baseline")
	}
	return s.versionedPut(ctx, "price_baselines", "category_key",
		baseline.CategoryKey, string(data), baseline.Version)
}

func (s *SQLiteStore) ListBaselines(ctx context.Context) ([]model.PriceBaseline, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM price_baselines ORDER BY category_key`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list baselines")
	}
	defer rows.Close()

	var out []model.PriceBaseline
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan baseline")
		}
		var baseline model.PriceBaseline
		if err := json.Unmarshal([]byte(data), &baseline); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal baseline")
		}
		out = append(out, baseline)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list baselines iterate")
}

func (s *SQLiteStore) GetPolicyState(ctx context.Context, bucketKey string) (*model.PolicyState, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM policy_states WHERE bucket_key = ?`, bucketKey,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get policy state")
	}
	var state model.PolicyState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal policy state")
	}
	return &state, nil
}

func (s *SQLiteStore) PutPolicyState(ctx context.Context, state *model.PolicyState) error {
	next := *state
	next.Version = state.Version + 1
	next.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(&next)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal policy state")
	}
	return s.versionedPut(ctx, "policy_states", "bucket_key",
		state.BucketKey, string(data), state.Version)
}

func (s *SQLiteStore) ListPolicyStates(ctx context.Context) ([]model.PolicyState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM policy_states ORDER BY bucket_key`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list policy states")
	}
	defer rows.Close()

	var out []model.PolicyState
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan policy state")
		}
		var state model.PolicyState
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal policy state")
		}
		out = append(out, state)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list policy states iterate")
}

func (s *SQLiteStore) GetFingerprint(ctx context.Context, vendorKey string) (*model.VendorFingerprint, error) {
	var entries string
	err := s.db.QueryRowContext(ctx,
		`SELECT entries FROM vendor_fingerprints WHERE vendor_key = ?`, vendorKey,
	).Scan(&entries)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get fingerprint")
	}
	fp := model.VendorFingerprint{VendorKey: vendorKey}
	if err := json.Unmarshal([]byte(entries), &fp.Entries); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal fingerprint")
	}
	return &fp, nil
}

func (s *SQLiteStore) AppendFingerprint(ctx context.Context, vendorKey string, entry model.FingerprintEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin fingerprint tx")
	}
	defer tx.Rollback()

	var entries []model.FingerprintEntry
	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT entries FROM vendor_fingerprints WHERE vendor_key = ?`, vendorKey,
	).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return eris.Wrap(err, "sqlite: read fingerprint")
	default:
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal fingerprint")
		}
	}

	for _, existing := range entries {
		if existing.InvoiceID == entry.InvoiceID {
			return nil
		}
	}
	entries = append(entries, entry)
	data, err := json.Marshal(entries)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fingerprint")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO vendor_fingerprints (vendor_key, entries) VALUES (?, ?)
		 ON CONFLICT(vendor_key) DO UPDATE SET entries = excluded.entries`,
		vendorKey, string(data),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: write fingerprint")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit fingerprint")
}

// versionedPut inserts a fresh record at version 1 or replaces an existing
// one only when the stored version matches the version the caller read.
func (s *SQLiteStore) versionedPut(ctx context.Context, table, keyCol, key, data string, readVersion int64) error {
	if readVersion == 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO `+table+` (`+keyCol+`, data, version) VALUES (?, ?, 1)`,
			key, data,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				// Another writer created the record first.
				return ErrVersionConflict
			}
			return eris.Wrapf(err, "sqlite: insert %s", table)
		}
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET data = ?, version = version + 1 WHERE `+keyCol+` = ? AND version = ?`,
		data, key, readVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update %s", table)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}
