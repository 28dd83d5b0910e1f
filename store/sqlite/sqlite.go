/*
Package sqlite provides a SQLite-backed implementation of the referral store.

PURPOSE:
  Implements referral.TxStore (accounts, program configs, referrals,
  appointments, credit ledger) using SQLite. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  accounts:        Referral-facing slice of user accounts (code, credits, frozen)
  program_configs: Versioned program configuration snapshots (latest wins)
  referrals:       One row per referred account
  appointments:    Priced appointments credits can be spent against
  credit_entries:  Append-only credit ledger
  referral_completions: Appointments already counted toward a referral

UNIQUENESS:
  The store, not the caller, enforces the engine's uniqueness invariants:
  - accounts.referral_code           (ErrCodeTaken)
  - referrals.referred_id            (ErrAlreadyReferred)
  - credit_entries.idempotency_key   (ErrDuplicateIdempotencyKey)
  - referral_completions (referral_id, appointment_id) (ErrCompletionRecorded)
  A CHECK constraint keeps accounts.referral_credits non-negative.

CONCURRENCY:
  Uses sync.RWMutex plus a single pooled connection. WithTx holds the write
  lock for the whole transaction, so reward payouts and credit spends are
  serialized. Inside WithTx only the Store handed to fn may be used.

USAGE:
  store, err := sqlite.New("./data/referrals.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := referral.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(), and a default program configuration is
  installed when none exists.

SEE ALSO:
  - referral/store.go: Interface definitions
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/referral-engine/referral"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Store implements referral.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Compile-time check that Store implements referral.TxStore
var _ referral.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database exists per connection, and
	// SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an already-migrated database handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema and the default configuration.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY,
		first_name TEXT NOT NULL DEFAULT '',
		account_type TEXT,
		referral_code TEXT UNIQUE,
		referral_credits INTEGER NOT NULL DEFAULT 0 CHECK (referral_credits >= 0),
		account_frozen BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS program_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS referrals (
		id TEXT PRIMARY KEY,
		referrer_id INTEGER NOT NULL REFERENCES accounts(id),
		referred_id INTEGER NOT NULL UNIQUE REFERENCES accounts(id),
		referral_code TEXT NOT NULL,
		program_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		cleanings_required INTEGER NOT NULL,
		cleanings_completed INTEGER NOT NULL DEFAULT 0,
		referrer_reward_amount INTEGER NOT NULL DEFAULT 0,
		referred_reward_amount INTEGER NOT NULL DEFAULT 0,
		reward_type TEXT NOT NULL,
		referrer_reward_applied BOOLEAN NOT NULL DEFAULT FALSE,
		referred_reward_applied BOOLEAN NOT NULL DEFAULT FALSE,
		referrer_reward_applied_at TEXT,
		referred_reward_applied_at TEXT,
		qualified_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Monthly cap counting (hot path of validation)
	CREATE INDEX IF NOT EXISTS idx_referrals_referrer_program_created
		ON referrals(referrer_id, program_type, created_at);
	CREATE INDEX IF NOT EXISTS idx_referrals_status
		ON referrals(status);

	-- One row per appointment counted toward a referral
	CREATE TABLE IF NOT EXISTS referral_completions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		referral_id TEXT NOT NULL REFERENCES referrals(id),
		appointment_id INTEGER NOT NULL,
		counted_at TEXT NOT NULL,
		UNIQUE (referral_id, appointment_id)
	);

	CREATE TABLE IF NOT EXISTS appointments (
		id INTEGER PRIMARY KEY,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		price_cents INTEGER NOT NULL CHECK (price_cents >= 0),
		credits_applied_cents INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Credit ledger (append-only)
	CREATE TABLE IF NOT EXISTS credit_entries (
		id TEXT PRIMARY KEY,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		delta_cents INTEGER NOT NULL,
		kind TEXT NOT NULL,
		reference_id TEXT,
		idempotency_key TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credit_entries_account
		ON credit_entries(account_id, created_at);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	cfg, err := s.CurrentProgramConfig(ctx)
	if err != nil {
		return err
	}
	if cfg == nil {
		return s.SaveProgramConfig(ctx, referral.DefaultProgramConfig())
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (referral.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(referral.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTxLocked(ctx, fn)
}

func (s *Store) withTxLocked(ctx context.Context, fn func(referral.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// LOCKED DELEGATES - Store methods outside a transaction
// =============================================================================

func (s *Store) read() *queries { return &queries{q: s.db} }

// GetAccount retrieves an account by ID.
func (s *Store) GetAccount(ctx context.Context, id int64) (*referral.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetAccount(ctx, id)
}

// GetAccountByCode retrieves the account holding a referral code.
func (s *Store) GetAccountByCode(ctx context.Context, code string) (*referral.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetAccountByCode(ctx, code)
}

// AssignReferralCode sets an account's referral code.
func (s *Store) AssignReferralCode(ctx context.Context, accountID int64, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().AssignReferralCode(ctx, accountID, code)
}

// CurrentProgramConfig returns the latest configuration snapshot.
func (s *Store) CurrentProgramConfig(ctx context.Context) (*referral.ProgramConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().CurrentProgramConfig(ctx)
}

// SaveProgramConfig stores a new configuration version.
func (s *Store) SaveProgramConfig(ctx context.Context, cfg *referral.ProgramConfig) error {
	return s.WithTx(ctx, func(tx referral.Store) error {
		return tx.SaveProgramConfig(ctx, cfg)
	})
}

// CreateReferral inserts a referral.
func (s *Store) CreateReferral(ctx context.Context, r *referral.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().CreateReferral(ctx, r)
}

// GetReferral retrieves a referral by ID.
func (s *Store) GetReferral(ctx context.Context, id string) (*referral.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetReferral(ctx, id)
}

// GetReferralByReferred retrieves the referral of a referred account.
func (s *Store) GetReferralByReferred(ctx context.Context, referredID int64) (*referral.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetReferralByReferred(ctx, referredID)
}

// UpdateReferral persists a referral's mutable fields.
func (s *Store) UpdateReferral(ctx context.Context, r *referral.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateReferral(ctx, r)
}

// ListReferrals returns referrals matching the filter, newest first.
func (s *Store) ListReferrals(ctx context.Context, filter referral.ReferralFilter) ([]referral.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListReferrals(ctx, filter)
}

// CountReferralsSince counts a referrer's referrals of one program type.
func (s *Store) CountReferralsSince(ctx context.Context, referrerID int64, programType referral.ProgramType, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().CountReferralsSince(ctx, referrerID, programType, since)
}

// RecordCompletion marks an appointment as counted toward a referral.
func (s *Store) RecordCompletion(ctx context.Context, referralID string, appointmentID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().RecordCompletion(ctx, referralID, appointmentID, at)
}

// GetAppointment retrieves an appointment by ID.
func (s *Store) GetAppointment(ctx context.Context, id int64) (*referral.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetAppointment(ctx, id)
}

// UpdateAppointmentPrice reprices an appointment.
func (s *Store) UpdateAppointmentPrice(ctx context.Context, id int64, priceCents, creditsAppliedCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateAppointmentPrice(ctx, id, priceCents, creditsAppliedCents)
}

// AppendCredit records a ledger entry and moves the balance atomically.
func (s *Store) AppendCredit(ctx context.Context, entry referral.CreditEntry) error {
	return s.WithTx(ctx, func(tx referral.Store) error {
		return tx.AppendCredit(ctx, entry)
	})
}

// ListCredits returns an account's ledger entries, newest first.
func (s *Store) ListCredits(ctx context.Context, accountID int64) ([]referral.CreditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListCredits(ctx, accountID)
}

// =============================================================================
// ACCOUNT AND APPOINTMENT SEEDING
// =============================================================================
// Accounts and appointments are owned by other subsystems. These writers
// exist for seeding, tests and the demo server.

// SaveAccount inserts or updates an account. A zero ID is assigned by the
// database and written back.
func (s *Store) SaveAccount(ctx context.Context, a *referral.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO accounts (id, first_name, account_type, referral_code, referral_credits, account_frozen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name,
			account_type = excluded.account_type,
			referral_code = excluded.referral_code,
			referral_credits = excluded.referral_credits,
			account_frozen = excluded.account_frozen
	`
	res, err := s.db.ExecContext(ctx, query,
		nullInt(a.ID), a.FirstName, string(a.AccountType), nullString(a.ReferralCode),
		a.ReferralCredits, a.AccountFrozen, formatTime(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err, "accounts.referral_code") {
			return referral.ErrCodeTaken
		}
		return fmt.Errorf("failed to save account: %w", err)
	}
	if a.ID == 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		a.ID = id
	}
	return nil
}

// SaveAppointment inserts or updates an appointment.
func (s *Store) SaveAppointment(ctx context.Context, a *referral.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO appointments (id, account_id, price_cents, credits_applied_cents, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			price_cents = excluded.price_cents,
			credits_applied_cents = excluded.credits_applied_cents
	`
	res, err := s.db.ExecContext(ctx, query,
		nullInt(a.ID), a.AccountID, a.PriceCents, a.CreditsAppliedCents, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save appointment: %w", err)
	}
	if a.ID == 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		a.ID = id
	}
	return nil
}

// ListProgramConfigs returns configuration versions, newest first.
func (s *Store) ListProgramConfigs(ctx context.Context, limit int) ([]referral.ProgramConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, active, config_json, created_at FROM program_configs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query program configs: %w", err)
	}
	defer rows.Close()

	configs := []referral.ProgramConfig{}
	for rows.Next() {
		var (
			cfg        referral.ProgramConfig
			configJSON string
			createdAt  string
		)
		if err := rows.Scan(&cfg.ID, &cfg.Active, &configJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan program config: %w", err)
		}
		if err := json.Unmarshal([]byte(configJSON), &cfg.Programs); err != nil {
			return nil, fmt.Errorf("failed to decode program config %d: %w", cfg.ID, err)
		}
		cfg.UpdatedAt = parseTime(createdAt)
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// Reset clears all data and reinstalls the default configuration.
// Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	err := s.WithTx(ctx, func(tx referral.Store) error {
		qs := tx.(*queries)
		for _, table := range []string{"credit_entries", "referral_completions", "referrals", "appointments", "accounts", "program_configs"} {
			if _, err := qs.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return qs.SaveProgramConfig(ctx, referral.DefaultProgramConfig())
	})
	return err
}

// =============================================================================
// QUERIES - Shared by the locked Store and transaction-bound stores
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs every statement against q without locking. Bound to a
// *sql.Tx it is the Store handed to WithTx callbacks.
type queries struct {
	q querier
}

var _ referral.Store = (*queries)(nil)

const accountColumns = `id, first_name, account_type, referral_code, referral_credits, account_frozen`

func (qs *queries) GetAccount(ctx context.Context, id int64) (*referral.Account, error) {
	row := qs.q.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	return scanAccount(row)
}

func (qs *queries) GetAccountByCode(ctx context.Context, code string) (*referral.Account, error) {
	row := qs.q.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE referral_code = ?", code)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*referral.Account, error) {
	var (
		a           referral.Account
		accountType sql.NullString
		code        sql.NullString
	)
	err := row.Scan(&a.ID, &a.FirstName, &accountType, &code, &a.ReferralCredits, &a.AccountFrozen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	a.AccountType, err = referral.ParseAccountType(accountType.String)
	if err != nil {
		return nil, fmt.Errorf("account %d: %w", a.ID, err)
	}
	a.ReferralCode = code.String
	return &a, nil
}

func (qs *queries) AssignReferralCode(ctx context.Context, accountID int64, code string) error {
	res, err := qs.q.ExecContext(ctx, "UPDATE accounts SET referral_code = ? WHERE id = ?", code, accountID)
	if err != nil {
		if isUniqueViolation(err, "accounts.referral_code") {
			return referral.ErrCodeTaken
		}
		return fmt.Errorf("failed to assign referral code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return referral.ErrAccountNotFound
	}
	return nil
}

func (qs *queries) CurrentProgramConfig(ctx context.Context) (*referral.ProgramConfig, error) {
	var (
		cfg        referral.ProgramConfig
		configJSON string
		createdAt  string
	)
	err := qs.q.QueryRowContext(ctx,
		"SELECT id, active, config_json, created_at FROM program_configs ORDER BY id DESC LIMIT 1",
	).Scan(&cfg.ID, &cfg.Active, &configJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load program config: %w", err)
	}
	if err := json.Unmarshal([]byte(configJSON), &cfg.Programs); err != nil {
		return nil, fmt.Errorf("failed to decode program config %d: %w", cfg.ID, err)
	}
	cfg.UpdatedAt = parseTime(createdAt)
	return &cfg, nil
}

func (qs *queries) SaveProgramConfig(ctx context.Context, cfg *referral.ProgramConfig) error {
	configJSON, err := json.Marshal(cfg.Programs)
	if err != nil {
		return fmt.Errorf("failed to encode program config: %w", err)
	}
	now := time.Now()
	res, err := qs.q.ExecContext(ctx,
		"INSERT INTO program_configs (active, config_json, created_at) VALUES (?, ?, ?)",
		cfg.Active, string(configJSON), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to save program config: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	cfg.ID = id
	cfg.UpdatedAt = now.UTC()
	return nil
}

const referralColumns = `id, referrer_id, referred_id, referral_code, program_type, status,
	cleanings_required, cleanings_completed, referrer_reward_amount, referred_reward_amount,
	reward_type, referrer_reward_applied, referred_reward_applied,
	referrer_reward_applied_at, referred_reward_applied_at, qualified_at, created_at, updated_at`

func (qs *queries) CreateReferral(ctx context.Context, r *referral.Referral) error {
	query := `INSERT INTO referrals (` + referralColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := qs.q.ExecContext(ctx, query,
		r.ID, r.ReferrerID, r.ReferredID, r.ReferralCode, string(r.ProgramType), string(r.Status),
		r.CleaningsRequired, r.CleaningsCompleted, r.ReferrerRewardAmount, r.ReferredRewardAmount,
		string(r.RewardType), r.ReferrerRewardApplied, r.ReferredRewardApplied,
		nullTime(r.ReferrerRewardAppliedAt), nullTime(r.ReferredRewardAppliedAt), nullTime(r.QualifiedAt),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "referrals.referred_id") {
			return referral.ErrAlreadyReferred
		}
		return fmt.Errorf("failed to insert referral: %w", err)
	}
	return nil
}

func (qs *queries) GetReferral(ctx context.Context, id string) (*referral.Referral, error) {
	return qs.getReferral(ctx, "SELECT "+referralColumns+" FROM referrals WHERE id = ?", id)
}

func (qs *queries) GetReferralByReferred(ctx context.Context, referredID int64) (*referral.Referral, error) {
	return qs.getReferral(ctx, "SELECT "+referralColumns+" FROM referrals WHERE referred_id = ?", referredID)
}

func (qs *queries) getReferral(ctx context.Context, query string, args ...any) (*referral.Referral, error) {
	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query referral: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	r, err := scanReferral(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (qs *queries) UpdateReferral(ctx context.Context, r *referral.Referral) error {
	query := `
		UPDATE referrals SET
			status = ?,
			cleanings_completed = ?,
			referrer_reward_applied = ?,
			referred_reward_applied = ?,
			referrer_reward_applied_at = ?,
			referred_reward_applied_at = ?,
			qualified_at = ?,
			updated_at = ?
		WHERE id = ?
	`
	res, err := qs.q.ExecContext(ctx, query,
		string(r.Status), r.CleaningsCompleted,
		r.ReferrerRewardApplied, r.ReferredRewardApplied,
		nullTime(r.ReferrerRewardAppliedAt), nullTime(r.ReferredRewardAppliedAt),
		nullTime(r.QualifiedAt), formatTime(r.UpdatedAt),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update referral: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return referral.ErrReferralNotFound
	}
	return nil
}

func (qs *queries) ListReferrals(ctx context.Context, filter referral.ReferralFilter) ([]referral.Referral, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ProgramType != "" {
		where = append(where, "program_type = ?")
		args = append(args, string(filter.ProgramType))
	}
	if filter.ReferrerID != 0 {
		where = append(where, "referrer_id = ?")
		args = append(args, filter.ReferrerID)
	}
	if filter.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(*filter.To))
	}

	query := "SELECT " + referralColumns + " FROM referrals"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query referrals: %w", err)
	}
	defer rows.Close()

	referrals := []referral.Referral{}
	for rows.Next() {
		r, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		referrals = append(referrals, r)
	}
	return referrals, rows.Err()
}

func scanReferral(rows *sql.Rows) (referral.Referral, error) {
	var (
		r                    referral.Referral
		programType, status  string
		rewardType           string
		referrerAppliedAt    sql.NullString
		referredAppliedAt    sql.NullString
		qualifiedAt          sql.NullString
		createdAt, updatedAt string
	)
	err := rows.Scan(
		&r.ID, &r.ReferrerID, &r.ReferredID, &r.ReferralCode, &programType, &status,
		&r.CleaningsRequired, &r.CleaningsCompleted, &r.ReferrerRewardAmount, &r.ReferredRewardAmount,
		&rewardType, &r.ReferrerRewardApplied, &r.ReferredRewardApplied,
		&referrerAppliedAt, &referredAppliedAt, &qualifiedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return r, fmt.Errorf("failed to scan referral: %w", err)
	}
	r.ProgramType = referral.ProgramType(programType)
	r.Status = referral.Status(status)
	r.RewardType = referral.RewardType(rewardType)
	r.ReferrerRewardAppliedAt = parseNullTime(referrerAppliedAt)
	r.ReferredRewardAppliedAt = parseNullTime(referredAppliedAt)
	r.QualifiedAt = parseNullTime(qualifiedAt)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

func (qs *queries) CountReferralsSince(ctx context.Context, referrerID int64, programType referral.ProgramType, since time.Time) (int, error) {
	var count int
	err := qs.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM referrals WHERE referrer_id = ? AND program_type = ? AND created_at >= ?",
		referrerID, string(programType), formatTime(since),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count referrals: %w", err)
	}
	return count, nil
}

func (qs *queries) RecordCompletion(ctx context.Context, referralID string, appointmentID int64, at time.Time) error {
	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO referral_completions (referral_id, appointment_id, counted_at)
		VALUES (?, ?, ?)`,
		referralID, appointmentID, formatTime(at),
	)
	if err != nil {
		if isUniqueViolation(err, "referral_completions.appointment_id") {
			return referral.ErrCompletionRecorded
		}
		return fmt.Errorf("failed to record completion: %w", err)
	}
	return nil
}

func (qs *queries) GetAppointment(ctx context.Context, id int64) (*referral.Appointment, error) {
	var a referral.Appointment
	err := qs.q.QueryRowContext(ctx,
		"SELECT id, account_id, price_cents, credits_applied_cents FROM appointments WHERE id = ?", id,
	).Scan(&a.ID, &a.AccountID, &a.PriceCents, &a.CreditsAppliedCents)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load appointment: %w", err)
	}
	return &a, nil
}

func (qs *queries) UpdateAppointmentPrice(ctx context.Context, id int64, priceCents, creditsAppliedCents int64) error {
	res, err := qs.q.ExecContext(ctx,
		"UPDATE appointments SET price_cents = ?, credits_applied_cents = ? WHERE id = ?",
		priceCents, creditsAppliedCents, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("appointment %d not found", id)
	}
	return nil
}

// AppendCredit inserts the ledger entry before touching the balance, so a
// duplicate idempotency key leaves the balance unchanged.
func (qs *queries) AppendCredit(ctx context.Context, e referral.CreditEntry) error {
	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO credit_entries (id, account_id, delta_cents, kind, reference_id, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, e.DeltaCents, string(e.Kind), nullString(e.ReferenceID),
		e.IdempotencyKey, formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "credit_entries.idempotency_key") {
			return referral.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append credit entry: %w", err)
	}

	res, err := qs.q.ExecContext(ctx, `
		UPDATE accounts SET referral_credits = referral_credits + ?
		WHERE id = ? AND referral_credits + ? >= 0`,
		e.DeltaCents, e.AccountID, e.DeltaCents,
	)
	if err != nil {
		return fmt.Errorf("failed to update credit balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	account, err := qs.GetAccount(ctx, e.AccountID)
	if err != nil {
		return err
	}
	if account == nil {
		return referral.ErrAccountNotFound
	}
	return referral.ErrInsufficientCredits
}

func (qs *queries) ListCredits(ctx context.Context, accountID int64) ([]referral.CreditEntry, error) {
	rows, err := qs.q.QueryContext(ctx, `
		SELECT id, account_id, delta_cents, kind, reference_id, idempotency_key, created_at
		FROM credit_entries
		WHERE account_id = ?
		ORDER BY created_at DESC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit entries: %w", err)
	}
	defer rows.Close()

	entries := []referral.CreditEntry{}
	for rows.Next() {
		var (
			e           referral.CreditEntry
			kind        string
			referenceID sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.DeltaCents, &kind, &referenceID, &e.IdempotencyKey, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit entry: %w", err)
		}
		e.Kind = referral.CreditKind(kind)
		e.ReferenceID = referenceID.String
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// WithTx on a transaction-bound store would nest transactions.
func (qs *queries) WithTx(ctx context.Context, fn func(referral.Store) error) error {
	return fn(qs)
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}

// isUniqueViolation reports whether err is a UNIQUE failure on target
// ("table.column").
func isUniqueViolation(err error, target string) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, target)
}
