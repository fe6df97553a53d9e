// Package postgres implements the persistence contract on top of a
// Postgres database via pgxpool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/store"
)

// Store provides Postgres-backed persistence for all aggregates.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New connects to the database, runs migrations and returns the store.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases database resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT UNIQUE NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			wallet_balance NUMERIC(24,2) NOT NULL DEFAULT 0,
			total_saved NUMERIC(24,2) NOT NULL DEFAULT 0,
			total_earned NUMERIC(24,2) NOT NULL DEFAULT 0,
			total_withdrawn NUMERIC(24,2) NOT NULL DEFAULT 0,
			trust_score INT NOT NULL DEFAULT 50,
			kyc_status TEXT NOT NULL DEFAULT 'pending',
			kyc_reason TEXT NOT NULL DEFAULT '',
			is_vip BOOLEAN NOT NULL DEFAULT FALSE,
			active_groups INT NOT NULL DEFAULT 0,
			completed_cycles INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMPTZ
		);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			type TEXT NOT NULL,
			amount NUMERIC(24,2) NOT NULL,
			status TEXT NOT NULL,
			group_id UUID,
			description TEXT NOT NULL DEFAULT '',
			payment_method TEXT NOT NULL DEFAULT '',
			payment_reference TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at TIMESTAMPTZ
		);`,
		`CREATE INDEX IF NOT EXISTS transactions_user_idx ON transactions (user_id, created_at DESC);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS transactions_reference_idx
			ON transactions (payment_reference) WHERE payment_reference <> '';`,
		`CREATE TABLE IF NOT EXISTS groups (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			creator_id UUID NOT NULL,
			contribution_amount NUMERIC(24,2) NOT NULL,
			max_members INT NOT NULL,
			current_members INT NOT NULL DEFAULT 0,
			group_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			is_private BOOLEAN NOT NULL DEFAULT FALSE,
			requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
			restart_on_completion BOOLEAN NOT NULL DEFAULT FALSE,
			total_pool NUMERIC(24,2) NOT NULL DEFAULT 0,
			next_payout_date TIMESTAMPTZ NOT NULL,
			current_cycle INT NOT NULL DEFAULT 1,
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT groups_capacity_chk CHECK (current_members <= max_members)
		);`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id UUID NOT NULL REFERENCES groups(id),
			user_id UUID NOT NULL REFERENCES users(id),
			role TEXT NOT NULL DEFAULT 'member',
			status TEXT NOT NULL DEFAULT 'active',
			payout_position INT NOT NULL DEFAULT 0,
			total_contributed NUMERIC(24,2) NOT NULL DEFAULT 0,
			is_compliant BOOLEAN NOT NULL DEFAULT TRUE,
			has_received_payout BOOLEAN NOT NULL DEFAULT FALSE,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (group_id, user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS payout_draws (
			id UUID PRIMARY KEY,
			group_id UUID NOT NULL REFERENCES groups(id),
			cycle INT NOT NULL,
			seed BIGINT NOT NULL,
			candidates JSONB NOT NULL,
			winner_id UUID NOT NULL,
			drawn_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS withdrawals (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			transaction_id UUID NOT NULL DEFAULT '00000000-0000-0000-0000-000000000000',
			amount NUMERIC(24,2) NOT NULL,
			iban TEXT NOT NULL,
			holder_name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'requested',
			failure_reason TEXT NOT NULL DEFAULT '',
			provider_ref TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS withdrawals_provider_idx ON withdrawals (provider_ref) WHERE provider_ref <> '';`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			type TEXT NOT NULL,
			read BOOLEAN NOT NULL DEFAULT FALSE,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS channel_preferences (
			user_id UUID PRIMARY KEY REFERENCES users(id),
			push BOOLEAN NOT NULL DEFAULT FALSE,
			email BOOLEAN NOT NULL DEFAULT FALSE,
			sms BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE TABLE IF NOT EXISTS webhook_events (
			event_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS security_incidents (
			id UUID PRIMARY KEY,
			user_id UUID,
			kind TEXT NOT NULL,
			severity TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS admin_config (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS message_templates (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			channel TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS webhook_endpoints (
			id UUID PRIMARY KEY,
			url TEXT NOT NULL,
			events JSONB NOT NULL DEFAULT '[]',
			secret TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// isUniqueViolation reports whether the error is a Postgres unique or
// check constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func scanDecimal(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// --- users ---

const userColumns = `id, name, email, phone,
	wallet_balance::text, total_saved::text, total_earned::text, total_withdrawn::text,
	trust_score, kyc_status, kyc_reason, is_vip, active_groups, completed_cycles,
	created_at, updated_at, deleted_at`

func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, phone, wallet_balance, total_saved,
			total_earned, total_withdrawn, trust_score, kyc_status, kyc_reason,
			is_vip, active_groups, completed_cycles, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		u.ID, u.Name, u.Email, u.Phone,
		u.WalletBalance, u.TotalSaved, u.TotalEarned, u.TotalWithdrawn,
		u.TrustScore, u.KYCStatus, u.KYCReason, u.IsVIP,
		u.ActiveGroups, u.CompletedCycles, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

func (s *Store) UpdateUser(ctx context.Context, u domain.User) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET name=$2, email=$3, phone=$4, wallet_balance=$5,
			total_saved=$6, total_earned=$7, total_withdrawn=$8, trust_score=$9,
			kyc_status=$10, kyc_reason=$11, is_vip=$12, active_groups=$13,
			completed_cycles=$14, updated_at=$15, deleted_at=$16
		WHERE id = $1`,
		u.ID, u.Name, u.Email, u.Phone, u.WalletBalance,
		u.TotalSaved, u.TotalEarned, u.TotalWithdrawn, u.TrustScore,
		u.KYCStatus, u.KYCReason, u.IsVIP, u.ActiveGroups,
		u.CompletedCycles, u.UpdatedAt, u.DeletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u                                 domain.User
		balance, saved, earned, withdrawn string
		kycStatus                         string
		deletedAt                         *time.Time
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone,
		&balance, &saved, &earned, &withdrawn,
		&u.TrustScore, &kycStatus, &u.KYCReason, &u.IsVIP,
		&u.ActiveGroups, &u.CompletedCycles,
		&u.CreatedAt, &u.UpdatedAt, &deletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, store.ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	if u.WalletBalance, err = scanDecimal(balance); err != nil {
		return domain.User{}, err
	}
	if u.TotalSaved, err = scanDecimal(saved); err != nil {
		return domain.User{}, err
	}
	if u.TotalEarned, err = scanDecimal(earned); err != nil {
		return domain.User{}, err
	}
	if u.TotalWithdrawn, err = scanDecimal(withdrawn); err != nil {
		return domain.User{}, err
	}
	u.KYCStatus = domain.KYCStatus(kycStatus)
	u.DeletedAt = deletedAt
	return u, nil
}

// --- ledger ---

const txColumns = `id, user_id, type, amount::text, status,
	COALESCE(group_id::text, ''), description, payment_method,
	payment_reference, notes, created_at, processed_at`

func (s *Store) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	var groupID any
	if tx.GroupID != "" {
		groupID = tx.GroupID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, status, group_id,
			description, payment_method, payment_reference, notes, created_at, processed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		tx.ID, tx.UserID, tx.Type, tx.Amount, tx.Status, groupID,
		tx.Description, tx.PaymentMethod, tx.PaymentReference, tx.Notes,
		tx.CreatedAt, tx.ProcessedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (s *Store) GetTransactionByReference(ctx context.Context, ref string) (domain.Transaction, error) {
	if ref == "" {
		return domain.Transaction{}, store.ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE payment_reference = $1`, ref)
	return scanTransaction(row)
}

func (s *Store) UpdateTransaction(ctx context.Context, tx domain.Transaction) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions SET status=$2, notes=$3, processed_at=$4 WHERE id = $1`,
		tx.ID, tx.Status, tx.Notes, tx.ProcessedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, opts store.ListTransactionsOptions) (domain.TransactionListResult, error) {
	where := ` WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.UserID != "" {
		where += ` AND user_id = ` + arg(opts.UserID)
	}
	if opts.GroupID != "" {
		where += ` AND group_id = ` + arg(opts.GroupID)
	}
	if opts.Type != "" {
		where += ` AND type = ` + arg(string(opts.Type))
	}
	if opts.Status != "" {
		where += ` AND status = ` + arg(string(opts.Status))
	}
	if opts.Since != nil {
		where += ` AND created_at >= ` + arg(*opts.Since)
	}
	if opts.Until != nil {
		where += ` AND created_at <= ` + arg(*opts.Until)
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return domain.TransactionListResult{}, err
	}

	query := `SELECT ` + txColumns + ` FROM transactions` + where + ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ` + arg(opts.Limit)
	}
	if opts.Offset > 0 {
		query += ` OFFSET ` + arg(opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return domain.TransactionListResult{}, err
	}
	defer rows.Close()

	var items []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return domain.TransactionListResult{}, err
		}
		items = append(items, tx)
	}
	return domain.TransactionListResult{Items: items, Total: total}, rows.Err()
}

func (s *Store) SumCompleted(ctx context.Context, userID string) (decimal.Decimal, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text FROM transactions
		WHERE user_id = $1 AND status = 'completed'`, userID).Scan(&raw)
	if err != nil {
		return decimal.Zero, err
	}
	return scanDecimal(raw)
}

func (s *Store) SumReserved(ctx context.Context, userID string) (decimal.Decimal, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(-amount), 0)::text FROM transactions
		WHERE user_id = $1 AND amount < 0 AND status IN ('pending', 'processing')`, userID).Scan(&raw)
	if err != nil {
		return decimal.Zero, err
	}
	return scanDecimal(raw)
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		tx          domain.Transaction
		amount      string
		txType      string
		status      string
		processedAt *time.Time
	)
	err := row.Scan(&tx.ID, &tx.UserID, &txType, &amount, &status,
		&tx.GroupID, &tx.Description, &tx.PaymentMethod,
		&tx.PaymentReference, &tx.Notes, &tx.CreatedAt, &processedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Transaction{}, err
	}
	if tx.Amount, err = scanDecimal(amount); err != nil {
		return domain.Transaction{}, err
	}
	tx.Type = domain.TransactionType(txType)
	tx.Status = domain.TransactionStatus(status)
	tx.ProcessedAt = processedAt
	return tx, nil
}
