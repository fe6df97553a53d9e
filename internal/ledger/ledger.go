// Package ledger implements the wallet ledger: an append-only transaction
// log per user from which all balances are derived.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/store"
)

var (
	// ErrInvalidAmount indicates a zero amount or a sign that contradicts
	// the transaction type.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrTerminalStatus indicates an update against a completed, failed or
	// cancelled transaction.
	ErrTerminalStatus = errors.New("transaction already terminal")
	// ErrInvalidTransition indicates a status change outside the
	// pending -> processing -> terminal machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// InsufficientBalanceError reports the exact shortfall so the caller can
// surface it to the user.
type InsufficientBalanceError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	shortfall := e.Requested.Sub(e.Available)
	return fmt.Sprintf("insufficient balance: short %s (available %s, requested %s)",
		shortfall.StringFixed(2), e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

// Shortfall returns the missing amount.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// Storage is the persistence contract the ledger depends on.
type Storage interface {
	store.LedgerStore
	store.UserStore
}

// Service posts and transitions ledger entries and keeps the user
// aggregate caches in line with the fold of completed transactions.
type Service struct {
	store  Storage
	logger *slog.Logger
	nowFn  func() time.Time
}

// New constructs a ledger Service.
func New(st Storage, logger *slog.Logger) *Service {
	return &Service{store: st, logger: logger, nowFn: time.Now}
}

// WithClock overrides the time provider (used primarily in tests).
func (s *Service) WithClock(nowFn func() time.Time) *Service {
	if nowFn != nil {
		s.nowFn = nowFn
	}
	return s
}

// CreateInput describes a new ledger entry. Amount carries the sign:
// negative debits the user, positive credits them.
type CreateInput struct {
	UserID           string
	Type             domain.TransactionType
	Amount           decimal.Decimal
	Description      string
	GroupID          string
	PaymentMethod    string
	PaymentReference string
}

// debitType reports whether the type must carry a negative amount.
func debitType(t domain.TransactionType) bool {
	switch t {
	case domain.TxWithdrawal, domain.TxContribution, domain.TxFee, domain.TxPenalty:
		return true
	}
	return false
}

// CreateTransaction appends a pending ledger entry. Debits are checked
// against the available balance, the fold of completed entries minus the
// funds already reserved by pending and processing debits, and rejected
// with the exact shortfall when they would drive it negative.
func (s *Service) CreateTransaction(ctx context.Context, in CreateInput) (domain.Transaction, error) {
	if in.Amount.IsZero() {
		return domain.Transaction{}, ErrInvalidAmount
	}
	if debitType(in.Type) && in.Amount.IsPositive() {
		return domain.Transaction{}, fmt.Errorf("%w: %s must be negative", ErrInvalidAmount, in.Type)
	}
	if (in.Type == domain.TxDeposit || in.Type == domain.TxReward) && in.Amount.IsNegative() {
		return domain.Transaction{}, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, in.Type)
	}

	if _, err := s.store.GetUser(ctx, in.UserID); err != nil {
		return domain.Transaction{}, fmt.Errorf("lookup user %s: %w", in.UserID, err)
	}

	if in.Amount.IsNegative() {
		available, err := s.Available(ctx, in.UserID)
		if err != nil {
			return domain.Transaction{}, err
		}
		requested := in.Amount.Neg()
		if requested.GreaterThan(available) {
			return domain.Transaction{}, &InsufficientBalanceError{Available: available, Requested: requested}
		}
	}

	tx := domain.Transaction{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		Type:             in.Type,
		Amount:           in.Amount,
		Status:           domain.TxPending,
		GroupID:          in.GroupID,
		Description:      in.Description,
		PaymentMethod:    in.PaymentMethod,
		PaymentReference: in.PaymentReference,
		CreatedAt:        s.nowFn().UTC(),
	}
	if err := s.store.InsertTransaction(ctx, tx); err != nil {
		return domain.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return tx, nil
}

// UpdateStatus transitions a transaction along the monotonic machine.
// Terminal entries are immutable: any further update is rejected.
func (s *Service) UpdateStatus(ctx context.Context, id string, status domain.TransactionStatus, notes string) (domain.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}

	if tx.Status.Terminal() {
		if tx.Status == status {
			// Idempotent repeat of the terminal state is a no-op.
			return tx, nil
		}
		return domain.Transaction{}, ErrTerminalStatus
	}
	if !tx.Status.CanTransitionTo(status) {
		return domain.Transaction{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tx.Status, status)
	}

	tx.Status = status
	if notes != "" {
		tx.Notes = notes
	}
	if status == domain.TxCompleted {
		now := s.nowFn().UTC()
		tx.ProcessedAt = &now
	}

	if err := s.store.UpdateTransaction(ctx, tx); err != nil {
		return domain.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	if status == domain.TxCompleted {
		if err := s.refreshAggregates(ctx, tx); err != nil {
			// The ledger row is committed; the cached aggregates will be
			// recomputed on the next completed posting.
			s.logger.Error("failed to refresh user aggregates", "error", err, "userId", tx.UserID)
		}
	}
	return tx, nil
}

// PostCompleted creates a transaction and immediately completes it. Used
// for postings whose settlement already happened (webhook confirmations,
// pool payouts).
func (s *Service) PostCompleted(ctx context.Context, in CreateInput) (domain.Transaction, error) {
	tx, err := s.CreateTransaction(ctx, in)
	if err != nil {
		return domain.Transaction{}, err
	}
	return s.UpdateStatus(ctx, tx.ID, domain.TxCompleted, "")
}

// Balance folds the completed entries for the user. This is the
// authoritative wallet balance.
func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.store.SumCompleted(ctx, userID)
}

// Available is the balance minus funds reserved by pending and processing
// debits. Spending checks run against this, not the settled balance, so a
// reservation cannot be spent twice.
func (s *Service) Available(ctx context.Context, userID string) (decimal.Decimal, error) {
	balance, err := s.store.SumCompleted(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("compute balance: %w", err)
	}
	reserved, err := s.store.SumReserved(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("compute reserved funds: %w", err)
	}
	return balance.Sub(reserved), nil
}

// List returns a filtered, paginated slice of the ledger plus the total
// match count.
func (s *Service) List(ctx context.Context, opts store.ListTransactionsOptions) (domain.TransactionListResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return s.store.ListTransactions(ctx, opts)
}

// refreshAggregates recomputes the user's cached balance from the ledger
// and rolls the completed amount into the lifetime totals.
func (s *Service) refreshAggregates(ctx context.Context, tx domain.Transaction) error {
	user, err := s.store.GetUser(ctx, tx.UserID)
	if err != nil {
		return err
	}

	balance, err := s.store.SumCompleted(ctx, tx.UserID)
	if err != nil {
		return err
	}
	user.WalletBalance = balance

	switch tx.Type {
	case domain.TxContribution:
		user.TotalSaved = user.TotalSaved.Add(tx.Amount.Neg())
	case domain.TxReward:
		user.TotalEarned = user.TotalEarned.Add(tx.Amount)
	case domain.TxWithdrawal:
		user.TotalWithdrawn = user.TotalWithdrawn.Add(tx.Amount.Neg())
	}
	user.UpdatedAt = s.nowFn().UTC()

	return s.store.UpdateUser(ctx, user)
}
