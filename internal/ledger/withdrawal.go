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
	// ErrWithdrawalTooSmall indicates the amount is below the configured
	// minimum.
	ErrWithdrawalTooSmall = errors.New("withdrawal below minimum")
	// ErrWithdrawalTooLarge indicates the amount is above the configured
	// maximum.
	ErrWithdrawalTooLarge = errors.New("withdrawal above maximum")
	// ErrWithdrawalNotPending indicates a processing transition against a
	// withdrawal that already left the requested state.
	ErrWithdrawalNotPending = errors.New("withdrawal is not in requested state")
)

// Fallback bounds used when the operator has not configured limits.
var (
	defaultMinWithdrawal = decimal.NewFromInt(10)
	defaultMaxWithdrawal = decimal.NewFromInt(5000)
)

// WithdrawalStorage is the persistence contract the withdrawal flow
// depends on.
type WithdrawalStorage interface {
	store.WithdrawalStore
	store.ConfigStore
}

// WithdrawalService runs the bank payout flow. A request reserves funds
// through a pending ledger debit; the linked transaction settles only when
// the payment bridge confirms the payout.
type WithdrawalService struct {
	store  WithdrawalStorage
	ledger *Service
	logger *slog.Logger
	nowFn  func() time.Time
}

// NewWithdrawalService constructs the withdrawal flow.
func NewWithdrawalService(st WithdrawalStorage, lg *Service, logger *slog.Logger) *WithdrawalService {
	return &WithdrawalService{store: st, ledger: lg, logger: logger, nowFn: time.Now}
}

// WithClock overrides the time provider (used primarily in tests).
func (s *WithdrawalService) WithClock(nowFn func() time.Time) *WithdrawalService {
	if nowFn != nil {
		s.nowFn = nowFn
	}
	return s
}

// RequestInput describes a new bank payout request.
type RequestInput struct {
	UserID     string
	Amount     decimal.Decimal
	IBAN       string
	HolderName string
}

// Request validates the amount against the operator-configured bounds and
// the wallet balance, posts the pending debit, and records the withdrawal.
func (s *WithdrawalService) Request(ctx context.Context, in RequestInput) (domain.Withdrawal, error) {
	if in.IBAN == "" || in.HolderName == "" {
		return domain.Withdrawal{}, errors.New("iban and holder name are required")
	}
	if !in.Amount.IsPositive() {
		return domain.Withdrawal{}, ErrInvalidAmount
	}

	min, max := s.bounds(ctx)
	if in.Amount.LessThan(min) {
		return domain.Withdrawal{}, fmt.Errorf("%w: minimum is %s", ErrWithdrawalTooSmall, min.StringFixed(2))
	}
	if in.Amount.GreaterThan(max) {
		return domain.Withdrawal{}, fmt.Errorf("%w: maximum is %s", ErrWithdrawalTooLarge, max.StringFixed(2))
	}

	tx, err := s.ledger.CreateTransaction(ctx, CreateInput{
		UserID:        in.UserID,
		Type:          domain.TxWithdrawal,
		Amount:        in.Amount.Neg(),
		Description:   fmt.Sprintf("withdrawal to %s", maskIBAN(in.IBAN)),
		PaymentMethod: "bank_transfer",
	})
	if err != nil {
		return domain.Withdrawal{}, err
	}

	now := s.nowFn().UTC()
	w := domain.Withdrawal{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		TransactionID: tx.ID,
		Amount:        in.Amount,
		IBAN:          in.IBAN,
		HolderName:    in.HolderName,
		Status:        domain.WithdrawalRequested,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateWithdrawal(ctx, w); err != nil {
		// Undo the reservation so the funds are not stuck pending.
		if _, cErr := s.ledger.UpdateStatus(ctx, tx.ID, domain.TxCancelled, "withdrawal record failed"); cErr != nil {
			s.logger.Error("failed to cancel orphaned withdrawal transaction",
				"error", cErr, "transactionId", tx.ID)
		}
		return domain.Withdrawal{}, fmt.Errorf("create withdrawal: %w", err)
	}
	return w, nil
}

// MarkProcessing records the payment provider's payout reference and moves
// the withdrawal and its ledger entry into processing. The bridge settles
// both when the matching payout event arrives.
func (s *WithdrawalService) MarkProcessing(ctx context.Context, id, providerRef string) (domain.Withdrawal, error) {
	w, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		return domain.Withdrawal{}, err
	}
	if w.Status != domain.WithdrawalRequested {
		return domain.Withdrawal{}, ErrWithdrawalNotPending
	}

	w.Status = domain.WithdrawalProcessing
	w.ProviderRef = providerRef
	w.UpdatedAt = s.nowFn().UTC()
	if err := s.store.UpdateWithdrawal(ctx, w); err != nil {
		return domain.Withdrawal{}, fmt.Errorf("update withdrawal: %w", err)
	}

	if _, err := s.ledger.UpdateStatus(ctx, w.TransactionID, domain.TxProcessing, ""); err != nil {
		return domain.Withdrawal{}, fmt.Errorf("transition withdrawal transaction: %w", err)
	}
	return w, nil
}

// Get returns one withdrawal by id.
func (s *WithdrawalService) Get(ctx context.Context, id string) (domain.Withdrawal, error) {
	return s.store.GetWithdrawal(ctx, id)
}

// List returns the user's withdrawal history, newest first.
func (s *WithdrawalService) List(ctx context.Context, userID string) ([]domain.Withdrawal, error) {
	return s.store.ListWithdrawals(ctx, userID)
}

// bounds reads the operator-configured limits, falling back to defaults
// when unset or unparsable.
func (s *WithdrawalService) bounds(ctx context.Context) (decimal.Decimal, decimal.Decimal) {
	min, max := defaultMinWithdrawal, defaultMaxWithdrawal

	cfg, err := s.store.GetSystemConfig(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to load system config for withdrawal bounds", "error", err)
		}
		return min, max
	}
	if v, err := decimal.NewFromString(cfg.MinWithdrawal); err == nil && v.IsPositive() {
		min = v
	}
	if v, err := decimal.NewFromString(cfg.MaxWithdrawal); err == nil && v.IsPositive() {
		max = v
	}
	return min, max
}

// maskIBAN keeps only the last four characters for descriptions and logs.
func maskIBAN(iban string) string {
	if len(iban) <= 4 {
		return iban
	}
	return "****" + iban[len(iban)-4:]
}
