package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxDeposit      TransactionType = "deposit"
	TxWithdrawal   TransactionType = "withdrawal"
	TxContribution TransactionType = "contribution"
	TxReward       TransactionType = "reward"
	TxTransfer     TransactionType = "transfer"
	TxFee          TransactionType = "fee"
	TxPenalty      TransactionType = "penalty"
)

// ParseTransactionType validates external input against the closed set of types.
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(s) {
	case TxDeposit, TxWithdrawal, TxContribution, TxReward, TxTransfer, TxFee, TxPenalty:
		return TransactionType(s), nil
	}
	return "", fmt.Errorf("unknown transaction type %q", s)
}

// TransactionStatus is the lifecycle state of a ledger entry.
type TransactionStatus string

const (
	TxPending    TransactionStatus = "pending"
	TxProcessing TransactionStatus = "processing"
	TxCompleted  TransactionStatus = "completed"
	TxFailed     TransactionStatus = "failed"
	TxCancelled  TransactionStatus = "cancelled"
)

// ParseTransactionStatus validates external input against the closed set of statuses.
func ParseTransactionStatus(s string) (TransactionStatus, error) {
	switch TransactionStatus(s) {
	case TxPending, TxProcessing, TxCompleted, TxFailed, TxCancelled:
		return TransactionStatus(s), nil
	}
	return "", fmt.Errorf("unknown transaction status %q", s)
}

// Terminal reports whether the status admits no further transitions.
func (s TransactionStatus) Terminal() bool {
	return s == TxCompleted || s == TxFailed || s == TxCancelled
}

// CanTransitionTo enforces the monotonic status machine:
// pending -> processing -> {completed, failed, cancelled}.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case TxPending:
		return next == TxProcessing || next.Terminal()
	case TxProcessing:
		return next.Terminal()
	}
	return false
}

// Transaction is an immutable ledger row. Amount sign encodes direction:
// negative debits the user, positive credits them. Once Status reaches a
// terminal value the row never changes again.
type Transaction struct {
	ID               string
	UserID           string
	Type             TransactionType
	Amount           decimal.Decimal
	Status           TransactionStatus
	GroupID          string // empty for wallet-only entries
	Description      string
	PaymentMethod    string
	PaymentReference string
	Notes            string
	CreatedAt        time.Time
	ProcessedAt      *time.Time
}

// Debit reports whether the entry removes funds from the user's wallet.
func (t Transaction) Debit() bool {
	return t.Amount.IsNegative()
}

// TransactionListResult captures one page of ledger entries plus the
// unpaginated total.
type TransactionListResult struct {
	Items []Transaction
	Total int64
}
