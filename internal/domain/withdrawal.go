package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalStatus is the lifecycle state of a payout request.
type WithdrawalStatus string

const (
	WithdrawalRequested  WithdrawalStatus = "requested"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalPaid       WithdrawalStatus = "paid"
	WithdrawalFailed     WithdrawalStatus = "failed"
)

// ParseWithdrawalStatus validates external input against the closed set of statuses.
func ParseWithdrawalStatus(s string) (WithdrawalStatus, error) {
	switch WithdrawalStatus(s) {
	case WithdrawalRequested, WithdrawalProcessing, WithdrawalPaid, WithdrawalFailed:
		return WithdrawalStatus(s), nil
	}
	return "", fmt.Errorf("unknown withdrawal status %q", s)
}

// Terminal reports whether the withdrawal admits no further transitions.
func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalPaid || s == WithdrawalFailed
}

// Withdrawal is a pending-to-terminal payout request against an external
// bank account. The provider reference ties it to payout events arriving
// through the payment bridge.
type Withdrawal struct {
	ID            string
	UserID        string
	TransactionID string
	Amount        decimal.Decimal
	IBAN          string
	HolderName    string
	Status        WithdrawalStatus
	FailureReason string
	ProviderRef   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
