package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// KYCStatus tracks identity verification progress for a user.
type KYCStatus string

const (
	KYCPending  KYCStatus = "pending"
	KYCApproved KYCStatus = "approved"
	KYCRejected KYCStatus = "rejected"
)

// ParseKYCStatus validates external input against the closed set of statuses.
func ParseKYCStatus(s string) (KYCStatus, error) {
	switch KYCStatus(s) {
	case KYCPending, KYCApproved, KYCRejected:
		return KYCStatus(s), nil
	}
	return "", fmt.Errorf("unknown kyc status %q", s)
}

// User aggregates the canonical account data. The monetary fields are
// derived caches: the ledger is the source of truth and WalletBalance must
// always equal the fold of the user's completed transactions.
type User struct {
	ID              string
	Name            string
	Email           string
	Phone           string
	WalletBalance   decimal.Decimal
	TotalSaved      decimal.Decimal
	TotalEarned     decimal.Decimal
	TotalWithdrawn  decimal.Decimal
	TrustScore      int // 0-100 reputation heuristic
	KYCStatus       KYCStatus
	KYCReason       string // rejection reason, shown to the user verbatim
	IsVIP           bool
	ActiveGroups    int
	CompletedCycles int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time // soft delete only while financial history exists
}

// Deleted reports whether the user has been soft-deleted.
func (u User) Deleted() bool {
	return u.DeletedAt != nil
}
