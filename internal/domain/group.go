package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// GroupType selects how the payout recipient is chosen each cycle.
type GroupType string

const (
	GroupTypeLottery GroupType = "lottery"
	GroupTypeOrder   GroupType = "order"
)

// ParseGroupType validates external input against the closed set of types.
func ParseGroupType(s string) (GroupType, error) {
	switch GroupType(s) {
	case GroupTypeLottery, GroupTypeOrder:
		return GroupType(s), nil
	}
	return "", fmt.Errorf("unknown group type %q", s)
}

// GroupStatus is the lifecycle state of a savings group.
type GroupStatus string

const (
	GroupActive    GroupStatus = "active"
	GroupCompleted GroupStatus = "completed"
	GroupCancelled GroupStatus = "cancelled"
)

// Group models a rotating savings group. Invariants: CurrentMembers never
// exceeds MaxMembers, and TotalPool equals the sum of completed
// contribution transactions for the current cycle minus payouts made.
type Group struct {
	ID                  string
	Name                string
	CreatorID           string
	ContributionAmount  decimal.Decimal
	MaxMembers          int
	CurrentMembers      int
	GroupType           GroupType
	Status              GroupStatus
	IsPrivate           bool
	RequiresApproval    bool
	RestartOnCompletion bool // start a new rotation instead of dissolving
	TotalPool           decimal.Decimal
	NextPayoutDate      time.Time
	CurrentCycle        int
	Version             int64 // optimistic concurrency counter
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// MemberRole is the role a user holds within a group.
type MemberRole string

const (
	RoleCreator   MemberRole = "creator"
	RoleAdmin     MemberRole = "admin"
	RoleMember    MemberRole = "member"
	RoleTreasurer MemberRole = "treasurer"
)

// MemberStatus is the lifecycle state of a group membership.
type MemberStatus string

const (
	MemberPending MemberStatus = "pending"
	MemberActive  MemberStatus = "active"
	MemberRemoved MemberStatus = "removed"
)

// GroupMember joins a user to a group. A member cannot be selected for a
// payout while IsCompliant is false.
type GroupMember struct {
	GroupID           string
	UserID            string
	Role              MemberRole
	Status            MemberStatus
	PayoutPosition    int // order-type groups only
	TotalContributed  decimal.Decimal
	IsCompliant       bool
	HasReceivedPayout bool // within the current full rotation
	JoinedAt          time.Time
}

// PayoutDraw records a lottery selection so the result can be verified
// after the fact: re-running the draw with the stored seed over the stored
// candidate set must yield the stored winner.
type PayoutDraw struct {
	ID         string
	GroupID    string
	Cycle      int
	Seed       int64
	Candidates []string // member user IDs, sorted, as of draw time
	WinnerID   string
	DrawnAt    time.Time
}
