// Package group implements the rotation model: membership, contribution
// tracking, compliance, and payout selection for savings groups.
package group

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/ledger"
	"github.com/kixikila/backend/internal/store"
)

var (
	// ErrGroupFull indicates the group has reached max_members.
	ErrGroupFull = errors.New("group is full")
	// ErrAlreadyMember indicates the user already has a membership row.
	ErrAlreadyMember = errors.New("already a member")
	// ErrGroupNotActive indicates the group is completed or cancelled.
	ErrGroupNotActive = errors.New("group is not active")
	// ErrMemberNotActive indicates the membership is pending or removed.
	ErrMemberNotActive = errors.New("membership is not active")
	// ErrNotAuthorized indicates the acting user lacks the required role.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrWrongAmount indicates a contribution that does not match the
	// group's configured contribution amount.
	ErrWrongAmount = errors.New("contribution amount mismatch")
	// ErrNoEligibleRecipient indicates no compliant, unpaid member exists.
	ErrNoEligibleRecipient = errors.New("no eligible payout recipient")
)

// casAttempts bounds optimistic retries against external writers; the
// per-group lock already serializes writers within this process.
const casAttempts = 3

// Storage is the persistence contract the rotation model depends on.
type Storage interface {
	store.GroupStore
	store.UserStore
}

// Ledger posts settled transactions for contributions and payouts.
type Ledger interface {
	PostCompleted(ctx context.Context, in ledger.CreateInput) (domain.Transaction, error)
}

// keyedMutex hands out one mutex per group so join, contribution and
// payout selection serialize per group without a global lock.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// Service orchestrates group lifecycle and rotation logic.
type Service struct {
	store  Storage
	ledger Ledger
	logger *slog.Logger
	locks  keyedMutex
	nowFn  func() time.Time
	seedFn func() int64
}

// New constructs the rotation service.
func New(st Storage, lg Ledger, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		ledger: lg,
		logger: logger,
		nowFn:  time.Now,
		seedFn: func() int64 { return time.Now().UnixNano() },
	}
}

// WithClock overrides the time provider (used primarily in tests).
func (s *Service) WithClock(nowFn func() time.Time) *Service {
	if nowFn != nil {
		s.nowFn = nowFn
	}
	return s
}

// WithSeed overrides the lottery entropy source (used primarily in tests).
func (s *Service) WithSeed(seedFn func() int64) *Service {
	if seedFn != nil {
		s.seedFn = seedFn
	}
	return s
}

// CreateInput describes a new savings group.
type CreateInput struct {
	Name                string
	CreatorID           string
	ContributionAmount  decimal.Decimal
	MaxMembers          int
	GroupType           domain.GroupType
	IsPrivate           bool
	RequiresApproval    bool
	RestartOnCompletion bool
	FirstPayoutDate     time.Time
}

// Create registers the group with its creator as the first active member.
func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Group, error) {
	if in.MaxMembers < 2 {
		return domain.Group{}, errors.New("group needs at least 2 members")
	}
	if !in.ContributionAmount.IsPositive() {
		return domain.Group{}, errors.New("contribution amount must be positive")
	}
	if _, err := s.store.GetUser(ctx, in.CreatorID); err != nil {
		return domain.Group{}, fmt.Errorf("lookup creator: %w", err)
	}

	now := s.nowFn().UTC()
	g := domain.Group{
		ID:                  uuid.NewString(),
		Name:                in.Name,
		CreatorID:           in.CreatorID,
		ContributionAmount:  in.ContributionAmount,
		MaxMembers:          in.MaxMembers,
		CurrentMembers:      1,
		GroupType:           in.GroupType,
		Status:              domain.GroupActive,
		IsPrivate:           in.IsPrivate,
		RequiresApproval:    in.RequiresApproval,
		RestartOnCompletion: in.RestartOnCompletion,
		TotalPool:           decimal.Zero,
		NextPayoutDate:      in.FirstPayoutDate,
		CurrentCycle:        1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.CreateGroup(ctx, g); err != nil {
		return domain.Group{}, fmt.Errorf("create group: %w", err)
	}

	creator := domain.GroupMember{
		GroupID:        g.ID,
		UserID:         in.CreatorID,
		Role:           domain.RoleCreator,
		Status:         domain.MemberActive,
		PayoutPosition: 1,
		IsCompliant:    true,
		JoinedAt:       now,
	}
	if err := s.store.AddMember(ctx, creator); err != nil {
		return domain.Group{}, fmt.Errorf("add creator membership: %w", err)
	}

	s.adjustActiveGroups(ctx, in.CreatorID, +1)
	return g, nil
}

// Join adds userID to the group. Full groups reject the request and
// approval-gated groups create the membership as pending with no effect
// on capacity or the pool.
func (s *Service) Join(ctx context.Context, groupID, userID string) (domain.GroupMember, error) {
	lock := s.locks.get(groupID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return domain.GroupMember{}, fmt.Errorf("lookup user: %w", err)
	}

	for attempt := 0; ; attempt++ {
		g, err := s.store.GetGroup(ctx, groupID)
		if err != nil {
			return domain.GroupMember{}, err
		}
		if g.Status != domain.GroupActive {
			return domain.GroupMember{}, ErrGroupNotActive
		}
		if _, err := s.store.GetMember(ctx, groupID, userID); err == nil {
			return domain.GroupMember{}, ErrAlreadyMember
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.GroupMember{}, err
		}
		if g.CurrentMembers >= g.MaxMembers {
			return domain.GroupMember{}, ErrGroupFull
		}

		m := domain.GroupMember{
			GroupID:     groupID,
			UserID:      userID,
			Role:        domain.RoleMember,
			Status:      domain.MemberActive,
			IsCompliant: true,
			JoinedAt:    s.nowFn().UTC(),
		}
		if g.RequiresApproval {
			m.Status = domain.MemberPending
			if err := s.store.AddMember(ctx, m); err != nil {
				if errors.Is(err, store.ErrDuplicate) {
					return domain.GroupMember{}, ErrAlreadyMember
				}
				return domain.GroupMember{}, err
			}
			return m, nil
		}

		m.PayoutPosition = g.CurrentMembers + 1
		g.CurrentMembers++
		g.UpdatedAt = s.nowFn().UTC()
		if err := s.store.UpdateGroup(ctx, g); err != nil {
			if errors.Is(err, store.ErrVersionConflict) && attempt < casAttempts {
				continue
			}
			return domain.GroupMember{}, fmt.Errorf("update group: %w", err)
		}
		if err := s.store.AddMember(ctx, m); err != nil {
			// Another instance won the membership insert after our
			// pre-check; give the slot back before reporting.
			s.revertMemberCount(ctx, groupID)
			if errors.Is(err, store.ErrDuplicate) {
				return domain.GroupMember{}, ErrAlreadyMember
			}
			return domain.GroupMember{}, err
		}

		s.adjustActiveGroups(ctx, userID, +1)
		return m, nil
	}
}

// Approve activates a pending membership. Only the creator or an admin of
// the group may approve, and capacity is re-checked at approval time.
func (s *Service) Approve(ctx context.Context, groupID, userID, approverID string) (domain.GroupMember, error) {
	lock := s.locks.get(groupID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.requireAdmin(ctx, groupID, approverID); err != nil {
		return domain.GroupMember{}, err
	}

	m, err := s.store.GetMember(ctx, groupID, userID)
	if err != nil {
		return domain.GroupMember{}, err
	}
	if m.Status != domain.MemberPending {
		return domain.GroupMember{}, fmt.Errorf("membership is %s, not pending", m.Status)
	}

	for attempt := 0; ; attempt++ {
		g, err := s.store.GetGroup(ctx, groupID)
		if err != nil {
			return domain.GroupMember{}, err
		}
		if g.Status != domain.GroupActive {
			return domain.GroupMember{}, ErrGroupNotActive
		}
		if g.CurrentMembers >= g.MaxMembers {
			return domain.GroupMember{}, ErrGroupFull
		}

		g.CurrentMembers++
		g.UpdatedAt = s.nowFn().UTC()
		if err := s.store.UpdateGroup(ctx, g); err != nil {
			if errors.Is(err, store.ErrVersionConflict) && attempt < casAttempts {
				continue
			}
			return domain.GroupMember{}, fmt.Errorf("update group: %w", err)
		}

		m.Status = domain.MemberActive
		m.PayoutPosition = g.CurrentMembers
		m.IsCompliant = true
		if err := s.store.UpdateMember(ctx, m); err != nil {
			s.revertMemberCount(ctx, groupID)
			return domain.GroupMember{}, err
		}

		s.adjustActiveGroups(ctx, userID, +1)
		return m, nil
	}
}

// revertMemberCount undoes a committed counter increment after the member
// write that followed it failed, so the failed slot does not shrink the
// group's capacity forever.
func (s *Service) revertMemberCount(ctx context.Context, groupID string) {
	for attempt := 0; ; attempt++ {
		g, err := s.store.GetGroup(ctx, groupID)
		if err != nil {
			s.logger.Error("failed to load group for member counter revert",
				"error", err, "groupId", groupID)
			return
		}
		g.CurrentMembers--
		g.UpdatedAt = s.nowFn().UTC()
		err = s.store.UpdateGroup(ctx, g)
		if errors.Is(err, store.ErrVersionConflict) && attempt < casAttempts {
			continue
		}
		if err != nil {
			s.logger.Error("failed to revert group member counter",
				"error", err, "groupId", groupID)
		}
		return
	}
}

// RemoveMember bans an active member. They are excluded from future payout
// selection; past transactions are untouched.
func (s *Service) RemoveMember(ctx context.Context, groupID, userID, adminID string) error {
	lock := s.locks.get(groupID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.requireAdmin(ctx, groupID, adminID); err != nil {
		return err
	}

	m, err := s.store.GetMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if m.Status != domain.MemberActive {
		return ErrMemberNotActive
	}
	if m.Role == domain.RoleCreator {
		return fmt.Errorf("%w: the creator cannot be removed", ErrNotAuthorized)
	}

	m.Status = domain.MemberRemoved
	if err := s.store.UpdateMember(ctx, m); err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		g, err := s.store.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		g.CurrentMembers--
		g.UpdatedAt = s.nowFn().UTC()
		if err := s.store.UpdateGroup(ctx, g); err != nil {
			if errors.Is(err, store.ErrVersionConflict) && attempt < casAttempts {
				continue
			}
			return fmt.Errorf("update group: %w", err)
		}
		break
	}

	s.adjustActiveGroups(ctx, userID, -1)
	return nil
}

// RecordContribution posts the member's contribution for the current
// cycle. The entry settles immediately, the pool grows by the amount, and
// compliance is recomputed against the cycle's due date.
func (s *Service) RecordContribution(ctx context.Context, groupID, userID string, amount decimal.Decimal) (domain.Transaction, error) {
	lock := s.locks.get(groupID)
	lock.Lock()
	defer lock.Unlock()

	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if g.Status != domain.GroupActive {
		return domain.Transaction{}, ErrGroupNotActive
	}

	m, err := s.store.GetMember(ctx, groupID, userID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if m.Status != domain.MemberActive {
		return domain.Transaction{}, ErrMemberNotActive
	}
	if !amount.Equal(g.ContributionAmount) {
		return domain.Transaction{}, fmt.Errorf("%w: expected %s", ErrWrongAmount, g.ContributionAmount.StringFixed(2))
	}

	now := s.nowFn().UTC()
	tx, err := s.ledger.PostCompleted(ctx, ledger.CreateInput{
		UserID:      userID,
		Type:        domain.TxContribution,
		Amount:      amount.Neg(),
		Description: fmt.Sprintf("contribution to %s (cycle %d)", g.Name, g.CurrentCycle),
		GroupID:     groupID,
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	m.TotalContributed = m.TotalContributed.Add(amount)
	// Compliant iff the contribution landed on or before the cycle's due
	// date; a late contribution restores eligibility for the next cycle
	// but does not rewrite the current one.
	m.IsCompliant = !now.After(g.NextPayoutDate)
	if err := s.store.UpdateMember(ctx, m); err != nil {
		return domain.Transaction{}, err
	}

	for attempt := 0; ; attempt++ {
		g, err = s.store.GetGroup(ctx, groupID)
		if err != nil {
			return domain.Transaction{}, err
		}
		g.TotalPool = g.TotalPool.Add(amount)
		g.UpdatedAt = now
		if err := s.store.UpdateGroup(ctx, g); err != nil {
			if errors.Is(err, store.ErrVersionConflict) && attempt < casAttempts {
				continue
			}
			return domain.Transaction{}, fmt.Errorf("update pool: %w", err)
		}
		return tx, nil
	}
}

func (s *Service) requireAdmin(ctx context.Context, groupID, userID string) error {
	m, err := s.store.GetMember(ctx, groupID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotAuthorized
		}
		return err
	}
	if m.Status != domain.MemberActive {
		return ErrNotAuthorized
	}
	if m.Role != domain.RoleCreator && m.Role != domain.RoleAdmin {
		return ErrNotAuthorized
	}
	return nil
}

func (s *Service) adjustActiveGroups(ctx context.Context, userID string, delta int) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to load user for group counter", "error", err, "userId", userID)
		return
	}
	user.ActiveGroups += delta
	if user.ActiveGroups < 0 {
		user.ActiveGroups = 0
	}
	user.UpdatedAt = s.nowFn().UTC()
	if err := s.store.UpdateUser(ctx, user); err != nil {
		s.logger.Warn("failed to update user group counter", "error", err, "userId", userID)
	}
}
