package group

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/ledger"
	"github.com/kixikila/backend/internal/store"
)

// PayoutResult reports the outcome of a payout selection.
type PayoutResult struct {
	Recipient   domain.GroupMember
	Transaction domain.Transaction
	Draw        *domain.PayoutDraw // lottery groups only
	// RotationComplete is true when this payout closed the full rotation,
	// either dissolving the group or starting the next cycle.
	RotationComplete bool
}

// DrawWinner is the pure lottery function: a uniform pick over the sorted
// candidate list seeded by the recorded entropy. Re-running it with a
// stored draw's seed and candidates must reproduce the stored winner.
func DrawWinner(seed int64, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	sorted := make([]string, len(candidates))
	copy(sorted, candidates)
	sort.Strings(sorted)
	rng := rand.New(rand.NewSource(seed))
	return sorted[rng.Intn(len(sorted))]
}

// VerifyDraw re-runs a recorded draw and reports whether the stored
// winner matches.
func VerifyDraw(d domain.PayoutDraw) bool {
	return DrawWinner(d.Seed, d.Candidates) == d.WinnerID
}

// SelectNextPayoutRecipient picks the cycle's recipient, pays out the
// pool, and advances or closes the rotation when everyone has been paid.
//
// Order groups take the lowest payout position among compliant members
// who have not yet received a payout this rotation; non-compliant members
// are skipped, not removed, and their turn is revisited once compliant.
// Lottery groups draw uniformly among the same candidate set, and the
// draw's seed and candidates are persisted for later verification.
func (s *Service) SelectNextPayoutRecipient(ctx context.Context, groupID string) (PayoutResult, error) {
	lock := s.locks.get(groupID)
	lock.Lock()
	defer lock.Unlock()

	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return PayoutResult{}, err
	}
	if g.Status != domain.GroupActive {
		return PayoutResult{}, ErrGroupNotActive
	}

	members, err := s.store.ListMembers(ctx, groupID)
	if err != nil {
		return PayoutResult{}, err
	}

	candidates := eligible(members)
	if len(candidates) == 0 {
		return PayoutResult{}, ErrNoEligibleRecipient
	}

	var (
		recipient domain.GroupMember
		draw      *domain.PayoutDraw
	)
	switch g.GroupType {
	case domain.GroupTypeOrder:
		// candidates are already sorted by payout position.
		recipient = candidates[0]
	case domain.GroupTypeLottery:
		ids := make([]string, len(candidates))
		for i, m := range candidates {
			ids[i] = m.UserID
		}
		sort.Strings(ids)

		seed := s.seedFn()
		winnerID := DrawWinner(seed, ids)
		for _, m := range candidates {
			if m.UserID == winnerID {
				recipient = m
				break
			}
		}

		draw = &domain.PayoutDraw{
			ID:         uuid.NewString(),
			GroupID:    groupID,
			Cycle:      g.CurrentCycle,
			Seed:       seed,
			Candidates: ids,
			WinnerID:   winnerID,
			DrawnAt:    s.nowFn().UTC(),
		}
		if err := s.store.InsertPayoutDraw(ctx, *draw); err != nil {
			return PayoutResult{}, fmt.Errorf("record draw: %w", err)
		}
	default:
		return PayoutResult{}, fmt.Errorf("unknown group type %q", g.GroupType)
	}

	payout := g.TotalPool
	var tx domain.Transaction
	if payout.IsPositive() {
		tx, err = s.ledger.PostCompleted(ctx, ledger.CreateInput{
			UserID:      recipient.UserID,
			Type:        domain.TxReward,
			Amount:      payout,
			Description: fmt.Sprintf("payout from %s (cycle %d)", g.Name, g.CurrentCycle),
			GroupID:     groupID,
		})
		if err != nil {
			return PayoutResult{}, fmt.Errorf("post payout: %w", err)
		}
	}

	recipient.HasReceivedPayout = true
	if err := s.store.UpdateMember(ctx, recipient); err != nil {
		return PayoutResult{}, err
	}

	rotationDone := allPaid(members, recipient.UserID)

	for attempt := 0; ; attempt++ {
		g, err = s.store.GetGroup(ctx, groupID)
		if err != nil {
			return PayoutResult{}, err
		}
		g.TotalPool = decimal.Zero
		g.NextPayoutDate = g.NextPayoutDate.AddDate(0, 1, 0)
		g.UpdatedAt = s.nowFn().UTC()
		if rotationDone {
			if g.RestartOnCompletion {
				g.CurrentCycle++
			} else {
				g.Status = domain.GroupCompleted
			}
		}
		if err := s.store.UpdateGroup(ctx, g); err != nil {
			if errors.Is(err, store.ErrVersionConflict) && attempt < casAttempts {
				continue
			}
			return PayoutResult{}, fmt.Errorf("update group: %w", err)
		}
		break
	}

	if rotationDone {
		if err := s.closeRotation(ctx, g, members); err != nil {
			s.logger.Error("failed to close rotation", "error", err, "groupId", groupID)
		}
	}

	return PayoutResult{
		Recipient:        recipient,
		Transaction:      tx,
		Draw:             draw,
		RotationComplete: rotationDone,
	}, nil
}

// ListDraws returns the recorded lottery history for a group.
func (s *Service) ListDraws(ctx context.Context, groupID string) ([]domain.PayoutDraw, error) {
	return s.store.ListPayoutDraws(ctx, groupID)
}

// eligible filters active, compliant members who have not yet received a
// payout this rotation, ordered by payout position.
func eligible(members []domain.GroupMember) []domain.GroupMember {
	var out []domain.GroupMember
	for _, m := range members {
		if m.Status != domain.MemberActive {
			continue
		}
		if !m.IsCompliant || m.HasReceivedPayout {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PayoutPosition < out[j].PayoutPosition
	})
	return out
}

// allPaid reports whether every active member has now received a payout,
// counting justPaid as paid regardless of the stale slice.
func allPaid(members []domain.GroupMember, justPaid string) bool {
	for _, m := range members {
		if m.Status != domain.MemberActive {
			continue
		}
		if m.UserID == justPaid {
			continue
		}
		if !m.HasReceivedPayout {
			return false
		}
	}
	return true
}

// closeRotation either resets members for the next cycle or credits the
// completed-cycle counters when the group dissolves.
func (s *Service) closeRotation(ctx context.Context, g domain.Group, members []domain.GroupMember) error {
	for _, m := range members {
		if m.Status != domain.MemberActive {
			continue
		}
		if g.Status == domain.GroupCompleted {
			user, err := s.store.GetUser(ctx, m.UserID)
			if err != nil {
				return err
			}
			user.CompletedCycles++
			user.ActiveGroups--
			if user.ActiveGroups < 0 {
				user.ActiveGroups = 0
			}
			// Finishing a full rotation is the main trust signal.
			if user.TrustScore < 100 {
				user.TrustScore += 5
				if user.TrustScore > 100 {
					user.TrustScore = 100
				}
			}
			user.UpdatedAt = s.nowFn().UTC()
			if err := s.store.UpdateUser(ctx, user); err != nil {
				return err
			}
			continue
		}

		// New rotation: everyone starts unpaid and, with nothing overdue
		// yet, compliant.
		m.HasReceivedPayout = false
		m.IsCompliant = true
		if err := s.store.UpdateMember(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
