// Package payments reconciles asynchronous payment-processor events with
// the ledger and withdrawal state. Delivery is at-least-once; every apply
// is idempotent by event id.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/ledger"
	"github.com/kixikila/backend/internal/store"
)

// Storage is the persistence contract the bridge depends on.
type Storage interface {
	store.EventStore
	store.WithdrawalStore
	store.UserStore
	store.LedgerStore
}

// Ledger posts and transitions ledger entries on behalf of the bridge.
type Ledger interface {
	PostCompleted(ctx context.Context, in ledger.CreateInput) (domain.Transaction, error)
	UpdateStatus(ctx context.Context, id string, status domain.TransactionStatus, notes string) (domain.Transaction, error)
}

// Notifier surfaces reconciliation outcomes to users. May be nil.
type Notifier interface {
	Publish(ctx context.Context, userID, title, message string, kind domain.NotificationType, metadata map[string]any) error
}

// Bridge consumes verified processor events and applies them exactly once.
type Bridge struct {
	store     Storage
	ledger    Ledger
	notifier  Notifier
	logger    *slog.Logger
	secret    []byte
	tolerance time.Duration
	timeout   time.Duration
	nowFn     func() time.Time
}

// New constructs the bridge with the shared webhook secret.
func New(st Storage, lg Ledger, notifier Notifier, logger *slog.Logger, secret string) *Bridge {
	return &Bridge{
		store:     st,
		ledger:    lg,
		notifier:  notifier,
		logger:    logger,
		secret:    []byte(secret),
		tolerance: defaultTolerance,
		timeout:   10 * time.Second,
		nowFn:     time.Now,
	}
}

// WithClock overrides the time provider (used primarily in tests).
func (b *Bridge) WithClock(nowFn func() time.Time) *Bridge {
	if nowFn != nil {
		b.nowFn = nowFn
	}
	return b
}

// HandleEvent verifies, deduplicates and applies one delivered event.
//
// Error contract: ErrBadSignature means reject without retry (4xx); any
// other error means the apply failed midway and the processor should
// redeliver (5xx). A failed apply releases the idempotency record before
// returning so the redelivery is re-applied rather than swallowed as a
// duplicate. Unknown event kinds and true duplicates return nil so the
// processor stops retrying them.
func (b *Bridge) HandleEvent(ctx context.Context, payload []byte, sigHeader string) error {
	if err := verifySignature(b.secret, payload, sigHeader, b.nowFn(), b.tolerance); err != nil {
		return err
	}

	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("%w: malformed payload", ErrBadSignature)
	}
	if ev.ID == "" {
		return fmt.Errorf("%w: missing event id", ErrBadSignature)
	}

	kind := ParseEventKind(ev.Type)
	if kind == EventUnknown {
		b.logger.Info("ignoring unhandled event type", "type", ev.Type, "eventId", ev.ID)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	fresh, err := b.store.MarkEventProcessed(ctx, domain.WebhookEvent{
		EventID:     ev.ID,
		Kind:        string(kind),
		ProcessedAt: b.nowFn().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	if !fresh {
		b.logger.Info("duplicate event delivery", "eventId", ev.ID, "type", ev.Type)
		return nil
	}

	var applyErr error
	switch kind {
	case EventCheckoutCompleted, EventPaymentSucceeded, EventInvoiceSucceeded:
		applyErr = b.applyCredit(ctx, kind, ev.Data.Object)
	case EventPaymentFailed, EventInvoiceFailed:
		applyErr = b.applyPaymentFailure(ctx, ev.Data.Object)
	case EventSubscriptionDeleted:
		applyErr = b.applySubscriptionEnd(ctx, ev.Data.Object)
	case EventPayoutPaid:
		applyErr = b.applyPayout(ctx, ev.Data.Object, domain.WithdrawalPaid)
	case EventPayoutFailed:
		applyErr = b.applyPayout(ctx, ev.Data.Object, domain.WithdrawalFailed)
	}
	if applyErr != nil {
		// Release the record even when the apply died on a cancelled
		// context; otherwise the redelivery dedupes against a half-applied
		// event and the money movement is lost.
		if err := b.store.ClearEvent(context.WithoutCancel(ctx), ev.ID); err != nil {
			b.logger.Error("failed to release event record for redelivery",
				"error", err, "eventId", ev.ID)
		}
		return applyErr
	}
	return nil
}

// minorUnitsToAmount converts processor cents into a decimal amount.
func minorUnitsToAmount(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func (b *Bridge) applyCredit(ctx context.Context, kind EventKind, obj eventObject) error {
	userID := obj.Metadata["user_id"]
	if userID == "" {
		b.logger.Warn("credit event without user_id metadata", "objectId", obj.ID)
		return nil
	}
	amount := minorUnitsToAmount(obj.Amount)
	if !amount.IsPositive() {
		b.logger.Warn("credit event with non-positive amount", "objectId", obj.ID, "amount", obj.Amount)
		return nil
	}

	tx, err := b.ledger.PostCompleted(ctx, ledger.CreateInput{
		UserID:           userID,
		Type:             domain.TxDeposit,
		Amount:           amount,
		Description:      "payment confirmed",
		PaymentMethod:    "card",
		PaymentReference: obj.ID,
	})
	if err != nil {
		return fmt.Errorf("post deposit: %w", err)
	}

	// Subscription invoices also flip VIP state.
	if kind == EventInvoiceSucceeded || obj.Metadata["vip"] == "true" {
		if err := b.setVIP(ctx, userID, true); err != nil {
			return err
		}
	}

	b.notify(ctx, userID, "Payment received",
		fmt.Sprintf("Your payment of %s was confirmed.", amount.StringFixed(2)),
		domain.NotifyPayment, map[string]any{"transactionId": tx.ID})
	return nil
}

func (b *Bridge) applyPaymentFailure(ctx context.Context, obj eventObject) error {
	tx, err := b.store.GetTransactionByReference(ctx, obj.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			b.logger.Info("failure event for unknown payment reference", "objectId", obj.ID)
			return nil
		}
		return err
	}
	if tx.Status.Terminal() {
		return nil
	}
	if _, err := b.ledger.UpdateStatus(ctx, tx.ID, domain.TxFailed, obj.FailureMessage); err != nil {
		return fmt.Errorf("fail transaction: %w", err)
	}

	b.notify(ctx, tx.UserID, "Payment failed",
		"Your payment could not be processed. Please try again.",
		domain.NotifyPayment, map[string]any{"transactionId": tx.ID})
	return nil
}

func (b *Bridge) applySubscriptionEnd(ctx context.Context, obj eventObject) error {
	userID := obj.Metadata["user_id"]
	if userID == "" {
		b.logger.Warn("subscription event without user_id metadata", "objectId", obj.ID)
		return nil
	}
	if err := b.setVIP(ctx, userID, false); err != nil {
		return err
	}
	b.notify(ctx, userID, "VIP ended", "Your VIP subscription has ended.",
		domain.NotifySystem, nil)
	return nil
}

func (b *Bridge) applyPayout(ctx context.Context, obj eventObject, status domain.WithdrawalStatus) error {
	w, err := b.store.GetWithdrawalByProviderRef(ctx, obj.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			b.logger.Warn("payout event for unknown withdrawal", "payoutId", obj.ID)
			return nil
		}
		return err
	}
	if w.Status.Terminal() {
		return nil
	}

	w.Status = status
	if status == domain.WithdrawalFailed {
		w.FailureReason = obj.FailureMessage
	}
	w.UpdatedAt = b.nowFn().UTC()
	if err := b.store.UpdateWithdrawal(ctx, w); err != nil {
		return fmt.Errorf("update withdrawal: %w", err)
	}

	if w.TransactionID != "" {
		txStatus := domain.TxCompleted
		if status == domain.WithdrawalFailed {
			txStatus = domain.TxFailed
		}
		if _, err := b.ledger.UpdateStatus(ctx, w.TransactionID, txStatus, obj.FailureMessage); err != nil {
			return fmt.Errorf("settle withdrawal transaction: %w", err)
		}
	}

	switch status {
	case domain.WithdrawalPaid:
		b.notify(ctx, w.UserID, "Withdrawal paid",
			fmt.Sprintf("Your withdrawal of %s was paid out.", w.Amount.StringFixed(2)),
			domain.NotifyPayout, map[string]any{"withdrawalId": w.ID})
	case domain.WithdrawalFailed:
		b.notify(ctx, w.UserID, "Withdrawal failed",
			"Your withdrawal could not be completed. Please retry.",
			domain.NotifyPayout, map[string]any{"withdrawalId": w.ID, "reason": w.FailureReason})
	}
	return nil
}

func (b *Bridge) setVIP(ctx context.Context, userID string, vip bool) error {
	user, err := b.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user %s: %w", userID, err)
	}
	if user.IsVIP == vip {
		return nil
	}
	user.IsVIP = vip
	user.UpdatedAt = b.nowFn().UTC()
	return b.store.UpdateUser(ctx, user)
}

func (b *Bridge) notify(ctx context.Context, userID, title, message string, kind domain.NotificationType, metadata map[string]any) {
	if b.notifier == nil {
		return
	}
	if err := b.notifier.Publish(ctx, userID, title, message, kind, metadata); err != nil {
		b.logger.Warn("failed to publish notification", "error", err, "userId", userID)
	}
}
