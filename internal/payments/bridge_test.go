package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/ledger"
	"github.com/kixikila/backend/internal/store"
	"github.com/kixikila/backend/internal/store/memory"
)

const testSecret = "whsec_test"

type publishedNote struct {
	UserID string
	Title  string
	Kind   domain.NotificationType
}

type notifierStub struct {
	published []publishedNote
}

func (n *notifierStub) Publish(_ context.Context, userID, title, _ string, kind domain.NotificationType, _ map[string]any) error {
	n.published = append(n.published, publishedNote{UserID: userID, Title: title, Kind: kind})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBridge(t *testing.T) (*Bridge, *memory.Store, *ledger.Service, *notifierStub) {
	t.Helper()
	st := memory.New()
	lg := ledger.New(st, testLogger())
	notifier := &notifierStub{}
	b := New(st, lg, notifier, testLogger(), testSecret)
	b.WithClock(func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	})

	err := st.CreateUser(context.Background(), domain.User{
		ID: "u1", Name: "Test User", Email: "u1@example.com",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return b, st, lg, notifier
}

// deliver signs and delivers one event envelope through the bridge.
func deliver(t *testing.T, b *Bridge, id, eventType string, obj eventObject) error {
	t.Helper()
	ev := event{ID: id, Type: eventType}
	ev.Data.Object = obj
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	header := SignPayload([]byte(testSecret), payload, b.nowFn())
	return b.HandleEvent(context.Background(), payload, header)
}

func TestBadSignatureIsRejectedUnapplied(t *testing.T) {
	b, _, lg, _ := newTestBridge(t)
	ctx := context.Background()

	ev := event{ID: "evt_1", Type: string(EventPaymentSucceeded)}
	ev.Data.Object = eventObject{ID: "pi_1", Amount: 5000, Metadata: map[string]string{"user_id": "u1"}}
	payload, _ := json.Marshal(ev)

	wrongKey := SignPayload([]byte("whsec_other"), payload, b.nowFn())
	if err := b.HandleEvent(ctx, payload, wrongKey); !errors.Is(err, ErrBadSignature) {
		t.Errorf("wrong secret: expected ErrBadSignature, got %v", err)
	}

	stale := SignPayload([]byte(testSecret), payload, b.nowFn().Add(-10*time.Minute))
	if err := b.HandleEvent(ctx, payload, stale); !errors.Is(err, ErrBadSignature) {
		t.Errorf("stale timestamp: expected ErrBadSignature, got %v", err)
	}

	if err := b.HandleEvent(ctx, payload, "not-a-header"); !errors.Is(err, ErrBadSignature) {
		t.Errorf("garbage header: expected ErrBadSignature, got %v", err)
	}

	balance, _ := lg.Balance(ctx, "u1")
	if !balance.IsZero() {
		t.Errorf("rejected events must not post: balance %s", balance)
	}
}

func TestPaymentSucceededPostsDeposit(t *testing.T) {
	b, _, lg, notifier := newTestBridge(t)
	ctx := context.Background()

	err := deliver(t, b, "evt_1", string(EventPaymentSucceeded), eventObject{
		ID:       "pi_1",
		Amount:   12550,
		Metadata: map[string]string{"user_id": "u1"},
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	balance, _ := lg.Balance(ctx, "u1")
	if !balance.Equal(decimal.RequireFromString("125.50")) {
		t.Errorf("balance mismatch: %s", balance)
	}

	result, _ := lg.List(ctx, store.ListTransactionsOptions{UserID: "u1"})
	if result.Total != 1 {
		t.Fatalf("expected 1 transaction, got %d", result.Total)
	}
	tx := result.Items[0]
	if tx.Type != domain.TxDeposit || tx.Status != domain.TxCompleted || tx.PaymentReference != "pi_1" {
		t.Errorf("unexpected transaction: %+v", tx)
	}

	if len(notifier.published) != 1 || notifier.published[0].Kind != domain.NotifyPayment {
		t.Errorf("expected one payment notification, got %+v", notifier.published)
	}
}

func TestDuplicateDeliveryAppliesOnce(t *testing.T) {
	b, _, lg, _ := newTestBridge(t)
	ctx := context.Background()

	obj := eventObject{ID: "pi_1", Amount: 5000, Metadata: map[string]string{"user_id": "u1"}}
	for i := 0; i < 2; i++ {
		if err := deliver(t, b, "evt_1", string(EventPaymentSucceeded), obj); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	result, _ := lg.List(ctx, store.ListTransactionsOptions{UserID: "u1"})
	if result.Total != 1 {
		t.Errorf("duplicate delivery posted twice: %d transactions", result.Total)
	}
}

func TestUnknownEventKindIsAcknowledged(t *testing.T) {
	b, _, lg, _ := newTestBridge(t)

	err := deliver(t, b, "evt_1", "charge.refunded", eventObject{ID: "ch_1", Amount: 5000})
	if err != nil {
		t.Fatalf("unknown kinds must be acknowledged, got %v", err)
	}

	result, _ := lg.List(context.Background(), store.ListTransactionsOptions{UserID: "u1"})
	if result.Total != 0 {
		t.Errorf("unknown event posted a transaction")
	}
}

func TestPaymentFailureFailsPendingTransaction(t *testing.T) {
	b, _, lg, _ := newTestBridge(t)
	ctx := context.Background()

	pending, err := lg.CreateTransaction(ctx, ledger.CreateInput{
		UserID:           "u1",
		Type:             domain.TxDeposit,
		Amount:           decimal.NewFromInt(50),
		PaymentReference: "pi_fail",
	})
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}

	err = deliver(t, b, "evt_1", string(EventPaymentFailed), eventObject{
		ID:             "pi_fail",
		FailureMessage: "card_declined",
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	got, _ := lg.List(ctx, store.ListTransactionsOptions{UserID: "u1"})
	if got.Total != 1 || got.Items[0].ID != pending.ID {
		t.Fatalf("unexpected ledger contents: %+v", got)
	}
	if got.Items[0].Status != domain.TxFailed {
		t.Errorf("expected failed status, got %s", got.Items[0].Status)
	}
	if got.Items[0].Notes != "card_declined" {
		t.Errorf("failure message not recorded: %q", got.Items[0].Notes)
	}

	// A later failure event for the now-terminal entry is acknowledged
	// without touching it.
	if err := deliver(t, b, "evt_2", string(EventPaymentFailed), eventObject{ID: "pi_fail"}); err != nil {
		t.Errorf("terminal transaction: expected acknowledgement, got %v", err)
	}
}

func TestPayoutPaidSettlesWithdrawal(t *testing.T) {
	b, st, lg, notifier := newTestBridge(t)
	ctx := context.Background()

	if _, err := lg.PostCompleted(ctx, ledger.CreateInput{
		UserID: "u1", Type: domain.TxDeposit, Amount: decimal.NewFromInt(200),
	}); err != nil {
		t.Fatalf("fund user: %v", err)
	}
	tx, err := lg.CreateTransaction(ctx, ledger.CreateInput{
		UserID: "u1", Type: domain.TxWithdrawal, Amount: decimal.NewFromInt(-100),
	})
	if err != nil {
		t.Fatalf("reserve withdrawal: %v", err)
	}
	w := domain.Withdrawal{
		ID:            "w1",
		UserID:        "u1",
		TransactionID: tx.ID,
		Amount:        decimal.NewFromInt(100),
		IBAN:          "AO06004400006729503010102",
		Status:        domain.WithdrawalProcessing,
		ProviderRef:   "po_1",
		CreatedAt:     time.Now().UTC(),
	}
	if err := st.CreateWithdrawal(ctx, w); err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}

	if err := deliver(t, b, "evt_1", string(EventPayoutPaid), eventObject{ID: "po_1"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	got, _ := st.GetWithdrawalByProviderRef(ctx, "po_1")
	if got.Status != domain.WithdrawalPaid {
		t.Errorf("expected paid withdrawal, got %s", got.Status)
	}
	settled, _ := st.GetTransaction(ctx, tx.ID)
	if settled.Status != domain.TxCompleted {
		t.Errorf("linked transaction not settled: %s", settled.Status)
	}
	balance, _ := lg.Balance(ctx, "u1")
	if !balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance mismatch after payout: %s", balance)
	}
	if len(notifier.published) == 0 || notifier.published[len(notifier.published)-1].Kind != domain.NotifyPayout {
		t.Error("expected a payout notification")
	}
}

func TestPayoutFailureReleasesReservedFunds(t *testing.T) {
	b, st, lg, _ := newTestBridge(t)
	ctx := context.Background()

	if _, err := lg.PostCompleted(ctx, ledger.CreateInput{
		UserID: "u1", Type: domain.TxDeposit, Amount: decimal.NewFromInt(200),
	}); err != nil {
		t.Fatalf("fund user: %v", err)
	}
	tx, err := lg.CreateTransaction(ctx, ledger.CreateInput{
		UserID: "u1", Type: domain.TxWithdrawal, Amount: decimal.NewFromInt(-100),
	})
	if err != nil {
		t.Fatalf("reserve withdrawal: %v", err)
	}
	w := domain.Withdrawal{
		ID:            "w1",
		UserID:        "u1",
		TransactionID: tx.ID,
		Amount:        decimal.NewFromInt(100),
		Status:        domain.WithdrawalProcessing,
		ProviderRef:   "po_1",
		CreatedAt:     time.Now().UTC(),
	}
	if err := st.CreateWithdrawal(ctx, w); err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}

	err = deliver(t, b, "evt_1", string(EventPayoutFailed), eventObject{
		ID:             "po_1",
		FailureMessage: "account_closed",
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	got, _ := st.GetWithdrawalByProviderRef(ctx, "po_1")
	if got.Status != domain.WithdrawalFailed || got.FailureReason != "account_closed" {
		t.Errorf("unexpected withdrawal state: %+v", got)
	}
	// The failed debit never settles, so the reserved amount stays spendable.
	balance, _ := lg.Balance(ctx, "u1")
	if !balance.Equal(decimal.NewFromInt(200)) {
		t.Errorf("balance mismatch after failed payout: %s", balance)
	}
}

func TestPayoutEventForUnknownWithdrawalIsAcknowledged(t *testing.T) {
	b, _, _, _ := newTestBridge(t)

	if err := deliver(t, b, "evt_1", string(EventPayoutPaid), eventObject{ID: "po_missing"}); err != nil {
		t.Errorf("expected acknowledgement for unknown payout, got %v", err)
	}
}

func TestInvoiceLifecycleTogglesVIP(t *testing.T) {
	b, st, _, _ := newTestBridge(t)
	ctx := context.Background()

	err := deliver(t, b, "evt_1", string(EventInvoiceSucceeded), eventObject{
		ID:       "in_1",
		Amount:   999,
		Metadata: map[string]string{"user_id": "u1"},
	})
	if err != nil {
		t.Fatalf("invoice success: %v", err)
	}
	user, _ := st.GetUser(ctx, "u1")
	if !user.IsVIP {
		t.Error("subscription invoice did not grant VIP")
	}

	err = deliver(t, b, "evt_2", string(EventSubscriptionDeleted), eventObject{
		ID:       "sub_1",
		Metadata: map[string]string{"user_id": "u1"},
	})
	if err != nil {
		t.Fatalf("subscription deleted: %v", err)
	}
	user, _ = st.GetUser(ctx, "u1")
	if user.IsVIP {
		t.Error("subscription end did not revoke VIP")
	}
}

// flakyLedger fails a fixed number of postings before recovering, standing
// in for a transient database outage mid-apply.
type flakyLedger struct {
	inner    *ledger.Service
	failures int
}

func (f *flakyLedger) PostCompleted(ctx context.Context, in ledger.CreateInput) (domain.Transaction, error) {
	if f.failures > 0 {
		f.failures--
		return domain.Transaction{}, errors.New("store unavailable")
	}
	return f.inner.PostCompleted(ctx, in)
}

func (f *flakyLedger) UpdateStatus(ctx context.Context, id string, status domain.TransactionStatus, notes string) (domain.Transaction, error) {
	return f.inner.UpdateStatus(ctx, id, status, notes)
}

func TestFailedApplyIsRedeliverable(t *testing.T) {
	st := memory.New()
	lg := ledger.New(st, testLogger())
	flaky := &flakyLedger{inner: lg, failures: 1}
	b := New(st, flaky, nil, testLogger(), testSecret)
	b.WithClock(func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	})
	ctx := context.Background()

	err := st.CreateUser(ctx, domain.User{
		ID: "u1", Name: "Test User", Email: "u1@example.com",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	obj := eventObject{ID: "pi_retry", Amount: 5000, Metadata: map[string]string{"user_id": "u1"}}

	// First delivery fails mid-apply and must surface the error so the
	// processor schedules a redelivery.
	if err := deliver(t, b, "evt_retry", string(EventPaymentSucceeded), obj); err == nil {
		t.Fatal("expected the first delivery to fail while the ledger is down")
	}

	// The redelivery must be applied, not deduplicated against the failed
	// attempt.
	if err := deliver(t, b, "evt_retry", string(EventPaymentSucceeded), obj); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	result, err := st.ListTransactions(ctx, store.ListTransactionsOptions{UserID: "u1"})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("expected exactly 1 posted transaction after retry, got %d", result.Total)
	}
	balance, _ := lg.Balance(ctx, "u1")
	if !balance.Equal(decimal.NewFromInt(50)) {
		t.Errorf("balance after retried credit: want 50, got %s", balance)
	}

	// A third delivery of the now-applied event is a true duplicate.
	if err := deliver(t, b, "evt_retry", string(EventPaymentSucceeded), obj); err != nil {
		t.Fatalf("duplicate after success: %v", err)
	}
	result, _ = st.ListTransactions(ctx, store.ListTransactionsOptions{UserID: "u1"})
	if result.Total != 1 {
		t.Errorf("duplicate delivery must not double-post, got %d transactions", result.Total)
	}
}
