package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/store"
	"github.com/kixikila/backend/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedUser(t *testing.T, st *memory.Store, id string) {
	t.Helper()
	err := st.CreateUser(context.Background(), domain.User{
		ID:        id,
		Name:      "Test User",
		Email:     id + "@example.com",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestBalanceFoldsCompletedTransactions(t *testing.T) {
	st := memory.New()
	svc := New(st, testLogger())
	ctx := context.Background()
	seedUser(t, st, "u1")

	if _, err := svc.PostCompleted(ctx, CreateInput{
		UserID: "u1", Type: domain.TxDeposit, Amount: decimal.NewFromInt(100),
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.PostCompleted(ctx, CreateInput{
		UserID: "u1", Type: domain.TxWithdrawal, Amount: decimal.NewFromInt(-40),
	}); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}
	if _, err := svc.PostCompleted(ctx, CreateInput{
		UserID: "u1", Type: domain.TxReward, Amount: decimal.NewFromInt(10),
	}); err != nil {
		t.Fatalf("reward: %v", err)
	}

	// A pending deposit must not count.
	if _, err := svc.CreateTransaction(ctx, CreateInput{
		UserID: "u1", Type: domain.TxDeposit, Amount: decimal.NewFromInt(500),
	}); err != nil {
		t.Fatalf("pending deposit: %v", err)
	}

	balance, err := svc.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if want := decimal.NewFromInt(70); !balance.Equal(want) {
		t.Errorf("balance mismatch: want %s got %s", want, balance)
	}

	user, err := st.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !user.WalletBalance.Equal(decimal.NewFromInt(70)) {
		t.Errorf("cached balance mismatch: got %s", user.WalletBalance)
	}
	if !user.TotalWithdrawn.Equal(decimal.NewFromInt(40)) {
		t.Errorf("total withdrawn mismatch: got %s", user.TotalWithdrawn)
	}
	if !user.TotalEarned.Equal(decimal.NewFromInt(10)) {
		t.Errorf("total earned mismatch: got %s", user.TotalEarned)
	}
}

func TestDebitRejectedWithExactShortfall(t *testing.T) {
	st := memory.New()
	svc := New(st, testLogger())
	ctx := context.Background()
	seedUser(t, st, "u1")

	if _, err := svc.PostCompleted(ctx, CreateInput{
		UserID: "u1", Type: domain.TxDeposit, Amount: decimal.NewFromInt(30),
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	_, err := svc.CreateTransaction(ctx, CreateInput{
		UserID: "u1", Type: domain.TxWithdrawal, Amount: decimal.NewFromInt(-50),
	})
	var insufficient *InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if want := decimal.NewFromInt(20); !insufficient.Shortfall().Equal(want) {
		t.Errorf("shortfall mismatch: want %s got %s", want, insufficient.Shortfall())
	}
}

func TestAmountSignMustMatchType(t *testing.T) {
	st := memory.New()
	svc := New(st, testLogger())
	ctx := context.Background()
	seedUser(t, st, "u1")

	cases := []struct {
		name   string
		txType domain.TransactionType
		amount decimal.Decimal
	}{
		{"zero amount", domain.TxDeposit, decimal.Zero},
		{"positive withdrawal", domain.TxWithdrawal, decimal.NewFromInt(10)},
		{"positive contribution", domain.TxContribution, decimal.NewFromInt(10)},
		{"negative deposit", domain.TxDeposit, decimal.NewFromInt(-10)},
		{"negative reward", domain.TxReward, decimal.NewFromInt(-10)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateTransaction(ctx, CreateInput{
				UserID: "u1", Type: tc.txType, Amount: tc.amount,
			})
			if !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("expected ErrInvalidAmount, got %v", err)
			}
		})
	}
}

func TestTerminalTransactionsAreImmutable(t *testing.T) {
	st := memory.New()
	svc := New(st, testLogger())
	ctx := context.Background()
	seedUser(t, st, "u1")

	tx, err := svc.PostCompleted(ctx, CreateInput{
		UserID: "u1", Type: domain.TxDeposit, Amount: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	// Repeating the terminal state is a tolerated no-op.
	repeat, err := svc.UpdateStatus(ctx, tx.ID, domain.TxCompleted, "")
	if err != nil {
		t.Fatalf("idempotent repeat: %v", err)
	}
	if repeat.Status != domain.TxCompleted {
		t.Errorf("unexpected status %s", repeat.Status)
	}

	// Any other transition is rejected.
	if _, err := svc.UpdateStatus(ctx, tx.ID, domain.TxFailed, ""); !errors.Is(err, ErrTerminalStatus) {
		t.Errorf("expected ErrTerminalStatus, got %v", err)
	}

	balance, _ := svc.Balance(ctx, "u1")
	if !balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance changed by rejected update: %s", balance)
	}
}

func TestStatusMachineTransitions(t *testing.T) {
	st := memory.New()
	svc := New(st, testLogger())
	ctx := context.Background()
	seedUser(t, st, "u1")

	tx, err := svc.CreateTransaction(ctx, CreateInput{
		UserID: "u1", Type: domain.TxDeposit, Amount: decimal.NewFromInt(50),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.UpdateStatus(ctx, tx.ID, domain.TxProcessing, ""); err != nil {
		t.Fatalf("pending -> processing: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, tx.ID, domain.TxPending, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition going back to pending, got %v", err)
	}
	updated, err := svc.UpdateStatus(ctx, tx.ID, domain.TxCompleted, "")
	if err != nil {
		t.Fatalf("processing -> completed: %v", err)
	}
	if updated.ProcessedAt == nil {
		t.Error("completed transaction missing ProcessedAt")
	}
}

func TestListPaginationAndFilters(t *testing.T) {
	st := memory.New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	svc := New(st, testLogger()).WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	ctx := context.Background()
	seedUser(t, st, "u1")

	for i := 0; i < 5; i++ {
		if _, err := svc.PostCompleted(ctx, CreateInput{
			UserID: "u1", Type: domain.TxDeposit, Amount: decimal.NewFromInt(10),
		}); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}

	result, err := svc.List(ctx, store.ListTransactionsOptions{UserID: "u1", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if result.Total != 5 {
		t.Errorf("total mismatch: want 5 got %d", result.Total)
	}
	if len(result.Items) != 2 {
		t.Fatalf("page size mismatch: want 2 got %d", len(result.Items))
	}
	if result.Items[0].CreatedAt.Before(result.Items[1].CreatedAt) {
		t.Error("expected newest-first ordering")
	}

	filtered, err := svc.List(ctx, store.ListTransactionsOptions{
		UserID: "u1", Type: domain.TxWithdrawal,
	})
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(filtered.Items) != 0 {
		t.Errorf("expected no withdrawals, got %d", len(filtered.Items))
	}
}
