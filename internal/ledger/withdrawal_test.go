package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/store/memory"
)

func TestWithdrawalRequestReservesFunds(t *testing.T) {
	st := memory.New()
	lg := New(st, testLogger())
	svc := NewWithdrawalService(st, lg, testLogger())
	ctx := context.Background()
	seedUser(t, st, "u1")

	if _, err := lg.PostCompleted(ctx, CreateInput{
		UserID: "u1", Type: domain.TxDeposit, Amount: decimal.NewFromInt(200),
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	w, err := svc.Request(ctx, RequestInput{
		UserID:     "u1",
		Amount:     decimal.NewFromInt(150),
		IBAN:       "AO06004400006729503010102",
		HolderName: "Test User",
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if w.Status != domain.WithdrawalRequested {
		t.Errorf("status mismatch: %s", w.Status)
	}
	if w.TransactionID == "" {
		t.Fatal("withdrawal not linked to a ledger entry")
	}

	tx, err := st.GetTransaction(ctx, w.TransactionID)
	if err != nil {
		t.Fatalf("get linked transaction: %v", err)
	}
	if tx.Status != domain.TxPending {
		t.Errorf("linked transaction should be pending, got %s", tx.Status)
	}
	if !tx.Amount.Equal(decimal.NewFromInt(-150)) {
		t.Errorf("linked amount mismatch: %s", tx.Amount)
	}

	// Pending debit does not reduce the settled balance yet.
	balance, _ := lg.Balance(ctx, "u1")
	if !balance.Equal(decimal.NewFromInt(200)) {
		t.Errorf("settled balance changed before payout: %s", balance)
	}

	// But a second oversized request is rejected against the same balance.
	_, err = svc.Request(ctx, RequestInput{
		UserID:     "u1",
		Amount:     decimal.NewFromInt(300),
		IBAN:       "AO06004400006729503010102",
		HolderName: "Test User",
	})
	var insufficient *InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Errorf("expected InsufficientBalanceError, got %v", err)
	}
}

func TestPendingWithdrawalBlocksFullBalanceRepeat(t *testing.T) {
	st := memory.New()
	lg := New(st, testLogger())
	svc := NewWithdrawalService(st, lg, testLogger())
	ctx := context.Background()
	seedUser(t, st, "u1")

	if _, err := lg.PostCompleted(ctx, CreateInput{
		UserID: "u1", Type: domain.TxDeposit, Amount: decimal.NewFromInt(100),
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	first, err := svc.Request(ctx, RequestInput{
		UserID: "u1", Amount: decimal.NewFromInt(100),
		IBAN: "AO06004400006729503010102", HolderName: "Test User",
	})
	if err != nil {
		t.Fatalf("first request: %v", err)
	}

	// The full balance is now reserved; repeating the request must fail
	// even though the pending debit has not settled.
	_, err = svc.Request(ctx, RequestInput{
		UserID: "u1", Amount: decimal.NewFromInt(100),
		IBAN: "AO06004400006729503010102", HolderName: "Test User",
	})
	var insufficient *InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("second full-balance request: want InsufficientBalanceError, got %v", err)
	}
	if !insufficient.Available.IsZero() {
		t.Errorf("available should be zero while reserved, got %s", insufficient.Available)
	}

	// A failed payout releases the reservation and the funds are usable
	// again.
	if _, err := lg.UpdateStatus(ctx, first.TransactionID, domain.TxFailed, "account closed"); err != nil {
		t.Fatalf("fail linked transaction: %v", err)
	}
	available, err := lg.Available(ctx, "u1")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(100)) {
		t.Errorf("available after release: want 100, got %s", available)
	}
	if _, err := svc.Request(ctx, RequestInput{
		UserID: "u1", Amount: decimal.NewFromInt(100),
		IBAN: "AO06004400006729503010102", HolderName: "Test User",
	}); err != nil {
		t.Errorf("request after release: %v", err)
	}
}

func TestWithdrawalBounds(t *testing.T) {
	st := memory.New()
	lg := New(st, testLogger())
	svc := NewWithdrawalService(st, lg, testLogger())
	ctx := context.Background()
	seedUser(t, st, "u1")

	if _, err := lg.PostCompleted(ctx, CreateInput{
		UserID: "u1", Type: domain.TxDeposit, Amount: decimal.NewFromInt(100000),
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := st.SetSystemConfig(ctx, domain.SystemConfig{
		MinWithdrawal: "25", MaxWithdrawal: "500",
	}); err != nil {
		t.Fatalf("set config: %v", err)
	}

	_, err := svc.Request(ctx, RequestInput{
		UserID: "u1", Amount: decimal.NewFromInt(10),
		IBAN: "AO06004400006729503010102", HolderName: "Test User",
	})
	if !errors.Is(err, ErrWithdrawalTooSmall) {
		t.Errorf("expected ErrWithdrawalTooSmall, got %v", err)
	}

	_, err = svc.Request(ctx, RequestInput{
		UserID: "u1", Amount: decimal.NewFromInt(1000),
		IBAN: "AO06004400006729503010102", HolderName: "Test User",
	})
	if !errors.Is(err, ErrWithdrawalTooLarge) {
		t.Errorf("expected ErrWithdrawalTooLarge, got %v", err)
	}
}

func TestMarkProcessingAssignsProviderRef(t *testing.T) {
	st := memory.New()
	lg := New(st, testLogger())
	svc := NewWithdrawalService(st, lg, testLogger())
	ctx := context.Background()
	seedUser(t, st, "u1")

	if _, err := lg.PostCompleted(ctx, CreateInput{
		UserID: "u1", Type: domain.TxDeposit, Amount: decimal.NewFromInt(200),
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	w, err := svc.Request(ctx, RequestInput{
		UserID: "u1", Amount: decimal.NewFromInt(100),
		IBAN: "AO06004400006729503010102", HolderName: "Test User",
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	updated, err := svc.MarkProcessing(ctx, w.ID, "po_123")
	if err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if updated.Status != domain.WithdrawalProcessing || updated.ProviderRef != "po_123" {
		t.Errorf("unexpected state %s / %s", updated.Status, updated.ProviderRef)
	}

	tx, _ := st.GetTransaction(ctx, w.TransactionID)
	if tx.Status != domain.TxProcessing {
		t.Errorf("linked transaction should be processing, got %s", tx.Status)
	}

	// Only requested withdrawals may transition.
	if _, err := svc.MarkProcessing(ctx, w.ID, "po_456"); !errors.Is(err, ErrWithdrawalNotPending) {
		t.Errorf("expected ErrWithdrawalNotPending, got %v", err)
	}

	// The provider ref must resolve back to this withdrawal.
	byRef, err := st.GetWithdrawalByProviderRef(ctx, "po_123")
	if err != nil || byRef.ID != w.ID {
		t.Errorf("provider ref lookup failed: %v", err)
	}
}
