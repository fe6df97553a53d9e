package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/store/memory"
)

type dispatcherStub struct {
	name string
	fail error

	mu    sync.Mutex
	sends []domain.Notification
}

func (d *dispatcherStub) Name() string { return d.name }

func (d *dispatcherStub) Send(_ context.Context, _ domain.User, n domain.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.sends = append(d.sends, n)
	return nil
}

func (d *dispatcherStub) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sends)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *memory.Store, *Hub, *dispatcherStub, *dispatcherStub, *dispatcherStub) {
	t.Helper()
	st := memory.New()
	hub := NewHub()
	push := &dispatcherStub{name: "push"}
	email := &dispatcherStub{name: "email"}
	sms := &dispatcherStub{name: "sms"}
	svc := New(st, hub, push, email, sms, testLogger())

	err := st.CreateUser(context.Background(), domain.User{
		ID: "u1", Name: "Test User", Email: "u1@example.com",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return svc, st, hub, push, email, sms
}

func TestPublishInsertsRow(t *testing.T) {
	svc, _, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	err := svc.Publish(ctx, "u1", "Payment received", "Your deposit settled.",
		domain.NotifyPayment, map[string]any{"transactionId": "tx1"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	feed, err := svc.List(ctx, "u1", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(feed) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(feed))
	}
	n := feed[0]
	if n.Title != "Payment received" || n.Type != domain.NotifyPayment || n.Read {
		t.Errorf("unexpected notification: %+v", n)
	}
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	svc, _, hub, _, _, _ := newTestService(t)

	ch, cancel := hub.Subscribe("u1")
	defer cancel()

	if err := svc.Publish(context.Background(), "u1", "Hello", "msg", domain.NotifySystem, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case n := <-ch:
		if n.Title != "Hello" {
			t.Errorf("unexpected realtime payload: %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the notification")
	}
}

func TestDispatchHonoursChannelPreference(t *testing.T) {
	svc, _, _, push, email, sms := newTestService(t)
	ctx := context.Background()

	err := svc.SetPreference(ctx, domain.ChannelPreference{
		UserID: "u1", Push: true, SMS: true,
	})
	if err != nil {
		t.Fatalf("set preference: %v", err)
	}

	if err := svc.Publish(ctx, "u1", "Hello", "msg", domain.NotifySystem, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if push.count() != 1 {
		t.Errorf("push dispatcher: want 1 send, got %d", push.count())
	}
	if sms.count() != 1 {
		t.Errorf("sms dispatcher: want 1 send, got %d", sms.count())
	}
	if email.count() != 0 {
		t.Errorf("email dispatcher: want 0 sends, got %d", email.count())
	}
}

func TestDefaultPreferenceIsInAppOnly(t *testing.T) {
	svc, _, _, push, email, sms := newTestService(t)

	if err := svc.Publish(context.Background(), "u1", "Hello", "msg", domain.NotifySystem, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if push.count()+email.count()+sms.count() != 0 {
		t.Error("external channels dispatched without an opt-in")
	}
}

func TestDispatchFailureDoesNotFailPublish(t *testing.T) {
	svc, _, _, push, _, _ := newTestService(t)
	ctx := context.Background()
	push.fail = errors.New("provider down")

	if err := svc.SetPreference(ctx, domain.ChannelPreference{UserID: "u1", Push: true}); err != nil {
		t.Fatalf("set preference: %v", err)
	}
	if err := svc.Publish(ctx, "u1", "Hello", "msg", domain.NotifySystem, nil); err != nil {
		t.Errorf("dispatch failure must not fail publish: %v", err)
	}

	feed, _ := svc.List(ctx, "u1", false)
	if len(feed) != 1 {
		t.Errorf("in-app row missing after dispatch failure")
	}
}

func TestMarkReadAndUnreadFilter(t *testing.T) {
	svc, _, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	for _, title := range []string{"first", "second"} {
		if err := svc.Publish(ctx, "u1", title, "msg", domain.NotifySystem, nil); err != nil {
			t.Fatalf("publish %s: %v", title, err)
		}
	}

	feed, _ := svc.List(ctx, "u1", false)
	if err := svc.MarkRead(ctx, feed[0].ID, "u1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	unread, _ := svc.List(ctx, "u1", true)
	if len(unread) != 1 {
		t.Fatalf("expected 1 unread, got %d", len(unread))
	}

	if err := svc.MarkAllRead(ctx, "u1"); err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	unread, _ = svc.List(ctx, "u1", true)
	if len(unread) != 0 {
		t.Errorf("expected empty unread feed, got %d", len(unread))
	}
}

func TestMarkReadIsOwnerScoped(t *testing.T) {
	svc, _, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Publish(ctx, "u1", "Hello", "msg", domain.NotifySystem, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	feed, _ := svc.List(ctx, "u1", false)

	if err := svc.MarkRead(ctx, feed[0].ID, "someone-else"); err == nil {
		t.Error("expected error marking another user's notification")
	}
	if err := svc.Delete(ctx, feed[0].ID, "someone-else"); err == nil {
		t.Error("expected error deleting another user's notification")
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("u1")
	defer cancel()

	// Overflow the subscriber buffer; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(domain.Notification{ID: "n", UserID: "u1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
