// Package notify implements the notification fan-out: a database row, a
// realtime publish to the owning user, and optional external dispatch
// through push/email/SMS providers.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/store"
)

// Dispatcher sends a notification through one external channel.
type Dispatcher interface {
	Name() string
	Send(ctx context.Context, user domain.User, n domain.Notification) error
}

// Storage is the persistence contract the fan-out depends on.
type Storage interface {
	store.NotificationStore
	store.UserStore
}

// DispatchError accumulates per-channel failures from one fan-out.
type DispatchError struct {
	Errors []error
}

func (e *DispatchError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := "multiple dispatch errors:"
	for _, err := range e.Errors {
		msg += " " + err.Error() + ";"
	}
	return msg
}

// Service persists notifications and fans them out. External dispatch
// failures are logged, never retried; the in-app row is the source of
// truth.
type Service struct {
	store  Storage
	hub    *Hub
	push   Dispatcher
	email  Dispatcher
	sms    Dispatcher
	logger *slog.Logger
	nowFn  func() time.Time
}

// New constructs the fan-out service. Any dispatcher may be nil.
func New(st Storage, hub *Hub, push, email, sms Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		hub:    hub,
		push:   push,
		email:  email,
		sms:    sms,
		logger: logger,
		nowFn:  time.Now,
	}
}

// Publish inserts the notification row, pushes it to the owner's realtime
// channel, and dispatches to external providers per the user's channel
// preference. Only the insert can fail the call.
func (s *Service) Publish(ctx context.Context, userID, title, message string, kind domain.NotificationType, metadata map[string]any) error {
	n := domain.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		Type:      kind,
		Metadata:  metadata,
		CreatedAt: s.nowFn().UTC(),
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		return err
	}

	if s.hub != nil {
		s.hub.Publish(n)
	}

	s.dispatch(ctx, n)
	return nil
}

// dispatch fans out to the enabled external channels concurrently and
// logs the accumulated failures.
func (s *Service) dispatch(ctx context.Context, n domain.Notification) {
	pref, err := s.store.GetChannelPreference(ctx, n.UserID)
	if err != nil {
		s.logger.Warn("failed to load channel preference", "error", err, "userId", n.UserID)
		return
	}

	var targets []Dispatcher
	if pref.Push && s.push != nil {
		targets = append(targets, s.push)
	}
	if pref.Email && s.email != nil {
		targets = append(targets, s.email)
	}
	if pref.SMS && s.sms != nil {
		targets = append(targets, s.sms)
	}
	if len(targets) == 0 {
		return
	}

	user, err := s.store.GetUser(ctx, n.UserID)
	if err != nil {
		s.logger.Warn("failed to load user for dispatch", "error", err, "userId", n.UserID)
		return
	}

	errCh := make(chan error, len(targets))
	var wg sync.WaitGroup
	for _, d := range targets {
		wg.Add(1)
		go func(d Dispatcher) {
			defer wg.Done()
			if err := d.Send(ctx, user, n); err != nil {
				errCh <- &channelError{channel: d.Name(), err: err}
			}
		}(d)
	}
	wg.Wait()
	close(errCh)

	var dispatchErr DispatchError
	for err := range errCh {
		dispatchErr.Errors = append(dispatchErr.Errors, err)
	}
	if len(dispatchErr.Errors) > 0 {
		s.logger.Warn("external dispatch failed", "error", dispatchErr.Error(),
			"notificationId", n.ID, "userId", n.UserID)
	}
}

type channelError struct {
	channel string
	err     error
}

func (e *channelError) Error() string { return e.channel + ": " + e.err.Error() }
func (e *channelError) Unwrap() error { return e.err }

// List returns the user's feed, optionally filtered to unread entries.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	return s.store.ListNotifications(ctx, userID, unreadOnly)
}

// MarkRead flips one owned notification to read.
func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	return s.store.MarkNotificationRead(ctx, id, userID)
}

// MarkAllRead flips the user's whole feed to read.
func (s *Service) MarkAllRead(ctx context.Context, userID string) error {
	return s.store.MarkAllNotificationsRead(ctx, userID)
}

// Delete removes one owned notification.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	return s.store.DeleteNotification(ctx, id, userID)
}

// SetPreference stores the user's external channel selection.
func (s *Service) SetPreference(ctx context.Context, pref domain.ChannelPreference) error {
	return s.store.SetChannelPreference(ctx, pref)
}
