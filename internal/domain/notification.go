package domain

import "time"

// NotificationType classifies a user-visible notification.
type NotificationType string

const (
	NotifyPayment  NotificationType = "payment"
	NotifyGroup    NotificationType = "group"
	NotifyPayout   NotificationType = "payout"
	NotifyKYC      NotificationType = "kyc"
	NotifySecurity NotificationType = "security"
	NotifySystem   NotificationType = "system"
)

// Notification is created by system events and mutated only by the owning
// user (mark read / delete).
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Message   string
	Type      NotificationType
	Read      bool
	Metadata  map[string]any
	CreatedAt time.Time
}

// ChannelPreference selects which external channels a user wants
// notifications mirrored to, in addition to the in-app feed.
type ChannelPreference struct {
	UserID string
	Push   bool
	Email  bool
	SMS    bool
}
