package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kixikila/backend/internal/domain"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a uniqueness violation (membership, event id).
	ErrDuplicate = errors.New("already exists")
	// ErrVersionConflict indicates an optimistic concurrency check failed;
	// callers should reload and retry.
	ErrVersionConflict = errors.New("version conflict")
)

// ListTransactionsOptions defines filters and pagination for ledger listing.
type ListTransactionsOptions struct {
	UserID  string
	GroupID string
	Type    domain.TransactionType
	Status  domain.TransactionStatus
	Since   *time.Time
	Until   *time.Time
	Limit   int
	Offset  int
}

// ListIncidentsOptions filters the security audit log.
type ListIncidentsOptions struct {
	UserID   string
	Severity domain.IncidentSeverity
	Since    *time.Time
	Limit    int
}

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) error
}

// LedgerStore persists the append-only transaction log.
type LedgerStore interface {
	InsertTransaction(ctx context.Context, tx domain.Transaction) error
	GetTransaction(ctx context.Context, id string) (domain.Transaction, error)
	GetTransactionByReference(ctx context.Context, ref string) (domain.Transaction, error)
	UpdateTransaction(ctx context.Context, tx domain.Transaction) error
	ListTransactions(ctx context.Context, opts ListTransactionsOptions) (domain.TransactionListResult, error)
	// SumCompleted folds the signed amounts of all completed transactions
	// for the user; this is the authoritative wallet balance.
	SumCompleted(ctx context.Context, userID string) (decimal.Decimal, error)
	// SumReserved totals the debits still pending or processing for the
	// user, as a non-negative amount. These funds are committed but not
	// yet settled and must not be spendable a second time.
	SumReserved(ctx context.Context, userID string) (decimal.Decimal, error)
}

// GroupStore persists groups, memberships and payout draws. UpdateGroup
// performs a compare-and-swap on Group.Version and returns
// ErrVersionConflict when the stored version differs.
type GroupStore interface {
	CreateGroup(ctx context.Context, g domain.Group) error
	GetGroup(ctx context.Context, id string) (domain.Group, error)
	UpdateGroup(ctx context.Context, g domain.Group) error
	ListGroups(ctx context.Context, status domain.GroupStatus) ([]domain.Group, error)

	AddMember(ctx context.Context, m domain.GroupMember) error
	GetMember(ctx context.Context, groupID, userID string) (domain.GroupMember, error)
	UpdateMember(ctx context.Context, m domain.GroupMember) error
	ListMembers(ctx context.Context, groupID string) ([]domain.GroupMember, error)

	InsertPayoutDraw(ctx context.Context, d domain.PayoutDraw) error
	ListPayoutDraws(ctx context.Context, groupID string) ([]domain.PayoutDraw, error)
}

// WithdrawalStore persists bank payout requests.
type WithdrawalStore interface {
	CreateWithdrawal(ctx context.Context, w domain.Withdrawal) error
	GetWithdrawal(ctx context.Context, id string) (domain.Withdrawal, error)
	GetWithdrawalByProviderRef(ctx context.Context, ref string) (domain.Withdrawal, error)
	UpdateWithdrawal(ctx context.Context, w domain.Withdrawal) error
	ListWithdrawals(ctx context.Context, userID string) ([]domain.Withdrawal, error)
}

// NotificationStore persists the in-app notification feed and channel
// preferences.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n domain.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
	DeleteNotification(ctx context.Context, id, userID string) error
	GetChannelPreference(ctx context.Context, userID string) (domain.ChannelPreference, error)
	SetChannelPreference(ctx context.Context, pref domain.ChannelPreference) error
}

// EventStore tracks processed external payment events for idempotency.
type EventStore interface {
	// MarkEventProcessed records the event id and reports whether it was
	// newly recorded. A false return means the event was seen before and
	// must not be applied again.
	MarkEventProcessed(ctx context.Context, ev domain.WebhookEvent) (bool, error)
	// ClearEvent removes the record for an event whose apply failed, so
	// the processor's redelivery is treated as fresh. Clearing an unknown
	// id is a no-op.
	ClearEvent(ctx context.Context, eventID string) error
}

// AuditStore persists security incidents.
type AuditStore interface {
	InsertIncident(ctx context.Context, inc domain.SecurityIncident) error
	ListIncidents(ctx context.Context, opts ListIncidentsOptions) ([]domain.SecurityIncident, error)
}

// ConfigStore persists operator-managed configuration.
type ConfigStore interface {
	GetSystemConfig(ctx context.Context) (domain.SystemConfig, error)
	SetSystemConfig(ctx context.Context, cfg domain.SystemConfig) error

	GetMessageTemplate(ctx context.Context, id string) (domain.MessageTemplate, error)
	ListMessageTemplates(ctx context.Context) ([]domain.MessageTemplate, error)
	SaveMessageTemplate(ctx context.Context, tpl domain.MessageTemplate) error

	GetSMSConfig(ctx context.Context) (domain.SMSConfig, error)
	SetSMSConfig(ctx context.Context, cfg domain.SMSConfig) error

	GetSecurityConfig(ctx context.Context) (domain.SecurityConfig, error)
	SetSecurityConfig(ctx context.Context, cfg domain.SecurityConfig) error

	GetNotificationConfig(ctx context.Context) (domain.NotificationConfig, error)
	SetNotificationConfig(ctx context.Context, cfg domain.NotificationConfig) error

	GetWebhookEndpoint(ctx context.Context, id string) (domain.WebhookEndpoint, error)
	ListWebhookEndpoints(ctx context.Context) ([]domain.WebhookEndpoint, error)
	SaveWebhookEndpoint(ctx context.Context, wh domain.WebhookEndpoint) error
	DeleteWebhookEndpoint(ctx context.Context, id string) error
}

// Store is the full persistence contract the services depend on.
type Store interface {
	UserStore
	LedgerStore
	GroupStore
	WithdrawalStore
	NotificationStore
	EventStore
	AuditStore
	ConfigStore

	Ping(ctx context.Context) error
	Close()
}
