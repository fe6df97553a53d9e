package domain

import "time"

// SystemConfig is the operator-managed application configuration exposed
// through the admin endpoint. It is stored as a single row and versioned
// by UpdatedAt.
type SystemConfig struct {
	MaintenanceMode    bool
	MinWithdrawal      string
	MaxWithdrawal      string
	ContributionWindow int // days a contribution may lag before non-compliance
	UpdatedBy          string
	UpdatedAt          time.Time
}

// MessageTemplate is an operator-managed notification template.
type MessageTemplate struct {
	ID        string
	Name      string
	Channel   string // push|email|sms
	Subject   string
	Body      string
	UpdatedAt time.Time
}

// SMSConfig holds provider settings for outbound SMS.
type SMSConfig struct {
	Provider  string
	SenderID  string
	DailyCap  int
	UpdatedAt time.Time
}

// SecurityConfig holds operator-tunable security thresholds.
type SecurityConfig struct {
	OTPMaxAttempts     int
	OTPWindowSeconds   int
	PINMaxAttempts     int
	PINWindowSeconds   int
	BlockDurationRatio int // block duration as a multiple of the window
	UpdatedAt          time.Time
}

// NotificationConfig toggles system-wide notification channels.
type NotificationConfig struct {
	PushEnabled  bool
	EmailEnabled bool
	SMSEnabled   bool
	UpdatedAt    time.Time
}

// WebhookEndpoint is an operator-registered outbound webhook.
type WebhookEndpoint struct {
	ID        string
	URL       string
	Events    []string
	Secret    string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
