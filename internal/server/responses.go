package server

import (
	"time"

	"github.com/kixikila/backend/internal/domain"
)

// Wire DTOs. Monetary values travel as fixed-point strings so clients
// never handle floats.

type userResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Phone           string     `json:"phone,omitempty"`
	WalletBalance   string     `json:"walletBalance"`
	TotalSaved      string     `json:"totalSaved"`
	TotalEarned     string     `json:"totalEarned"`
	TotalWithdrawn  string     `json:"totalWithdrawn"`
	TrustScore      int        `json:"trustScore"`
	KYCStatus       string     `json:"kycStatus"`
	KYCReason       string     `json:"kycReason,omitempty"`
	IsVIP           bool       `json:"isVip"`
	ActiveGroups    int        `json:"activeGroups"`
	CompletedCycles int        `json:"completedCycles"`
	CreatedAt       time.Time  `json:"createdAt"`
	DeletedAt       *time.Time `json:"deletedAt,omitempty"`
}

func toUserResponse(u domain.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Name:            u.Name,
		Email:           u.Email,
		Phone:           u.Phone,
		WalletBalance:   u.WalletBalance.StringFixed(2),
		TotalSaved:      u.TotalSaved.StringFixed(2),
		TotalEarned:     u.TotalEarned.StringFixed(2),
		TotalWithdrawn:  u.TotalWithdrawn.StringFixed(2),
		TrustScore:      u.TrustScore,
		KYCStatus:       string(u.KYCStatus),
		KYCReason:       u.KYCReason,
		IsVIP:           u.IsVIP,
		ActiveGroups:    u.ActiveGroups,
		CompletedCycles: u.CompletedCycles,
		CreatedAt:       u.CreatedAt,
		DeletedAt:       u.DeletedAt,
	}
}

type transactionResponse struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	Type             string     `json:"type"`
	Amount           string     `json:"amount"`
	Status           string     `json:"status"`
	GroupID          string     `json:"groupId,omitempty"`
	Description      string     `json:"description,omitempty"`
	PaymentMethod    string     `json:"paymentMethod,omitempty"`
	PaymentReference string     `json:"paymentReference,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	ProcessedAt      *time.Time `json:"processedAt,omitempty"`
}

func toTransactionResponse(t domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:               t.ID,
		UserID:           t.UserID,
		Type:             string(t.Type),
		Amount:           t.Amount.StringFixed(2),
		Status:           string(t.Status),
		GroupID:          t.GroupID,
		Description:      t.Description,
		PaymentMethod:    t.PaymentMethod,
		PaymentReference: t.PaymentReference,
		Notes:            t.Notes,
		CreatedAt:        t.CreatedAt,
		ProcessedAt:      t.ProcessedAt,
	}
}

type transactionListResponse struct {
	Items []transactionResponse `json:"items"`
	Total int64                 `json:"total"`
}

func toTransactionListResponse(r domain.TransactionListResult) transactionListResponse {
	items := make([]transactionResponse, len(r.Items))
	for i, t := range r.Items {
		items[i] = toTransactionResponse(t)
	}
	return transactionListResponse{Items: items, Total: r.Total}
}

type groupResponse struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	CreatorID           string    `json:"creatorId"`
	ContributionAmount  string    `json:"contributionAmount"`
	MaxMembers          int       `json:"maxMembers"`
	CurrentMembers      int       `json:"currentMembers"`
	GroupType           string    `json:"groupType"`
	Status              string    `json:"status"`
	IsPrivate           bool      `json:"isPrivate"`
	RequiresApproval    bool      `json:"requiresApproval"`
	RestartOnCompletion bool      `json:"restartOnCompletion"`
	TotalPool           string    `json:"totalPool"`
	NextPayoutDate      time.Time `json:"nextPayoutDate"`
	CurrentCycle        int       `json:"currentCycle"`
	CreatedAt           time.Time `json:"createdAt"`
}

func toGroupResponse(g domain.Group) groupResponse {
	return groupResponse{
		ID:                  g.ID,
		Name:                g.Name,
		CreatorID:           g.CreatorID,
		ContributionAmount:  g.ContributionAmount.StringFixed(2),
		MaxMembers:          g.MaxMembers,
		CurrentMembers:      g.CurrentMembers,
		GroupType:           string(g.GroupType),
		Status:              string(g.Status),
		IsPrivate:           g.IsPrivate,
		RequiresApproval:    g.RequiresApproval,
		RestartOnCompletion: g.RestartOnCompletion,
		TotalPool:           g.TotalPool.StringFixed(2),
		NextPayoutDate:      g.NextPayoutDate,
		CurrentCycle:        g.CurrentCycle,
		CreatedAt:           g.CreatedAt,
	}
}

type memberResponse struct {
	GroupID           string    `json:"groupId"`
	UserID            string    `json:"userId"`
	Role              string    `json:"role"`
	Status            string    `json:"status"`
	PayoutPosition    int       `json:"payoutPosition"`
	TotalContributed  string    `json:"totalContributed"`
	IsCompliant       bool      `json:"isCompliant"`
	HasReceivedPayout bool      `json:"hasReceivedPayout"`
	JoinedAt          time.Time `json:"joinedAt"`
}

func toMemberResponse(m domain.GroupMember) memberResponse {
	return memberResponse{
		GroupID:           m.GroupID,
		UserID:            m.UserID,
		Role:              string(m.Role),
		Status:            string(m.Status),
		PayoutPosition:    m.PayoutPosition,
		TotalContributed:  m.TotalContributed.StringFixed(2),
		IsCompliant:       m.IsCompliant,
		HasReceivedPayout: m.HasReceivedPayout,
		JoinedAt:          m.JoinedAt,
	}
}

type drawResponse struct {
	ID         string    `json:"id"`
	GroupID    string    `json:"groupId"`
	Cycle      int       `json:"cycle"`
	Seed       int64     `json:"seed"`
	Candidates []string  `json:"candidates"`
	WinnerID   string    `json:"winnerId"`
	Verified   bool      `json:"verified"`
	DrawnAt    time.Time `json:"drawnAt"`
}

type withdrawalResponse struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	TransactionID string    `json:"transactionId"`
	Amount        string    `json:"amount"`
	IBAN          string    `json:"iban"`
	HolderName    string    `json:"holderName"`
	Status        string    `json:"status"`
	FailureReason string    `json:"failureReason,omitempty"`
	ProviderRef   string    `json:"providerRef,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toWithdrawalResponse(w domain.Withdrawal) withdrawalResponse {
	return withdrawalResponse{
		ID:            w.ID,
		UserID:        w.UserID,
		TransactionID: w.TransactionID,
		Amount:        w.Amount.StringFixed(2),
		IBAN:          maskedIBAN(w.IBAN),
		HolderName:    w.HolderName,
		Status:        string(w.Status),
		FailureReason: w.FailureReason,
		ProviderRef:   w.ProviderRef,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
}

// maskedIBAN keeps only the last four characters on the wire.
func maskedIBAN(iban string) string {
	if len(iban) <= 4 {
		return iban
	}
	return "****" + iban[len(iban)-4:]
}

type notificationResponse struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Read      bool           `json:"read"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

func toNotificationResponse(n domain.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		Read:      n.Read,
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt,
	}
}

type incidentResponse struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId,omitempty"`
	Kind        string         `json:"kind"`
	Severity    string         `json:"severity"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

func toIncidentResponse(inc domain.SecurityIncident) incidentResponse {
	return incidentResponse{
		ID:          inc.ID,
		UserID:      inc.UserID,
		Kind:        inc.Kind,
		Severity:    string(inc.Severity),
		Description: inc.Description,
		Metadata:    inc.Metadata,
		CreatedAt:   inc.CreatedAt,
	}
}
