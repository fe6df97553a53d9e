package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kixikila/backend/internal/auth"
	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/group"
	"github.com/kixikila/backend/internal/ledger"
	"github.com/kixikila/backend/internal/notify"
	"github.com/kixikila/backend/internal/payments"
	"github.com/kixikila/backend/internal/security"
	"github.com/kixikila/backend/internal/store"
)

// APIHandlers bundles the services behind the HTTP surface.
type APIHandlers struct {
	tokens        *auth.TokenManager
	store         store.Store
	ledger        *ledger.Service
	withdrawals   *ledger.WithdrawalService
	groups        *group.Service
	notifications *notify.Service
	bridge        *payments.Bridge
	monitor       *security.Monitor
	cache         *security.Cache
	pins          *security.PINVerifier
	logger        *slog.Logger
}

// NewAPIHandlers constructs the handler set.
func NewAPIHandlers(
	tokens *auth.TokenManager,
	st store.Store,
	lg *ledger.Service,
	wd *ledger.WithdrawalService,
	gr *group.Service,
	nt *notify.Service,
	br *payments.Bridge,
	mon *security.Monitor,
	cache *security.Cache,
	pins *security.PINVerifier,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		tokens:        tokens,
		store:         st,
		ledger:        lg,
		withdrawals:   wd,
		groups:        gr,
		notifications: nt,
		bridge:        br,
		monitor:       mon,
		cache:         cache,
		pins:          pins,
		logger:        logger,
	}
}

// serviceError translates domain errors into HTTP responses. Unmapped
// errors become opaque 500s; the detail goes to the log only.
func (h *APIHandlers) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *ledger.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		writeError(w, http.StatusUnprocessableEntity, insufficient.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, group.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, group.ErrGroupFull),
		errors.Is(err, group.ErrAlreadyMember),
		errors.Is(err, group.ErrGroupNotActive),
		errors.Is(err, group.ErrMemberNotActive),
		errors.Is(err, group.ErrNoEligibleRecipient),
		errors.Is(err, ledger.ErrTerminalStatus),
		errors.Is(err, ledger.ErrInvalidTransition),
		errors.Is(err, ledger.ErrWithdrawalNotPending):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, group.ErrWrongAmount),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrWithdrawalTooSmall),
		errors.Is(err, ledger.ErrWithdrawalTooLarge):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("request failed", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleMe serves the caller's account. DELETE soft-deletes it; financial
// history stays intact.
func (h *APIHandlers) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	switch r.Method {
	case http.MethodGet:
		user, err := h.store.GetUser(r.Context(), claims.UserID)
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, toUserResponse(user))
	case http.MethodDelete:
		user, err := h.store.GetUser(r.Context(), claims.UserID)
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		if user.Deleted() {
			respondJSON(w, http.StatusOK, toUserResponse(user))
			return
		}
		now := time.Now().UTC()
		user.DeletedAt = &now
		user.UpdatedAt = now
		if err := h.store.UpdateUser(r.Context(), user); err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, toUserResponse(user))
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

func (h *APIHandlers) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	claims, _ := claimsFrom(r.Context())

	balance, err := h.ledger.Balance(r.Context(), claims.UserID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"balance": balance.StringFixed(2)})
}

type createTransactionRequest struct {
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	Description   string `json:"description"`
	GroupID       string `json:"groupId"`
	PaymentMethod string `json:"paymentMethod"`
}

func (h *APIHandlers) handleTransactions(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	switch r.Method {
	case http.MethodGet:
		opts, err := transactionFilters(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.UserID = claims.UserID

		result, err := h.ledger.List(r.Context(), opts)
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, toTransactionListResponse(result))
	case http.MethodPost:
		var req createTransactionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		txType, err := domain.ParseTransactionType(req.Type)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}

		tx, err := h.ledger.CreateTransaction(r.Context(), ledger.CreateInput{
			UserID:        claims.UserID,
			Type:          txType,
			Amount:        amount,
			Description:   req.Description,
			GroupID:       req.GroupID,
			PaymentMethod: req.PaymentMethod,
		})
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, toTransactionResponse(tx))
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

func (h *APIHandlers) handleTransactionByID(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	id := strings.TrimPrefix(r.URL.Path, "/wallet/transactions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	tx, err := h.store.GetTransaction(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	if tx.UserID != claims.UserID && claims.Role != auth.RoleAdmin {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		respondJSON(w, http.StatusOK, toTransactionResponse(tx))
	case http.MethodPatch:
		var req updateStatusRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status, err := domain.ParseTransactionStatus(req.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		updated, err := h.ledger.UpdateStatus(r.Context(), id, status, req.Notes)
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, toTransactionResponse(updated))
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPatch)
	}
}

type createWithdrawalRequest struct {
	Amount     string `json:"amount"`
	IBAN       string `json:"iban"`
	HolderName string `json:"holderName"`
}

func (h *APIHandlers) handleWithdrawals(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	switch r.Method {
	case http.MethodGet:
		list, err := h.withdrawals.List(r.Context(), claims.UserID)
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		out := make([]withdrawalResponse, len(list))
		for i, item := range list {
			out[i] = toWithdrawalResponse(item)
		}
		respondJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req createWithdrawalRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		wd, err := h.withdrawals.Request(r.Context(), ledger.RequestInput{
			UserID:     claims.UserID,
			Amount:     amount,
			IBAN:       req.IBAN,
			HolderName: req.HolderName,
		})
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, toWithdrawalResponse(wd))
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

type processWithdrawalRequest struct {
	ProviderRef string `json:"providerRef"`
}

// handleWithdrawalByID serves GET /withdrawals/{id} for the owner and
// POST /withdrawals/{id}/process for operators handing the payout to the
// payment provider.
func (h *APIHandlers) handleWithdrawalByID(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/withdrawals/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		wd, err := h.withdrawals.Get(r.Context(), parts[0])
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		if wd.UserID != claims.UserID && claims.Role != auth.RoleAdmin {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		respondJSON(w, http.StatusOK, toWithdrawalResponse(wd))
	case len(parts) == 2 && parts[1] == "process":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		if claims.Role != auth.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		var req processWithdrawalRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.ProviderRef == "" {
			writeError(w, http.StatusBadRequest, "providerRef is required")
			return
		}
		wd, err := h.withdrawals.MarkProcessing(r.Context(), parts[0], req.ProviderRef)
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, toWithdrawalResponse(wd))
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type createGroupRequest struct {
	Name                string    `json:"name"`
	ContributionAmount  string    `json:"contributionAmount"`
	MaxMembers          int       `json:"maxMembers"`
	GroupType           string    `json:"groupType"`
	IsPrivate           bool      `json:"isPrivate"`
	RequiresApproval    bool      `json:"requiresApproval"`
	RestartOnCompletion bool      `json:"restartOnCompletion"`
	FirstPayoutDate     time.Time `json:"firstPayoutDate"`
}

func (h *APIHandlers) handleGroups(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	switch r.Method {
	case http.MethodGet:
		status := domain.GroupStatus(r.URL.Query().Get("status"))
		if status == "" {
			status = domain.GroupActive
		}
		groups, err := h.store.ListGroups(r.Context(), status)
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		out := make([]groupResponse, 0, len(groups))
		for _, g := range groups {
			if g.IsPrivate && g.CreatorID != claims.UserID && claims.Role != auth.RoleAdmin {
				continue
			}
			out = append(out, toGroupResponse(g))
		}
		respondJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req createGroupRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		groupType, err := domain.ParseGroupType(req.GroupType)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		amount, err := decimal.NewFromString(req.ContributionAmount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid contribution amount")
			return
		}
		firstPayout := req.FirstPayoutDate
		if firstPayout.IsZero() {
			firstPayout = time.Now().UTC().AddDate(0, 1, 0)
		}

		g, err := h.groups.Create(r.Context(), group.CreateInput{
			Name:                req.Name,
			CreatorID:           claims.UserID,
			ContributionAmount:  amount,
			MaxMembers:          req.MaxMembers,
			GroupType:           groupType,
			IsPrivate:           req.IsPrivate,
			RequiresApproval:    req.RequiresApproval,
			RestartOnCompletion: req.RestartOnCompletion,
			FirstPayoutDate:     firstPayout,
		})
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, toGroupResponse(g))
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleGroupSubresource dispatches /groups/{id} and its nested routes.
func (h *APIHandlers) handleGroupSubresource(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/groups/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	groupID := parts[0]

	switch {
	case len(parts) == 1:
		h.getGroup(w, r, groupID)
	case len(parts) == 2 && parts[1] == "join":
		h.joinGroup(w, r, groupID)
	case len(parts) == 2 && parts[1] == "approve":
		h.approveMember(w, r, groupID)
	case len(parts) == 2 && parts[1] == "contributions":
		h.recordContribution(w, r, groupID)
	case len(parts) == 2 && parts[1] == "payout":
		h.runPayout(w, r, groupID)
	case len(parts) == 2 && parts[1] == "draws":
		h.listDraws(w, r, groupID)
	case len(parts) == 3 && parts[1] == "members":
		h.removeMember(w, r, groupID, parts[2])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *APIHandlers) getGroup(w http.ResponseWriter, r *http.Request, groupID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	g, err := h.store.GetGroup(r.Context(), groupID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	members, err := h.store.ListMembers(r.Context(), groupID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	memberOut := make([]memberResponse, len(members))
	for i, m := range members {
		memberOut[i] = toMemberResponse(m)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"group":   toGroupResponse(g),
		"members": memberOut,
	})
}

func (h *APIHandlers) joinGroup(w http.ResponseWriter, r *http.Request, groupID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	claims, _ := claimsFrom(r.Context())

	m, err := h.groups.Join(r.Context(), groupID, claims.UserID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toMemberResponse(m))
}

type approveMemberRequest struct {
	UserID string `json:"userId"`
}

func (h *APIHandlers) approveMember(w http.ResponseWriter, r *http.Request, groupID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	claims, _ := claimsFrom(r.Context())

	var req approveMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	m, err := h.groups.Approve(r.Context(), groupID, req.UserID, claims.UserID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toMemberResponse(m))
}

type contributionRequest struct {
	Amount string `json:"amount"`
}

func (h *APIHandlers) recordContribution(w http.ResponseWriter, r *http.Request, groupID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	claims, _ := claimsFrom(r.Context())

	var req contributionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	tx, err := h.groups.RecordContribution(r.Context(), groupID, claims.UserID, amount)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toTransactionResponse(tx))
}

func (h *APIHandlers) runPayout(w http.ResponseWriter, r *http.Request, groupID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	claims, _ := claimsFrom(r.Context())

	if claims.Role != auth.RoleAdmin {
		m, err := h.store.GetMember(r.Context(), groupID, claims.UserID)
		if err != nil || m.Status != domain.MemberActive ||
			(m.Role != domain.RoleCreator && m.Role != domain.RoleAdmin) {
			writeError(w, http.StatusForbidden, "group admin access required")
			return
		}
	}

	result, err := h.groups.SelectNextPayoutRecipient(r.Context(), groupID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	payload := map[string]any{
		"recipient":        toMemberResponse(result.Recipient),
		"rotationComplete": result.RotationComplete,
	}
	if result.Transaction.ID != "" {
		payload["transaction"] = toTransactionResponse(result.Transaction)
	}
	if result.Draw != nil {
		payload["draw"] = toDrawResponse(*result.Draw)
	}
	respondJSON(w, http.StatusOK, payload)
}

func toDrawResponse(d domain.PayoutDraw) drawResponse {
	return drawResponse{
		ID:         d.ID,
		GroupID:    d.GroupID,
		Cycle:      d.Cycle,
		Seed:       d.Seed,
		Candidates: d.Candidates,
		WinnerID:   d.WinnerID,
		Verified:   group.VerifyDraw(d),
		DrawnAt:    d.DrawnAt,
	}
}

func (h *APIHandlers) listDraws(w http.ResponseWriter, r *http.Request, groupID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	draws, err := h.groups.ListDraws(r.Context(), groupID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	out := make([]drawResponse, len(draws))
	for i, d := range draws {
		out[i] = toDrawResponse(d)
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *APIHandlers) removeMember(w http.ResponseWriter, r *http.Request, groupID, userID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}
	claims, _ := claimsFrom(r.Context())

	if err := h.groups.RemoveMember(r.Context(), groupID, userID, claims.UserID); err != nil {
		h.serviceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *APIHandlers) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	claims, _ := claimsFrom(r.Context())

	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	list, err := h.notifications.List(r.Context(), claims.UserID, unreadOnly)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	out := make([]notificationResponse, len(list))
	for i, n := range list {
		out[i] = toNotificationResponse(n)
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *APIHandlers) handleNotificationByID(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	id := strings.TrimPrefix(r.URL.Path, "/notifications/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodPatch:
		if err := h.notifications.MarkRead(r.Context(), id, claims.UserID); err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "read"})
	case http.MethodDelete:
		if err := h.notifications.Delete(r.Context(), id, claims.UserID); err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w, http.MethodPatch, http.MethodDelete)
	}
}

func (h *APIHandlers) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	claims, _ := claimsFrom(r.Context())

	if err := h.notifications.MarkAllRead(r.Context(), claims.UserID); err != nil {
		h.serviceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

type preferenceRequest struct {
	Push  bool `json:"push"`
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
}

func (h *APIHandlers) handleNotificationPreferences(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	switch r.Method {
	case http.MethodGet:
		pref, err := h.store.GetChannelPreference(r.Context(), claims.UserID)
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, preferenceRequest{
			Push:  pref.Push,
			Email: pref.Email,
			SMS:   pref.SMS,
		})
	case http.MethodPut:
		var req preferenceRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		err := h.notifications.SetPreference(r.Context(), domain.ChannelPreference{
			UserID: claims.UserID,
			Push:   req.Push,
			Email:  req.Email,
			SMS:    req.SMS,
		})
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, req)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

// transactionFilters parses the ledger list query parameters.
func transactionFilters(r *http.Request) (store.ListTransactionsOptions, error) {
	q := r.URL.Query()
	opts := store.ListTransactionsOptions{GroupID: q.Get("groupId")}

	if v := q.Get("type"); v != "" {
		t, err := domain.ParseTransactionType(v)
		if err != nil {
			return opts, err
		}
		opts.Type = t
	}
	if v := q.Get("status"); v != "" {
		s, err := domain.ParseTransactionStatus(v)
		if err != nil {
			return opts, err
		}
		opts.Status = s
	}
	for _, tc := range []struct {
		param string
		dst   **time.Time
	}{
		{"since", &opts.Since},
		{"until", &opts.Until},
	} {
		if v := q.Get(tc.param); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return opts, errors.New("invalid " + tc.param + ": expected RFC3339")
			}
			*tc.dst = &t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, errors.New("invalid limit")
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, errors.New("invalid offset")
		}
		opts.Offset = n
	}
	return opts, nil
}
