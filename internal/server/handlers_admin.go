package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/store"
)

// The admin surfaces use a single action-dispatch endpoint per area so the
// operator console talks to one route each for configuration and security.

type adminRequest struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

func decodeParams(w http.ResponseWriter, raw json.RawMessage, dst any) bool {
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "params are required")
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid params: "+err.Error())
		return false
	}
	return true
}

type systemConfigPayload struct {
	MaintenanceMode    bool   `json:"maintenanceMode"`
	MinWithdrawal      string `json:"minWithdrawal"`
	MaxWithdrawal      string `json:"maxWithdrawal"`
	ContributionWindow int    `json:"contributionWindow"`
}

type messageTemplatePayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Channel string `json:"channel"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type smsConfigPayload struct {
	Provider string `json:"provider"`
	SenderID string `json:"senderId"`
	DailyCap int    `json:"dailyCap"`
}

type securityConfigPayload struct {
	OTPMaxAttempts     int `json:"otpMaxAttempts"`
	OTPWindowSeconds   int `json:"otpWindowSeconds"`
	PINMaxAttempts     int `json:"pinMaxAttempts"`
	PINWindowSeconds   int `json:"pinWindowSeconds"`
	BlockDurationRatio int `json:"blockDurationRatio"`
}

type notificationConfigPayload struct {
	PushEnabled  bool `json:"pushEnabled"`
	EmailEnabled bool `json:"emailEnabled"`
	SMSEnabled   bool `json:"smsEnabled"`
}

type webhookEndpointPayload struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
	Active bool     `json:"active"`
}

type idPayload struct {
	ID string `json:"id"`
}

func (h *APIHandlers) handleSystemConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	claims, _ := claimsFrom(r.Context())

	var req adminRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	now := time.Now().UTC()

	switch req.Action {
	case "get_config":
		cfg, err := h.store.GetSystemConfig(ctx)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"maintenanceMode":    cfg.MaintenanceMode,
			"minWithdrawal":      cfg.MinWithdrawal,
			"maxWithdrawal":      cfg.MaxWithdrawal,
			"contributionWindow": cfg.ContributionWindow,
			"updatedBy":          cfg.UpdatedBy,
			"updatedAt":          cfg.UpdatedAt,
		})
	case "update_config":
		var p systemConfigPayload
		if !decodeParams(w, req.Params, &p) {
			return
		}
		cfg := domain.SystemConfig{
			MaintenanceMode:    p.MaintenanceMode,
			MinWithdrawal:      p.MinWithdrawal,
			MaxWithdrawal:      p.MaxWithdrawal,
			ContributionWindow: p.ContributionWindow,
			UpdatedBy:          claims.UserID,
			UpdatedAt:          now,
		}
		if err := h.store.SetSystemConfig(ctx, cfg); err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	case "list_templates":
		tpls, err := h.store.ListMessageTemplates(ctx)
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		out := make([]messageTemplatePayload, len(tpls))
		for i, t := range tpls {
			out[i] = messageTemplatePayload{ID: t.ID, Name: t.Name, Channel: t.Channel, Subject: t.Subject, Body: t.Body}
		}
		respondJSON(w, http.StatusOK, out)
	case "get_template":
		var p idPayload
		if !decodeParams(w, req.Params, &p) {
			return
		}
		t, err := h.store.GetMessageTemplate(ctx, p.ID)
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, messageTemplatePayload{ID: t.ID, Name: t.Name, Channel: t.Channel, Subject: t.Subject, Body: t.Body})
	case "save_template":
		var p messageTemplatePayload
		if !decodeParams(w, req.Params, &p) {
			return
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		tpl := domain.MessageTemplate{
			ID: p.ID, Name: p.Name, Channel: p.Channel,
			Subject: p.Subject, Body: p.Body, UpdatedAt: now,
		}
		if err := h.store.SaveMessageTemplate(ctx, tpl); err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"id": p.ID})
	case "get_sms_config":
		cfg, err := h.store.GetSMSConfig(ctx)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, smsConfigPayload{Provider: cfg.Provider, SenderID: cfg.SenderID, DailyCap: cfg.DailyCap})
	case "update_sms_config":
		var p smsConfigPayload
		if !decodeParams(w, req.Params, &p) {
			return
		}
		err := h.store.SetSMSConfig(ctx, domain.SMSConfig{
			Provider: p.Provider, SenderID: p.SenderID, DailyCap: p.DailyCap, UpdatedAt: now,
		})
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	case "get_security_config":
		cfg, err := h.store.GetSecurityConfig(ctx)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, securityConfigPayload{
			OTPMaxAttempts: cfg.OTPMaxAttempts, OTPWindowSeconds: cfg.OTPWindowSeconds,
			PINMaxAttempts: cfg.PINMaxAttempts, PINWindowSeconds: cfg.PINWindowSeconds,
			BlockDurationRatio: cfg.BlockDurationRatio,
		})
	case "update_security_config":
		var p securityConfigPayload
		if !decodeParams(w, req.Params, &p) {
			return
		}
		err := h.store.SetSecurityConfig(ctx, domain.SecurityConfig{
			OTPMaxAttempts: p.OTPMaxAttempts, OTPWindowSeconds: p.OTPWindowSeconds,
			PINMaxAttempts: p.PINMaxAttempts, PINWindowSeconds: p.PINWindowSeconds,
			BlockDurationRatio: p.BlockDurationRatio, UpdatedAt: now,
		})
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	case "get_notification_config":
		cfg, err := h.store.GetNotificationConfig(ctx)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, notificationConfigPayload{
			PushEnabled: cfg.PushEnabled, EmailEnabled: cfg.EmailEnabled, SMSEnabled: cfg.SMSEnabled,
		})
	case "update_notification_config":
		var p notificationConfigPayload
		if !decodeParams(w, req.Params, &p) {
			return
		}
		err := h.store.SetNotificationConfig(ctx, domain.NotificationConfig{
			PushEnabled: p.PushEnabled, EmailEnabled: p.EmailEnabled, SMSEnabled: p.SMSEnabled, UpdatedAt: now,
		})
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	case "list_webhooks":
		whs, err := h.store.ListWebhookEndpoints(ctx)
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		out := make([]webhookEndpointPayload, len(whs))
		for i, wh := range whs {
			// Secrets never leave the server.
			out[i] = webhookEndpointPayload{ID: wh.ID, URL: wh.URL, Events: wh.Events, Active: wh.Active}
		}
		respondJSON(w, http.StatusOK, out)
	case "save_webhook":
		var p webhookEndpointPayload
		if !decodeParams(w, req.Params, &p) {
			return
		}
		if p.URL == "" {
			writeError(w, http.StatusBadRequest, "url is required")
			return
		}
		wh := domain.WebhookEndpoint{
			ID: p.ID, URL: p.URL, Events: p.Events,
			Secret: p.Secret, Active: p.Active, UpdatedAt: now,
		}
		if wh.ID == "" {
			wh.ID = uuid.NewString()
			wh.CreatedAt = now
		}
		if err := h.store.SaveWebhookEndpoint(ctx, wh); err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"id": wh.ID})
	case "delete_webhook":
		var p idPayload
		if !decodeParams(w, req.Params, &p) {
			return
		}
		if err := h.store.DeleteWebhookEndpoint(ctx, p.ID); err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

type alertsPayload struct {
	UserID   string `json:"userId"`
	Severity string `json:"severity"`
	Limit    int    `json:"limit"`
}

type summaryPayload struct {
	WindowHours int `json:"windowHours"`
}

type userPayload struct {
	UserID string `json:"userId"`
}

type incidentPayload struct {
	UserID      string         `json:"userId"`
	Kind        string         `json:"kind"`
	Severity    string         `json:"severity"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

func (h *APIHandlers) handleSecurityMonitoring(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req adminRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()

	switch req.Action {
	case "get_alerts":
		var p alertsPayload
		if len(req.Params) > 0 {
			if !decodeParams(w, req.Params, &p) {
				return
			}
		}
		incidents, err := h.monitor.Alerts(ctx, store.ListIncidentsOptions{
			UserID:   p.UserID,
			Severity: domain.IncidentSeverity(p.Severity),
			Limit:    p.Limit,
		})
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		out := make([]incidentResponse, len(incidents))
		for i, inc := range incidents {
			out[i] = toIncidentResponse(inc)
		}
		respondJSON(w, http.StatusOK, out)
	case "get_threat_summary":
		var p summaryPayload
		if len(req.Params) > 0 {
			if !decodeParams(w, req.Params, &p) {
				return
			}
		}
		summary, err := h.monitor.Summary(ctx, time.Duration(p.WindowHours)*time.Hour)
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"totalIncidents": summary.TotalIncidents,
			"bySeverity":     summary.BySeverity,
			"byKind":         summary.ByKind,
			"windowHours":    int(summary.Window.Hours()),
		})
	case "check_user_security":
		var p userPayload
		if !decodeParams(w, req.Params, &p) {
			return
		}
		if p.UserID == "" {
			writeError(w, http.StatusBadRequest, "userId is required")
			return
		}
		incidents, err := h.monitor.UserReport(ctx, p.UserID, 0)
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		out := make([]incidentResponse, len(incidents))
		for i, inc := range incidents {
			out[i] = toIncidentResponse(inc)
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"userId":    p.UserID,
			"incidents": out,
		})
	case "log_incident":
		var p incidentPayload
		if !decodeParams(w, req.Params, &p) {
			return
		}
		if p.Kind == "" {
			writeError(w, http.StatusBadRequest, "kind is required")
			return
		}
		inc, err := h.monitor.LogIncident(ctx, domain.SecurityIncident{
			UserID:      p.UserID,
			Kind:        p.Kind,
			Severity:    domain.IncidentSeverity(p.Severity),
			Description: p.Description,
			Metadata:    p.Metadata,
		})
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, toIncidentResponse(inc))
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

type kycReviewRequest struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// handleKYCReview records the outcome of a manual identity review and
// notifies the user.
func (h *APIHandlers) handleKYCReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req kycReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := domain.ParseKYCStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if status == domain.KYCRejected && req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required for rejection")
		return
	}

	user, err := h.store.GetUser(r.Context(), req.UserID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	user.KYCStatus = status
	user.KYCReason = ""
	if status == domain.KYCRejected {
		user.KYCReason = req.Reason
	}
	user.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		h.serviceError(w, r, err)
		return
	}

	title, message := "Identity verified", "Your identity verification was approved."
	if status == domain.KYCRejected {
		title, message = "Identity verification failed", "Your identity verification was rejected: "+req.Reason
	}
	if status != domain.KYCPending {
		if err := h.notifications.Publish(r.Context(), user.ID, title, message, domain.NotifyKYC, nil); err != nil {
			h.logger.Warn("failed to publish kyc notification", "error", err, "userId", user.ID)
		}
	}

	respondJSON(w, http.StatusOK, toUserResponse(user))
}
