package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/store"
)

// --- withdrawals ---

const withdrawalColumns = `id, user_id, transaction_id, amount::text, iban,
	holder_name, status, failure_reason, provider_ref, created_at, updated_at`

func (s *Store) CreateWithdrawal(ctx context.Context, w domain.Withdrawal) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO withdrawals (id, user_id, transaction_id, amount, iban,
			holder_name, status, failure_reason, provider_ref, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		w.ID, w.UserID, w.TransactionID, w.Amount, w.IBAN,
		w.HolderName, w.Status, w.FailureReason, w.ProviderRef, w.CreatedAt, w.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (domain.Withdrawal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id)
	return scanWithdrawal(row)
}

func (s *Store) GetWithdrawalByProviderRef(ctx context.Context, ref string) (domain.Withdrawal, error) {
	if ref == "" {
		return domain.Withdrawal{}, store.ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE provider_ref = $1`, ref)
	return scanWithdrawal(row)
}

func (s *Store) UpdateWithdrawal(ctx context.Context, w domain.Withdrawal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE withdrawals SET status=$2, failure_reason=$3, provider_ref=$4, updated_at=$5
		WHERE id = $1`,
		w.ID, w.Status, w.FailureReason, w.ProviderRef, w.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListWithdrawals(ctx context.Context, userID string) ([]domain.Withdrawal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWithdrawal(row pgx.Row) (domain.Withdrawal, error) {
	var (
		w      domain.Withdrawal
		amount string
		status string
	)
	err := row.Scan(&w.ID, &w.UserID, &w.TransactionID, &amount, &w.IBAN,
		&w.HolderName, &status, &w.FailureReason, &w.ProviderRef,
		&w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Withdrawal{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Withdrawal{}, err
	}
	if w.Amount, err = scanDecimal(amount); err != nil {
		return domain.Withdrawal{}, err
	}
	w.Status = domain.WithdrawalStatus(status)
	return w, nil
}

// --- notifications ---

func (s *Store) InsertNotification(ctx context.Context, n domain.Notification) error {
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, title, message, type, read, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		n.ID, n.UserID, n.Title, n.Message, n.Type, n.Read, metadata, n.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	query := `SELECT id, user_id, title, message, type, read, metadata, created_at
		FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND read = FALSE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var (
			n       domain.Notification
			kind    string
			rawMeta []byte
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &kind, &n.Read, &rawMeta, &n.CreatedAt); err != nil {
			return nil, err
		}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &n.Metadata); err != nil {
				return nil, err
			}
		}
		n.Type = domain.NotificationType(kind)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE user_id = $1 AND read = FALSE`, userID)
	return err
}

func (s *Store) DeleteNotification(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetChannelPreference(ctx context.Context, userID string) (domain.ChannelPreference, error) {
	pref := domain.ChannelPreference{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT push, email, sms FROM channel_preferences WHERE user_id = $1`, userID).
		Scan(&pref.Push, &pref.Email, &pref.SMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return pref, nil
	}
	if err != nil {
		return domain.ChannelPreference{}, err
	}
	return pref, nil
}

func (s *Store) SetChannelPreference(ctx context.Context, pref domain.ChannelPreference) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO channel_preferences (user_id, push, email, sms)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id) DO UPDATE SET push=$2, email=$3, sms=$4`,
		pref.UserID, pref.Push, pref.Email, pref.SMS)
	return err
}

// --- webhook events ---

func (s *Store) MarkEventProcessed(ctx context.Context, ev domain.WebhookEvent) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_events (event_id, kind, processed_at)
		VALUES ($1,$2,$3) ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.Kind, ev.ProcessedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ClearEvent(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM webhook_events WHERE event_id = $1`, eventID)
	return err
}

// --- audit ---

func (s *Store) InsertIncident(ctx context.Context, inc domain.SecurityIncident) error {
	metadata, err := json.Marshal(inc.Metadata)
	if err != nil {
		return err
	}
	var userID any
	if inc.UserID != "" {
		userID = inc.UserID
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO security_incidents (id, user_id, kind, severity, description, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		inc.ID, userID, inc.Kind, inc.Severity, inc.Description, metadata, inc.CreatedAt)
	return err
}

func (s *Store) ListIncidents(ctx context.Context, opts store.ListIncidentsOptions) ([]domain.SecurityIncident, error) {
	query := `SELECT id, COALESCE(user_id::text, ''), kind, severity, description, metadata, created_at
		FROM security_incidents WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.UserID != "" {
		query += ` AND user_id = ` + arg(opts.UserID)
	}
	if opts.Severity != "" {
		query += ` AND severity = ` + arg(string(opts.Severity))
	}
	if opts.Since != nil {
		query += ` AND created_at >= ` + arg(*opts.Since)
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ` + arg(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SecurityIncident
	for rows.Next() {
		var (
			inc      domain.SecurityIncident
			severity string
			rawMeta  []byte
		)
		if err := rows.Scan(&inc.ID, &inc.UserID, &inc.Kind, &severity, &inc.Description, &rawMeta, &inc.CreatedAt); err != nil {
			return nil, err
		}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &inc.Metadata); err != nil {
				return nil, err
			}
		}
		inc.Severity = domain.IncidentSeverity(severity)
		out = append(out, inc)
	}
	return out, rows.Err()
}

// --- operator config ---

func (s *Store) getConfigValue(ctx context.Context, key string, dst any) error {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM admin_config WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (s *Store) setConfigValue(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO admin_config (key, value, updated_at) VALUES ($1,$2,NOW())
		ON CONFLICT (key) DO UPDATE SET value=$2, updated_at=NOW()`, key, raw)
	return err
}

func (s *Store) GetSystemConfig(ctx context.Context) (domain.SystemConfig, error) {
	var cfg domain.SystemConfig
	err := s.getConfigValue(ctx, "system", &cfg)
	return cfg, err
}

func (s *Store) SetSystemConfig(ctx context.Context, cfg domain.SystemConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	return s.setConfigValue(ctx, "system", cfg)
}

func (s *Store) GetSMSConfig(ctx context.Context) (domain.SMSConfig, error) {
	var cfg domain.SMSConfig
	err := s.getConfigValue(ctx, "sms", &cfg)
	if errors.Is(err, store.ErrNotFound) {
		return domain.SMSConfig{}, nil
	}
	return cfg, err
}

func (s *Store) SetSMSConfig(ctx context.Context, cfg domain.SMSConfig) error {
	return s.setConfigValue(ctx, "sms", cfg)
}

func (s *Store) GetSecurityConfig(ctx context.Context) (domain.SecurityConfig, error) {
	var cfg domain.SecurityConfig
	err := s.getConfigValue(ctx, "security", &cfg)
	if errors.Is(err, store.ErrNotFound) {
		return domain.SecurityConfig{}, nil
	}
	return cfg, err
}

func (s *Store) SetSecurityConfig(ctx context.Context, cfg domain.SecurityConfig) error {
	return s.setConfigValue(ctx, "security", cfg)
}

func (s *Store) GetNotificationConfig(ctx context.Context) (domain.NotificationConfig, error) {
	var cfg domain.NotificationConfig
	err := s.getConfigValue(ctx, "notification", &cfg)
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotificationConfig{}, nil
	}
	return cfg, err
}

func (s *Store) SetNotificationConfig(ctx context.Context, cfg domain.NotificationConfig) error {
	return s.setConfigValue(ctx, "notification", cfg)
}

func (s *Store) GetMessageTemplate(ctx context.Context, id string) (domain.MessageTemplate, error) {
	var tpl domain.MessageTemplate
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, channel, subject, body, updated_at
		FROM message_templates WHERE id = $1`, id).
		Scan(&tpl.ID, &tpl.Name, &tpl.Channel, &tpl.Subject, &tpl.Body, &tpl.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MessageTemplate{}, store.ErrNotFound
	}
	return tpl, err
}

func (s *Store) ListMessageTemplates(ctx context.Context) ([]domain.MessageTemplate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, channel, subject, body, updated_at FROM message_templates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MessageTemplate
	for rows.Next() {
		var tpl domain.MessageTemplate
		if err := rows.Scan(&tpl.ID, &tpl.Name, &tpl.Channel, &tpl.Subject, &tpl.Body, &tpl.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

func (s *Store) SaveMessageTemplate(ctx context.Context, tpl domain.MessageTemplate) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO message_templates (id, name, channel, subject, body, updated_at)
		VALUES ($1,$2,$3,$4,$5,NOW())
		ON CONFLICT (id) DO UPDATE SET name=$2, channel=$3, subject=$4, body=$5, updated_at=NOW()`,
		tpl.ID, tpl.Name, tpl.Channel, tpl.Subject, tpl.Body)
	return err
}

func (s *Store) GetWebhookEndpoint(ctx context.Context, id string) (domain.WebhookEndpoint, error) {
	var (
		wh        domain.WebhookEndpoint
		rawEvents []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, url, events, secret, active, created_at, updated_at
		FROM webhook_endpoints WHERE id = $1`, id).
		Scan(&wh.ID, &wh.URL, &rawEvents, &wh.Secret, &wh.Active, &wh.CreatedAt, &wh.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WebhookEndpoint{}, store.ErrNotFound
	}
	if err != nil {
		return domain.WebhookEndpoint{}, err
	}
	if err := json.Unmarshal(rawEvents, &wh.Events); err != nil {
		return domain.WebhookEndpoint{}, err
	}
	return wh, nil
}

func (s *Store) ListWebhookEndpoints(ctx context.Context) ([]domain.WebhookEndpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, url, events, secret, active, created_at, updated_at FROM webhook_endpoints ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WebhookEndpoint
	for rows.Next() {
		var (
			wh        domain.WebhookEndpoint
			rawEvents []byte
		)
		if err := rows.Scan(&wh.ID, &wh.URL, &rawEvents, &wh.Secret, &wh.Active, &wh.CreatedAt, &wh.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rawEvents, &wh.Events); err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

func (s *Store) SaveWebhookEndpoint(ctx context.Context, wh domain.WebhookEndpoint) error {
	events, err := json.Marshal(wh.Events)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO webhook_endpoints (id, url, events, secret, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())
		ON CONFLICT (id) DO UPDATE SET url=$2, events=$3, secret=$4, active=$5, updated_at=NOW()`,
		wh.ID, wh.URL, events, wh.Secret, wh.Active, wh.CreatedAt)
	return err
}

func (s *Store) DeleteWebhookEndpoint(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
