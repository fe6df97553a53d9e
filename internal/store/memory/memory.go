// Package memory provides an in-memory Store implementation used by unit
// tests and local development, mirroring the semantics of the Postgres
// store including optimistic version checks.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kixikila/backend/internal/domain"
	"github.com/kixikila/backend/internal/store"
)

// Store keeps all state behind a single mutex. It is safe for concurrent
// use from multiple goroutines.
type Store struct {
	mu sync.Mutex

	users        map[string]domain.User
	transactions map[string]domain.Transaction
	txOrder      []string
	groups       map[string]domain.Group
	members      map[string]map[string]domain.GroupMember // groupID -> userID
	draws        map[string][]domain.PayoutDraw
	withdrawals  map[string]domain.Withdrawal
	notifs       map[string]domain.Notification
	notifOrder   []string
	prefs        map[string]domain.ChannelPreference
	events       map[string]domain.WebhookEvent
	incidents    []domain.SecurityIncident

	sysConfig    domain.SystemConfig
	templates    map[string]domain.MessageTemplate
	smsConfig    domain.SMSConfig
	secConfig    domain.SecurityConfig
	notifConfig  domain.NotificationConfig
	webhookEnds  map[string]domain.WebhookEndpoint
	hasSysConfig bool
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		users:        make(map[string]domain.User),
		transactions: make(map[string]domain.Transaction),
		groups:       make(map[string]domain.Group),
		members:      make(map[string]map[string]domain.GroupMember),
		draws:        make(map[string][]domain.PayoutDraw),
		withdrawals:  make(map[string]domain.Withdrawal),
		notifs:       make(map[string]domain.Notification),
		prefs:        make(map[string]domain.ChannelPreference),
		events:       make(map[string]domain.WebhookEvent),
		templates:    make(map[string]domain.MessageTemplate),
		webhookEnds:  make(map[string]domain.WebhookEndpoint),
	}
}

// Ping always succeeds for the in-memory store.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// --- users ---

func (s *Store) CreateUser(_ context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return store.ErrDuplicate
	}
	s.users[user.ID] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return user, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return domain.User{}, store.ErrNotFound
}

func (s *Store) UpdateUser(_ context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return store.ErrNotFound
	}
	s.users[user.ID] = user
	return nil
}

// --- ledger ---

func (s *Store) InsertTransaction(_ context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[tx.ID]; ok {
		return store.ErrDuplicate
	}
	s.transactions[tx.ID] = tx
	s.txOrder = append(s.txOrder, tx.ID)
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return domain.Transaction{}, store.ErrNotFound
	}
	return tx, nil
}

func (s *Store) GetTransactionByReference(_ context.Context, ref string) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref == "" {
		return domain.Transaction{}, store.ErrNotFound
	}
	for _, tx := range s.transactions {
		if tx.PaymentReference == ref {
			return tx, nil
		}
	}
	return domain.Transaction{}, store.ErrNotFound
}

func (s *Store) UpdateTransaction(_ context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[tx.ID]; !ok {
		return store.ErrNotFound
	}
	s.transactions[tx.ID] = tx
	return nil
}

func (s *Store) ListTransactions(_ context.Context, opts store.ListTransactionsOptions) (domain.TransactionListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.Transaction
	for _, id := range s.txOrder {
		tx := s.transactions[id]
		if opts.UserID != "" && tx.UserID != opts.UserID {
			continue
		}
		if opts.GroupID != "" && tx.GroupID != opts.GroupID {
			continue
		}
		if opts.Type != "" && tx.Type != opts.Type {
			continue
		}
		if opts.Status != "" && tx.Status != opts.Status {
			continue
		}
		if opts.Since != nil && tx.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && tx.CreatedAt.After(*opts.Until) {
			continue
		}
		matched = append(matched, tx)
	}

	// Newest first, matching the SQL ordering.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[opts.Offset:]
		}
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return domain.TransactionListResult{Items: matched, Total: total}, nil
}

func (s *Store) SumCompleted(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, tx := range s.transactions {
		if tx.UserID == userID && tx.Status == domain.TxCompleted {
			sum = sum.Add(tx.Amount)
		}
	}
	return sum, nil
}

func (s *Store) SumReserved(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, tx := range s.transactions {
		if tx.UserID != userID || !tx.Amount.IsNegative() {
			continue
		}
		if tx.Status == domain.TxPending || tx.Status == domain.TxProcessing {
			sum = sum.Add(tx.Amount.Neg())
		}
	}
	return sum, nil
}

// --- groups ---

func (s *Store) CreateGroup(_ context.Context, g domain.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[g.ID]; ok {
		return store.ErrDuplicate
	}
	s.groups[g.ID] = g
	return nil
}

func (s *Store) GetGroup(_ context.Context, id string) (domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return domain.Group{}, store.ErrNotFound
	}
	return g, nil
}

// UpdateGroup applies a compare-and-swap on Version: the caller passes the
// version it read, and the stored row must still carry it.
func (s *Store) UpdateGroup(_ context.Context, g domain.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.groups[g.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != g.Version {
		return store.ErrVersionConflict
	}
	g.Version++
	s.groups[g.ID] = g
	return nil
}

func (s *Store) ListGroups(_ context.Context, status domain.GroupStatus) ([]domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Group
	for _, g := range s.groups {
		if status != "" && g.Status != status {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) AddMember(_ context.Context, m domain.GroupMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser, ok := s.members[m.GroupID]
	if !ok {
		byUser = make(map[string]domain.GroupMember)
		s.members[m.GroupID] = byUser
	}
	if _, ok := byUser[m.UserID]; ok {
		return store.ErrDuplicate
	}
	byUser[m.UserID] = m
	return nil
}

func (s *Store) GetMember(_ context.Context, groupID, userID string) (domain.GroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[groupID][userID]
	if !ok {
		return domain.GroupMember{}, store.ErrNotFound
	}
	return m, nil
}

func (s *Store) UpdateMember(_ context.Context, m domain.GroupMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[m.GroupID][m.UserID]; !ok {
		return store.ErrNotFound
	}
	s.members[m.GroupID][m.UserID] = m
	return nil
}

func (s *Store) ListMembers(_ context.Context, groupID string) ([]domain.GroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.GroupMember
	for _, m := range s.members[groupID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PayoutPosition != out[j].PayoutPosition {
			return out[i].PayoutPosition < out[j].PayoutPosition
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *Store) InsertPayoutDraw(_ context.Context, d domain.PayoutDraw) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draws[d.GroupID] = append(s.draws[d.GroupID], d)
	return nil
}

func (s *Store) ListPayoutDraws(_ context.Context, groupID string) ([]domain.PayoutDraw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PayoutDraw, len(s.draws[groupID]))
	copy(out, s.draws[groupID])
	return out, nil
}

// --- withdrawals ---

func (s *Store) CreateWithdrawal(_ context.Context, w domain.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.withdrawals[w.ID]; ok {
		return store.ErrDuplicate
	}
	s.withdrawals[w.ID] = w
	return nil
}

func (s *Store) GetWithdrawal(_ context.Context, id string) (domain.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return domain.Withdrawal{}, store.ErrNotFound
	}
	return w, nil
}

func (s *Store) GetWithdrawalByProviderRef(_ context.Context, ref string) (domain.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref == "" {
		return domain.Withdrawal{}, store.ErrNotFound
	}
	for _, w := range s.withdrawals {
		if w.ProviderRef == ref {
			return w, nil
		}
	}
	return domain.Withdrawal{}, store.ErrNotFound
}

func (s *Store) UpdateWithdrawal(_ context.Context, w domain.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.withdrawals[w.ID]; !ok {
		return store.ErrNotFound
	}
	s.withdrawals[w.ID] = w
	return nil
}

func (s *Store) ListWithdrawals(_ context.Context, userID string) ([]domain.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Withdrawal
	for _, w := range s.withdrawals {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- notifications ---

func (s *Store) InsertNotification(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifs[n.ID]; ok {
		return store.ErrDuplicate
	}
	s.notifs[n.ID] = n
	s.notifOrder = append(s.notifOrder, n.ID)
	return nil
}

func (s *Store) ListNotifications(_ context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for i := len(s.notifOrder) - 1; i >= 0; i-- {
		n, ok := s.notifs[s.notifOrder[i]]
		if !ok || n.UserID != userID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifs[id]
	if !ok || n.UserID != userID {
		return store.ErrNotFound
	}
	n.Read = true
	s.notifs[id] = n
	return nil
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range s.notifs {
		if n.UserID == userID && !n.Read {
			n.Read = true
			s.notifs[id] = n
		}
	}
	return nil
}

func (s *Store) DeleteNotification(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifs[id]
	if !ok || n.UserID != userID {
		return store.ErrNotFound
	}
	delete(s.notifs, id)
	return nil
}

func (s *Store) GetChannelPreference(_ context.Context, userID string) (domain.ChannelPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pref, ok := s.prefs[userID]
	if !ok {
		// Default: in-app only.
		return domain.ChannelPreference{UserID: userID}, nil
	}
	return pref, nil
}

func (s *Store) SetChannelPreference(_ context.Context, pref domain.ChannelPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[pref.UserID] = pref
	return nil
}

// --- webhook events ---

func (s *Store) MarkEventProcessed(_ context.Context, ev domain.WebhookEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.EventID]; ok {
		return false, nil
	}
	s.events[ev.EventID] = ev
	return true, nil
}

func (s *Store) ClearEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, eventID)
	return nil
}

// --- audit ---

func (s *Store) InsertIncident(_ context.Context, inc domain.SecurityIncident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = append(s.incidents, inc)
	return nil
}

func (s *Store) ListIncidents(_ context.Context, opts store.ListIncidentsOptions) ([]domain.SecurityIncident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SecurityIncident
	for i := len(s.incidents) - 1; i >= 0; i-- {
		inc := s.incidents[i]
		if opts.UserID != "" && inc.UserID != opts.UserID {
			continue
		}
		if opts.Severity != "" && inc.Severity != opts.Severity {
			continue
		}
		if opts.Since != nil && inc.CreatedAt.Before(*opts.Since) {
			continue
		}
		out = append(out, inc)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// --- operator config ---

func (s *Store) GetSystemConfig(_ context.Context) (domain.SystemConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasSysConfig {
		return domain.SystemConfig{}, store.ErrNotFound
	}
	return s.sysConfig, nil
}

func (s *Store) SetSystemConfig(_ context.Context, cfg domain.SystemConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.UpdatedAt = time.Now().UTC()
	s.sysConfig = cfg
	s.hasSysConfig = true
	return nil
}

func (s *Store) GetMessageTemplate(_ context.Context, id string) (domain.MessageTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[id]
	if !ok {
		return domain.MessageTemplate{}, store.ErrNotFound
	}
	return tpl, nil
}

func (s *Store) ListMessageTemplates(_ context.Context) ([]domain.MessageTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MessageTemplate, 0, len(s.templates))
	for _, tpl := range s.templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) SaveMessageTemplate(_ context.Context, tpl domain.MessageTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tpl.ID] = tpl
	return nil
}

func (s *Store) GetSMSConfig(_ context.Context) (domain.SMSConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.smsConfig, nil
}

func (s *Store) SetSMSConfig(_ context.Context, cfg domain.SMSConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.smsConfig = cfg
	return nil
}

func (s *Store) GetSecurityConfig(_ context.Context) (domain.SecurityConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secConfig, nil
}

func (s *Store) SetSecurityConfig(_ context.Context, cfg domain.SecurityConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secConfig = cfg
	return nil
}

func (s *Store) GetNotificationConfig(_ context.Context) (domain.NotificationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifConfig, nil
}

func (s *Store) SetNotificationConfig(_ context.Context, cfg domain.NotificationConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifConfig = cfg
	return nil
}

func (s *Store) GetWebhookEndpoint(_ context.Context, id string) (domain.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wh, ok := s.webhookEnds[id]
	if !ok {
		return domain.WebhookEndpoint{}, store.ErrNotFound
	}
	return wh, nil
}

func (s *Store) ListWebhookEndpoints(_ context.Context) ([]domain.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WebhookEndpoint, 0, len(s.webhookEnds))
	for _, wh := range s.webhookEnds {
		out = append(out, wh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SaveWebhookEndpoint(_ context.Context, wh domain.WebhookEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhookEnds[wh.ID] = wh
	return nil
}

func (s *Store) DeleteWebhookEndpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.webhookEnds[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.webhookEnds, id)
	return nil
}
