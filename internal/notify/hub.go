package notify

import (
	"sync"

	"github.com/kixikila/backend/internal/domain"
)

// Hub delivers notifications to in-process subscribers in real time. Each
// user has an independent set of subscriber channels; a slow subscriber
// drops messages rather than blocking the publisher.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[int]chan domain.Notification
	next int
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan domain.Notification)}
}

// Subscribe registers a listener for the user's channel. The returned
// cancel function must be called to release the subscription.
func (h *Hub) Subscribe(userID string) (<-chan domain.Notification, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan domain.Notification, 16)
	byID, ok := h.subs[userID]
	if !ok {
		byID = make(map[int]chan domain.Notification)
		h.subs[userID] = byID
	}
	id := h.next
	h.next++
	byID[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if byID, ok := h.subs[userID]; ok {
			if ch, ok := byID[id]; ok {
				delete(byID, id)
				close(ch)
			}
			if len(byID) == 0 {
				delete(h.subs, userID)
			}
		}
	}
	return ch, cancel
}

// Publish fans the notification out to the owner's subscribers.
func (h *Hub) Publish(n domain.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[n.UserID] {
		select {
		case ch <- n:
		default:
			// Subscriber is not keeping up; drop rather than block.
		}
	}
}
