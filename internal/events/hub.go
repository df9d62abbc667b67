// Package events provides real-time deployment status fan-out.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the run monitor and lifecycle manager.
const (
	TypeStatusUpdate       = "status_update"
	TypeDeploymentComplete = "deployment_complete"
	TypeDeploymentFailed   = "deployment_failed"
	TypeMonitorTimeout     = "monitor_timeout"
)

// Event is a single status notification for a deployment branch.
type Event struct {
	Type      string            `json:"type"`
	Branch    string            `json:"branch"`
	Payload   map[string]string `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Subscriber receives events for one branch, or all branches when Branch is
// empty.
type Subscriber struct {
	ID        string
	Branch    string
	Ch        chan Event
	CreatedAt time.Time
}

// Hub manages event subscriptions and publishing. Publishing never blocks:
// a subscriber whose channel is full misses the event.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *slog.Logger
}

// NewHub creates a new event hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe creates a subscription for a branch's events. An empty branch
// subscribes to every deployment.
func (h *Hub) Subscribe(branch string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscriber{
		ID:        uuid.New().String(),
		Branch:    branch,
		Ch:        make(chan Event, 100),
		CreatedAt: time.Now(),
	}

	h.subscribers[sub.ID] = sub
	h.logger.Debug("subscriber added", "subscriber_id", sub.ID, "branch", branch)

	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.subscribers[sub.ID]; exists {
		close(sub.Ch)
		delete(h.subscribers, sub.ID)
		h.logger.Debug("subscriber removed", "subscriber_id", sub.ID)
	}
}

// Publish sends an event to all matching subscribers.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		if sub.Branch != "" && sub.Branch != event.Branch {
			continue
		}
		select {
		case sub.Ch <- event:
		default:
			// Channel full, this subscriber misses the event.
			h.logger.Warn("subscriber channel full, dropping event",
				"subscriber_id", sub.ID,
				"branch", event.Branch,
			)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Shutdown closes all subscriber channels.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subscribers {
		close(sub.Ch)
		delete(h.subscribers, id)
	}
}
