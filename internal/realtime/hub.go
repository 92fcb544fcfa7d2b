package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/blackmichael/drops-backend/internal/domain"
	"github.com/blackmichael/drops-backend/internal/metrics"
)

var (
	_ domain.Publisher    = (*Hub)(nil)
	_ domain.TopicEvictor = (*Hub)(nil)
)

// Frame is a server-to-client message.
type Frame struct {
	Event   string `json:"event"`
	Topic   string `json:"topic,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Subscriber receives frames published to the topics it joined.
type Subscriber interface {
	// Send queues an encoded frame without blocking. It returns false when
	// the subscriber cannot keep up.
	Send(msg []byte) bool

	// Close disconnects the subscriber.
	Close()
}

// Hub fans events out to the live subscribers of each topic. Delivery is at
// most once with no replay; within a topic subscribers see events in publish
// order.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[Subscriber]struct{}
	joined map[Subscriber]map[string]struct{}

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		rooms:   make(map[string]map[Subscriber]struct{}),
		joined:  make(map[Subscriber]map[string]struct{}),
		logger:  logger,
		metrics: m,
	}
}

// Join subscribes s to topic.
func (h *Hub) Join(topic string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[topic]
	if !ok {
		room = make(map[Subscriber]struct{})
		h.rooms[topic] = room
	}
	room[s] = struct{}{}

	topics, ok := h.joined[s]
	if !ok {
		topics = make(map[string]struct{})
		h.joined[s] = topics
	}
	topics[topic] = struct{}{}
}

// Leave unsubscribes s from topic.
func (h *Hub) Leave(topic string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(topic, s)
}

// LeaveAll unsubscribes s from every topic.
func (h *Hub) LeaveAll(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

// Evict unsubscribes every connection of userID from topic. Subscribers
// that do not report a user are left alone.
func (h *Hub) Evict(topic, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.rooms[topic] {
		if o, ok := s.(interface{ UserID() string }); ok && o.UserID() == userID {
			h.leaveLocked(topic, s)
		}
	}
}

// Subscribers returns the number of subscribers of topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[topic])
}

// Publish delivers an event to every current subscriber of topic.
// Subscribers whose buffers are full are disconnected.
func (h *Hub) Publish(topic, event string, payload any) {
	msg, err := json.Marshal(Frame{Event: event, Topic: topic, Payload: payload})
	if err != nil {
		h.logger.Error("failed to encode realtime event", "event", event, "topic", topic, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.metrics.EventPublished(event)
	for s := range h.rooms[topic] {
		if s.Send(msg) {
			continue
		}
		h.logger.Warn("dropping slow realtime subscriber", "topic", topic)
		h.metrics.SlowConsumerDropped()
		h.removeLocked(s)
		s.Close()
	}
}

func (h *Hub) leaveLocked(topic string, s Subscriber) {
	if room, ok := h.rooms[topic]; ok {
		delete(room, s)
		if len(room) == 0 {
			delete(h.rooms, topic)
		}
	}
	if topics, ok := h.joined[s]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(h.joined, s)
		}
	}
}

func (h *Hub) removeLocked(s Subscriber) {
	for topic := range h.joined[s] {
		h.leaveLocked(topic, s)
	}
}
