package ws

import (
	"sync"

	"dmchat/internal/models"
)

// Subscriber is the hub side of one live connection. Published topics are
// collected in a dirty set, so a burst of writes costs one refresh.
type Subscriber struct {
	userID string

	mu     sync.Mutex
	topics map[models.Topic]struct{}
	dirty  map[models.Topic]struct{}
	signal chan struct{}
}

func newSubscriber(userID string) *Subscriber {
	return &Subscriber{
		userID: userID,
		topics: make(map[models.Topic]struct{}),
		dirty:  make(map[models.Topic]struct{}),
		signal: make(chan struct{}, 1),
	}
}

func (s *Subscriber) UserID() string {
	return s.userID
}

// Signal fires when at least one subscribed topic became dirty.
func (s *Subscriber) Signal() <-chan struct{} {
	return s.signal
}

// Drain returns and resets the dirty topics that are still subscribed.
func (s *Subscriber) Drain() []models.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()

	topics := make([]models.Topic, 0, len(s.dirty))
	for t := range s.dirty {
		if _, ok := s.topics[t]; ok {
			topics = append(topics, t)
		}
	}
	clear(s.dirty)
	return topics
}

func (s *Subscriber) markDirty(topic models.Topic) {
	s.mu.Lock()
	s.dirty[topic] = struct{}{}
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

type Hub struct {
	mu          sync.RWMutex
	subscribers map[models.Topic]map[*Subscriber]struct{}
	byUser      map[string]map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[models.Topic]map[*Subscriber]struct{}),
		byUser:      make(map[string]map[*Subscriber]struct{}),
	}
}

func (h *Hub) Register(userID string) *Subscriber {
	sub := newSubscriber(userID)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[*Subscriber]struct{})
	}
	h.byUser[userID][sub] = struct{}{}
	return sub
}

// Subscribe adds topic to sub and marks it dirty, so the current result is
// delivered right away.
func (h *Hub) Subscribe(sub *Subscriber, topic models.Topic) {
	h.mu.Lock()
	if h.subscribers[topic] == nil {
		h.subscribers[topic] = make(map[*Subscriber]struct{})
	}
	h.subscribers[topic][sub] = struct{}{}
	h.mu.Unlock()

	sub.mu.Lock()
	sub.topics[topic] = struct{}{}
	sub.mu.Unlock()

	sub.markDirty(topic)
}

func (h *Hub) Unsubscribe(sub *Subscriber, topic models.Topic) {
	h.mu.Lock()
	h.dropTopic(sub, topic)
	h.mu.Unlock()

	sub.mu.Lock()
	delete(sub.topics, topic)
	delete(sub.dirty, topic)
	sub.mu.Unlock()
}

// Remove forgets sub and all its subscriptions.
func (h *Hub) Remove(sub *Subscriber) {
	sub.mu.Lock()
	topics := make([]models.Topic, 0, len(sub.topics))
	for t := range sub.topics {
		topics = append(topics, t)
	}
	clear(sub.topics)
	clear(sub.dirty)
	sub.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		h.dropTopic(sub, t)
	}
	if subs, ok := h.byUser[sub.userID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.byUser, sub.userID)
		}
	}
}

func (h *Hub) dropTopic(sub *Subscriber, topic models.Topic) {
	subs, ok := h.subscribers[topic]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.subscribers, topic)
	}
}

// Publish marks topics dirty for every subscriber. It never blocks.
func (h *Hub) Publish(topics ...models.Topic) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, t := range topics {
		for sub := range h.subscribers[t] {
			sub.markDirty(t)
		}
	}
}

// IsConnected reports whether userID holds at least one live connection.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// SubscriberCount returns how many connections listen to topic.
func (h *Hub) SubscriberCount(topic models.Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[topic])
}
