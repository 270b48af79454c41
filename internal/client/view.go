package client

import (
	"time"

	"dmchat/internal/models"
)

const (
	MarkReadInterval = 300 * time.Millisecond
	TypingInterval   = 350 * time.Millisecond
	SendInterval     = 350 * time.Millisecond
)

// ConversationView is the client state of one open conversation. Each view
// carries its own throttles.
type ConversationView struct {
	ID       string
	Messages []models.Message
	Typing   []models.TypingUser
	Scroll   ScrollTracker

	markRead *Throttle
	typing   *Throttle
	send     *Throttle
}

func newConversationView(id string, now func() time.Time) *ConversationView {
	return &ConversationView{
		ID:       id,
		Messages: []models.Message{},
		Typing:   []models.TypingUser{},
		markRead: NewThrottle(MarkReadInterval, now),
		typing:   NewThrottle(TypingInterval, now),
		send:     NewThrottle(SendInterval, now),
	}
}

// applyMessages reconciles a fresh result with what the view holds and
// returns the scroll decision for it.
func (v *ConversationView) applyMessages(incoming []models.Message, me string) ScrollAction {
	v.Messages = mergeByID(v.Messages, incoming)
	newestIsMine := len(v.Messages) > 0 && v.Messages[len(v.Messages)-1].SenderID == me
	return v.Scroll.OnMessages(len(v.Messages), newestIsMine)
}

// mergeByID returns incoming in its order, reusing the entries of current
// that carry the same id. Messages are append-only, so a known id never
// changes content.
func mergeByID(current, incoming []models.Message) []models.Message {
	known := make(map[string]models.Message, len(current))
	for _, m := range current {
		known[m.ID] = m
	}
	merged := make([]models.Message, 0, len(incoming))
	for _, m := range incoming {
		if old, ok := known[m.ID]; ok {
			// Only read receipts may grow.
			if len(m.ReadBy) > len(old.ReadBy) {
				old.ReadBy = m.ReadBy
			}
			merged = append(merged, old)
			continue
		}
		merged = append(merged, m)
	}
	return merged
}
