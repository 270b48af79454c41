// Package typing keeps short-lived "user is typing" markers. Nothing here is
// durable and nothing sweeps expired markers: readers pass the current time and
// only see markers whose deadline is still ahead of it.
package typing

import (
	"sort"

	"dmchat/internal/models"

	"github.com/c-pro/geche"
)

// Store maps a conversation id to the typing deadlines of its users.
type Store struct {
	entries *geche.Locker[string, map[string]int64]
}

func NewStore() *Store {
	return &Store{
		entries: geche.NewLocker[string, map[string]int64](geche.NewMapCache[string, map[string]int64]()),
	}
}

// Set upserts the deadline of userID in the conversation. A later call
// replaces the deadline instead of queueing another one.
func (s *Store) Set(conversationID, userID string, expiresAt int64) {
	tx := s.entries.Lock()
	defer tx.Unlock()

	current, _ := tx.Get(conversationID)
	next := make(map[string]int64, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[userID] = expiresAt
	tx.Set(conversationID, next)
}

// Clear removes the marker of userID. It is a no-op when there is none.
func (s *Store) Clear(conversationID, userID string) {
	tx := s.entries.Lock()
	defer tx.Unlock()

	current, err := tx.Get(conversationID)
	if err != nil {
		return
	}
	if _, ok := current[userID]; !ok {
		return
	}
	if len(current) == 1 {
		_ = tx.Del(conversationID)
		return
	}
	next := make(map[string]int64, len(current)-1)
	for k, v := range current {
		if k != userID {
			next[k] = v
		}
	}
	tx.Set(conversationID, next)
}

// Active returns the markers of the conversation whose deadline is after now,
// ordered by user id.
func (s *Store) Active(conversationID string, now int64) []models.TypingStatus {
	tx := s.entries.Lock()
	current, _ := tx.Get(conversationID)
	tx.Unlock()

	var active []models.TypingStatus
	for userID, expiresAt := range current {
		if expiresAt > now {
			active = append(active, models.TypingStatus{
				ConversationID: conversationID,
				UserID:         userID,
				ExpiresAt:      expiresAt,
			})
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].UserID < active[j].UserID
	})
	return active
}
