package chat

import (
	"strings"
	"time"

	"dmchat/internal/models"
)

// SetTypingStatus starts or extends (isTyping) or clears the typing marker of
// userID in the conversation.
func (s *Service) SetTypingStatus(conversationID, userID string, isTyping bool) error {
	userID = strings.TrimSpace(userID)
	conversationID = strings.TrimSpace(conversationID)
	if userID == "" {
		return models.InvalidArgument("user id is required")
	}

	topic := models.TypingTopic(conversationID)
	if !isTyping {
		s.typing.Clear(conversationID, userID)
		s.publisher.Publish(topic)
		return nil
	}

	s.typing.Set(conversationID, userID, s.now().Add(models.TypingTTL).UnixMilli())
	s.publisher.Publish(topic)
	// Expiry is enforced on read; this publish only makes live subscribers
	// re-read once the marker may have lapsed.
	s.afterFunc(models.TypingTTL+50*time.Millisecond, func() {
		s.publisher.Publish(topic)
	})
	return nil
}

// GetTypingUsers lists who is typing in the conversation, excluding the
// requester. Markers of users missing from the directory are dropped.
func (s *Service) GetTypingUsers(conversationID, requesterID string) ([]models.TypingUser, error) {
	requesterID = strings.TrimSpace(requesterID)
	users := []models.TypingUser{}
	for _, entry := range s.typing.Active(strings.TrimSpace(conversationID), s.now().UnixMilli()) {
		if entry.UserID == requesterID {
			continue
		}
		u, err := s.store.GetUser(entry.UserID)
		if err != nil {
			continue
		}
		users = append(users, models.TypingUser{UserID: u.ID, Name: u.Name})
	}
	return users, nil
}
