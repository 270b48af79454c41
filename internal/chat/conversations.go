package chat

import (
	"sort"
	"strings"

	"dmchat/internal/content"
	"dmchat/internal/models"
)

// GetOrCreateDirectConversation returns the conversation of the unordered
// pair (currentUserID, otherUserID), creating it on first use.
func (s *Service) GetOrCreateDirectConversation(currentUserID, otherUserID string) (string, error) {
	current := strings.TrimSpace(currentUserID)
	other := strings.TrimSpace(otherUserID)
	if current == "" || other == "" {
		return "", models.InvalidArgument("both user ids are required")
	}
	if current == other {
		return "", models.InvalidArgument("cannot start a direct conversation with yourself")
	}

	conv, created, err := s.store.GetOrCreateConversation(current, other, s.now().UnixMilli(), s.newID())
	if err != nil {
		return "", err
	}
	if created {
		s.log.Info("conversation created", "conversation_id", conv.ID, "participants", conv.Participants)
	}
	// Memberships may have been healed even for an existing conversation.
	s.publisher.Publish(models.ConversationsTopic(current), models.ConversationsTopic(other))
	return conv.ID, nil
}

// ListConversations returns the conversation list of userID, most recently
// active first.
func (s *Service) ListConversations(userID string) ([]models.ConversationSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, models.InvalidArgument("user id is required")
	}

	rows, err := s.store.ListConversations(userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	summaries := make([]models.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		conv := row.Conversation
		if !conv.HasParticipant(userID) {
			continue
		}
		otherID := conv.Other(userID)
		summary := models.ConversationSummary{
			ConversationID:   conv.ID,
			ParticipantID:    otherID,
			ParticipantName:  models.UnknownUserName,
			ParticipantEmail: otherID,
			LastMessage:      conv.LastMessageText,
			LastMessageAt:    conv.LastMessageAt,
			UnreadCount:      row.Membership.UnreadCount,
		}
		if summary.LastMessage == "" {
			summary.LastMessage = models.NoMessagesPlaceholder
		}
		if u := row.Other; u != nil {
			summary.ParticipantName = u.Name
			summary.ParticipantEmail = u.Email
			summary.ParticipantAvatar = u.Avatar
			summary.ParticipantOnline = u.Online(now)
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastMessageAt > summaries[j].LastMessageAt
	})
	return summaries, nil
}

// GetConversationMessages returns the whole log of a conversation, oldest
// first.
func (s *Service) GetConversationMessages(conversationID string) ([]models.Message, error) {
	return s.store.ListMessages(strings.TrimSpace(conversationID))
}

// Authorize fails unless userID participates in the conversation.
func (s *Service) Authorize(conversationID, userID string) error {
	conv, err := s.store.GetConversation(conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return models.PermissionDenied("user %s is not part of conversation %s", userID, conversationID)
	}
	return nil
}

// SendMessage appends a message and, in the same atomic unit, refreshes the
// conversation summary and every member's unread counter.
func (s *Service) SendMessage(conversationID, senderID, text string) (string, error) {
	senderID = strings.TrimSpace(senderID)
	text = strings.TrimSpace(text)
	if senderID == "" {
		return "", models.InvalidArgument("sender id is required")
	}
	if text == "" {
		return "", models.InvalidArgument("message cannot be empty")
	}

	msg := models.Message{
		ID:             s.newID(),
		ConversationID: strings.TrimSpace(conversationID),
		SenderID:       senderID,
		Content:        text,
		HTML:           content.Render(text),
		CreatedAt:      s.now().UnixMilli(),
		ReadBy:         []string{senderID},
	}

	conv, err := s.store.AppendMessage(msg)
	if err != nil {
		return "", err
	}

	// The sender stopped typing the moment the message went out.
	s.typing.Clear(conv.ID, senderID)

	s.publisher.Publish(
		models.MessagesTopic(conv.ID),
		models.TypingTopic(conv.ID),
		models.ConversationsTopic(conv.Participants[0]),
		models.ConversationsTopic(conv.Participants[1]),
	)
	if s.notifier != nil {
		s.notifier.MessageSent(conv, msg)
	}
	return msg.ID, nil
}

// MarkConversationRead resets userID's unread counter. Calling it again has
// no further effect.
func (s *Service) MarkConversationRead(conversationID, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return models.InvalidArgument("user id is required")
	}
	if err := s.store.MarkRead(strings.TrimSpace(conversationID), userID, s.now().UnixMilli()); err != nil {
		return err
	}
	s.publisher.Publish(models.ConversationsTopic(userID))
	return nil
}
