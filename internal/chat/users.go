package chat

import (
	"errors"
	"sort"
	"strings"

	"dmchat/internal/content"
	"dmchat/internal/models"
)

// SyncUser creates or refreshes the directory entry of an identity coming
// from the identity provider and marks the user as just seen.
func (s *Service) SyncUser(id models.Identity) (string, error) {
	user := models.User{
		ID:         strings.TrimSpace(id.ID),
		Email:      strings.TrimSpace(id.Email),
		Name:       content.StripTags(id.Name),
		Avatar:     strings.TrimSpace(id.Avatar),
		LastSeenAt: s.now().UnixMilli(),
	}
	switch {
	case user.ID == "":
		return "", models.InvalidArgument("user id is required")
	case user.Email == "":
		return "", models.InvalidArgument("email is required")
	case user.Name == "":
		return "", models.InvalidArgument("name is required")
	}

	prev, err := s.store.SyncUser(user)
	if err != nil {
		return "", err
	}

	if prev == nil || !prev.Online(s.now()) || prev.Name != user.Name || prev.Avatar != user.Avatar || prev.Email != user.Email {
		s.publishPartners(user.ID)
	}
	return user.ID, nil
}

// Heartbeat refreshes LastSeenAt of an already synced user.
func (s *Service) Heartbeat(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return models.InvalidArgument("user id is required")
	}
	prev, err := s.store.GetUser(userID)
	if err != nil {
		return err
	}
	if _, err := s.store.TouchUser(userID, s.now().UnixMilli()); err != nil {
		return err
	}
	if !prev.Online(s.now()) {
		s.publishPartners(userID)
	}
	return nil
}

func (s *Service) GetUser(userID string) (models.User, error) {
	return s.store.GetUser(strings.TrimSpace(userID))
}

func (s *Service) ListUsers() ([]models.User, error) {
	return s.store.ListUsers()
}

// SearchUsers returns up to SearchLimit profiles whose name or email contains
// query, ignoring case. The requester is never part of the result and a blank
// query matches nobody.
func (s *Service) SearchUsers(requesterID, query string) ([]models.Profile, error) {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return nil, models.InvalidArgument("requester id is required")
	}

	profiles := []models.Profile{}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return profiles, nil
	}

	users, err := s.store.ListUsers()
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool {
		return strings.ToLower(users[i].Name) < strings.ToLower(users[j].Name)
	})

	now := s.now()
	for _, u := range users {
		if u.ID == requesterID {
			continue
		}
		if !strings.Contains(strings.ToLower(u.Name), q) && !strings.Contains(strings.ToLower(u.Email), q) {
			continue
		}
		profiles = append(profiles, u.Profile(now))
		if len(profiles) == models.SearchLimit {
			break
		}
	}
	return profiles, nil
}

// publishPartners refreshes the conversation lists that show userID's
// profile or online dot.
func (s *Service) publishPartners(userID string) {
	rows, err := s.store.ListConversations(userID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.log.Error("failed to list conversations for presence update", "user_id", userID, "error", err)
		}
		return
	}
	topics := make([]models.Topic, 0, len(rows))
	for _, row := range rows {
		topics = append(topics, models.ConversationsTopic(row.Conversation.Other(userID)))
	}
	if len(topics) > 0 {
		s.publisher.Publish(topics...)
	}
}
