package models

import "time"

const (
	// OnlineWindow is how recent LastSeenAt must be for a user to count as online.
	OnlineWindow = 60 * time.Second
	// TypingTTL is how long a single "is typing" signal stays visible.
	TypingTTL = 2 * time.Second
	// SearchLimit caps the number of profiles returned by a user search.
	SearchLimit = 10
	// NoMessagesPlaceholder is shown instead of an empty last message.
	NoMessagesPlaceholder = "No messages yet"
	// UnknownUserName is shown when the other participant never synced a profile.
	UnknownUserName = "Unknown user"
)

// Identity is what the external identity provider vouches for.
type Identity struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// User represents a user in the directory.
type User struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
	LastSeenAt int64  `json:"lastSeenAt"` // Unix milliseconds
}

// Online reports whether the user was seen within OnlineWindow of now.
func (u User) Online(now time.Time) bool {
	return now.UnixMilli()-u.LastSeenAt < OnlineWindow.Milliseconds()
}

// Profile is the public view of a user returned by searches.
type Profile struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Online bool   `json:"isOnline"`
}

func (u User) Profile(now time.Time) Profile {
	return Profile{
		ID:     u.ID,
		Email:  u.Email,
		Name:   u.Name,
		Avatar: u.Avatar,
		Online: u.Online(now),
	}
}

// Conversation is a direct conversation between exactly two users.
// Participants are kept in sorted order.
type Conversation struct {
	ID              string    `json:"id"`
	Participants    [2]string `json:"participants"`
	CreatedAt       int64     `json:"createdAt"`
	LastMessageAt   int64     `json:"lastMessageAt"`
	LastMessageText string    `json:"lastMessageText"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// Other returns the participant that is not userID.
func (c Conversation) Other(userID string) string {
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// Membership is a per-user read cursor and unread counter.
type Membership struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UnreadCount    int    `json:"unreadCount"`
	LastReadAt     int64  `json:"lastReadAt"`
}

// ConversationRow joins a membership with its conversation and the profile of
// the other participant. Other is nil when that user never synced.
type ConversationRow struct {
	Membership   Membership
	Conversation Conversation
	Other        *User
}

// ConversationSummary is one entry of a user's conversation list.
type ConversationSummary struct {
	ConversationID    string `json:"conversationId"`
	ParticipantID     string `json:"participantId"`
	ParticipantName   string `json:"participantName"`
	ParticipantEmail  string `json:"participantEmail"`
	ParticipantAvatar string `json:"participantAvatar,omitempty"`
	ParticipantOnline bool   `json:"isOnline"`
	LastMessage       string `json:"lastMessage"`
	LastMessageAt     int64  `json:"lastMessageAt"`
	UnreadCount       int    `json:"unreadCount"`
}

// Message represents a chat message.
type Message struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversationId"`
	SenderID       string   `json:"senderId"`
	Content        string   `json:"content"`
	HTML           string   `json:"html,omitempty"`
	CreatedAt      int64    `json:"createdAt"` // Unix milliseconds
	ReadBy         []string `json:"readBy,omitempty"`
}

// TypingStatus marks a user as typing in a conversation until ExpiresAt.
type TypingStatus struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	ExpiresAt      int64  `json:"expiresAt"` // Unix milliseconds
}

// TypingUser is a resolved typing indicator.
type TypingUser struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// PushSubscription is a browser web push endpoint registered by a user.
type PushSubscription struct {
	UserID   string `json:"userId"`
	Endpoint string `json:"endpoint"`
	Auth     string `json:"auth"`
	P256dh   string `json:"p256dh"`
}

// APIResponse is the generic JSON envelope for failures and simple acks.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    Code   `json:"code,omitempty"`
}
