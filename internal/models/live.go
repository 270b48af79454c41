package models

import "strings"

// Topic names a live query whose subscribers are refreshed when it changes.
type Topic string

const (
	topicConversations = "conversations:"
	topicMessages      = "messages:"
	topicTyping        = "typing:"
)

func ConversationsTopic(userID string) Topic {
	return Topic(topicConversations + userID)
}

func MessagesTopic(conversationID string) Topic {
	return Topic(topicMessages + conversationID)
}

func TypingTopic(conversationID string) Topic {
	return Topic(topicTyping + conversationID)
}

// Parse splits a topic into its query kind and argument.
func (t Topic) Parse() (kind ServerMessageType, arg string, ok bool) {
	s := string(t)
	switch {
	case strings.HasPrefix(s, topicConversations):
		return ServerMessageTypeConversations, s[len(topicConversations):], true
	case strings.HasPrefix(s, topicMessages):
		return ServerMessageTypeMessages, s[len(topicMessages):], true
	case strings.HasPrefix(s, topicTyping):
		return ServerMessageTypeTyping, s[len(topicTyping):], true
	}
	return "", "", false
}

// ClientMessage represents a frame sent from the client over the live socket.
type ClientMessage struct {
	Type           ClientMessageType `json:"type"`
	Query          ServerMessageType `json:"query,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
}

// ServerMessage represents a live query result pushed to the client.
type ServerMessage struct {
	Type           ServerMessageType     `json:"type"`
	Query          ServerMessageType     `json:"query,omitempty"`
	ConversationID string                `json:"conversationId,omitempty"`
	Conversations  []ConversationSummary `json:"conversations,omitempty"`
	Messages       []Message             `json:"messages,omitempty"`
	Typing         []TypingUser          `json:"typing,omitempty"`
	Code           Code                  `json:"code,omitempty"`
	Error          string                `json:"error,omitempty"`
}

type ClientMessageType string

const (
	ClientMessageTypeSubscribe   ClientMessageType = "subscribe"
	ClientMessageTypeUnsubscribe ClientMessageType = "unsubscribe"
)

type ServerMessageType string

const (
	ServerMessageTypeConversations ServerMessageType = "conversations"
	ServerMessageTypeMessages      ServerMessageType = "messages"
	ServerMessageTypeTyping        ServerMessageType = "typing"
	ServerMessageTypeError         ServerMessageType = "error"
)
