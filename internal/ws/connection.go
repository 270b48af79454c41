package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"dmchat/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

type messageHub interface {
	Register(userID string) *Subscriber
	Subscribe(sub *Subscriber, topic models.Topic)
	Unsubscribe(sub *Subscriber, topic models.Topic)
	Remove(sub *Subscriber)
}

// liveQueries are the reads a connection re-runs whenever a topic changes.
type liveQueries interface {
	ListConversations(userID string) ([]models.ConversationSummary, error)
	GetConversationMessages(conversationID string) ([]models.Message, error)
	GetTypingUsers(conversationID, requesterID string) ([]models.TypingUser, error)
	Authorize(conversationID, userID string) error
}

type Connection struct {
	ws         wsConnection
	hub        messageHub
	queries    liveQueries
	sub        *Subscriber
	userID     string
	fromClient chan models.ClientMessage
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	queries liveQueries,
	ws wsConnection,
	userID string,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		queries:    queries,
		sub:        hub.Register(userID),
		userID:     userID,
		fromClient: make(chan models.ClientMessage),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Remove(c.sub)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var msg models.ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-c.fromClient:
			if err := c.processClientMessage(msg); err != nil {
				return err
			}
		case <-c.sub.Signal():
			for _, topic := range c.sub.Drain() {
				if err := c.ws.WriteJSON(c.runQuery(topic)); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientMessage(msg models.ClientMessage) error {
	topic, err := c.topicFor(msg)
	if err != nil {
		return c.ws.WriteJSON(errorMessage(msg.Query, msg.ConversationID, err))
	}

	switch msg.Type {
	case models.ClientMessageTypeSubscribe:
		c.hub.Subscribe(c.sub, topic)
	case models.ClientMessageTypeUnsubscribe:
		c.hub.Unsubscribe(c.sub, topic)
	default:
		return c.ws.WriteJSON(errorMessage(msg.Query, msg.ConversationID,
			models.InvalidArgument("unknown message type %q", msg.Type)))
	}
	return nil
}

// topicFor resolves the topic a client frame refers to. Conversation scoped
// queries are only open to participants.
func (c *Connection) topicFor(msg models.ClientMessage) (models.Topic, error) {
	switch msg.Query {
	case models.ServerMessageTypeConversations:
		return models.ConversationsTopic(c.userID), nil
	case models.ServerMessageTypeMessages, models.ServerMessageTypeTyping:
		if msg.ConversationID == "" {
			return "", models.InvalidArgument("conversation id is required")
		}
		if msg.Type == models.ClientMessageTypeSubscribe {
			if err := c.queries.Authorize(msg.ConversationID, c.userID); err != nil {
				return "", err
			}
		}
		if msg.Query == models.ServerMessageTypeMessages {
			return models.MessagesTopic(msg.ConversationID), nil
		}
		return models.TypingTopic(msg.ConversationID), nil
	}
	return "", models.InvalidArgument("unknown query %q", msg.Query)
}

func (c *Connection) runQuery(topic models.Topic) models.ServerMessage {
	kind, arg, _ := topic.Parse()
	resp := models.ServerMessage{Type: kind}

	var err error
	switch kind {
	case models.ServerMessageTypeConversations:
		resp.Conversations, err = c.queries.ListConversations(arg)
	case models.ServerMessageTypeMessages:
		resp.ConversationID = arg
		resp.Messages, err = c.queries.GetConversationMessages(arg)
	case models.ServerMessageTypeTyping:
		resp.ConversationID = arg
		resp.Typing, err = c.queries.GetTypingUsers(arg, c.userID)
	}
	if err != nil {
		slog.Error("live query failed", "user_id", c.userID, "topic", topic, "error", err)
		return errorMessage(kind, arg, err)
	}
	return resp
}

func errorMessage(query models.ServerMessageType, conversationID string, err error) models.ServerMessage {
	return models.ServerMessage{
		Type:           models.ServerMessageTypeError,
		Query:          query,
		ConversationID: conversationID,
		Code:           models.CodeOf(err),
		Error:          err.Error(),
	}
}
