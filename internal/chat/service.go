// Package chat implements the direct messaging operations: the user
// directory, the conversation registry, the message log and typing presence.
// Durable state lives in the Store; every operation that writes more than one
// record delegates to a single Store call, which the Store runs atomically.
package chat

import (
	"log/slog"
	"time"

	"dmchat/internal/models"
	"dmchat/internal/typing"

	"github.com/google/uuid"
)

// Store is the durable state behind the service.
type Store interface {
	SyncUser(user models.User) (*models.User, error)
	TouchUser(userID string, lastSeenAt int64) (models.User, error)
	GetUser(userID string) (models.User, error)
	ListUsers() ([]models.User, error)

	GetOrCreateConversation(a, b string, now int64, newID string) (models.Conversation, bool, error)
	GetConversation(id string) (models.Conversation, error)
	ListConversations(userID string) ([]models.ConversationRow, error)

	AppendMessage(msg models.Message) (models.Conversation, error)
	ListMessages(conversationID string) ([]models.Message, error)
	MarkRead(conversationID, userID string, now int64) error
}

// Publisher is told which live queries a committed mutation invalidated.
type Publisher interface {
	Publish(topics ...models.Topic)
}

// Notifier is told about messages after they are committed. It must not
// block the caller.
type Notifier interface {
	MessageSent(conv models.Conversation, msg models.Message)
}

type nopPublisher struct{}

func (nopPublisher) Publish(...models.Topic) {}

type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	store     Store
	typing    *typing.Store
	publisher Publisher
	notifier  Notifier
	log       *slog.Logger
	now       func() time.Time
	newID     func() string

	// afterFunc schedules the typing refresh publish; tests replace it.
	afterFunc func(d time.Duration, f func())
}

func New(store Store, typingStore *typing.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		typing:    typingStore,
		publisher: nopPublisher{},
		log:       slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
