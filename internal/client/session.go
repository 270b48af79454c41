// Package client keeps the state of one signed-in chat session in sync with
// the live queries of the server: conversation selection, open conversation
// views, autoscroll decisions, throttled mutations and debounced search.
//
// Mutations are fire-and-forget. Failures are logged and never retried, and
// no state changes until the server pushes the new query results.
package client

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dmchat/internal/models"
)

const (
	StartConversationInterval = 800 * time.Millisecond
	SearchDebounce            = 300 * time.Millisecond
	PresenceInterval          = 30 * time.Second
)

// Backend is the server as seen by a session.
type Backend interface {
	SyncUser(ctx context.Context) error
	SearchUsers(ctx context.Context, query string) ([]models.Profile, error)
	StartConversation(ctx context.Context, otherUserID string) (string, error)
	SendMessage(ctx context.Context, conversationID, content string) (string, error)
	MarkRead(ctx context.Context, conversationID string) error
	SetTyping(ctx context.Context, conversationID string, isTyping bool) error
	// Live sends a subscribe or unsubscribe frame on the live connection.
	Live(ctx context.Context, msg models.ClientMessage) error
}

type Option func(*Session)

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithDispatch replaces how mutations are run. The default runs each one on
// its own goroutine.
func WithDispatch(dispatch func(func())) Option {
	return func(s *Session) { s.dispatch = dispatch }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// OnChange registers a callback run after every state change.
func OnChange(f func()) Option {
	return func(s *Session) { s.onChange = f }
}

type Session struct {
	ctx      context.Context
	backend  Backend
	me       string
	log      *slog.Logger
	now      func() time.Time
	dispatch func(func())
	onChange func()
	search   *Debouncer

	mu            sync.Mutex
	conversations []models.ConversationSummary
	selected      string
	visible       bool
	views         map[string]*ConversationView
	searchInput   string
	searchQuery   string
	searchResults []models.Profile
	starting      bool
	start         *Throttle
}

func NewSession(ctx context.Context, backend Backend, me string, opts ...Option) *Session {
	s := &Session{
		ctx:           ctx,
		backend:       backend,
		me:            me,
		log:           slog.Default(),
		now:           time.Now,
		dispatch:      func(f func()) { go f() },
		onChange:      func() {},
		search:        NewDebouncer(SearchDebounce),
		conversations: []models.ConversationSummary{},
		visible:       true,
		views:         make(map[string]*ConversationView),
		searchResults: []models.Profile{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.start = NewThrottle(StartConversationInterval, s.now)
	return s
}

func (s *Session) run(jobs []func()) {
	for _, j := range jobs {
		s.dispatch(j)
	}
}

func (s *Session) live(typ models.ClientMessageType, query models.ServerMessageType, conversationID string) func() {
	return func() {
		msg := models.ClientMessage{Type: typ, Query: query, ConversationID: conversationID}
		if err := s.backend.Live(s.ctx, msg); err != nil {
			s.log.Error("live subscription failed", "type", typ, "query", query, "conversation_id", conversationID, "error", err)
		}
	}
}

// Start subscribes to the conversation list.
func (s *Session) Start() {
	s.dispatch(s.live(models.ClientMessageTypeSubscribe, models.ServerMessageTypeConversations, ""))
}

// Apply folds a pushed live query result into the session. It returns the
// scroll decision when the selected conversation's messages changed.
func (s *Session) Apply(msg models.ServerMessage) ScrollAction {
	var jobs []func()
	action := ScrollNone

	s.mu.Lock()
	switch msg.Type {
	case models.ServerMessageTypeConversations:
		s.conversations = msg.Conversations
		if s.conversations == nil {
			s.conversations = []models.ConversationSummary{}
		}
		jobs = s.reselect()
	case models.ServerMessageTypeMessages:
		view, ok := s.views[msg.ConversationID]
		if !ok {
			break
		}
		before := len(view.Messages)
		action = view.applyMessages(msg.Messages, s.me)
		if len(view.Messages) != before {
			jobs = s.markRead(view)
		}
	case models.ServerMessageTypeTyping:
		if view, ok := s.views[msg.ConversationID]; ok {
			view.Typing = msg.Typing
			if view.Typing == nil {
				view.Typing = []models.TypingUser{}
			}
		}
	case models.ServerMessageTypeError:
		s.log.Warn("live query failed", "query", msg.Query, "conversation_id", msg.ConversationID, "code", msg.Code, "error", msg.Error)
	}
	s.mu.Unlock()

	s.run(jobs)
	s.onChange()
	return action
}

// reselect keeps the selection pointing at a listed conversation, falling
// back to the most recent one. Caller holds s.mu.
func (s *Session) reselect() []func() {
	if s.selected != "" {
		for _, c := range s.conversations {
			if c.ConversationID == s.selected {
				return nil
			}
		}
	}
	next := ""
	if len(s.conversations) > 0 {
		next = s.conversations[0].ConversationID
	}
	return s.setSelected(next)
}

// setSelected swaps the open view. Caller holds s.mu.
func (s *Session) setSelected(id string) []func() {
	if id == s.selected {
		return nil
	}

	var jobs []func()
	if old := s.selected; old != "" {
		delete(s.views, old)
		jobs = append(jobs,
			s.live(models.ClientMessageTypeUnsubscribe, models.ServerMessageTypeMessages, old),
			s.live(models.ClientMessageTypeUnsubscribe, models.ServerMessageTypeTyping, old),
		)
	}

	s.selected = id
	if id == "" {
		return jobs
	}

	view := newConversationView(id, s.now)
	s.views[id] = view
	jobs = append(jobs,
		s.live(models.ClientMessageTypeSubscribe, models.ServerMessageTypeMessages, id),
		s.live(models.ClientMessageTypeSubscribe, models.ServerMessageTypeTyping, id),
	)
	return append(jobs, s.markRead(view)...)
}

// markRead is throttled per view and only fires while the view is visible.
// Caller holds s.mu.
func (s *Session) markRead(view *ConversationView) []func() {
	if !s.visible || view.ID != s.selected || !view.markRead.Allow() {
		return nil
	}
	id := view.ID
	return []func(){func() {
		if err := s.backend.MarkRead(s.ctx, id); err != nil {
			s.log.Error("failed to mark conversation read", "conversation_id", id, "error", err)
		}
	}}
}

// Select opens a conversation picked by the user.
func (s *Session) Select(conversationID string) {
	s.mu.Lock()
	jobs := s.setSelected(conversationID)
	s.mu.Unlock()

	s.run(jobs)
	s.onChange()
}

// SetVisible tells whether the open conversation is on screen.
func (s *Session) SetVisible(visible bool) {
	var jobs []func()

	s.mu.Lock()
	s.visible = visible
	if view, ok := s.views[s.selected]; ok && visible {
		jobs = s.markRead(view)
	}
	s.mu.Unlock()

	s.run(jobs)
}

// InputActivity signals a keystroke in the composer.
func (s *Session) InputActivity() {
	s.mu.Lock()
	view, ok := s.views[s.selected]
	allowed := ok && view.typing.Allow()
	s.mu.Unlock()
	if !allowed {
		return
	}

	id := view.ID
	s.dispatch(func() {
		if err := s.backend.SetTyping(s.ctx, id, true); err != nil {
			s.log.Error("failed to set typing status", "conversation_id", id, "error", err)
		}
	})
}

// StopTyping clears the typing marker right away, ignoring the throttle.
func (s *Session) StopTyping() {
	s.mu.Lock()
	id := s.selected
	s.mu.Unlock()
	if id == "" {
		return
	}

	s.dispatch(func() {
		if err := s.backend.SetTyping(s.ctx, id, false); err != nil {
			s.log.Error("failed to clear typing status", "conversation_id", id, "error", err)
		}
	})
}

// Send posts text to the open conversation. Blank text and sends within the
// throttle window are dropped; the result tells whether it was dispatched.
func (s *Session) Send(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	s.mu.Lock()
	view, ok := s.views[s.selected]
	allowed := ok && view.send.Allow()
	s.mu.Unlock()
	if !allowed {
		return false
	}

	id := view.ID
	s.dispatch(func() {
		if _, err := s.backend.SendMessage(s.ctx, id, text); err != nil {
			s.log.Error("failed to send message", "conversation_id", id, "error", err)
			return
		}
		if err := s.backend.SetTyping(s.ctx, id, false); err != nil {
			s.log.Error("failed to clear typing status", "conversation_id", id, "error", err)
		}
	})
	return true
}

// StartConversation opens the direct conversation with otherUserID. Only one
// start may be in flight and starts are spaced by StartConversationInterval.
func (s *Session) StartConversation(otherUserID string) bool {
	s.mu.Lock()
	if s.starting || !s.start.Allow() {
		s.mu.Unlock()
		return false
	}
	s.starting = true
	s.mu.Unlock()
	s.onChange()

	s.dispatch(func() {
		id, err := s.backend.StartConversation(s.ctx, otherUserID)

		var jobs []func()
		s.mu.Lock()
		s.starting = false
		if err != nil {
			s.log.Error("failed to start conversation", "other_user_id", otherUserID, "error", err)
		} else {
			jobs = s.setSelected(id)
			s.search.Cancel()
			s.searchInput = ""
			s.searchQuery = ""
			s.searchResults = []models.Profile{}
		}
		s.mu.Unlock()

		s.run(jobs)
		s.onChange()
	})
	return true
}

// SetSearchInput updates the search box. The query reaches the server once
// the input settles; clearing the box clears the results at once.
func (s *Session) SetSearchInput(text string) {
	s.mu.Lock()
	s.searchInput = text
	if strings.TrimSpace(text) == "" {
		s.search.Cancel()
		s.searchQuery = ""
		s.searchResults = []models.Profile{}
		s.mu.Unlock()
		s.onChange()
		return
	}
	s.mu.Unlock()
	s.onChange()

	s.search.Trigger(func() {
		s.mu.Lock()
		s.searchQuery = text
		s.mu.Unlock()
		s.dispatch(func() { s.runSearch(text) })
	})
}

func (s *Session) runSearch(query string) {
	results, err := s.backend.SearchUsers(s.ctx, query)
	if err != nil {
		s.log.Error("user search failed", "error", err)
		return
	}

	s.mu.Lock()
	stale := s.searchQuery != query
	if !stale {
		s.searchResults = results
	}
	s.mu.Unlock()
	if !stale {
		s.onChange()
	}
}

// RunPresence refreshes the user directory entry now and then every
// PresenceInterval until ctx is done. Failures are ignored.
func (s *Session) RunPresence(ctx context.Context) {
	ticker := time.NewTicker(PresenceInterval)
	defer ticker.Stop()

	for {
		if err := s.backend.SyncUser(ctx); err != nil {
			s.log.Debug("presence refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// OnScroll forwards the viewport position of the open conversation.
func (s *Session) OnScroll(nearBottom bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if view, ok := s.views[s.selected]; ok {
		view.Scroll.OnScroll(nearBottom)
	}
}

func (s *Session) JumpToLatest() ScrollAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if view, ok := s.views[s.selected]; ok {
		return view.Scroll.JumpToLatest()
	}
	return ScrollNone
}

func (s *Session) Conversations() []models.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ConversationSummary(nil), s.conversations...)
}

func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// SelectedConversation returns the summary of the open conversation.
func (s *Session) SelectedConversation() (models.ConversationSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.ConversationID == s.selected {
			return c, true
		}
	}
	return models.ConversationSummary{}, false
}

func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if view, ok := s.views[s.selected]; ok {
		return append([]models.Message(nil), view.Messages...)
	}
	return nil
}

func (s *Session) TypingUsers() []models.TypingUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	if view, ok := s.views[s.selected]; ok {
		return append([]models.TypingUser(nil), view.Typing...)
	}
	return nil
}

func (s *Session) ShowJump() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if view, ok := s.views[s.selected]; ok {
		return view.Scroll.ShowJump()
	}
	return false
}

func (s *Session) SearchInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searchInput
}

func (s *Session) SearchQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searchQuery
}

func (s *Session) SearchResults() []models.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Profile(nil), s.searchResults...)
}

func (s *Session) Starting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starting
}
