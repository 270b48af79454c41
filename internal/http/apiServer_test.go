package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dmchat/internal/auth"
	"dmchat/internal/chat"
	"dmchat/internal/models"
	"dmchat/internal/storage"
	"dmchat/internal/typing"
	"dmchat/internal/ws"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	auth  *auth.Service
	store *storage.BboltStorage
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	authService, err := auth.NewService(ctx, auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte("api-test-secret")),
		TokenExpiry: time.Hour,
	})
	require.NoError(t, err)

	hub := ws.NewHub()
	chatService := chat.New(store, typing.NewStore(), chat.WithPublisher(hub))

	srv := httptest.NewServer(NewAPIHandler(ctx, authService, chatService, hub, store))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, auth: authService, store: store}
}

func (s *testServer) login(t *testing.T, id, name string) string {
	t.Helper()
	assertion, err := s.auth.Sign(models.Identity{ID: id, Email: id + "@example.com", Name: name}, time.Now())
	require.NoError(t, err)

	resp := s.request(t, http.MethodPost, "/api/login", "", auth.LoginRequest{Assertion: assertion})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lr auth.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lr))
	require.True(t, lr.Success)
	require.NotEmpty(t, lr.Token)
	return lr.Token
}

func (s *testServer) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("token", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAPI_LoginRejectsBadAssertion(t *testing.T) {
	s := newTestServer(t)

	resp := s.request(t, http.MethodPost, "/api/login", "", auth.LoginRequest{Assertion: "garbage"})
	lr := decodeBody[auth.LoginResponse](t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, lr.Success)
	assert.Empty(t, lr.Token)
}

func TestAPI_LoginWithForm(t *testing.T) {
	s := newTestServer(t)
	assertion, err := s.auth.Sign(models.Identity{ID: "a1", Email: "alice@example.com", Name: "Alice"}, time.Now())
	require.NoError(t, err)

	resp, err := http.PostForm(s.URL+"/api/login", url.Values{"assertion": {assertion}})
	require.NoError(t, err)
	lr := decodeBody[auth.LoginResponse](t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, lr.User)
	assert.Equal(t, "Alice", lr.User.Name)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "token" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, lr.Token, cookie.Value)
	assert.True(t, cookie.HttpOnly)
}

func TestAPI_RequiresSession(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/me", "/api/conversations", "/api/users/search?q=a"} {
		resp := s.request(t, http.MethodGet, path, "", nil)
		body := decodeBody[models.APIResponse](t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.Equal(t, models.CodeUnauthenticated, body.Code, path)
	}

	token := s.login(t, "a1", "Alice")
	resp := s.request(t, http.MethodPost, "/api/logoff", token, nil)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.request(t, http.MethodGet, "/api/me", token, nil)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_RejectsCrossOrigin(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "a1", "Alice")

	req, err := http.NewRequest(http.MethodPost, s.URL+"/api/heartbeat", nil)
	require.NoError(t, err)
	req.Header.Set("token", token)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req.Header.Set("Origin", s.URL)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_ConversationFlow(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(t, "a1", "Alice")
	bob := s.login(t, "b1", "Bob")

	resp := s.request(t, http.MethodPost, "/api/conversations", alice, map[string]string{"otherUserId": "b1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conv := decodeBody[struct {
		ConversationID string `json:"conversationId"`
	}](t, resp)
	require.NotEmpty(t, conv.ConversationID)
	base := "/api/conversations/" + conv.ConversationID

	resp = s.request(t, http.MethodPost, "/api/conversations", alice, map[string]string{"otherUserId": "a1"})
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.request(t, http.MethodPost, base+"/messages", alice, map[string]string{"content": "  **hi** bob  "})
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.request(t, http.MethodPost, base+"/messages", alice, map[string]string{"content": ""})
	body := decodeBody[models.APIResponse](t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, models.CodeInvalidArgument, body.Code)

	resp = s.request(t, http.MethodPost, base+"/typing", bob, map[string]bool{"isTyping": true})
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.request(t, http.MethodGet, base+"/typing", alice, nil)
	typers := decodeBody[[]models.TypingUser](t, resp)
	require.Len(t, typers, 1)
	assert.Equal(t, "b1", typers[0].UserID)

	resp = s.request(t, http.MethodGet, "/api/conversations", bob, nil)
	list := decodeBody[[]models.ConversationSummary](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].UnreadCount)
	assert.Equal(t, "Alice", list[0].ParticipantName)

	resp = s.request(t, http.MethodGet, base+"/messages", bob, nil)
	msgs := decodeBody[[]models.Message](t, resp)
	require.Len(t, msgs, 1)
	assert.Equal(t, "**hi** bob", msgs[0].Content)
	assert.Contains(t, msgs[0].HTML, "<strong>hi</strong>")

	resp = s.request(t, http.MethodPost, base+"/read", bob, nil)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.request(t, http.MethodGet, "/api/conversations", bob, nil)
	list = decodeBody[[]models.ConversationSummary](t, resp)
	assert.Equal(t, 0, list[0].UnreadCount)

	carol := s.login(t, "c1", "Carol")
	resp = s.request(t, http.MethodGet, base+"/messages", carol, nil)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = s.request(t, http.MethodPost, base+"/read", carol, nil)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPI_PushSubscribe(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "a1", "Alice")

	resp := s.request(t, http.MethodPost, "/api/push/subscribe", token, map[string]any{"endpoint": "https://push.example.com/1"})
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.request(t, http.MethodPost, "/api/push/subscribe", token, map[string]any{
		"endpoint": "https://push.example.com/1",
		"keys":     map[string]string{"auth": "x", "p256dh": "y"},
	})
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	subs, err := s.store.ListPushSubscriptions("a1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example.com/1", subs[0].Endpoint)
}

func TestAPI_Live(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(t, "a1", "Alice")
	bob := s.login(t, "b1", "Bob")
	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/live"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	foreign := http.Header{}
	foreign.Set("token", alice)
	foreign.Set("Origin", "https://evil.example.com")
	_, resp, err = websocket.DefaultDialer.Dial(wsURL, foreign)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header := http.Header{}
	header.Set("token", alice)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteJSON(models.ClientMessage{
		Type:  models.ClientMessageTypeSubscribe,
		Query: models.ServerMessageTypeConversations,
	}))

	read := func() models.ServerMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var msg models.ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	first := read()
	require.Equal(t, models.ServerMessageTypeConversations, first.Type)
	assert.Empty(t, first.Conversations)

	// Bob starts the conversation; Alice's list follows.
	resp = s.request(t, http.MethodPost, "/api/conversations", bob, map[string]string{"otherUserId": "a1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	var update models.ServerMessage
	for update.Type != models.ServerMessageTypeConversations || len(update.Conversations) == 0 {
		update = read()
	}
	assert.Equal(t, "Bob", update.Conversations[0].ParticipantName)

	require.NoError(t, conn.WriteJSON(models.ClientMessage{
		Type:           models.ClientMessageTypeSubscribe,
		Query:          models.ServerMessageTypeMessages,
		ConversationID: "missing",
	}))
	errMsg := read()
	for errMsg.Type != models.ServerMessageTypeError {
		errMsg = read()
	}
	assert.Equal(t, models.CodeNotFound, errMsg.Code)
}
