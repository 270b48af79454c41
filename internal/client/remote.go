package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"dmchat/internal/api"
	"dmchat/internal/auth"
	"dmchat/internal/models"

	"github.com/gorilla/websocket"
)

// Remote is a Backend talking to a dmchat server over its HTTP API and live
// socket.
type Remote struct {
	baseURL string
	http    *http.Client
	token   string

	wsMu sync.Mutex
	ws   *websocket.Conn
}

func NewRemote(baseURL string, httpClient *http.Client) *Remote {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Remote{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Login exchanges an identity assertion for a session token.
func (r *Remote) Login(ctx context.Context, assertion string) (models.User, error) {
	var resp auth.LoginResponse
	if err := r.do(ctx, http.MethodPost, "/api/login", auth.LoginRequest{Assertion: assertion}, &resp); err != nil {
		return models.User{}, err
	}
	if !resp.Success || resp.User == nil {
		return models.User{}, models.Unauthenticated("login failed: %s", resp.Message)
	}
	r.token = resp.Token
	return *resp.User, nil
}

func (r *Remote) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("token", r.token)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var apiErr models.APIResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		return models.NewError(apiErr.Code, apiErr.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (r *Remote) SyncUser(ctx context.Context) error {
	return r.do(ctx, http.MethodPost, "/api/users/sync", nil, nil)
}

func (r *Remote) Heartbeat(ctx context.Context) error {
	return r.do(ctx, http.MethodPost, "/api/heartbeat", nil, nil)
}

func (r *Remote) SearchUsers(ctx context.Context, query string) ([]models.Profile, error) {
	var profiles []models.Profile
	err := r.do(ctx, http.MethodGet, "/api/users/search?q="+url.QueryEscape(query), nil, &profiles)
	return profiles, err
}

func (r *Remote) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var list []models.ConversationSummary
	err := r.do(ctx, http.MethodGet, "/api/conversations", nil, &list)
	return list, err
}

func (r *Remote) StartConversation(ctx context.Context, otherUserID string) (string, error) {
	var resp api.StartConversationResponse
	err := r.do(ctx, http.MethodPost, "/api/conversations", api.StartConversationRequest{OtherUserID: otherUserID}, &resp)
	return resp.ConversationID, err
}

func (r *Remote) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", nil, &msgs)
	return msgs, err
}

func (r *Remote) SendMessage(ctx context.Context, conversationID, content string) (string, error) {
	var resp api.SendMessageResponse
	err := r.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", api.SendMessageRequest{Content: content}, &resp)
	return resp.MessageID, err
}

func (r *Remote) MarkRead(ctx context.Context, conversationID string) error {
	return r.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil)
}

func (r *Remote) SetTyping(ctx context.Context, conversationID string, isTyping bool) error {
	return r.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/typing", api.SetTypingRequest{IsTyping: isTyping}, nil)
}

// Dial opens the live socket.
func (r *Remote) Dial(ctx context.Context) error {
	wsURL := "ws" + strings.TrimPrefix(r.baseURL, "http") + "/api/live"
	header := http.Header{}
	header.Set("token", r.token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("failed to open live connection: %w", err)
	}

	r.wsMu.Lock()
	r.ws = conn
	r.wsMu.Unlock()
	return nil
}

// Listen feeds every pushed result to handle until the socket fails or ctx
// is done. The socket is closed on return.
func (r *Remote) Listen(ctx context.Context, handle func(models.ServerMessage)) error {
	r.wsMu.Lock()
	conn := r.ws
	r.wsMu.Unlock()
	if conn == nil {
		return fmt.Errorf("live connection is not open")
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() {
		r.wsMu.Lock()
		r.ws = nil
		r.wsMu.Unlock()
		_ = conn.Close()
	}()

	for {
		var msg models.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		handle(msg)
	}
}

func (r *Remote) Live(_ context.Context, msg models.ClientMessage) error {
	r.wsMu.Lock()
	defer r.wsMu.Unlock()
	if r.ws == nil {
		return fmt.Errorf("live connection is not open")
	}
	return r.ws.WriteJSON(msg)
}
