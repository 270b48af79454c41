package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"dmchat/internal/auth"
	"dmchat/internal/chat"
	"dmchat/internal/models"
)

type pushStore interface {
	UpsertPushSubscription(sub models.PushSubscription) error
}

type API struct {
	auth *auth.Service
	chat *chat.Service
	push pushStore
}

func New(auth *auth.Service, chat *chat.Service, push pushStore) *API {
	return &API{auth: auth, chat: chat, push: push}
}

func statusFor(code models.Code) int {
	switch code {
	case models.CodeInvalidArgument:
		return http.StatusBadRequest
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodePermissionDenied:
		return http.StatusForbidden
	case models.CodeUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := models.CodeOf(err)
	status := statusFor(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		code = models.CodeInternal
		msg = "internal error"
	}
	writeJSON(w, status, models.APIResponse{Success: false, Message: msg, Code: code})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.InvalidArgument("invalid request body")
	}
	return nil
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest

	// Support both JSON and Form (identity provider redirects post forms).
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}
		req.Assertion = r.FormValue("assertion")
	}

	token, identity, expiry, err := a.auth.Login(req.Assertion)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, auth.LoginResponse{Success: false, Message: err.Error()})
		return
	}

	userID, err := a.chat.SyncUser(identity)
	if err != nil {
		_ = a.auth.Logoff(token)
		writeError(w, err)
		return
	}
	user, err := a.chat.GetUser(userID)
	if err != nil {
		_ = a.auth.Logoff(token)
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Expires:  expiry,
	})

	slog.Info("user logged in", "user_id", userID)
	writeJSON(w, http.StatusOK, auth.LoginResponse{
		Success:     true,
		Token:       token,
		TokenExpiry: expiry.Unix(),
		User:        &user,
	})
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := getToken(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, err := a.chat.GetUser(identityFrom(r).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// SyncUserHandler refreshes the directory entry from the session identity.
func (a *API) SyncUserHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := a.chat.SyncUser(identityFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"userId": userID})
}

func (a *API) HeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.chat.Heartbeat(identityFrom(r).ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

func (a *API) SearchUsersHandler(w http.ResponseWriter, r *http.Request) {
	profiles, err := a.chat.SearchUsers(identityFrom(r).ID, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (a *API) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := a.chat.ListConversations(identityFrom(r).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type StartConversationRequest struct {
	OtherUserID string `json:"otherUserId"`
}

type StartConversationResponse struct {
	ConversationID string `json:"conversationId"`
}

func (a *API) StartConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req StartConversationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := a.chat.GetOrCreateDirectConversation(identityFrom(r).ID, req.OtherUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StartConversationResponse{ConversationID: id})
}

func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("id")
	if err := a.chat.Authorize(convID, identityFrom(r).ID); err != nil {
		writeError(w, err)
		return
	}
	msgs, err := a.chat.GetConversationMessages(convID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type SendMessageResponse struct {
	MessageID string `json:"messageId"`
}

func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := a.chat.SendMessage(r.PathValue("id"), identityFrom(r).ID, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SendMessageResponse{MessageID: id})
}

func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.chat.MarkConversationRead(r.PathValue("id"), identityFrom(r).ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

func (a *API) TypingHandler(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("id")
	userID := identityFrom(r).ID
	if err := a.chat.Authorize(convID, userID); err != nil {
		writeError(w, err)
		return
	}
	users, err := a.chat.GetTypingUsers(convID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type SetTypingRequest struct {
	IsTyping bool `json:"isTyping"`
}

func (a *API) SetTypingHandler(w http.ResponseWriter, r *http.Request) {
	var req SetTypingRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	convID := r.PathValue("id")
	userID := identityFrom(r).ID
	if err := a.chat.Authorize(convID, userID); err != nil {
		writeError(w, err)
		return
	}
	if err := a.chat.SetTypingStatus(convID, userID, req.IsTyping); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

// PushSubscribeRequest mirrors the browser PushSubscription JSON.
type PushSubscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		Auth   string `json:"auth"`
		P256dh string `json:"p256dh"`
	} `json:"keys"`
}

func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	var req PushSubscribeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Endpoint == "" || req.Keys.Auth == "" || req.Keys.P256dh == "" {
		writeError(w, models.InvalidArgument("endpoint and keys are required"))
		return
	}
	sub := models.PushSubscription{
		UserID:   identityFrom(r).ID,
		Endpoint: req.Endpoint,
		Auth:     req.Keys.Auth,
		P256dh:   req.Keys.P256dh,
	}
	if err := a.push.UpsertPushSubscription(sub); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}
