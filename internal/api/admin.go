package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"dmchat/internal/chat"
	"dmchat/internal/models"
)

// AdminHandler serves the identity provider side of the directory. It is
// only reachable on the admin listener.
type AdminHandler struct {
	chat *chat.Service
}

func NewAdminHandler(chat *chat.Service) *AdminHandler {
	return &AdminHandler{chat: chat}
}

type SyncUserResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	UserID  string `json:"userId,omitempty"`
}

func (h *AdminHandler) SyncUserHandler(w http.ResponseWriter, r *http.Request) {
	var req models.Identity
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	userID, err := h.chat.SyncUser(req)
	if err != nil {
		writeJSON(w, statusFor(models.CodeOf(err)), SyncUserResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to sync user: %v", err),
		})
		return
	}

	slog.Info("user synced by identity provider", "user_id", userID)
	writeJSON(w, http.StatusOK, SyncUserResponse{Success: true, UserID: userID})
}

func (h *AdminHandler) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := h.chat.ListUsers()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}
