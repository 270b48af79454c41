package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

type authenticator interface {
	GetUserID(token string) (string, error)
}

type Server struct {
	auth     authenticator
	hub      messageHub
	queries  liveQueries
	upgrader *websocket.Upgrader
	ctx      context.Context
}

// NewServer serves live query sockets. Connections end when ctx is done.
func NewServer(ctx context.Context, auth authenticator, hub *Hub, queries liveQueries, checkOrigin func(r *http.Request) bool) *Server {
	return &Server{
		auth:    auth,
		hub:     hub,
		queries: queries,
		ctx:     ctx,
		upgrader: &websocket.Upgrader{
			CheckOrigin: checkOrigin,
		},
	}
}

func token(r *http.Request) string {
	t := r.Header.Get("token")
	if t == "" {
		if c, err := r.Cookie("token"); err == nil {
			t = c.Value
		}
	}
	return t
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.GetUserID(token(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("error upgrading to websocket", "user_id", userID, "error", err)
		return
	}

	slog.Debug("live connection opened", "user_id", userID)
	if err := NewConnection(s.hub, s.queries, conn, userID).Handle(s.ctx); err != nil {
		slog.Debug("live connection closed", "user_id", userID, "error", err)
	}
}
