package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"dmchat/internal/api"
	"dmchat/internal/auth"
	"dmchat/internal/chat"
	"dmchat/internal/storage"
	"dmchat/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

// NewAPIHandler builds the public routes. Live connections are bound to ctx.
func NewAPIHandler(ctx context.Context, authService *auth.Service, chatService *chat.Service, hub *ws.Hub, storage *storage.BboltStorage) http.Handler {
	server := ws.NewServer(ctx, authService, hub, chatService, api.SameOrigin)
	apiHandlers := api.New(authService, chatService, storage)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", api.RequireSameOrigin(apiHandlers.LoginHandler))
	mux.HandleFunc("POST /api/logoff", api.RequireSameOrigin(apiHandlers.LogoffHandler))
	mux.HandleFunc("GET /api/me", apiHandlers.RequireAuth(apiHandlers.MeHandler))
	mux.HandleFunc("POST /api/users/sync", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.SyncUserHandler)))
	mux.HandleFunc("POST /api/heartbeat", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.HeartbeatHandler)))
	mux.HandleFunc("GET /api/users/search", apiHandlers.RequireAuth(apiHandlers.SearchUsersHandler))
	mux.HandleFunc("GET /api/conversations", apiHandlers.RequireAuth(apiHandlers.ListConversationsHandler))
	mux.HandleFunc("POST /api/conversations", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.StartConversationHandler)))
	mux.HandleFunc("GET /api/conversations/{id}/messages", apiHandlers.RequireAuth(apiHandlers.MessagesHandler))
	mux.HandleFunc("POST /api/conversations/{id}/messages", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.SendMessageHandler)))
	mux.HandleFunc("POST /api/conversations/{id}/read", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.MarkReadHandler)))
	mux.HandleFunc("GET /api/conversations/{id}/typing", apiHandlers.RequireAuth(apiHandlers.TypingHandler))
	mux.HandleFunc("POST /api/conversations/{id}/typing", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.SetTypingHandler)))
	mux.HandleFunc("POST /api/push/subscribe", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.PushSubscribeHandler)))

	// WebSocket endpoint
	mux.HandleFunc("GET /api/live", server.HandleConnections)

	return mux
}

func NewAPIServer(ctx context.Context, authService *auth.Service, chatService *chat.Service, hub *ws.Hub, storage *storage.BboltStorage, addr string) *APIServer {
	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: NewAPIHandler(ctx, authService, chatService, hub, storage),
		},
	}
}

func (s *APIServer) Start() error {
	slog.Info("server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
