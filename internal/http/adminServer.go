package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"dmchat/internal/api"
	"dmchat/internal/chat"
)

type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAdminHandler(chatService *chat.Service) http.Handler {
	adminHandler := api.NewAdminHandler(chatService)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/users", adminHandler.SyncUserHandler)
	mux.HandleFunc("GET /admin/users", adminHandler.ListUsersHandler)
	return mux
}

func NewAdminServer(chatService *chat.Service, addr string) *AdminServer {
	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: NewAdminHandler(chatService),
		},
	}
}

func (s *AdminServer) Start() error {
	slog.Info("admin API started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
