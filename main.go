package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dmchat/internal/auth"
	"dmchat/internal/chat"
	"dmchat/internal/commands"
	"dmchat/internal/config"
	"dmchat/internal/http"
	"dmchat/internal/notify"
	"dmchat/internal/storage"
	"dmchat/internal/typing"
	"dmchat/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("dmchat", flag.ContinueOnError)
	syncUser := flags.String("sync-user", "", "Identity to sync as id,email,name[,avatar] (calls the admin API of a running server)")
	genVAPID := flags.Bool("gen-vapid-keys", false, "Print a new VAPID key pair for web push and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *genVAPID {
		priv, pub, err := notify.GenerateKeys()
		if err != nil {
			return err
		}
		fmt.Printf("VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", pub, priv)
		return nil
	}

	cfg, err := config.Load(*syncUser != "")
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()})))

	if *syncUser != "" {
		return commands.SyncUser(*syncUser, cfg)
	}

	authConfig := auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.IdentitySecret)),
		TokenExpiry: cfg.TokenExpiry(),
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewService(ctx, authConfig)
	if err != nil {
		return err
	}

	hub := ws.NewHub()
	opts := []chat.Option{chat.WithPublisher(hub)}

	var notifier *notify.Notifier
	if cfg.PushEnabled() {
		notifier = notify.New(ctx, notify.Config{
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			Subject:         cfg.VAPIDSubject,
		}, bbStorage, bbStorage, hub)
		opts = append(opts, chat.WithNotifier(notifier))
		slog.Info("web push notifications enabled")
	}

	chatService := chat.New(bbStorage, typing.NewStore(), opts...)

	adminServer := http.NewAdminServer(chatService, cfg.AdminAddr)
	apiServer := http.NewAPIServer(ctx, authService, chatService, hub, bbStorage, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("admin server shutdown error", "error", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown error", "error", err)
		}
		if notifier != nil {
			notifier.Wait()
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}
