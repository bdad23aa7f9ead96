package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/classhub/chat-service/config"
	"github.com/classhub/chat-service/internal/auth"
	"github.com/classhub/chat-service/internal/postgres"
	"github.com/classhub/chat-service/internal/service"
	httpx "github.com/classhub/chat-service/internal/transport/http"
	"github.com/classhub/chat-service/internal/transport/ws"
	"github.com/classhub/chat-service/pkg/logger"

	"github.com/redis/go-redis/v9"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting chat-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version)

	// --- postgres ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()

	// --- repos ---
	messageRepo := postgres.NewMessageRepository(db.Pool)
	membershipRepo := postgres.NewMembershipRepository(db.Pool)
	reactionRepo := postgres.NewReactionRepository(db.Pool)
	readRepo := postgres.NewReadRepository(db.Pool)

	// --- services ---
	messageSvc := service.NewMessageService(messageRepo, reactionRepo, readRepo)
	memberSvc := service.NewMemberService(membershipRepo)

	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	// --- hub, broadcaster, dispatcher ---
	hub := ws.NewHub()

	var bcast ws.Broadcaster
	if cfg.Chat.Backplane == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		rb := ws.NewRedisBroadcaster(rdb, hub)
		go rb.Run(ctx)
		bcast = rb
		slog.Info("broadcast backplane", "mode", "redis", "addr", cfg.Redis.Addr)
	} else {
		bcast = ws.NewLocalBroadcaster(hub)
		slog.Info("broadcast backplane", "mode", "local")
	}
	defer func() { _ = bcast.Close() }()

	sessions := ws.NewRegistry()
	dispatcher := ws.NewDispatcher(sessions, hub, bcast, messageSvc, memberSvc, cfg.TypingTTLDuration())
	go dispatcher.Typing().Run()

	wsServer := ws.NewServer(verifier, sessions, dispatcher, cfg.PingEveryDuration())

	// --- HTTP ---
	handler := httpx.NewHandler(messageSvc, memberSvc, hub)
	router := httpx.NewRouter(handler, verifier, memberSvc, wsServer)
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal")
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpSrv.Shutdown(ctxShutdown)
	dispatcher.Close() // дождаться очередей комнат
	slog.Info("stopped")
}
