package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dm-chat/internal/attachment"
	"dm-chat/internal/chat"
	"dm-chat/internal/config"
	"dm-chat/internal/db"
	"dm-chat/internal/logger"
	myMiddleware "dm-chat/internal/middleware"
	"dm-chat/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// 1. Config & logging
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	addr, err := listenAddr(os.Args[1:], cfg.Port)
	if err != nil {
		zap.NewExample().Fatal("invalid flags", zap.Error(err))
	}

	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database
	database, err := db.NewDatabase(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()
	log.Info("connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	// 3. Users & auth
	userRepo := user.NewRepository(database.Pool)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 4. Connection registry, optionally shared across instances through Redis
	hub := chat.NewHub(log.Named("hub"))

	var presence chat.PresenceChecker
	if cfg.RelayEnabled() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect to Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer rdb.Close()

		relay := chat.NewRelay(rdb, cfg.RedisChannel, cfg.NodeID, hub, log.Named("relay"))
		hub.SetForwarder(relay)
		presence = relay
		go relay.Run(ctx)
		go relay.Subscribe(ctx)
		log.Info("relay enabled", zap.String("node_id", cfg.NodeID), zap.String("channel", cfg.RedisChannel))
	}

	go hub.Run(ctx)

	// 5. Messages
	var uploader chat.Uploader
	if cfg.StorageEnabled() {
		uploader = attachment.NewStorageUploader(cfg.StorageURL, cfg.StorageBucket, cfg.StorageKey)
	} else {
		log.Warn("image storage not configured, image messages are rejected")
	}

	router := chat.NewRouter(hub, presence, log.Named("router"))
	chatService := chat.NewService(chat.NewRepository(database.Pool), router, uploader, log.Named("chat"))
	chatHandler := chat.NewHandler(hub, chatService, cfg.ClientOrigin, log.Named("ws"))

	// 6. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Route("/api/messages", chatHandler.Routes)
		r.Get("/ws", chatHandler.ServeWs)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

// listenAddr returns the -addr flag, defaulting to PORT from the environment.
func listenAddr(args []string, port string) (string, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	addr := fs.String("addr", ":"+port, "http service address")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *addr, nil
}
