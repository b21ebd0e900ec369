package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohamedkhairy/chat-server/internal/api"
	"github.com/mohamedkhairy/chat-server/internal/auth"
	"github.com/mohamedkhairy/chat-server/internal/config"
	"github.com/mohamedkhairy/chat-server/internal/presence"
	"github.com/mohamedkhairy/chat-server/internal/pubsub"
	"github.com/mohamedkhairy/chat-server/internal/service"
	"github.com/mohamedkhairy/chat-server/internal/storage"
	"github.com/mohamedkhairy/chat-server/internal/wsgateway"
	"github.com/mohamedkhairy/chat-server/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting chat server",
		logger.Int("port", cfg.Server.Port),
		logger.Int("max_connections", cfg.Server.MaxConnections),
		logger.String("environment", cfg.Environment),
	)

	if err := run(cfg); err != nil {
		logger.Fatal("Chat server failed", logger.ErrorField(err))
	}
	logger.Info("Chat server stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence
	store, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize postgres: %w", err)
	}
	defer store.Close()

	// Redis is optional; presence falls back to the users table
	var redisClient storage.RedisClient
	if cfg.Redis.Enabled {
		redisClient, err = pubsub.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer redisClient.Close()
	} else {
		logger.Warn("Redis disabled, presence is tracked in postgres only")
	}

	tracker := presence.NewTracker(presence.Config{
		OnlineKey: cfg.Redis.PresenceKey,
		Channel:   cfg.Redis.PresenceChannel,
	}, redisClient, store)
	if err := tracker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start presence tracker: %w", err)
	}
	defer tracker.Stop()

	// Auth and business services
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry)
	authService := auth.NewService(store, tokens, cfg.Auth.BcryptCost)
	directory := service.NewUserDirectory(store)

	// Core
	registry := wsgateway.NewSessionRegistry(tracker)
	router := wsgateway.NewRouter(registry, wsgateway.Services{
		Messages: service.NewMessageService(store, store, store),
		Groups:   service.NewGroupService(store, store),
		Friends:  service.NewFriendService(store, store),
		Users:    directory,
	}, wsgateway.RouterConfig{
		Workers: cfg.Server.DispatchWorkers,
		Timeout: cfg.Server.DispatchTimeout,
	})
	hub := wsgateway.NewHub(cfg.Server, registry, router, auth.NewValidator(tokens, store))

	if err := hub.Start(); err != nil {
		return fmt.Errorf("failed to start websocket hub: %w", err)
	}

	// Set up HTTP server
	mr := mux.NewRouter()
	mr.HandleFunc("/ws", hub.ServeWS)

	api.RegisterRoutes(mr, api.Handlers{
		Auth:     api.NewAuthHandler(authService),
		Users:    api.NewUserHandler(directory),
		Presence: api.NewPresenceHandler(tracker),
	}, api.AuthMiddleware(tokens))

	// Health check endpoints
	mr.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	})

	mr.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(checkCtx); err != nil {
			logger.Warn("Readiness check failed: postgres", logger.ErrorField(err))
			writeStatus(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		if redisClient != nil {
			if err := redisClient.Ping(checkCtx); err != nil {
				logger.Warn("Readiness check failed: redis", logger.ErrorField(err))
				writeStatus(w, http.StatusServiceUnavailable, "not ready")
				return
			}
		}
		writeStatus(w, http.StatusOK, "ready")
	})

	mr.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "alive")
	})

	// Stats endpoint
	mr.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.GetStats())
	})

	// Metrics endpoint
	mr.Handle("/metrics", promhttp.Handler())

	middlewares := api.ChainMiddleware(
		api.ErrorHandlingMiddleware(),
		api.LoggingMiddleware(),
		api.CORSMiddleware(cfg.Server.AllowedOrigins...),
		api.RateLimitMiddleware(cfg.API.RateLimitRPS),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           middlewares(mr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down chat server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests, then close the hijacked WebSocket connections
		err := server.Shutdown(shutdownCtx)
		if err != nil {
			logger.Error("Error shutting down HTTP server", logger.ErrorField(err))
		}
		hub.Stop()
		return err
	})

	return g.Wait()
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
