package main

import (
	"context"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/aport/chat-api/internal/config"
	"github.com/aport/chat-api/internal/docstore"
	"github.com/aport/chat-api/internal/docstore/memstore"
	"github.com/aport/chat-api/internal/docstore/pgstore"
	"github.com/aport/chat-api/internal/domain/chat"
	"github.com/aport/chat-api/internal/identity"
	"github.com/aport/chat-api/internal/middleware"
	"github.com/aport/chat-api/internal/pkg/database"
	"github.com/aport/chat-api/internal/pkg/jwt"
	"github.com/aport/chat-api/internal/pkg/logger"
	pkgresponse "github.com/aport/chat-api/internal/pkg/response"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting Aport Chat API")

	var store docstore.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		cleanup = append(cleanup, func() { database.ClosePostgres(db) })

		redisClient, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		cleanup = append(cleanup, func() { database.CloseRedis(redisClient) })

		pg := pgstore.New(db, redisClient)
		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pg.Init(initCtx); err != nil {
			cancel()
			log.Fatal().Err(err).Msg("Failed to apply document store schema")
		}
		cancel()
		cleanup = append(cleanup, func() { pg.Close() })
		store = pg
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory document store")
		store = memstore.New()
	}

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	chatService := chat.NewService(store, identity.ContextProvider{},
		chat.WithBurstPolicy(cfg.BurstLimit, cfg.BurstWindow, cfg.SpamBanDuration))
	chatHandler := chat.NewHandler(chatService, cfg.AllowedOrigins)

	authMiddleware := middleware.Auth(jwtService)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	// WebSocket endpoint; browser clients carry the token as a query param.
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		if token := r.URL.Query().Get("token"); token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		authMiddleware(http.HandlerFunc(chatHandler.WebSocket)).ServeHTTP(w, r)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/debug/vars", expvar.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/chat", chatHandler.Routes(authMiddleware))
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}

	log.Info().Msg("Server exited properly")
}
