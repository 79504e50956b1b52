package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"chess-arena/internal/challenge"
	"chess-arena/internal/config"
	"chess-arena/internal/handlers"
	"chess-arena/internal/invite"
	"chess-arena/internal/matchmaking"
	"chess-arena/internal/middleware"
	"chess-arena/internal/rating"
	"chess-arena/internal/registry"
	"chess-arena/internal/session"
	"chess-arena/internal/storage"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("LOG_PRETTY") != "" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	log.Info().Str("env", cfg.Environment).Msg("starting chess arena")

	// Durable store when Mongo is configured, in-process otherwise.
	var store storage.Store
	if cfg.MongoDB.URI != "" {
		mongo, err := storage.NewMongo(cfg.MongoDB.URI, cfg.MongoDB.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to MongoDB")
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mongo.Close(ctx)
		}()
		log.Info().Str("database", cfg.MongoDB.Database).Msg("connected to MongoDB")
		store = mongo
	} else {
		log.Warn().Msg("no MongoDB URI configured, state is in-memory only")
		store = storage.NewMemory()
	}

	reg := registry.New(store, log)
	defer reg.Close()

	ratings := rating.New(store, log)
	defer ratings.Close()

	sessions := session.NewManager(store, reg, ratings, log)
	defer sessions.Close()

	queue := matchmaking.New(store, reg, sessions, log)
	defer queue.Close()

	challenges := challenge.New(store, queue, log)
	defer challenges.Close()

	limiter := middleware.NewRateLimiter()
	defer limiter.Stop()

	router := handlers.NewRouter(handlers.Deps{
		Registry:   reg,
		Queue:      queue,
		Sessions:   sessions,
		Ratings:    ratings,
		Challenges: challenges,
		Invites:    invite.NewValidator(cfg.Invite.Secret, cfg.Invite.EvergreenCode),
		Admin:      middleware.NewAdminAuth(cfg.Admin.Secret),
		Limiter:    limiter,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.Frontend.URL},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      corsHandler.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}
