package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"chess-arena/internal/apperr"
	"chess-arena/internal/challenge"
	"chess-arena/internal/invite"
	"chess-arena/internal/matchmaking"
	"chess-arena/internal/middleware"
	"chess-arena/internal/rating"
	"chess-arena/internal/registry"
	"chess-arena/internal/session"
)

// Deps bundles everything the HTTP surface needs.
type Deps struct {
	Registry   *registry.Registry
	Queue      *matchmaking.Queue
	Sessions   *session.Manager
	Ratings    *rating.Ledger
	Challenges *challenge.Ledger
	Invites    *invite.Validator
	Admin      *middleware.AdminAuth
	Limiter    *middleware.RateLimiter
}

// NewRouter assembles the full route table with per-route rate limits.
func NewRouter(d Deps) *mux.Router {
	agents := NewAgentHandler(d.Registry, d.Invites)
	queue := NewQueueHandler(d.Queue, d.Registry, d.Invites)
	games := NewGameHandler(d.Sessions, d.Invites)
	challenges := NewChallengeHandler(d.Challenges, d.Registry)
	leaderboard := NewLeaderboardHandler(d.Ratings)
	admin := NewAdminHandler(d.Ratings)

	r := mux.NewRouter()
	r.Use(middleware.SecurityHeaders())
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, apperr.New(apperr.CodeMethodNotAllowed, "method not allowed"))
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, apperr.New(apperr.CodeNotFound, "route not found"))
	})

	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	byIP := func(req *http.Request) string { return middleware.GetClientIP(req) }

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/register",
		d.Limiter.RateLimitHandler(middleware.RegisterLimit, byIP, agents.Register)).Methods(http.MethodPost)
	api.HandleFunc("/heartbeat",
		d.Limiter.RateLimitHandler(middleware.HeartbeatLimit, byIP, agents.Heartbeat)).Methods(http.MethodPost)

	api.HandleFunc("/queue/join",
		d.Limiter.RateLimitHandler(middleware.QueueJoinLimit, byIP, queue.Join)).Methods(http.MethodPost)
	api.HandleFunc("/queue/status",
		d.Limiter.RateLimitHandler(middleware.HeartbeatLimit, byIP, queue.Status)).Methods(http.MethodGet)
	api.HandleFunc("/games/active",
		d.Limiter.RateLimitHandler(middleware.ReadLimit, byIP, queue.ActiveGames)).Methods(http.MethodGet)

	api.HandleFunc("/game/{id}",
		d.Limiter.RateLimitHandler(middleware.ReadLimit, byIP, games.Get)).Methods(http.MethodGet)
	api.HandleFunc("/game/{id}/move",
		d.Limiter.RateLimitHandler(middleware.MoveLimit, byIP, games.Move)).Methods(http.MethodPost)

	api.HandleFunc("/challenge/create",
		d.Limiter.RateLimitHandler(middleware.ChallengeLimit, byIP, challenges.Create)).Methods(http.MethodPost)
	api.HandleFunc("/challenge/accept",
		d.Limiter.RateLimitHandler(middleware.ChallengeLimit, byIP, challenges.Accept)).Methods(http.MethodPost)
	api.HandleFunc("/challenge",
		d.Limiter.RateLimitHandler(middleware.ReadLimit, byIP, challenges.Get)).Methods(http.MethodGet)

	api.HandleFunc("/leaderboard",
		d.Limiter.RateLimitHandler(middleware.ReadLimit, byIP, leaderboard.Get)).Methods(http.MethodGet)

	api.Handle("/admin/reset",
		d.Admin.Require(http.HandlerFunc(admin.ResetRatings))).Methods(http.MethodPost)

	return r
}
