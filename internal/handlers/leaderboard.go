package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"chess-arena/internal/rating"
)

type LeaderboardHandler struct {
	ratings *rating.Ledger
}

func NewLeaderboardHandler(ratings *rating.Ledger) *LeaderboardHandler {
	return &LeaderboardHandler{ratings: ratings}
}

// Get returns ranked players for the requested scope.
// GET /api/leaderboard?scope=all|7d&limit=N
func (h *LeaderboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	board, err := h.ratings.Leaderboard(ctx, r.URL.Query().Get("scope"), limit)
	if err != nil {
		respondError(w, err)
		return
	}

	fields := map[string]interface{}{
		"scope":   board.Scope,
		"players": board.Players,
	}
	if board.GamesInWindow != nil {
		fields["gamesInWindow"] = *board.GamesInWindow
	}
	respondSuccess(w, fields)
}
