package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"chess-arena/internal/apperr"
	"chess-arena/internal/invite"
	"chess-arena/internal/matchmaking"
	"chess-arena/internal/registry"
)

// The only time control the arena runs.
const supportedTimeControl = "3+2"

type QueueHandler struct {
	queue    *matchmaking.Queue
	registry *registry.Registry
	invites  *invite.Validator
}

func NewQueueHandler(queue *matchmaking.Queue, reg *registry.Registry, invites *invite.Validator) *QueueHandler {
	return &QueueHandler{queue: queue, registry: reg, invites: invites}
}

type joinRequest struct {
	InviteCode  string `json:"inviteCode"`
	AgentToken  string `json:"agentToken"`
	TimeControl string `json:"timeControl"`
}

// Join enters matchmaking.
// POST /api/queue/join
func (h *QueueHandler) Join(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req joinRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	if !h.invites.IsValid(req.InviteCode, time.Now()) {
		respondError(w, apperr.New(apperr.CodeInvalidInvite, "invalid or expired invite code"))
		return
	}
	if req.TimeControl != "" && req.TimeControl != supportedTimeControl {
		respondBadRequest(w, "unsupported time control, only 3+2 is available")
		return
	}

	agent, err := h.registry.Lookup(ctx, req.AgentToken)
	if err != nil {
		respondError(w, err)
		return
	}

	res, err := h.queue.Join(ctx, agent)
	if err != nil {
		respondError(w, err)
		return
	}

	fields := map[string]interface{}{"status": res.Status}
	if res.GameID != "" {
		fields["gameId"] = res.GameID
	}
	respondSuccess(w, fields)
}

// Status reports matchmaking state for the calling agent.
// GET /api/queue/status?agentToken=
func (h *QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	token := r.URL.Query().Get("agentToken")
	agent, err := h.registry.Lookup(ctx, token)
	if err != nil {
		respondError(w, err)
		return
	}

	res, err := h.queue.Status(ctx, agent.ID)
	if err != nil {
		respondError(w, err)
		return
	}

	fields := map[string]interface{}{"status": res.Status}
	if res.GameID != "" {
		fields["gameId"] = res.GameID
	}
	respondSuccess(w, fields)
}

// ActiveGames lists games that are currently running.
// GET /api/games/active?limit=N
func (h *QueueHandler) ActiveGames(w http.ResponseWriter, r *http.Request) {
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

	games, err := h.queue.ListActive(ctx, limit)
	if err != nil {
		respondError(w, err)
		return
	}

	respondSuccess(w, map[string]interface{}{"games": games})
}
