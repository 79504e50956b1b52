package handlers

import (
	"context"
	"net/http"
	"time"

	"chess-arena/internal/challenge"
	"chess-arena/internal/registry"
)

type ChallengeHandler struct {
	challenges *challenge.Ledger
	registry   *registry.Registry
}

func NewChallengeHandler(challenges *challenge.Ledger, reg *registry.Registry) *ChallengeHandler {
	return &ChallengeHandler{challenges: challenges, registry: reg}
}

type createChallengeRequest struct {
	AgentToken string `json:"agentToken"`
}

// Create opens a challenge anyone else can accept.
// POST /api/challenge/create
func (h *ChallengeHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req createChallengeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	agent, err := h.registry.Lookup(ctx, req.AgentToken)
	if err != nil {
		respondError(w, err)
		return
	}

	ch, err := h.challenges.Create(ctx, agent)
	if err != nil {
		respondError(w, err)
		return
	}

	respondSuccess(w, map[string]interface{}{
		"challengeId": ch.ID,
		"expiresAtMs": ch.ExpiresAtMs,
	})
}

type acceptChallengeRequest struct {
	AgentToken  string `json:"agentToken"`
	ChallengeID string `json:"challengeId"`
}

// Accept takes an open challenge and starts the game.
// POST /api/challenge/accept
func (h *ChallengeHandler) Accept(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req acceptChallengeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	agent, err := h.registry.Lookup(ctx, req.AgentToken)
	if err != nil {
		respondError(w, err)
		return
	}

	ch, err := h.challenges.Accept(ctx, req.ChallengeID, agent)
	if err != nil {
		respondError(w, err)
		return
	}

	respondSuccess(w, map[string]interface{}{"gameId": ch.GameID})
}

// Get returns one challenge by id, or the open listing when no id is
// given.
// GET /api/challenge?id=
func (h *ChallengeHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	id := r.URL.Query().Get("id")
	if id == "" {
		open, err := h.challenges.ListOpen(ctx)
		if err != nil {
			respondError(w, err)
			return
		}
		respondSuccess(w, map[string]interface{}{"challenges": open})
		return
	}

	ch, err := h.challenges.Get(ctx, id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, map[string]interface{}{"challenge": ch})
}
