package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"chess-arena/internal/apperr"
	"chess-arena/internal/invite"
	"chess-arena/internal/session"
)

type GameHandler struct {
	sessions *session.Manager
	invites  *invite.Validator
}

func NewGameHandler(sessions *session.Manager, invites *invite.Validator) *GameHandler {
	return &GameHandler{sessions: sessions, invites: invites}
}

// Get returns the public view of a game. Reading the game also settles
// its clock, so a flagged game can end right here.
// GET /api/game/{id}
func (h *GameHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	s, err := h.sessions.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}

	view, err := s.View(ctx)
	if err != nil {
		respondError(w, err)
		return
	}

	respondSuccess(w, map[string]interface{}{"game": view})
}

type moveRequest struct {
	InviteCode string `json:"inviteCode"`
	AgentToken string `json:"agentToken"`
	Move       string `json:"move"`
	Action     string `json:"action"`
}

// Move submits a move, or a resignation when action is "resign".
// POST /api/game/{id}/move
func (h *GameHandler) Move(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req moveRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	if !h.invites.IsValid(req.InviteCode, time.Now()) {
		respondError(w, apperr.New(apperr.CodeInvalidInvite, "invalid or expired invite code"))
		return
	}

	s, err := h.sessions.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}

	var view session.PublicView
	switch {
	case req.Action == "resign":
		view, err = s.Resign(ctx, req.AgentToken)
	case req.Action != "":
		respondBadRequest(w, "unknown action")
		return
	case req.Move == "":
		respondBadRequest(w, "move is required")
		return
	default:
		view, err = s.ApplyMove(ctx, req.AgentToken, req.Move)
	}
	if err != nil {
		respondError(w, err)
		return
	}

	respondSuccess(w, map[string]interface{}{"game": view})
}
