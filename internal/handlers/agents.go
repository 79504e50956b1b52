package handlers

import (
	"context"
	"net/http"
	"time"

	"chess-arena/internal/apperr"
	"chess-arena/internal/invite"
	"chess-arena/internal/registry"
)

type AgentHandler struct {
	registry *registry.Registry
	invites  *invite.Validator
}

func NewAgentHandler(reg *registry.Registry, invites *invite.Validator) *AgentHandler {
	return &AgentHandler{registry: reg, invites: invites}
}

type registerRequest struct {
	InviteCode string `json:"inviteCode"`
	AgentName  string `json:"agentName"`
}

// Register issues a new agent identity and bearer token.
// POST /api/register
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	if !h.invites.IsValid(req.InviteCode, time.Now()) {
		respondError(w, apperr.New(apperr.CodeInvalidInvite, "invalid or expired invite code"))
		return
	}

	agent, token, err := h.registry.Register(ctx, req.AgentName)
	if err != nil {
		respondError(w, err)
		return
	}

	respondSuccess(w, map[string]interface{}{
		"agentId":    agent.ID,
		"agentToken": token,
		"name":       agent.Name,
	})
}

type heartbeatRequest struct {
	AgentToken string `json:"agentToken"`
}

// Heartbeat refreshes the agent's last-seen timestamp and confirms the
// token is still valid.
// POST /api/heartbeat
func (h *AgentHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req heartbeatRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	agent, err := h.registry.Heartbeat(ctx, req.AgentToken)
	if err != nil {
		respondError(w, err)
		return
	}

	respondSuccess(w, map[string]interface{}{
		"agentId": agent.ID,
		"name":    agent.Name,
	})
}
