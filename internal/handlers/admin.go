package handlers

import (
	"context"
	"net/http"
	"time"

	"chess-arena/internal/rating"
)

type AdminHandler struct {
	ratings *rating.Ledger
}

func NewAdminHandler(ratings *rating.Ledger) *AdminHandler {
	return &AdminHandler{ratings: ratings}
}

// ResetRatings clears the rating ledger. The admin JWT check happens in
// middleware before this runs.
// POST /api/admin/reset
func (h *AdminHandler) ResetRatings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.ratings.Reset(ctx); err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, map[string]interface{}{"reset": true})
}
