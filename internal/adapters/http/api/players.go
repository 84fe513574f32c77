package api

import (
	"context"
	"net/http"
	"time"

	"github.com/okian/versus/internal/domain/model"
)

// PlayerDependencies defines the interface for player lookups.
type PlayerDependencies interface {
	Rating(ctx context.Context, playerID string) (model.Player, error)
	History(ctx context.Context, playerID string) ([]model.RatingSnapshot, error)
}

type playerResponse struct {
	PlayerID string `json:"player_id"`
	Rating   int    `json:"rating"`
}

type snapshotResponse struct {
	Rating    int       `json:"rating"`
	GameSeq   int64     `json:"game_seq"`
	Undo      bool      `json:"undo"`
	Timestamp time.Time `json:"ts"`
}

// PlayersHandler handles player requests.
type PlayersHandler struct {
	deps PlayerDependencies
}

// NewPlayersHandler creates a new players handler.
func NewPlayersHandler(deps PlayerDependencies) *PlayersHandler {
	return &PlayersHandler{deps: deps}
}

// HandleGetPlayer handles GET /players/{id} requests.
func (h *PlayersHandler) HandleGetPlayer(w http.ResponseWriter, r *http.Request) {
	p, err := h.deps.Rating(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, playerResponse{PlayerID: p.ID, Rating: p.Rating})
}

// HandleGetHistory handles GET /players/{id}/history requests.
func (h *PlayersHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.deps.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]snapshotResponse, 0, len(hist))
	for _, s := range hist {
		out = append(out, snapshotResponse{Rating: s.Rating, GameSeq: s.GameSeq, Undo: s.Undo, Timestamp: s.Timestamp})
	}
	writeJSON(w, http.StatusOK, out)
}
