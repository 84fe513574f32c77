package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/versus/internal/domain/errs"
	"github.com/okian/versus/internal/domain/model"
)

// LeaderboardDependencies defines the interface for leaderboard operations.
type LeaderboardDependencies interface {
	Leaderboard(ctx context.Context, channelID string, limit int) ([]model.Standing, error)
}

type standingResponse struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Rating   int    `json:"rating"`
}

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps     LeaderboardDependencies
	maxLimit int
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, maxLimit int) *LeaderboardHandler {
	return &LeaderboardHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// HandleGetLeaderboard handles GET /leaderboard?channel=&limit= requests.
// A missing limit, or one above the cap, is clamped to the cap.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"

	n := h.maxLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil || v < 1 {
			writeError(w, r, errs.WrapKind(op, ErrBadRequest, errors.New("limit must be a positive integer")))
			return
		}
		n = min(v, h.maxLimit)
	}

	standings, err := h.deps.Leaderboard(r.Context(), r.URL.Query().Get("channel"), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]standingResponse, 0, len(standings))
	for _, s := range standings {
		out = append(out, standingResponse{Rank: s.Rank, PlayerID: s.PlayerID, Rating: s.Rating})
	}
	writeJSON(w, http.StatusOK, out)
}
