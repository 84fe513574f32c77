package api

import (
	"context"
	"net/http"

	"github.com/okian/versus/internal/domain/model"
)

// ChannelDependencies defines the interface for the channel audit.
type ChannelDependencies interface {
	ChannelGames(ctx context.Context, channelID string) ([]model.GameRecord, error)
}

// ChannelsHandler handles channel requests.
type ChannelsHandler struct {
	deps ChannelDependencies
}

// NewChannelsHandler creates a new channels handler.
func NewChannelsHandler(deps ChannelDependencies) *ChannelsHandler {
	return &ChannelsHandler{deps: deps}
}

// HandleGetGames handles GET /channels/{id}/games requests. Undone games are
// listed too.
func (h *ChannelsHandler) HandleGetGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.deps.ChannelGames(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]gameResponse, 0, len(games))
	for _, g := range games {
		out = append(out, toGameResponse(g))
	}
	writeJSON(w, http.StatusOK, out)
}
