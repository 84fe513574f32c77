package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/versus/internal/domain/errs"
	"github.com/okian/versus/internal/domain/model"
)

// RecordDependencies defines the interface for win/loss queries.
type RecordDependencies interface {
	PairwiseRecord(ctx context.Context, a, b, channelID string) (model.Record, error)
	PlayerRecord(ctx context.Context, playerID, channelID string) (model.Record, error)
}

type recordResponse struct {
	Player    string `json:"player"`
	Opponent  string `json:"opponent,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	Wins      int    `json:"wins"`
	Losses    int    `json:"losses"`
}

// RecordHandler handles record requests.
type RecordHandler struct {
	deps RecordDependencies
}

// NewRecordHandler creates a new record handler.
func NewRecordHandler(deps RecordDependencies) *RecordHandler {
	return &RecordHandler{deps: deps}
}

// HandleGetRecord handles GET /record?player=&opponent=&channel= requests.
// Without an opponent the player's record against everyone is returned;
// without a channel every channel counts.
func (h *RecordHandler) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_record"

	q := r.URL.Query()
	player, opponent, channel := q.Get("player"), q.Get("opponent"), q.Get("channel")
	if player == "" {
		writeError(w, r, errs.WrapKind(op, ErrBadRequest, errors.New("missing player")))
		return
	}

	var (
		rec model.Record
		err error
	)
	if opponent == "" {
		rec, err = h.deps.PlayerRecord(r.Context(), player, channel)
	} else {
		rec, err = h.deps.PairwiseRecord(r.Context(), player, opponent, channel)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{
		Player:    player,
		Opponent:  opponent,
		ChannelID: channel,
		Wins:      rec.Wins,
		Losses:    rec.Losses,
	})
}
