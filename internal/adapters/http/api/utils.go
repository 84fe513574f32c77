package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/logger"
)

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type gameResponse struct {
	Seq         int64      `json:"seq"`
	ChannelID   string     `json:"channel_id"`
	WinnerID    string     `json:"winner_id"`
	LoserID     string     `json:"loser_id"`
	DeltaWinner int        `json:"delta_winner"`
	DeltaLoser  int        `json:"delta_loser"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	UndoneAt    *time.Time `json:"undone_at,omitempty"`
}

func toGameResponse(rec model.GameRecord) gameResponse {
	out := gameResponse{
		Seq:         rec.Seq,
		ChannelID:   rec.ChannelID,
		WinnerID:    rec.WinnerID,
		LoserID:     rec.LoserID,
		DeltaWinner: rec.DeltaWinner,
		DeltaLoser:  rec.DeltaLoser,
		Active:      rec.Active,
		CreatedAt:   rec.CreatedAt,
	}
	if !rec.UndoneAt.IsZero() {
		t := rec.UndoneAt
		out.UndoneAt = &t
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status, logs server-side failures and writes the
// error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	ctx := r.Context()
	if status >= http.StatusInternalServerError {
		logger.Get().Named("api").Error(ctx, "request failed",
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	writeJSON(w, status, errorResponse{
		Code:      code,
		Message:   err.Error(),
		RequestID: logger.RequestID(ctx),
	})
}
