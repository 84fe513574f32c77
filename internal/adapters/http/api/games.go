package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/versus/internal/domain/errs"
)

type applyRequest struct {
	WinnerID  string `json:"winner_id"`
	LoserID   string `json:"loser_id"`
	ChannelID string `json:"channel_id"`
	RequestID string `json:"request_id,omitempty"`
}

func (a applyRequest) validate() error {
	switch {
	case strings.TrimSpace(a.WinnerID) == "":
		return errors.New("missing winner_id")
	case strings.TrimSpace(a.LoserID) == "":
		return errors.New("missing loser_id")
	case strings.TrimSpace(a.ChannelID) == "":
		return errors.New("missing channel_id")
	}
	return nil
}

type applyResponse struct {
	Game         gameResponse `json:"game"`
	WinnerRating int          `json:"winner_rating"`
	LoserRating  int          `json:"loser_rating"`
	Duplicate    bool         `json:"duplicate"`
}

type undoRequest struct {
	PlayerA   string `json:"player_a"`
	PlayerB   string `json:"player_b"`
	ChannelID string `json:"channel_id"`
}

func (u undoRequest) validate() error {
	switch {
	case strings.TrimSpace(u.PlayerA) == "":
		return errors.New("missing player_a")
	case strings.TrimSpace(u.PlayerB) == "":
		return errors.New("missing player_b")
	case strings.TrimSpace(u.ChannelID) == "":
		return errors.New("missing channel_id")
	}
	return nil
}

// GamesHandler handles game reports and undo requests.
type GamesHandler struct {
	deps GameDependencies
}

// NewGamesHandler creates a new games handler.
func NewGamesHandler(deps GameDependencies) *GamesHandler {
	return &GamesHandler{deps: deps}
}

// HandleApply handles POST /games requests. A retried request_id answers
// 200 with the original game instead of 201.
func (h *GamesHandler) HandleApply(w http.ResponseWriter, r *http.Request) {
	const op = "api.apply_game"

	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errs.WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, errs.WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := h.deps.ApplyGame(r.Context(), req.WinnerID, req.LoserID, req.ChannelID, req.RequestID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, applyResponse{
		Game:         toGameResponse(res.Game),
		WinnerRating: res.WinnerRating,
		LoserRating:  res.LoserRating,
		Duplicate:    res.Duplicate,
	})
}

// HandleUndo handles POST /games/undo requests.
func (h *GamesHandler) HandleUndo(w http.ResponseWriter, r *http.Request) {
	const op = "api.undo_game"

	var req undoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errs.WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, errs.WrapKind(op, ErrBadRequest, err))
		return
	}

	rec, err := h.deps.UndoLastGame(r.Context(), req.PlayerA, req.PlayerB, req.ChannelID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGameResponse(rec))
}
