// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	service "github.com/okian/versus/internal/app"
	"github.com/okian/versus/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	GameDependencies
	RecordDependencies
	LeaderboardDependencies
	PlayerDependencies
	ChannelDependencies
}

// GameDependencies covers the write side.
type GameDependencies interface {
	ApplyGame(ctx context.Context, winnerID, loserID, channelID, requestID string) (service.GameResult, error)
	UndoLastGame(ctx context.Context, a, b, channelID string) (model.GameRecord, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	gamesHandler       *GamesHandler
	recordHandler      *RecordHandler
	leaderboardHandler *LeaderboardHandler
	playersHandler     *PlayersHandler
	channelsHandler    *ChannelsHandler
}

// NewServer creates a new API server with all handlers. maxLimit caps
// GET /leaderboard?limit.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLimit int) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		gamesHandler:       NewGamesHandler(deps),
		recordHandler:      NewRecordHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLimit),
		playersHandler:     NewPlayersHandler(deps),
		channelsHandler:    NewChannelsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	route := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, RequestIDMiddleware(MetricsMiddleware(h, endpoint)))
	}

	route("GET /healthz", "healthz", s.healthHandler.HandleHealth)
	route("GET /stats", "stats", s.statsHandler.HandleStats)
	route("POST /games", "games", s.gamesHandler.HandleApply)
	route("POST /games/undo", "games_undo", s.gamesHandler.HandleUndo)
	route("GET /record", "record", s.recordHandler.HandleGetRecord)
	route("GET /leaderboard", "leaderboard", s.leaderboardHandler.HandleGetLeaderboard)
	route("GET /players/{id}", "player", s.playersHandler.HandleGetPlayer)
	route("GET /players/{id}/history", "player_history", s.playersHandler.HandleGetHistory)
	route("GET /channels/{id}/games", "channel_games", s.channelsHandler.HandleGetGames)

	mux.Handle("GET /metrics", s.healthHandler.MetricsHandler())
}
