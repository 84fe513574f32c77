package loadgen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/google/uuid"
	"github.com/okian/versus/pkg/logger"
)

// ErrTooFewPlayers is returned when the pool cannot form a game.
var ErrTooFewPlayers = errors.New("at least two players are required")

// randomIndex returns a uniformly random int in [0, n) using crypto/rand.
func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// generatePlayers creates a pool of unique player ids.
func generatePlayers(n int) []string {
	players := make([]string, n)
	for i := range players {
		players[i] = "player-" + uuid.NewString()[:8] + "-" + strconv.Itoa(i)
	}
	return players
}

// generateGames creates the configured number of games between random pairs
// of the pool, followed by resubmissions of a random subset under their
// original request ids.
func generateGames(ctx context.Context, config *Config, players []string, stats *Stats) ([]Game, error) {
	if len(players) < 2 {
		return nil, ErrTooFewPlayers
	}
	channels := config.NumChannels
	if channels <= 0 {
		channels = 1
	}

	logger.Get().Info(ctx, "generating games",
		logger.Int("games", config.NumGames),
		logger.Int("players", len(players)),
		logger.Int("channels", channels))

	retries := int(float64(config.NumGames) * config.RetryRatio)
	games := make([]Game, 0, config.NumGames+retries)
	for i := 0; i < config.NumGames; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during game generation: %w", err)
		}
		games = append(games, generateSingleGame(players, channels))
	}

	for i := 0; i < retries && config.NumGames > 0; i++ {
		games = append(games, games[randomIndex(config.NumGames)])
	}

	stats.GamesGenerated = len(games)
	logger.Get().Info(ctx, "generated games successfully",
		logger.Int("count", len(games)),
		logger.Int("retries", retries))

	return games, nil
}

// generateSingleGame picks two distinct players and a channel.
func generateSingleGame(players []string, channels int) Game {
	w := randomIndex(len(players))
	l := randomIndex(len(players) - 1)
	if l >= w {
		l++
	}
	return Game{
		WinnerID:  players[w],
		LoserID:   players[l],
		ChannelID: "channel-" + strconv.Itoa(randomIndex(channels)),
		RequestID: uuid.NewString(),
	}
}
