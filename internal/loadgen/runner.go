package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/versus/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
)

// Run executes a complete load run and returns its statistics.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	stats := &Stats{
		StartTime: time.Now(),
	}

	logger.Get().Info(ctx, "starting versus load run",
		logger.String("baseURL", config.BaseURL),
		logger.Int("games", config.NumGames),
		logger.Int("players", config.NumPlayers),
		logger.Int("channels", config.NumChannels),
		logger.Float64("retryRatio", config.RetryRatio),
		logger.Int("workers", config.Workers),
		logger.Duration("timeout", config.Timeout),
		logger.Int("topN", config.TopN),
		logger.Bool("verbose", config.Verbose))

	if config.Workers <= 0 {
		config.Workers = 1
	}

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, config); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate games
	players := generatePlayers(config.NumPlayers)
	games, err := generateGames(ctx, config, players, stats)
	if err != nil {
		return stats, fmt.Errorf("game generation failed: %w", err)
	}

	// Step 3: Submit games concurrently
	acks, err := submitGames(ctx, config, games, stats)
	if err != nil {
		return stats, fmt.Errorf("game submission failed: %w", err)
	}

	// Step 4: Retrieve ratings concurrently
	ratings, err := retrieveRatings(ctx, config, players, stats)
	if err != nil {
		return stats, fmt.Errorf("rating retrieval failed: %w", err)
	}

	// Step 5: Get leaderboard
	leaderboard, err := getLeaderboard(ctx, config, stats)
	if err != nil {
		return stats, fmt.Errorf("leaderboard retrieval failed: %w", err)
	}

	// Step 6: Verify results
	if stats.GamesFailed > 0 {
		logger.Get().Warn(ctx, "some submissions failed; conservation may not hold",
			logger.Int("failed", stats.GamesFailed))
	}
	if err := verifyResults(ctx, config, ratings, leaderboard, acks); err != nil {
		return stats, fmt.Errorf("result verification failed: %w", err)
	}

	// Step 7: Save games to file
	if config.OutputFile != "-" {
		if err := saveGamesToFile(ctx, config, games); err != nil {
			logger.Get().Warn(ctx, "failed to save games to file", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	displayFinalStats(stats)

	logger.Get().Info(ctx, "load run completed successfully")
	return stats, nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	logger.Get().Info(ctx, "checking service health")

	client := newHTTPClient(config.Timeout)
	resp, err := client.Get(ctx, config.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if _, err := readResponseBody(resp); err != nil {
		return fmt.Errorf("failed to read health response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}

	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// saveGamesToFile saves the generated games to a JSON file.
func saveGamesToFile(ctx context.Context, config *Config, games []Game) error {
	if len(games) == 0 {
		return fmt.Errorf("no games to save")
	}

	filename := config.OutputFile
	if filename == "" {
		timestamp := time.Now().Format("20060102_150405")
		filename = "generated_games_" + timestamp + ".json"
	}

	dir := filepath.Dir(filename)
	if dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Get().Error(context.Background(), "failed to close file", logger.Error(err))
		}
	}()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(games); err != nil {
		return fmt.Errorf("failed to write games: %w", err)
	}

	logger.Get().Info(ctx, "games saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(stats *Stats) {
	var successRate, gamesPerSecond float64

	if stats.GamesSubmitted > 0 {
		successRate = float64(stats.GamesSubmitted-stats.GamesFailed) / float64(stats.GamesSubmitted) * PercentageMultiplier
	}

	if stats.Duration > 0 {
		gamesPerSecond = float64(stats.GamesSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("gamesGenerated", stats.GamesGenerated),
		logger.Int("gamesSubmitted", stats.GamesSubmitted),
		logger.Int("gamesApplied", stats.GamesApplied),
		logger.Int("gamesDuplicate", stats.GamesDuplicate),
		logger.Int("gamesConflict", stats.GamesConflict),
		logger.Int("gamesFailed", stats.GamesFailed),
		logger.Int("playersRetrieved", stats.PlayersRetrieved),
		logger.Int("leaderboardEntries", stats.LeaderboardEntries),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("gamesPerSecond", gamesPerSecond))
}
