package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/versus/internal/loadgen"
)

// Default configuration constants.
const (
	defaultNumGames    = 10000
	defaultNumPlayers  = 200
	defaultNumChannels = 4
	defaultRetryRatio  = 0.05
	defaultTopN        = 50
	defaultRating      = 1500
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultRunTimeout  = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		numGames   = flag.Int("games", defaultNumGames, "Number of games to generate and submit")
		numPlayers = flag.Int("players", defaultNumPlayers, "Size of the player pool")
		channels   = flag.Int("channels", defaultNumChannels, "Number of channels games are spread across")
		retryRatio = flag.Float64("retry", defaultRetryRatio, "Fraction of games resubmitted with the same request id")
		topN       = flag.Int("top", defaultTopN, "Number of top entries to fetch from leaderboard")
		rating     = flag.Int("rating", defaultRating, "Default rating configured on the service")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		outputFile = flag.String("output", "", "Output file for generated games (default: generated_games_TIMESTAMP.json)")
		logFile    = flag.String("log", "", "Log file for run output (default: loadgen_log_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadgen.ShowHelp()
		return
	}

	if err := loadgen.SetupLogging(*logFile); err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	config := &loadgen.Config{
		BaseURL:       *baseURL,
		NumGames:      *numGames,
		NumPlayers:    *numPlayers,
		NumChannels:   *channels,
		RetryRatio:    *retryRatio,
		TopN:          *topN,
		Workers:       *workers,
		Timeout:       *timeout,
		DefaultRating: *rating,
		OutputFile:    *outputFile,
		LogFile:       *logFile,
		Verbose:       *verbose,
	}

	if _, err := loadgen.Run(ctx, config); err != nil {
		_, _ = os.Stderr.WriteString("Load run failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}
