package loadgen

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/okian/versus/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string) error {
	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "loadgen_log_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	multiWriter := io.MultiWriter(os.Stdout, file)
	if err := logger.Init(logger.WithOutput(multiWriter)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.SetOutput(multiWriter)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the load generator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`Versus Load Generator
=====================

Submits concurrent game reports to a running versus service and checks that
ratings, the leaderboard and retried requests stay consistent.

Usage:
  go run ./cmd/loadgen [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -games int
        Number of games to generate and submit (default 10000)
  -players int
        Size of the player pool (default 200)
  -channels int
        Number of channels games are spread across (default 4)
  -retry float
        Fraction of games resubmitted with the same request id (default 0.05)
  -top int
        Number of top entries to fetch from leaderboard (default 50)
  -rating int
        Default rating configured on the service (default 1500)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -output string
        Output file for generated games (default: generated_games_TIMESTAMP.json)
  -log string
        Log file for run output (default: loadgen_log_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Run with default settings
  go run ./cmd/loadgen

  # Heavy contention on a small pool
  go run ./cmd/loadgen -games 50000 -players 10 -workers 32

  # Against another address with verbose output
  go run ./cmd/loadgen -url http://localhost:8080 -verbose
`)
}
