package loadgen

import "time"

// Config holds configuration for a load run
type Config struct {
	BaseURL       string        // Base URL of the service
	NumGames      int           // Number of games to generate
	NumPlayers    int           // Size of the player pool games are drawn from
	NumChannels   int           // Number of channels games are spread across
	RetryRatio    float64       // Fraction of games resubmitted with the same request id
	TopN          int           // Number of top entries to fetch
	Workers       int           // Number of concurrent workers
	Timeout       time.Duration // HTTP request timeout
	DefaultRating int           // Rating the service assigns to new players
	OutputFile    string        // Output file for generated games
	LogFile       string        // Log file for test output
	Verbose       bool          // Enable verbose logging
}

// Game is a game report as submitted to POST /games.
type Game struct {
	WinnerID  string `json:"winner_id"`
	LoserID   string `json:"loser_id"`
	ChannelID string `json:"channel_id"`
	RequestID string `json:"request_id"`
}

// GameAck is the service's answer to a game report.
type GameAck struct {
	Game struct {
		Seq         int64 `json:"seq"`
		DeltaWinner int   `json:"delta_winner"`
		DeltaLoser  int   `json:"delta_loser"`
	} `json:"game"`
	WinnerRating int  `json:"winner_rating"`
	LoserRating  int  `json:"loser_rating"`
	Duplicate    bool `json:"duplicate"`
}

// Entry represents a leaderboard entry
type Entry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Rating   int    `json:"rating"`
}

// Player is a single player's current rating.
type Player struct {
	PlayerID string `json:"player_id"`
	Rating   int    `json:"rating"`
}

// Stats holds run statistics
type Stats struct {
	GamesGenerated     int
	GamesSubmitted     int
	GamesApplied       int
	GamesDuplicate     int
	GamesConflict      int
	GamesFailed        int
	PlayersRetrieved   int
	LeaderboardEntries int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}
