package loadgen

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Runner configuration constants.
const (
	PercentageMultiplier = 100
	topPlayersShown      = 10
)

// Submission outcomes.
const (
	resultApplied   = "applied"
	resultDuplicate = "duplicate"
	resultConflict  = "conflict"
	resultFailed    = "failed"
)
