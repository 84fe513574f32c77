package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client *http.Client
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with JSON body
func (c *HTTPClient) Post(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// readResponseBody reads and closes the response body
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// submitGames submits games concurrently using a worker pool and returns the
// acknowledgements of the games that were applied.
func submitGames(ctx context.Context, config *Config, games []Game, stats *Stats) ([]GameAck, error) {
	log.Printf("📤 Submitting %d games with %d workers...", len(games), config.Workers)

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/games"

	var (
		applied   int64
		duplicate int64
		conflict  int64
		failed    int64
		submitted int64
		lastNanos int64
	)
	reportInterval := time.Second

	var (
		acksMu sync.Mutex
		acks   = make([]GameAck, 0, len(games))
	)

	gameChan := make(chan Game, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for game := range gameChan {
				if ctx.Err() != nil {
					return
				}
				result, ack := submitSingleGame(ctx, client, url, game)

				atomic.AddInt64(&submitted, 1)
				switch result {
				case resultApplied:
					atomic.AddInt64(&applied, 1)
					acksMu.Lock()
					acks = append(acks, ack)
					acksMu.Unlock()
				case resultDuplicate:
					atomic.AddInt64(&duplicate, 1)
				case resultConflict:
					atomic.AddInt64(&conflict, 1)
				default:
					atomic.AddInt64(&failed, 1)
				}

				now := time.Now().UnixNano()
				last := atomic.LoadInt64(&lastNanos)
				if now-last >= int64(reportInterval) && atomic.CompareAndSwapInt64(&lastNanos, last, now) && config.Verbose {
					log.Printf("📊 Progress: %d/%d submitted (applied: %d, duplicate: %d, conflict: %d, failed: %d)",
						atomic.LoadInt64(&submitted), len(games),
						atomic.LoadInt64(&applied), atomic.LoadInt64(&duplicate),
						atomic.LoadInt64(&conflict), atomic.LoadInt64(&failed))
				}
			}
		}()
	}

	go func() {
		defer close(gameChan)
		for _, game := range games {
			select {
			case <-ctx.Done():
				return
			case gameChan <- game:
			}
		}
	}()

	wg.Wait()

	stats.GamesSubmitted = int(atomic.LoadInt64(&submitted))
	stats.GamesApplied = int(atomic.LoadInt64(&applied))
	stats.GamesDuplicate = int(atomic.LoadInt64(&duplicate))
	stats.GamesConflict = int(atomic.LoadInt64(&conflict))
	stats.GamesFailed = int(atomic.LoadInt64(&failed))

	log.Printf("✅ Game submission completed: applied %d, duplicate %d, conflict %d, failed %d",
		stats.GamesApplied, stats.GamesDuplicate, stats.GamesConflict, stats.GamesFailed)

	if err := ctx.Err(); err != nil {
		return acks, fmt.Errorf("submission interrupted: %w", err)
	}
	return acks, nil
}

// submitSingleGame submits one game and classifies the response. A 409 means
// the same request id was still in flight.
func submitSingleGame(ctx context.Context, client *HTTPClient, url string, game Game) (string, GameAck) {
	resp, err := client.Post(ctx, url, game)
	if err != nil {
		return resultFailed, GameAck{}
	}

	body, err := readResponseBody(resp)
	if err != nil {
		return resultFailed, GameAck{}
	}

	switch resp.StatusCode {
	case http.StatusCreated:
		var ack GameAck
		if err := json.Unmarshal(body, &ack); err != nil {
			return resultFailed, GameAck{}
		}
		return resultApplied, ack
	case http.StatusOK:
		return resultDuplicate, GameAck{}
	case http.StatusConflict:
		return resultConflict, GameAck{}
	default:
		return resultFailed, GameAck{}
	}
}
