package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
)

// retrieveRatings fetches the current rating of every pool player
// concurrently. Players that never played are not registered and are skipped.
func retrieveRatings(ctx context.Context, config *Config, players []string, stats *Stats) ([]Player, error) {
	log.Printf("🏆 Retrieving ratings for %d players with %d workers...", len(players), config.Workers)

	client := newHTTPClient(config.Timeout)

	results := make([]Player, len(players))
	var (
		retrieved int64
		unknown   int64
		failed    int64
	)

	indexChan := make(chan int, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for index := range indexChan {
				if ctx.Err() != nil {
					return
				}
				p, found, err := retrieveSinglePlayer(ctx, client, config.BaseURL, players[index])
				switch {
				case err != nil:
					atomic.AddInt64(&failed, 1)
					if config.Verbose {
						log.Printf("⚠️  Failed to get rating for %s: %v", players[index], err)
					}
				case !found:
					atomic.AddInt64(&unknown, 1)
				default:
					results[index] = p
					atomic.AddInt64(&retrieved, 1)
				}
			}
		}()
	}

	go func() {
		defer close(indexChan)
		for i := range players {
			select {
			case <-ctx.Done():
				return
			case indexChan <- i:
			}
		}
	}()

	wg.Wait()

	valid := make([]Player, 0, len(results))
	for _, p := range results {
		if p.PlayerID != "" {
			valid = append(valid, p)
		}
	}
	stats.PlayersRetrieved = len(valid)

	log.Printf("✅ Rating retrieval completed: retrieved %d, never played %d, failed %d",
		len(valid), atomic.LoadInt64(&unknown), atomic.LoadInt64(&failed))

	if n := atomic.LoadInt64(&failed); n > 0 {
		return valid, fmt.Errorf("%d rating lookups failed", n)
	}
	return valid, nil
}

// retrieveSinglePlayer fetches one player's rating. found is false on 404.
func retrieveSinglePlayer(ctx context.Context, client *HTTPClient, baseURL, playerID string) (Player, bool, error) {
	resp, err := client.Get(ctx, baseURL+"/players/"+url.PathEscape(playerID))
	if err != nil {
		return Player{}, false, fmt.Errorf("request failed: %w", err)
	}

	body, err := readResponseBody(resp)
	if err != nil {
		return Player{}, false, fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Player{}, false, nil
	default:
		return Player{}, false, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var p Player
	if err := json.Unmarshal(body, &p); err != nil {
		return Player{}, false, fmt.Errorf("failed to parse response: %w", err)
	}
	return p, true, nil
}

// getLeaderboard retrieves the top N leaderboard entries across all channels.
func getLeaderboard(ctx context.Context, config *Config, stats *Stats) ([]Entry, error) {
	log.Printf("🥇 Getting top %d leaderboard entries...", config.TopN)

	client := newHTTPClient(config.Timeout)
	resp, err := client.Get(ctx, fmt.Sprintf("%s/leaderboard?limit=%d", config.BaseURL, config.TopN))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	body, err := readResponseBody(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var leaderboard []Entry
	if err := json.Unmarshal(body, &leaderboard); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	stats.LeaderboardEntries = len(leaderboard)
	log.Printf("✅ Retrieved %d leaderboard entries", len(leaderboard))

	return leaderboard, nil
}
