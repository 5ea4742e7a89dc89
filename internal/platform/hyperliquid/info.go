package hyperliquid

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/semaphore"
)

// maxConcurrentInfo caps in-flight info requests; the exchange weights info
// queries against a shared rate limit.
const maxConcurrentInfo = 30

// InfoClient calls the exchange info endpoint (single POST URL, request type
// in the body).
type InfoClient struct {
	http *resty.Client
	sem  *semaphore.Weighted
}

// NewInfoClient creates a client for the given base URL,
// e.g. "https://api.hyperliquid.xyz".
func NewInfoClient(baseURL string) *InfoClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &InfoClient{
		http: client,
		sem:  semaphore.NewWeighted(maxConcurrentInfo),
	}
}

// post runs one info request with the concurrency cap applied.
func (c *InfoClient) post(ctx context.Context, body any, out any) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("hyperliquid/info: acquire slot: %w", err)
	}
	defer c.sem.Release(1)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		Post("/info")
	if err != nil {
		return fmt.Errorf("hyperliquid/info: request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("hyperliquid/info: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// ClearinghouseState fetches the current account state for one address.
func (c *InfoClient) ClearinghouseState(ctx context.Context, user string) (ClearinghouseState, error) {
	var out ClearinghouseState
	body := map[string]string{"type": "clearinghouseState", "user": user}
	if err := c.post(ctx, body, &out); err != nil {
		return ClearinghouseState{}, fmt.Errorf("clearinghouseState %s: %w", user, err)
	}
	return out, nil
}

// Leaderboard fetches the account-value leaderboard.
func (c *InfoClient) Leaderboard(ctx context.Context) ([]LeaderboardRow, error) {
	var out struct {
		LeaderboardRows []LeaderboardRow `json:"leaderboardRows"`
	}
	body := map[string]string{"type": "leaderboard"}
	if err := c.post(ctx, body, &out); err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	return out.LeaderboardRows, nil
}

// AllMids fetches the current mid price per coin.
func (c *InfoClient) AllMids(ctx context.Context) (map[string]Float, error) {
	var out map[string]Float
	body := map[string]string{"type": "allMids"}
	if err := c.post(ctx, body, &out); err != nil {
		return nil, fmt.Errorf("allMids: %w", err)
	}
	return out, nil
}
