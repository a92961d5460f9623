// Package espn is the read-only client for the ESPN site API, the bot's
// game-state provider. It exposes per-league scoreboards normalized into
// domain events. All requests go through the resilience client.
package espn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/courtsidelabs/linedrop/internal/domain"
	"github.com/courtsidelabs/linedrop/internal/resilience"
)

// Dependency is the circuit-breaker key for the game-state provider.
const Dependency = "espn"

// Client is the scoreboard client. It is unauthenticated and read-only.
type Client struct {
	baseURL    string
	httpClient *http.Client
	resilient  *resilience.Client
}

// NewClient creates a scoreboard client rooted at baseURL, e.g.
// "https://site.api.espn.com/apis/site/v2/sports".
func NewClient(baseURL string, resilient *resilience.Client) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		resilient: resilient,
	}
}

// Scoreboard fetches the current scoreboard for one sport/league and
// returns the events that carry competitions data. Events the provider
// reports without competitors are skipped, not errors.
func (c *Client) Scoreboard(ctx context.Context, sport, league string) ([]domain.ExternalEvent, error) {
	path := fmt.Sprintf("%s/%s/%s/scoreboard", c.baseURL, sport, league)

	var resp scoreboardResponse
	err := c.resilient.Do(ctx, Dependency, func(ctx context.Context) error {
		body, err := c.doGet(ctx, path)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("espn: decode scoreboard: %v", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("espn: scoreboard %s/%s: %w", sport, league, err)
	}

	events := make([]domain.ExternalEvent, 0, len(resp.Events))
	for _, e := range resp.Events {
		ev, convErr := e.toDomainEvent(sport, league)
		if convErr != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// doGet performs a single GET request and classifies HTTP failures for the
// retry loop.
func (c *Client) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("espn: build request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, httpError(resp, body)
	}
	return body, nil
}

// httpError builds a resilience.HTTPError from a non-200 response,
// carrying the Retry-After hint when the provider rate limits us.
func httpError(resp *http.Response, body []byte) *resilience.HTTPError {
	he := &resilience.HTTPError{
		Status: resp.StatusCode,
		Body:   string(body),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
				he.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	}
	return he
}
