// Package polymarket holds the REST clients for the trading venue: the
// Gamma discovery API for catalog refresh and the CLOB API for prices and
// order management. Every request runs through the resilience client.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/courtsidelabs/linedrop/internal/domain"
	"github.com/courtsidelabs/linedrop/internal/resilience"
)

// GammaDependency is the circuit-breaker key for the discovery API.
const GammaDependency = "gamma"

// GammaClient is the catalog client for the venue discovery API. It is
// unauthenticated and read-only.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	resilient  *resilience.Client
}

// NewGammaClient creates a discovery client rooted at baseURL, e.g.
// "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, resilient *resilience.Client) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		resilient: resilient,
	}
}

// SportsMarkets returns the active markets tagged with the given sport,
// paging through the catalog until the venue returns a short page.
func (g *GammaClient) SportsMarkets(ctx context.Context, sport string) ([]domain.MarketInstrument, error) {
	const pageSize = 100

	var out []domain.MarketInstrument
	for offset := 0; ; offset += pageSize {
		page, err := g.marketsPage(ctx, sport, pageSize, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
	}
}

// Market returns a single market by condition identifier.
func (g *GammaClient) Market(ctx context.Context, conditionID string) (domain.MarketInstrument, error) {
	params := url.Values{}
	params.Set("condition_ids", conditionID)
	path := "/markets?" + params.Encode()

	var apiMarkets []APIMarket
	err := g.resilient.Do(ctx, GammaDependency, func(ctx context.Context) error {
		body, err := g.doGet(ctx, g.baseURL+path)
		if err != nil {
			return err
		}
		return decodeJSON(body, &apiMarkets, "markets")
	})
	if err != nil {
		return domain.MarketInstrument{}, fmt.Errorf("polymarket/gamma: market %s: %w", conditionID, err)
	}
	if len(apiMarkets) == 0 {
		return domain.MarketInstrument{}, fmt.Errorf("polymarket/gamma: market %s: %w", conditionID, domain.ErrNotFound)
	}
	return apiMarkets[0].ToDomainInstrument(""), nil
}

func (g *GammaClient) marketsPage(ctx context.Context, sport string, limit, offset int) ([]domain.MarketInstrument, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("active", "true")
	params.Set("closed", "false")
	if sport != "" {
		params.Set("tag", sport)
	}
	path := "/markets?" + params.Encode()

	var apiMarkets []APIMarket
	err := g.resilient.Do(ctx, GammaDependency, func(ctx context.Context) error {
		body, err := g.doGet(ctx, g.baseURL+path)
		if err != nil {
			return err
		}
		return decodeJSON(body, &apiMarkets, "markets")
	})
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: markets %s offset %d: %w", sport, offset, err)
	}

	out := make([]domain.MarketInstrument, 0, len(apiMarkets))
	for i := range apiMarkets {
		inst := apiMarkets[i].ToDomainInstrument(sport)
		if inst.ConditionID == "" || inst.TokenIDs[0] == "" {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func (g *GammaClient) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: build request: %v", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, venueHTTPError(resp, body)
	}
	return body, nil
}

func decodeJSON(body []byte, v any, what string) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("polymarket: decode %s: %v", what, err)
	}
	return nil
}

// venueHTTPError classifies a non-200 venue response for the retry loop,
// carrying the Retry-After hint when the venue rate limits us.
func venueHTTPError(resp *http.Response, body []byte) *resilience.HTTPError {
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
