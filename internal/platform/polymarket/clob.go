package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/courtsidelabs/linedrop/internal/crypto"
	"github.com/courtsidelabs/linedrop/internal/domain"
	"github.com/courtsidelabs/linedrop/internal/resilience"
)

// ClobDependency is the circuit-breaker key for the order book API.
const ClobDependency = "clob"

// ClobClient is the REST client for the venue order book API. Public price
// endpoints need no credentials; order management requires the EIP-712
// signer plus the HMAC credentials obtained through DeriveAPIKey.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	resilient  *resilience.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
}

// NewClobClient creates an order book client rooted at baseURL, e.g.
// "https://clob.polymarket.com". signer and hmac may be nil for read-only
// (monitor) operation.
func NewClobClient(baseURL string, resilient *resilience.Client, signer *crypto.Signer, hmac *crypto.HMACAuth) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		resilient: resilient,
		signer:    signer,
		hmacAuth:  hmac,
	}
}

// CanTrade reports whether the client holds the credentials order
// management requires.
func (c *ClobClient) CanTrade() bool {
	return c.signer != nil && c.hmacAuth != nil
}

// Midpoint returns the current midpoint price for one outcome token.
func (c *ClobClient) Midpoint(ctx context.Context, tokenID string) (float64, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	var resp midpointResponse
	err := c.resilient.Do(ctx, ClobDependency, func(ctx context.Context) error {
		body, err := c.doGet(ctx, "/midpoint?"+params.Encode())
		if err != nil {
			return err
		}
		return decodeJSON(body, &resp, "midpoint")
	})
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: midpoint %s: %w", tokenID, err)
	}
	return parseFloat(resp.Mid), nil
}

// Price returns the current best price for one outcome token and side
// ("buy" or "sell").
func (c *ClobClient) Price(ctx context.Context, tokenID, side string) (float64, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)
	params.Set("side", side)

	var resp priceResponse
	err := c.resilient.Do(ctx, ClobDependency, func(ctx context.Context) error {
		body, err := c.doGet(ctx, "/price?"+params.Encode())
		if err != nil {
			return err
		}
		return decodeJSON(body, &resp, "price")
	})
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: price %s %s: %w", tokenID, side, err)
	}
	return parseFloat(resp.Price), nil
}

// Book returns the top of book for one outcome token.
func (c *ClobClient) Book(ctx context.Context, tokenID string) (Orderbook, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	var resp bookResponse
	err := c.resilient.Do(ctx, ClobDependency, func(ctx context.Context) error {
		body, err := c.doGet(ctx, "/book?"+params.Encode())
		if err != nil {
			return err
		}
		return decodeJSON(body, &resp, "book")
	})
	if err != nil {
		return Orderbook{}, fmt.Errorf("polymarket/clob: book %s: %w", tokenID, err)
	}

	book := Orderbook{TokenID: tokenID}
	if n := len(resp.Bids); n > 0 {
		book.BestBid = parseFloat(resp.Bids[n-1].Price)
	}
	if n := len(resp.Asks); n > 0 {
		book.BestAsk = parseFloat(resp.Asks[n-1].Price)
	}
	return book, nil
}

// PostOrder signs and submits an order, returning the venue result. The
// order is a fill-or-kill market order at the given limit price.
func (c *ClobClient) PostOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	if !c.CanTrade() {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", domain.ErrMissingCreds)
	}

	signed, err := c.signer.SignOrder(crypto.OrderArgs{
		TokenID: order.TokenID,
		Side:    string(order.Side),
		Price:   order.Price,
		Size:    order.Size,
	})
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: sign order: %w", err)
	}

	payload := map[string]any{
		"order":     signed,
		"owner":     c.hmacAuth.Key,
		"orderType": "FOK",
	}

	var apiResult APIOrderResult
	err = c.resilient.Do(ctx, ClobDependency, func(ctx context.Context) error {
		body, err := c.doAuthenticated(ctx, http.MethodPost, "/order", payload)
		if err != nil {
			return err
		}
		return decodeJSON(body, &apiResult, "order result")
	})
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	result := apiResult.ToDomainOrderResult()
	if !result.Success {
		return result, fmt.Errorf("polymarket/clob: order rejected: %s", result.Message)
	}
	return result, nil
}

// CancelOrder cancels a single order by its venue identifier.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	if !c.CanTrade() {
		return fmt.Errorf("polymarket/clob: cancel order: %w", domain.ErrMissingCreds)
	}

	payload := map[string]any{"orderID": orderID}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	err := c.resilient.Do(ctx, ClobDependency, func(ctx context.Context) error {
		body, err := c.doAuthenticated(ctx, http.MethodDelete, "/order", payload)
		if err != nil {
			return err
		}
		return decodeJSON(body, &result, "cancel response")
	})
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel order %s failed: %s", orderID, result.ErrorMsg)
	}
	return nil
}

// DeriveAPIKey performs the L1 auth flow to obtain HMAC credentials, then
// holds them for subsequent authenticated requests. It must be called once
// before order management when no static API key is configured.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	if c.signer == nil {
		return fmt.Errorf("polymarket/clob: derive api key: %w", domain.ErrMissingCreds)
	}

	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	err = c.resilient.Do(ctx, ClobDependency, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
		if err != nil {
			return fmt.Errorf("polymarket/clob: build auth request: %v", err)
		}
		req.Header.Set("POLY_ADDRESS", address)
		req.Header.Set("POLY_SIGNATURE", sig)
		req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
		req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

		body, err := c.send(req)
		if err != nil {
			return err
		}
		return decodeJSON(body, &authResp, "auth response")
	})
	if err != nil {
		return fmt.Errorf("polymarket/clob: derive api key: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// HMACCreds returns the held HMAC credentials, nil until DeriveAPIKey
// succeeds or static credentials were supplied.
func (c *ClobClient) HMACCreds() *crypto.HMACAuth { return c.hmacAuth }

func (c *ClobClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: build request: %v", err)
	}
	return c.send(req)
}

// doAuthenticated builds, HMAC-signs, and sends one request, returning the
// raw response body.
func (c *ClobClient) doAuthenticated(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("polymarket/clob: marshal request: %v", err)
		}
		bodyStr = string(raw)
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range c.hmacAuth.L2Headers(c.signer.Address().Hex(), method, path, bodyStr) {
		req.Header.Set(k, v)
	}
	return c.send(req)
}

func (c *ClobClient) send(req *http.Request) ([]byte, error) {
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
		return nil, venueHTTPError(resp, body)
	}
	return body, nil
}
