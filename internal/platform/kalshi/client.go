// Package kalshi is the REST gateway to the Kalshi exchange. It handles
// RSA-signed authentication, cursor pagination, rate-limit pacing, and a
// uniform bounded retry policy for every call.
package kalshi

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

const (
	defaultMaxAttempts    = 3
	defaultRetryAfter     = 2 * time.Second
	defaultRequestsPerSec = 5
)

// Client is the REST client for the Kalshi exchange API.
type Client struct {
	baseURL     string
	apiKeyID    string
	privateKey  *rsa.PrivateKey
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
}

// NewClient creates a new Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
// apiKeyID is the Kalshi API key identifier.
func NewClient(baseURL, apiKeyID string) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKeyID: apiKeyID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:     rate.NewLimiter(defaultRequestsPerSec, 1),
		maxAttempts: defaultMaxAttempts,
	}
}

// SetRSAPrivateKey loads an RSA private key from PEM-encoded bytes and
// configures the client for RSA-signed authentication.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS1 as fallback.
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		c.privateKey = pkcs1Key
		return nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	c.privateKey = rsaKey
	return nil
}

// SetRateLimit replaces the request pacer. Burst stays at 1 so calls are
// strictly sequential at the configured rate.
func (c *Client) SetRateLimit(requestsPerSec float64) {
	c.limiter = rate.NewLimiter(rate.Limit(requestsPerSec), 1)
}

// SetMaxAttempts changes the retry budget applied to every request.
func (c *Client) SetMaxAttempts(n int) {
	if n > 0 {
		c.maxAttempts = n
	}
}

// GetMarkets returns one page of markets plus the cursor for the next page.
// An empty returned cursor means the listing is exhausted.
func (c *Client) GetMarkets(ctx context.Context, status string, limit int, cursor string) ([]Market, string, error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	path := "/markets"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("kalshi: get markets: %w", err)
	}

	var resp struct {
		Markets []Market `json:"markets"`
		Cursor  string   `json:"cursor"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("kalshi: decode markets: %w", err)
	}

	return resp.Markets, resp.Cursor, nil
}

// GetMarket returns a single market by its ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (Market, error) {
	path := fmt.Sprintf("/markets/%s", url.PathEscape(ticker))

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Market{}, fmt.Errorf("kalshi: get market %s: %w", ticker, err)
	}

	var resp struct {
		Market Market `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Market{}, fmt.Errorf("kalshi: decode market: %w", err)
	}

	return resp.Market, nil
}

// GetOrderbook returns the current orderbook for the given market ticker.
func (c *Client) GetOrderbook(ctx context.Context, ticker string) (Orderbook, error) {
	path := fmt.Sprintf("/markets/%s/orderbook", url.PathEscape(ticker))

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Orderbook{}, fmt.Errorf("kalshi: get orderbook %s: %w", ticker, err)
	}

	var resp struct {
		Orderbook Orderbook `json:"orderbook"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Orderbook{}, fmt.Errorf("kalshi: decode orderbook: %w", err)
	}

	resp.Orderbook.Ticker = ticker
	return resp.Orderbook, nil
}

// GetBalance returns the account's available cash balance.
func (c *Client) GetBalance(ctx context.Context) (Balance, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/portfolio/balance", nil)
	if err != nil {
		return Balance{}, fmt.Errorf("kalshi: get balance: %w", err)
	}

	var resp Balance
	if err := json.Unmarshal(body, &resp); err != nil {
		return Balance{}, fmt.Errorf("kalshi: decode balance: %w", err)
	}

	return resp, nil
}

// CreateOrder submits a new order and returns the exchange's view of it.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	body, err := c.doSignedRequest(ctx, http.MethodPost, "/portfolio/orders", req)
	if err != nil {
		return Order{}, fmt.Errorf("kalshi: create order: %w", err)
	}

	var resp struct {
		Order Order `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Order{}, fmt.Errorf("kalshi: decode order response: %w", err)
	}

	return resp.Order, nil
}

// GetOrder fetches an order by its ID, used when polling for fills.
func (c *Client) GetOrder(ctx context.Context, orderID string) (Order, error) {
	path := fmt.Sprintf("/portfolio/orders/%s", url.PathEscape(orderID))

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Order{}, fmt.Errorf("kalshi: get order %s: %w", orderID, err)
	}

	var resp struct {
		Order Order `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Order{}, fmt.Errorf("kalshi: decode order: %w", err)
	}

	return resp.Order, nil
}

// CancelOrder cancels an existing order by its ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/portfolio/orders/%s", url.PathEscape(orderID))

	_, err := c.doSignedRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("kalshi: cancel order %s: %w", orderID, err)
	}

	return nil
}

// GetSettlements returns the account's settlement records, newest first.
func (c *Client) GetSettlements(ctx context.Context, limit int) ([]Settlement, error) {
	path := "/portfolio/settlements"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("kalshi: get settlements: %w", err)
	}

	var resp struct {
		Settlements []Settlement `json:"settlements"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: decode settlements: %w", err)
	}

	return resp.Settlements, nil
}

// --------------------------------------------------------------------------
// Normalized surface
//
// The pipeline components consume these wrappers, which return canonical
// domain shapes. The raw DTO methods above stay exported for probing.
// --------------------------------------------------------------------------

// ListOpenMarkets returns one normalized page of open markets plus the next
// cursor.
func (c *Client) ListOpenMarkets(ctx context.Context, limit int, cursor string) ([]domain.Market, string, error) {
	raw, next, err := c.GetMarkets(ctx, "open", limit, cursor)
	if err != nil {
		return nil, "", err
	}
	markets := make([]domain.Market, 0, len(raw))
	for _, m := range raw {
		markets = append(markets, m.ToMarket())
	}
	return markets, next, nil
}

// LiveMarket fetches a single market and normalizes it.
func (c *Client) LiveMarket(ctx context.Context, ticker string) (domain.Market, error) {
	raw, err := c.GetMarket(ctx, ticker)
	if err != nil {
		return domain.Market{}, err
	}
	return raw.ToMarket(), nil
}

// Book fetches and normalizes the order book for a ticker.
func (c *Client) Book(ctx context.Context, ticker string) (domain.Orderbook, error) {
	raw, err := c.GetOrderbook(ctx, ticker)
	if err != nil {
		return domain.Orderbook{}, err
	}
	return raw.ToOrderbook(), nil
}

// AccountBalance returns the available cash balance in dollars.
func (c *Client) AccountBalance(ctx context.Context) (float64, error) {
	b, err := c.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	return b.Dollars(), nil
}

// SubmitMarketOrder places a market order on the given side, capped at
// capOdds, and returns the normalized exchange view.
func (c *Client) SubmitMarketOrder(ctx context.Context, ticker string, side domain.TradeSide, action string, count int64, capOdds float64) (domain.ExchangeOrder, error) {
	order, err := c.CreateOrder(ctx, MarketOrder(ticker, side, action, count, capOdds))
	if err != nil {
		return domain.ExchangeOrder{}, err
	}
	return order.ToExchangeOrder(), nil
}

// OrderStatus fetches the normalized state of an order, for fill polling.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (domain.ExchangeOrder, error) {
	order, err := c.GetOrder(ctx, orderID)
	if err != nil {
		return domain.ExchangeOrder{}, err
	}
	return order.ToExchangeOrder(), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doSignedRequest builds, signs, sends, and reads an HTTP request against the
// Kalshi API. Every call waits on the rate limiter first, and rate-limit
// responses are retried up to the attempt budget, sleeping for the
// server-advised duration before re-sending the same request.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		body, err := c.doOnce(ctx, method, path, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var rl *domain.RateLimitError
		if !errors.As(err, &rl) {
			return nil, err
		}

		// Rate limited: sleep the advised (or default) duration and retry
		// the same request. The last attempt surfaces the error.
		if attempt == c.maxAttempts {
			break
		}
		wait := rl.RetryAfter
		if wait <= 0 {
			wait = defaultRetryAfter
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if err := c.signRequest(req, method, path); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// signRequest adds RSA authentication headers to the HTTP request. Kalshi
// uses RSA-PSS-SHA256 signatures over the timestamp + method + path message
// string, where path excludes the query string.
func (c *Client) signRequest(req *http.Request, method, path string) error {
	if c.privateKey == nil {
		// Without a key we cannot sign. This is a configuration error.
		return fmt.Errorf("kalshi: RSA private key not configured")
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	signPath := path
	if q := strings.IndexByte(signPath, '?'); q >= 0 {
		signPath = signPath[:q]
	}
	message := ts + method + signPath

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("RSA sign: %w", err)
	}

	encodedSig := base64.StdEncoding.EncodeToString(signature)

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", encodedSig)
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)

	return nil
}

// checkStatus maps non-2xx HTTP status codes to appropriate errors. 429
// responses become a domain.RateLimitError carrying the Retry-After value so
// callers can sleep the advised duration.
func checkStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		var after time.Duration
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				after = time.Duration(secs) * time.Second
			}
		}
		return &domain.RateLimitError{RetryAfter: after}
	case http.StatusNotFound:
		return fmt.Errorf("kalshi: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("kalshi: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrUnauthorized)
	case http.StatusBadRequest:
		return fmt.Errorf("kalshi: bad request: %s (%s)", apiErr.Message, apiErr.Code)
	case http.StatusConflict:
		return fmt.Errorf("kalshi: conflict: %s (%s)", apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("kalshi: HTTP %d: %s (%s)", resp.StatusCode, apiErr.Message, apiErr.Code)
	}
}
