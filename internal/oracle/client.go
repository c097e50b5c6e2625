// Package oracle is the boundary to the external decision service. The
// pipeline hands it candidates, recent history, and the bankroll, and gets
// back at most three sized selections. Everything about how the service
// reasons is opaque here; this package only speaks its wire format and
// enforces the selection cap and allocation bounds on the way out.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

const defaultTimeout = 60 * time.Second

// Client calls the decision oracle over HTTP. It implements
// domain.DecisionOracle.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an oracle client for the given endpoint. Decisions can
// take a while on the service side, so the default timeout is generous.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With(slog.String("component", "oracle")),
	}
}

// SetHTTPClient overrides the underlying HTTP client, mainly for tests.
func (c *Client) SetHTTPClient(hc *http.Client) { c.httpClient = hc }

type decideRequest struct {
	Candidates  []candidatePayload `json:"candidates"`
	History     []historyPayload   `json:"history"`
	Bankroll    float64            `json:"bankroll"`
	DailyBudget float64            `json:"daily_budget"`
	MaxPicks    int                `json:"max_picks"`
}

type candidatePayload struct {
	Ticker        string  `json:"ticker"`
	Question      string  `json:"question"`
	Category      string  `json:"category,omitempty"`
	CloseTime     string  `json:"close_time"`
	YesOdds       float64 `json:"yes_odds"`
	NoOdds        float64 `json:"no_odds"`
	LiveLiquidity int64   `json:"live_liquidity"`
	Volume24H     int64   `json:"volume_24h"`
	Rank          int     `json:"rank,omitempty"`
}

type historyPayload struct {
	Ticker    string   `json:"ticker"`
	Side      string   `json:"side"`
	EntryOdds float64  `json:"entry_odds"`
	Size      float64  `json:"position_size"`
	Status    string   `json:"status"`
	PnL       *float64 `json:"pnl,omitempty"`
}

type decideResponse struct {
	Selections []struct {
		Ticker      string   `json:"ticker"`
		Allocation  float64  `json:"allocation"`
		Confidence  float64  `json:"confidence"`
		Reasoning   string   `json:"reasoning"`
		RiskFactors []string `json:"risk_factors"`
	} `json:"selections"`
	Rejections []struct {
		Ticker string `json:"ticker"`
		Reason string `json:"reason"`
	} `json:"rejections"`
}

// Decide posts one trading cycle's context to the oracle and returns its
// decision. Zero selections is a normal outcome, not an error. Selections
// beyond the cap are dropped in arrival order; tickers the oracle invents
// that were not among the candidates are dropped too.
func (c *Client) Decide(ctx context.Context, input domain.OracleInput) (domain.OracleDecision, error) {
	reqBody := decideRequest{
		Candidates:  make([]candidatePayload, 0, len(input.Candidates)),
		History:     make([]historyPayload, 0, len(input.History)),
		Bankroll:    input.Bankroll,
		DailyBudget: input.DailyBudget,
		MaxPicks:    domain.MaxSelections,
	}
	offered := make(map[string]bool, len(input.Candidates))
	for _, cand := range input.Candidates {
		offered[cand.Ticker] = true
		reqBody.Candidates = append(reqBody.Candidates, candidatePayload{
			Ticker:        cand.Ticker,
			Question:      cand.Question,
			Category:      cand.Category,
			CloseTime:     cand.CloseTime.UTC().Format(time.RFC3339),
			YesOdds:       cand.YesOdds,
			NoOdds:        cand.NoOdds,
			LiveLiquidity: cand.LiveLiquidity,
			Volume24H:     cand.Volume24H,
			Rank:          cand.Rank,
		})
	}
	for _, tr := range input.History {
		reqBody.History = append(reqBody.History, historyPayload{
			Ticker:    tr.Ticker,
			Side:      string(tr.Side),
			EntryOdds: tr.EntryOdds,
			Size:      tr.PositionSize,
			Status:    string(tr.Status),
			PnL:       tr.PnL,
		})
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return domain.OracleDecision{}, fmt.Errorf("oracle: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/decide", bytes.NewReader(body))
	if err != nil {
		return domain.OracleDecision{}, fmt.Errorf("oracle: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.OracleDecision{}, fmt.Errorf("oracle: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.OracleDecision{}, fmt.Errorf("oracle: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed decideResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.OracleDecision{}, fmt.Errorf("oracle: decode response: %w", err)
	}

	var decision domain.OracleDecision
	for _, sel := range parsed.Selections {
		if len(decision.Selections) >= domain.MaxSelections {
			c.logger.Warn("selection cap exceeded, dropping",
				slog.String("ticker", sel.Ticker),
			)
			continue
		}
		if !offered[sel.Ticker] {
			c.logger.Warn("selection references unknown candidate, dropping",
				slog.String("ticker", sel.Ticker),
			)
			continue
		}
		decision.Selections = append(decision.Selections, domain.Selection{
			Ticker:      sel.Ticker,
			Allocation:  sel.Allocation,
			Confidence:  sel.Confidence,
			Reasoning:   sel.Reasoning,
			RiskFactors: sel.RiskFactors,
		})
	}
	for _, rej := range parsed.Rejections {
		decision.Rejections = append(decision.Rejections, domain.Rejection{
			Ticker: rej.Ticker,
			Reason: rej.Reason,
		})
	}

	c.logger.Info("oracle decided",
		slog.Int("candidates", len(input.Candidates)),
		slog.Int("selections", len(decision.Selections)),
		slog.Int("rejections", len(decision.Rejections)),
	)
	return decision, nil
}
