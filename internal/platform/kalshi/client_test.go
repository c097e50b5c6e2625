package kalshi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	c := NewClient(srv.URL, "test-key-id")
	require.NoError(t, c.SetRSAPrivateKey(pemBytes))
	c.SetRateLimit(1000) // no pacing in tests
	return c
}

func TestGetMarketsPagination(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("KALSHI-ACCESS-SIGNATURE"))
		assert.Equal(t, "test-key-id", r.Header.Get("KALSHI-ACCESS-KEY"))

		switch r.URL.Query().Get("cursor") {
		case "":
			w.Write([]byte(`{"markets":[{"ticker":"A-1"},{"ticker":"A-2"}],"cursor":"next"}`))
		case "next":
			w.Write([]byte(`{"markets":[{"ticker":"A-3"}],"cursor":""}`))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))

	markets, cursor, err := c.GetMarkets(context.Background(), "open", 200, "")
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "next", cursor)

	markets, cursor, err = c.GetMarkets(context.Background(), "open", 200, cursor)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Empty(t, cursor)
	assert.Equal(t, "A-3", markets[0].Ticker)
}

func TestRateLimitRetrySameRequest(t *testing.T) {
	var calls int
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"market":{"ticker":"KXBTC-24DEC31","yes_bid":93,"no_bid":5,"status":"open"}}`))
	}))

	m, err := c.GetMarket(context.Background(), "KXBTC-24DEC31")
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "rate-limited request must be re-sent, not skipped")
	assert.Equal(t, "KXBTC-24DEC31", m.Ticker)
}

func TestRateLimitExhaustsAttempts(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	c.SetMaxAttempts(2)

	_, err := c.GetBalance(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	var calls int
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":"unauthorized","message":"bad key"}`))
	}))

	_, err := c.GetBalance(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, 1, calls)
}

func TestToMarketNormalizesCents(t *testing.T) {
	m := Market{
		Ticker:         "KXFED-25SEP",
		Title:          "Will the Fed cut rates in September?",
		Status:         "open",
		YesBid:         93,
		YesAsk:         95,
		NoBid:          5,
		NoAsk:          7,
		Volume24H:      12_000,
		OpenInterest:   40_000,
		Liquidity:      5_000,
		ExpirationTime: "2025-09-18T18:00:00Z",
		Category:       "Economics",
	}

	out := m.ToMarket()
	assert.InDelta(t, 0.93, out.YesOdds, 1e-9)
	assert.InDelta(t, 0.05, out.NoOdds, 1e-9)
	assert.InDelta(t, 0.95, out.YesAsk, 1e-9)
	assert.False(t, out.Resolved)
	assert.Equal(t, 18, out.CloseTime.UTC().Hour())
	assert.InDelta(t, 0.02, out.Spread(), 1e-9)
}

func TestToMarketSettled(t *testing.T) {
	m := Market{
		Ticker:          "KXFED-25JUL",
		Status:          "settled",
		Result:          "yes",
		SettlementValue: 100,
		SettlementTime:  "2025-07-31T20:00:00Z",
		CloseTime:       "2025-07-31T18:00:00Z", // legacy field only
	}

	out := m.ToMarket()
	assert.True(t, out.Resolved)
	assert.Equal(t, domain.OutcomeYes, out.Outcome)
	require.NotNil(t, out.SettledPrice)
	assert.InDelta(t, 1.0, *out.SettledPrice, 1e-9)
	require.NotNil(t, out.SettledAt)
	assert.False(t, out.CloseTime.IsZero(), "close_time fallback must apply")
}

func TestOrderbookNormalization(t *testing.T) {
	ob := Orderbook{
		Yes: [][2]int64{{90, 100}, {93, 250}, {91, 50}},
		No:  [][2]int64{},
	}

	book := ob.ToOrderbook()
	best, ok := book.BestBid(domain.SideYes)
	require.True(t, ok)
	assert.InDelta(t, 0.93, best.Price, 1e-9)
	assert.EqualValues(t, 250, best.Contracts)
	assert.EqualValues(t, 400, book.Depth(domain.SideYes))

	_, ok = book.BestBid(domain.SideNo)
	assert.False(t, ok)
}
