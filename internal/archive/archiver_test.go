package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

type mockUploader struct {
	puts map[string]string // path -> body
	err  error
}

func (u *mockUploader) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if u.err != nil {
		return u.err
	}
	var buf bytes.Buffer
	buf.ReadFrom(data)
	if u.puts == nil {
		u.puts = map[string]string{}
	}
	u.puts[path] = buf.String()
	return nil
}

type mockTradeStore struct {
	terminal []domain.Trade
	deleted  bool
}

func (s *mockTradeStore) Create(context.Context, domain.Trade) error { return nil }
func (s *mockTradeStore) GetByID(context.Context, string) (domain.Trade, error) {
	return domain.Trade{}, domain.ErrNotFound
}
func (s *mockTradeStore) ListOpen(context.Context) ([]domain.Trade, error) { return nil, nil }
func (s *mockTradeStore) ListRecent(context.Context, int) ([]domain.Trade, error) {
	return nil, nil
}
func (s *mockTradeStore) ListByDateRange(context.Context, time.Time, time.Time) ([]domain.Trade, error) {
	return nil, nil
}
func (s *mockTradeStore) Settle(context.Context, string, domain.TradeStatus, float64, *float64, time.Time) error {
	return nil
}

func (s *mockTradeStore) ListTerminalBefore(context.Context, time.Time) ([]domain.Trade, error) {
	return s.terminal, nil
}

func (s *mockTradeStore) DeleteTerminalBefore(context.Context, time.Time) (int64, error) {
	s.deleted = true
	return int64(len(s.terminal)), nil
}

type mockStopLossStore struct {
	events  []domain.StopLossEvent
	deleted bool
}

func (s *mockStopLossStore) AppendEvent(context.Context, domain.StopLossEvent) error { return nil }
func (s *mockStopLossStore) CountEventsSince(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *mockStopLossStore) ListEventsBefore(context.Context, time.Time) ([]domain.StopLossEvent, error) {
	return s.events, nil
}

func (s *mockStopLossStore) DeleteEventsBefore(context.Context, time.Time) (int64, error) {
	s.deleted = true
	return int64(len(s.events)), nil
}

func (s *mockStopLossStore) GetConfig(context.Context) (domain.StopLossConfig, error) {
	return domain.StopLossConfig{}, nil
}
func (s *mockStopLossStore) Disable(context.Context) error { return nil }
func (s *mockStopLossStore) UpdateConfig(context.Context, domain.StopLossConfig) error {
	return nil
}

func TestRunArchivesThenDeletes(t *testing.T) {
	trades := &mockTradeStore{terminal: []domain.Trade{
		{ID: "t1", Ticker: "A", Status: domain.TradeStatusWon},
		{ID: "t2", Ticker: "B", Status: domain.TradeStatusLost},
	}}
	events := &mockStopLossStore{events: []domain.StopLossEvent{
		{ID: "e1", TradeID: "t3", Ticker: "C"},
	}}
	uploader := &mockUploader{}

	a := New(trades, events, uploader, 30*24*time.Hour, slog.New(slog.DiscardHandler))
	stats, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TradesArchived)
	assert.Equal(t, int64(1), stats.EventsArchived)
	assert.True(t, trades.deleted)
	assert.True(t, events.deleted)

	require.Len(t, uploader.puts, 2)
	for path, body := range uploader.puts {
		assert.True(t, strings.HasPrefix(path, "archive/"))
		assert.True(t, strings.HasSuffix(strings.TrimRight(body, "\n"), "}"), "JSON lines body")
	}
	var tradeBody string
	for path, body := range uploader.puts {
		if strings.Contains(path, "trades") {
			tradeBody = body
		}
	}
	assert.Equal(t, 2, strings.Count(tradeBody, "\n"), "one line per trade")
}

func TestRunUploadFailureLeavesRows(t *testing.T) {
	trades := &mockTradeStore{terminal: []domain.Trade{{ID: "t1"}}}
	events := &mockStopLossStore{}
	uploader := &mockUploader{err: errors.New("bucket unavailable")}

	a := New(trades, events, uploader, 0, slog.New(slog.DiscardHandler))
	_, err := a.Run(context.Background())
	require.Error(t, err)
	assert.False(t, trades.deleted, "rows survive a failed upload")
}

func TestRunNothingToArchive(t *testing.T) {
	a := New(&mockTradeStore{}, &mockStopLossStore{}, &mockUploader{}, 0, slog.New(slog.DiscardHandler))
	stats, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TradesArchived)
	assert.Zero(t, stats.EventsArchived)
}
