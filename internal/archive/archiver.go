// Package archive moves settled history out of Postgres into cold storage.
// Terminal trades and stop-loss events older than the retention window are
// written to S3 as JSON lines and then deleted; the hot tables stay small
// enough that the sweeps scanning them never slow down.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// Uploader is the slice of the blob layer the archiver needs.
type Uploader interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

const defaultRetention = 90 * 24 * time.Hour

// Stats reports one archiving run.
type Stats struct {
	TradesArchived int64 `json:"trades_archived"`
	EventsArchived int64 `json:"events_archived"`
}

// Archiver snapshots aged terminal rows to blob storage before deletion.
type Archiver struct {
	trades    domain.TradeStore
	events    domain.StopLossStore
	uploader  Uploader
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Archiver. A non-positive retention falls back to 90 days.
func New(trades domain.TradeStore, events domain.StopLossStore, uploader Uploader, retention time.Duration, logger *slog.Logger) *Archiver {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Archiver{
		trades:    trades,
		events:    events,
		uploader:  uploader,
		retention: retention,
		logger:    logger.With(slog.String("component", "archive")),
		now:       time.Now,
	}
}

// Run archives and deletes rows older than the retention cutoff. Deletion
// only happens after the corresponding upload succeeded, so a failed run
// leaves everything in place for the next attempt.
func (a *Archiver) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	cutoff := a.now().UTC().Add(-a.retention)
	stamp := a.now().UTC().Format("2006-01-02")

	trades, err := a.trades.ListTerminalBefore(ctx, cutoff)
	if err != nil {
		return stats, fmt.Errorf("archive: list terminal trades: %w", err)
	}
	if len(trades) > 0 {
		path := fmt.Sprintf("archive/trades/%s.jsonl", stamp)
		if err := a.upload(ctx, path, toLines(trades)); err != nil {
			return stats, fmt.Errorf("archive: upload trades: %w", err)
		}
		deleted, err := a.trades.DeleteTerminalBefore(ctx, cutoff)
		if err != nil {
			return stats, fmt.Errorf("archive: delete trades: %w", err)
		}
		stats.TradesArchived = deleted
	}

	events, err := a.events.ListEventsBefore(ctx, cutoff)
	if err != nil {
		return stats, fmt.Errorf("archive: list stop-loss events: %w", err)
	}
	if len(events) > 0 {
		path := fmt.Sprintf("archive/stop_loss_events/%s.jsonl", stamp)
		if err := a.upload(ctx, path, toLines(events)); err != nil {
			return stats, fmt.Errorf("archive: upload events: %w", err)
		}
		deleted, err := a.events.DeleteEventsBefore(ctx, cutoff)
		if err != nil {
			return stats, fmt.Errorf("archive: delete events: %w", err)
		}
		stats.EventsArchived = deleted
	}

	a.logger.Info("archive run complete",
		slog.Int64("trades", stats.TradesArchived),
		slog.Int64("events", stats.EventsArchived),
		slog.Time("cutoff", cutoff),
	)
	return stats, nil
}

func (a *Archiver) upload(ctx context.Context, path string, body []byte) error {
	return a.uploader.Put(ctx, path, bytes.NewReader(body), "application/x-ndjson")
}

// toLines renders a slice as JSON lines, one row per line.
func toLines[T any](rows []T) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		_ = enc.Encode(row)
	}
	return buf.Bytes()
}
