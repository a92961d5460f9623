package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// PositionArchiveSource is the narrow read surface the archiver needs from
// the position store.
type PositionArchiveSource interface {
	ListClosedBefore(ctx context.Context, cutoff time.Time) ([]domain.Position, error)
}

// GameArchiveSource supplies finished games still held in memory by the
// game feed.
type GameArchiveSource interface {
	Events() []domain.ExternalEvent
}

// Archiver periodically exports closed positions and finished games to cold
// storage as JSONL. It never deletes from the primary store; retention there
// is the operator's call after archives are verified.
type Archiver struct {
	writer    domain.BlobWriter
	positions PositionArchiveSource
	games     GameArchiveSource
	interval  time.Duration
	retainFor time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. games may be nil when no game feed runs.
func NewArchiver(writer domain.BlobWriter, positions PositionArchiveSource, games GameArchiveSource, interval, retainFor time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = time.Hour
	}
	if retainFor <= 0 {
		retainFor = 24 * time.Hour
	}
	return &Archiver{
		writer:    writer,
		positions: positions,
		games:     games,
		interval:  interval,
		retainFor: retainFor,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run archives on a fixed schedule until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.archiveOnce(ctx, time.Now().UTC()); err != nil {
				a.logger.Warn("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archiveOnce exports everything older than the retention window.
func (a *Archiver) archiveOnce(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-a.retainFor)

	positions, err := a.positions.ListClosedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("s3blob: list closed positions: %w", err)
	}
	if len(positions) > 0 {
		records := make([]any, len(positions))
		for i, p := range positions {
			records[i] = p
		}
		path := archivePath("positions", now)
		if err := a.putJSONL(ctx, path, records); err != nil {
			return err
		}
		a.logger.Info("positions archived",
			slog.Int("count", len(positions)),
			slog.String("path", path))
	}

	if a.games != nil {
		var finished []any
		for _, ev := range a.games.Events() {
			if ev.Status == domain.GameStatusFinished {
				finished = append(finished, ev)
			}
		}
		if len(finished) > 0 {
			path := archivePath("games", now)
			if err := a.putJSONL(ctx, path, finished); err != nil {
				return err
			}
			a.logger.Info("games archived",
				slog.Int("count", len(finished)),
				slog.String("path", path))
		}
	}
	return nil
}

// putJSONL serializes records one JSON object per line and uploads the blob.
func (a *Archiver) putJSONL(ctx context.Context, path string, records []any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("s3blob: encode archive record: %w", err)
		}
	}
	return a.writer.Put(ctx, path, buf.Bytes(), "application/x-ndjson")
}

// archivePath builds a date-partitioned object key, e.g.
// "positions/2026/08/31/positions-153000.jsonl".
func archivePath(kind string, now time.Time) string {
	return fmt.Sprintf("%s/%s/%s-%s.jsonl",
		kind, now.Format("2006/01/02"), kind, now.Format("150405"))
}
