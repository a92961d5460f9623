package s3blob

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemWriter() *memWriter {
	return &memWriter{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (w *memWriter) Put(_ context.Context, path string, data []byte, contentType string) error {
	w.objects[path] = append([]byte(nil), data...)
	w.types[path] = contentType
	return nil
}

type stubPositions struct {
	closed []domain.Position
	cutoff time.Time
}

func (s *stubPositions) ListClosedBefore(_ context.Context, cutoff time.Time) ([]domain.Position, error) {
	s.cutoff = cutoff
	return s.closed, nil
}

type stubGames struct {
	events []domain.ExternalEvent
}

func (s *stubGames) Events() []domain.ExternalEvent { return s.events }

func TestArchiveOnceWritesPositionsAndFinishedGames(t *testing.T) {
	closedAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	positions := &stubPositions{closed: []domain.Position{
		{ID: "p1", ConditionID: "c1", Status: domain.PositionStatusClosed, ClosedAt: &closedAt},
		{ID: "p2", ConditionID: "c2", Status: domain.PositionStatusClosed, ClosedAt: &closedAt},
	}}
	games := &stubGames{events: []domain.ExternalEvent{
		{ID: "g1", Status: domain.GameStatusFinished},
		{ID: "g2", Status: domain.GameStatusLive}, // still running, not archived
	}}
	writer := newMemWriter()

	a := NewArchiver(writer, positions, games, time.Hour, 24*time.Hour, testLogger)
	now := time.Date(2026, 8, 31, 15, 30, 0, 0, time.UTC)
	require.NoError(t, a.archiveOnce(context.Background(), now))

	assert.Equal(t, now.Add(-24*time.Hour), positions.cutoff)
	require.Len(t, writer.objects, 2)

	posData, ok := writer.objects["positions/2026/08/31/positions-153000.jsonl"]
	require.True(t, ok)
	assert.Equal(t, 2, bytes.Count(posData, []byte("\n")))
	assert.Equal(t, "application/x-ndjson", writer.types["positions/2026/08/31/positions-153000.jsonl"])

	gameData, ok := writer.objects["games/2026/08/31/games-153000.jsonl"]
	require.True(t, ok)
	assert.Equal(t, 1, bytes.Count(gameData, []byte("\n")))
	assert.True(t, strings.Contains(string(gameData), `"g1"`))
	assert.False(t, strings.Contains(string(gameData), `"g2"`))
}

func TestArchiveOnceSkipsEmptyBatches(t *testing.T) {
	writer := newMemWriter()
	a := NewArchiver(writer, &stubPositions{}, &stubGames{}, time.Hour, 24*time.Hour, testLogger)

	require.NoError(t, a.archiveOnce(context.Background(), time.Now().UTC()))
	assert.Empty(t, writer.objects)
}
