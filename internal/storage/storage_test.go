package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xc0d3d00d/tickerd/internal/domain"
)

func testCatalog(t *testing.T) *domain.Catalog {
	t.Helper()
	catalog, err := domain.NewCatalog(map[string]int{"1s": 1, "1m": 60})
	require.NoError(t, err)
	return catalog
}

func testBar(bucket int64, open, close float64) domain.Bar {
	return domain.Bar{
		Symbol:    "btcusdt",
		Timeframe: "1m",
		Timestamp: time.Unix(bucket, 0).UTC(),
		Open:      open,
		High:      open + 1,
		Low:       open - 1,
		Close:     close,
		Volume:    3.5,
		Trades:    7,
	}
}

func TestArchiveInsertAndQueryRoundTrip(t *testing.T) {
	ctx := context.Background()
	archive, err := NewArchive(t.TempDir(), testCatalog(t), 16)
	require.NoError(t, err)

	require.NoError(t, archive.Insert(ctx, testBar(120, 101, 102)))
	require.NoError(t, archive.Insert(ctx, testBar(0, 100, 101)))
	require.NoError(t, archive.Insert(ctx, testBar(60, 99, 100)))

	bars, err := archive.Query(ctx, "btcusdt", "1m")
	require.NoError(t, err)
	require.Len(t, bars, 3)

	// Sorted by timestamp ascending regardless of insertion order.
	assert.Equal(t, time.Unix(0, 0).UTC(), bars[0].Timestamp)
	assert.Equal(t, time.Unix(60, 0).UTC(), bars[1].Timestamp)
	assert.Equal(t, time.Unix(120, 0).UTC(), bars[2].Timestamp)

	assert.Equal(t, 100.0, bars[0].Open)
	assert.Equal(t, 101.0, bars[0].Close)
	assert.Equal(t, 3.5, bars[0].Volume)
	assert.Equal(t, int64(7), bars[0].Trades)
	assert.Equal(t, "btcusdt", bars[0].Symbol)
	assert.Equal(t, "1m", bars[0].Timeframe)
}

func TestArchiveQueryUnknownSeriesIsEmpty(t *testing.T) {
	ctx := context.Background()
	archive, err := NewArchive(t.TempDir(), testCatalog(t), 16)
	require.NoError(t, err)

	bars, err := archive.Query(ctx, "dogeusdt", "1m")
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestArchiveInsertUnknownTimeframeFails(t *testing.T) {
	archive, err := NewArchive(t.TempDir(), testCatalog(t), 16)
	require.NoError(t, err)

	bar := testBar(0, 100, 100)
	bar.Timeframe = "3m"
	err = archive.Insert(context.Background(), bar)
	assert.ErrorIs(t, err, domain.ErrInvalidTimeframe)
}

func TestArchiveReInsertOverwritesSlot(t *testing.T) {
	ctx := context.Background()
	archive, err := NewArchive(t.TempDir(), testCatalog(t), 16)
	require.NoError(t, err)

	require.NoError(t, archive.Insert(ctx, testBar(0, 100, 101)))
	require.NoError(t, archive.Insert(ctx, testBar(0, 200, 201)))

	bars, err := archive.Query(ctx, "btcusdt", "1m")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 200.0, bars[0].Open)
}

func TestArchiveQueryRangeBounds(t *testing.T) {
	ctx := context.Background()
	archive, err := NewArchive(t.TempDir(), testCatalog(t), 16)
	require.NoError(t, err)

	for _, bucket := range []int64{0, 60, 120, 180} {
		require.NoError(t, archive.Insert(ctx, testBar(bucket, 100, 100)))
	}

	bars, err := archive.QueryRange(ctx, "btcusdt", "1m",
		time.Unix(60, 0).UTC(), time.Unix(180, 0).UTC())
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Unix(60, 0).UTC(), bars[0].Timestamp)
	assert.Equal(t, time.Unix(120, 0).UTC(), bars[1].Timestamp)
}

func TestArchiveSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	catalog := testCatalog(t)

	archive, err := NewArchive(dir, catalog, 16)
	require.NoError(t, err)
	require.NoError(t, archive.Insert(ctx, testBar(0, 100, 101)))
	require.NoError(t, archive.Insert(ctx, testBar(60, 101, 102)))

	reopened, err := NewArchive(dir, catalog, 16)
	require.NoError(t, err)

	bars, err := reopened.Query(ctx, "btcusdt", "1m")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 100.0, bars[0].Open)
	assert.Equal(t, 102.0, bars[1].Close)
}

func TestArchiveSpansMultipleChunks(t *testing.T) {
	ctx := context.Background()
	archive, err := NewArchive(t.TempDir(), testCatalog(t), 16)
	require.NoError(t, err)

	// chunk span is 16 minutes for the 1m series; these land in different
	// chunk files.
	require.NoError(t, archive.Insert(ctx, testBar(0, 100, 100)))
	require.NoError(t, archive.Insert(ctx, testBar(16*60, 200, 200)))

	bars, err := archive.Query(ctx, "btcusdt", "1m")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 100.0, bars[0].Open)
	assert.Equal(t, 200.0, bars[1].Open)
}
