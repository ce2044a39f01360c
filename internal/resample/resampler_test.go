package resample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xc0d3d00d/tickerd/internal/domain"
	"github.com/0xc0d3d00d/tickerd/internal/store"
)

func newTestResampler(t *testing.T, widths map[string]int) (*Resampler, *store.BarStore) {
	t.Helper()
	catalog, err := domain.NewCatalog(widths)
	require.NoError(t, err)
	bars := store.NewBarStore([]string{"btcusdt"}, catalog, 500)
	return New([]string{"btcusdt"}, catalog, bars), bars
}

func tick(tsMillis int64, price, size float64) domain.Tick {
	return domain.Tick{Symbol: "btcusdt", Timestamp: tsMillis, Price: price, Size: size}
}

func TestApplyFinalizesOnBucketAdvance(t *testing.T) {
	r, bars := newTestResampler(t, map[string]int{"1m": 60})

	assert.Empty(t, r.Apply(tick(0, 100, 1.5)))
	assert.Empty(t, r.Apply(tick(30_000, 102, 2.5)))

	finalized := r.Apply(tick(61_000, 99, 1))
	require.Len(t, finalized, 1)

	bar := finalized[0]
	assert.Equal(t, "btcusdt", bar.Symbol)
	assert.Equal(t, "1m", bar.Timeframe)
	assert.Equal(t, time.Unix(0, 0).UTC(), bar.Timestamp)
	assert.Equal(t, 100.0, bar.Open)
	assert.Equal(t, 102.0, bar.High)
	assert.Equal(t, 100.0, bar.Low)
	assert.Equal(t, 102.0, bar.Close)
	assert.Equal(t, 4.0, bar.Volume)
	assert.Equal(t, int64(2), bar.Trades)

	assert.Equal(t, finalized, bars.Bars("btcusdt", "1m"))
}

func TestApplyReseedsNewBucketWithTriggeringTick(t *testing.T) {
	r, _ := newTestResampler(t, map[string]int{"1m": 60})

	r.Apply(tick(0, 100, 1))
	r.Apply(tick(61_000, 105, 2))

	finalized := r.Apply(tick(121_000, 99, 1))
	require.Len(t, finalized, 1)

	// The tick at t=61s must have opened the second bucket alone.
	bar := finalized[0]
	assert.Equal(t, time.Unix(60, 0).UTC(), bar.Timestamp)
	assert.Equal(t, 105.0, bar.Open)
	assert.Equal(t, 105.0, bar.Close)
	assert.Equal(t, int64(1), bar.Trades)
	assert.Equal(t, 2.0, bar.Volume)
}

func TestApplyEmitsOneBarPerVisitedBucketMinusOne(t *testing.T) {
	r, bars := newTestResampler(t, map[string]int{"1m": 60})

	buckets := []int64{0, 60, 120, 300}
	total := 0
	for _, b := range buckets {
		total += len(r.Apply(tick(b*1000, 100, 1)))
	}

	assert.Equal(t, len(buckets)-1, total)
	assert.Len(t, bars.Bars("btcusdt", "1m"), len(buckets)-1)
}

func TestApplyEmptyBucketsEmitNothing(t *testing.T) {
	r, _ := newTestResampler(t, map[string]int{"1m": 60})

	r.Apply(tick(0, 100, 1))
	// Buckets 1..4 have no trades; advancing straight to bucket 5 closes
	// only the open bucket.
	finalized := r.Apply(tick(301_000, 101, 1))
	require.Len(t, finalized, 1)
	assert.Equal(t, time.Unix(0, 0).UTC(), finalized[0].Timestamp)
}

func TestApplyLateTickFoldsIntoOpenBucket(t *testing.T) {
	r, _ := newTestResampler(t, map[string]int{"1m": 60})

	r.Apply(tick(0, 100, 1))
	r.Apply(tick(61_000, 105, 1))
	// Late arrival for the already-closed first bucket.
	assert.Empty(t, r.Apply(tick(30_000, 90, 1)))

	finalized := r.Apply(tick(121_000, 99, 1))
	require.Len(t, finalized, 1)

	// The late tick was folded into the open bucket, not the closed bar.
	bar := finalized[0]
	assert.Equal(t, time.Unix(60, 0).UTC(), bar.Timestamp)
	assert.Equal(t, int64(2), bar.Trades)
	assert.Equal(t, 90.0, bar.Low)
	assert.Equal(t, 90.0, bar.Close)
}

func TestApplyEvaluatesEveryTimeframeIndependently(t *testing.T) {
	r, bars := newTestResampler(t, map[string]int{"1s": 1, "1m": 60})

	r.Apply(tick(0, 100, 1))
	r.Apply(tick(1_500, 101, 1))
	finalized := r.Apply(tick(61_000, 102, 1))

	// The last tick closes a 1s bucket and the 1m bucket.
	assert.Len(t, finalized, 2)
	assert.Len(t, bars.Bars("btcusdt", "1s"), 2)
	assert.Len(t, bars.Bars("btcusdt", "1m"), 1)
}

func TestApplyBarInvariants(t *testing.T) {
	r, _ := newTestResampler(t, map[string]int{"1m": 60})

	prices := []float64{101, 99, 104, 98, 103}
	for i, p := range prices {
		r.Apply(tick(int64(i)*1000, p, 1))
	}
	finalized := r.Apply(tick(61_000, 100, 1))
	require.Len(t, finalized, 1)

	bar := finalized[0]
	assert.LessOrEqual(t, bar.Low, bar.Open)
	assert.LessOrEqual(t, bar.Low, bar.Close)
	assert.GreaterOrEqual(t, bar.High, bar.Open)
	assert.GreaterOrEqual(t, bar.High, bar.Close)
	assert.Equal(t, int64(len(prices)), bar.Trades)
	assert.Equal(t, 98.0, bar.Low)
	assert.Equal(t, 104.0, bar.High)
	assert.Equal(t, 101.0, bar.Open)
	assert.Equal(t, 103.0, bar.Close)
}

func TestApplyIgnoresUnregisteredSymbols(t *testing.T) {
	r, bars := newTestResampler(t, map[string]int{"1m": 60})

	unknown := domain.Tick{Symbol: "dogeusdt", Timestamp: 0, Price: 1, Size: 1}
	assert.Empty(t, r.Apply(unknown))
	assert.Empty(t, bars.Bars("dogeusdt", "1m"))
}
