package resample

import (
	"time"

	"github.com/0xc0d3d00d/tickerd/internal/domain"
	"github.com/0xc0d3d00d/tickerd/internal/store"
)

type seriesKey struct {
	symbol    string
	timeframe string
}

// accumulator holds the ticks of the currently open bucket for one
// (symbol, timeframe) series.
type accumulator struct {
	bucketStart int64 // unix seconds
	ticks       []domain.Tick
}

// Resampler buckets an ordered tick stream into fixed-width windows, one
// accumulator per (symbol, timeframe). It is single-writer: Apply must only
// be called from the ingestion goroutine, in arrival order. Bucket
// advancement is detected per timeframe independently; a window with no
// ticks never emits a bar.
type Resampler struct {
	catalog *domain.Catalog
	bars    *store.BarStore
	accs    map[seriesKey]*accumulator
}

func New(symbols []string, catalog *domain.Catalog, bars *store.BarStore) *Resampler {
	accs := make(map[seriesKey]*accumulator, len(symbols)*len(catalog.Timeframes()))
	for _, symbol := range symbols {
		for _, tf := range catalog.Timeframes() {
			accs[seriesKey{symbol: symbol, timeframe: tf.Name}] = &accumulator{}
		}
	}
	return &Resampler{
		catalog: catalog,
		bars:    bars,
		accs:    accs,
	}
}

// Apply evaluates the tick against every timeframe in the catalog and
// returns the bars it finalized, if any. A tick whose bucket is strictly
// later than the open bucket closes it: the emitted bar covers the
// accumulated ticks excluding the new one, and the new tick seeds the next
// bucket. A tick with an older bucket (late arrival) folds into the open
// accumulator; closed bars are never reopened.
func (r *Resampler) Apply(tick domain.Tick) []domain.Bar {
	var finalized []domain.Bar

	for _, tf := range r.catalog.Timeframes() {
		acc, ok := r.accs[seriesKey{symbol: tick.Symbol, timeframe: tf.Name}]
		if !ok {
			continue
		}

		bucket := tf.BucketStart(tick.Time()).Unix()

		if len(acc.ticks) == 0 {
			acc.bucketStart = bucket
			acc.ticks = append(acc.ticks, tick)
			continue
		}

		acc.ticks = append(acc.ticks, tick)
		if bucket <= acc.bucketStart {
			continue
		}

		bar := buildBar(tick.Symbol, tf.Name, acc.bucketStart, acc.ticks[:len(acc.ticks)-1])
		r.bars.Add(bar)
		finalized = append(finalized, bar)

		acc.bucketStart = bucket
		acc.ticks = acc.ticks[:0]
		acc.ticks = append(acc.ticks, tick)
	}

	return finalized
}

func buildBar(symbol, timeframe string, bucketStart int64, ticks []domain.Tick) domain.Bar {
	bar := domain.Bar{
		Symbol:    symbol,
		Timeframe: timeframe,
		Timestamp: time.Unix(bucketStart, 0).UTC(),
		Open:      ticks[0].Price,
		High:      ticks[0].Price,
		Low:       ticks[0].Price,
		Close:     ticks[len(ticks)-1].Price,
		Trades:    int64(len(ticks)),
	}

	for _, t := range ticks {
		if t.Price > bar.High {
			bar.High = t.Price
		}
		if t.Price < bar.Low {
			bar.Low = t.Price
		}
		bar.Volume += t.Size
	}

	return bar
}
