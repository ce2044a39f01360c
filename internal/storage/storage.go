package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/0xc0d3d00d/tickerd/internal/domain"
)

const (
	oneWeek = time.Hour * 24 * 7
	openRW  = os.O_RDWR
)

type timeRange struct {
	from time.Time
	to   time.Time
}

func (tr timeRange) contains(t time.Time) bool {
	return !tr.from.After(t) && tr.to.After(t)
}

func (t1 timeRange) intersects(t2 timeRange) bool {
	return t1.from.Before(t2.to) && t2.from.Before(t1.to)
}

type seriesKey struct {
	symbol    string
	timeframe string
}

type barFileKey struct {
	seriesKey seriesKey
	timeRange timeRange
}

// Archive persists finalized bars in fixed-width binary records, one chunk
// file per (symbol, timeframe) and time range, with a write-ahead log of
// upserts. A record's slot within its file is derived from the bucket
// timestamp, so rewrites of the same bucket are idempotent.
type Archive struct {
	fs          afero.Fs
	dataDir     string
	walDir      string
	catalog     *domain.Catalog
	currentWal  afero.File
	disableWal  bool
	barFiles    map[barFileKey]afero.File
	barFilesMu  *sync.RWMutex
	seriesIndex map[seriesKey][]timeRange
	chunkBars   int
}

// Layout under the root directory:
//
//	wal/0000000001.wal
//	data/<symbol>_<timeframe>/<fromMicros>_<toMicros>.bin
func NewArchive(rootDir string, catalog *domain.Catalog, chunkBars int) (*Archive, error) {
	return newArchive(afero.NewOsFs(), rootDir, catalog, chunkBars)
}

func newArchive(fs afero.Fs, rootDir string, catalog *domain.Catalog, chunkBars int) (*Archive, error) {
	walDir := path.Join(rootDir, "wal")
	dataDir := path.Join(rootDir, "data")

	for _, dir := range []string{walDir, dataDir} {
		exists, err := afero.DirExists(fs, dir)
		if err != nil {
			return nil, err
		}
		if !exists {
			if err := fs.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
	}

	currentWal, err := openCurrentWal(fs, walDir)
	if err != nil {
		return nil, err
	}

	barFiles, err := openBarFiles(fs, dataDir, catalog)
	if err != nil {
		return nil, err
	}

	seriesIndex := make(map[seriesKey][]timeRange)
	for fileKey := range barFiles {
		seriesIndex[fileKey.seriesKey] = append(seriesIndex[fileKey.seriesKey], fileKey.timeRange)
	}
	for _, ranges := range seriesIndex {
		sort.Slice(ranges, func(i, j int) bool {
			return ranges[i].from.Before(ranges[j].from)
		})
	}

	return &Archive{
		fs:          fs,
		dataDir:     dataDir,
		walDir:      walDir,
		catalog:     catalog,
		currentWal:  currentWal,
		barFiles:    barFiles,
		barFilesMu:  &sync.RWMutex{},
		seriesIndex: seriesIndex,
		chunkBars:   chunkBars,
	}, nil
}

func openCurrentWal(fs afero.Fs, walDir string) (afero.File, error) {
	wals, err := afero.ReadDir(fs, walDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read wal directory: %w", err)
	}

	if len(wals) == 0 {
		walFile, err := fs.Create(path.Join(walDir, fmt.Sprintf("%010d.wal", 1)))
		if err != nil {
			return nil, fmt.Errorf("failed to create wal file: %w", err)
		}
		return walFile, nil
	}

	last := wals[len(wals)-1]
	walFile, err := fs.OpenFile(path.Join(walDir, last.Name()), openRW, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open wal `%s`: %w", last.Name(), err)
	}
	return walFile, nil
}

func openBarFiles(fs afero.Fs, dataDir string, catalog *domain.Catalog) (map[barFileKey]afero.File, error) {
	seriesDirs, err := afero.ReadDir(fs, dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	barFiles := make(map[barFileKey]afero.File)
	for _, seriesDir := range seriesDirs {
		keyParts := strings.Split(seriesDir.Name(), "_")
		if len(keyParts) != 2 {
			slog.Warn("skipping unrecognized series directory", "name", seriesDir.Name())
			continue
		}

		symbol := keyParts[0]
		tf, err := catalog.ParseTimeframe(keyParts[1])
		if err != nil {
			// Series for timeframes removed from the catalog stay on disk
			// untouched.
			slog.Warn("skipping series with unknown timeframe", "name", seriesDir.Name())
			continue
		}

		dirPath := path.Join(dataDir, seriesDir.Name())
		chunks, err := afero.ReadDir(fs, dirPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read series directory: %w", err)
		}

		for _, chunk := range chunks {
			chunkName := strings.TrimSuffix(chunk.Name(), path.Ext(chunk.Name()))
			rangeParts := strings.Split(chunkName, "_")
			if len(rangeParts) != 2 {
				slog.Warn("skipping unrecognized chunk file", "name", chunk.Name())
				continue
			}

			from, err := strconv.ParseInt(rangeParts[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse chunk start: %w", err)
			}
			to, err := strconv.ParseInt(rangeParts[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse chunk end: %w", err)
			}

			barFile, err := fs.OpenFile(path.Join(dirPath, chunk.Name()), openRW, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open chunk file: %w", err)
			}

			key := barFileKey{
				seriesKey: seriesKey{symbol: symbol, timeframe: tf.Name},
				timeRange: timeRange{
					from: time.UnixMicro(from).UTC(),
					to:   time.UnixMicro(to).UTC(),
				},
			}
			barFiles[key] = barFile
		}
	}

	return barFiles, nil
}

// Insert persists one finalized bar. Bars for timeframes outside the
// catalog are an error; inserting the same bucket twice overwrites in
// place.
func (a *Archive) Insert(ctx context.Context, bar domain.Bar) error {
	tf, err := a.catalog.ParseTimeframe(bar.Timeframe)
	if err != nil {
		return fmt.Errorf("%w: %s", err, bar.Timeframe)
	}

	bar.Timestamp = tf.BucketStart(bar.Timestamp)
	fileKey := barFileKey{
		seriesKey: seriesKey{symbol: bar.Symbol, timeframe: tf.Name},
		timeRange: a.chunkRangeFor(tf, bar.Timestamp),
	}

	a.barFilesMu.Lock()
	defer a.barFilesMu.Unlock()

	barFile, ok := a.barFiles[fileKey]
	if !ok {
		barFile, err = a.allocateChunk(ctx, fileKey)
		if err != nil {
			return err
		}
	}

	offset := int64(bar.Timestamp.Sub(fileKey.timeRange.from) / tf.Width)

	if err := a.writeBarUpsert(fileKey, &bar, offset, false); err != nil {
		return err
	}

	n, err := barFile.Seek(offset*barByteSize, io.SeekStart)
	if n != offset*barByteSize && err == nil {
		return fmt.Errorf("failed to seek to bar slot: %w", io.ErrShortWrite)
	}
	if err != nil {
		return err
	}

	written, err := barFile.Write(encodeBar(&bar))
	if written != barByteSize && err == nil {
		err = io.ErrShortWrite
	}
	if err != nil {
		return err
	}

	return a.writeBarUpsert(fileKey, &bar, offset, true)
}

// Query returns every stored bar for the series sorted by timestamp
// ascending. An unknown series yields an empty result, not an error.
func (a *Archive) Query(ctx context.Context, symbol, timeframe string) ([]domain.Bar, error) {
	return a.QueryRange(ctx, symbol, timeframe, time.Time{}, maxTime)
}

// QueryRange returns the series' bars whose bucket start falls within
// [from, to), sorted by timestamp ascending.
func (a *Archive) QueryRange(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]domain.Bar, error) {
	key := seriesKey{symbol: symbol, timeframe: timeframe}
	selectRange := timeRange{from: from, to: to}

	a.barFilesMu.RLock()
	defer a.barFilesMu.RUnlock()

	var ranges []timeRange
	for _, tr := range a.seriesIndex[key] {
		if tr.intersects(selectRange) {
			ranges = append(ranges, tr)
		}
	}

	bars := make([]domain.Bar, 0, a.chunkBars*len(ranges))
	for _, tr := range ranges {
		chunkBars, err := a.readChunk(ctx, barFileKey{seriesKey: key, timeRange: tr}, from, to)
		if err != nil {
			return nil, err
		}
		bars = append(bars, chunkBars...)
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})

	slog.DebugContext(ctx, "queried bars", "symbol", symbol, "timeframe", timeframe, "count", len(bars))
	return bars, nil
}

func (a *Archive) readChunk(ctx context.Context, key barFileKey, from, to time.Time) ([]domain.Bar, error) {
	barFile := a.barFiles[key]
	if barFile == nil {
		return nil, nil
	}

	slots, err := a.slotsFor(key)
	if err != nil {
		return nil, err
	}

	if _, err := barFile.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to chunk start: %w", err)
	}

	encoded := make([]byte, slots*barByteSize)
	if _, err := io.ReadFull(barFile, encoded); err != nil {
		return nil, fmt.Errorf("failed to read chunk file: %w", err)
	}

	bars := make([]domain.Bar, 0, slots)
	for i := 0; i < slots; i++ {
		var bar domain.Bar
		err := decodeBar(encoded[i*barByteSize:(i+1)*barByteSize], &bar)
		if err == ErrBarNotWritten {
			continue
		}
		if err != nil {
			return nil, err
		}

		if bar.Timestamp.Before(from) || !bar.Timestamp.Before(to) {
			continue
		}

		bar.Symbol = key.seriesKey.symbol
		bar.Timeframe = key.seriesKey.timeframe
		bars = append(bars, bar)
	}

	return bars, nil
}

// allocateChunk creates a zero-filled chunk file and registers it in the
// series index. Caller holds barFilesMu.
func (a *Archive) allocateChunk(ctx context.Context, key barFileKey) (afero.File, error) {
	seriesDir := path.Join(a.dataDir, fmt.Sprintf("%s_%s", key.seriesKey.symbol, key.seriesKey.timeframe))
	filename := path.Join(
		seriesDir,
		fmt.Sprintf("%d_%d.bin", key.timeRange.from.UnixMicro(), key.timeRange.to.UnixMicro()),
	)
	slog.DebugContext(ctx, "allocating chunk", "file", filename)

	exists, err := afero.DirExists(a.fs, seriesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to check series directory: %w", err)
	}
	if !exists {
		if err := a.fs.MkdirAll(seriesDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create series directory: %w", err)
		}
	}

	barFile, err := a.fs.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk file: %w", err)
	}

	slots, err := a.slotsFor(key)
	if err != nil {
		return nil, err
	}

	zeros := make([]byte, barByteSize)
	for i := 0; i < slots; i++ {
		n, err := barFile.Write(zeros)
		if n != barByteSize && err == nil {
			err = io.ErrShortWrite
		}
		if err != nil {
			return nil, fmt.Errorf("failed to zero-fill chunk file: %w", err)
		}
	}

	a.barFiles[key] = barFile
	a.seriesIndex[key.seriesKey] = append(a.seriesIndex[key.seriesKey], key.timeRange)
	sort.Slice(a.seriesIndex[key.seriesKey], func(i, j int) bool {
		return a.seriesIndex[key.seriesKey][i].from.Before(a.seriesIndex[key.seriesKey][j].from)
	})

	return barFile, nil
}

// slotsFor returns the number of bar slots a chunk file holds. For spans
// derived from chunkBars this is exactly chunkBars; yearly chunks hold one
// slot per bucket in the year.
func (a *Archive) slotsFor(key barFileKey) (int, error) {
	tf, err := a.catalog.ParseTimeframe(key.seriesKey.timeframe)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", err, key.seriesKey.timeframe)
	}
	return int(key.timeRange.to.Sub(key.timeRange.from) / tf.Width), nil
}

// chunkRangeFor returns the time range of the chunk file holding the given
// bucket timestamp. Coarse timeframes are chunked by calendar year.
func (a *Archive) chunkRangeFor(tf domain.Timeframe, timestamp time.Time) timeRange {
	chunkSpan := tf.Width * time.Duration(a.chunkBars)
	if chunkSpan > oneWeek {
		return timeRange{
			from: time.Date(timestamp.Year(), 1, 1, 0, 0, 0, 0, time.UTC),
			to:   time.Date(timestamp.Year()+1, 1, 1, 0, 0, 0, 0, time.UTC),
		}
	}

	// Epoch-aligned, matching the resampler's bucket boundaries.
	spanSec := int64(chunkSpan / time.Second)
	from := time.Unix(timestamp.Unix()/spanSec*spanSec, 0).UTC()
	return timeRange{from: from, to: from.Add(chunkSpan)}
}

var maxTime = time.Unix(1<<62, 0)
