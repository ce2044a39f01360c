package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/0xc0d3d00d/tickerd/internal/domain"
)

// upsertBarLog records the intent to write a bar (written=false) and its
// completion (written=true). Pairs with a missing completion record mark
// slots that may hold torn writes.
type upsertBarLog struct {
	timestamp time.Time
	fileKey   barFileKey
	bar       *domain.Bar
	offset    int64
	written   bool
}

func encodeUpsertBarLog(log upsertBarLog) ([]byte, error) {
	symbolLen := len(log.fileKey.seriesKey.symbol)
	timeframeLen := len(log.fileKey.seriesKey.timeframe)
	logSize := 8 + // timestamp
		2 + symbolLen +
		2 + timeframeLen +
		8 + // timeRange.from
		8 + // timeRange.to
		barByteSize +
		8 + // offset
		1 // written
	buf := make([]byte, logSize)

	binary.LittleEndian.PutUint64(buf, uint64(log.timestamp.UnixNano()))
	pos := 8

	binary.LittleEndian.PutUint16(buf[pos:], uint16(symbolLen))
	pos += 2
	if n := copy(buf[pos:], log.fileKey.seriesKey.symbol); n != symbolLen {
		return nil, io.ErrShortWrite
	}
	pos += symbolLen

	binary.LittleEndian.PutUint16(buf[pos:], uint16(timeframeLen))
	pos += 2
	if n := copy(buf[pos:], log.fileKey.seriesKey.timeframe); n != timeframeLen {
		return nil, io.ErrShortWrite
	}
	pos += timeframeLen

	binary.LittleEndian.PutUint64(buf[pos:], uint64(log.fileKey.timeRange.from.UnixNano()))
	pos += 8
	binary.LittleEndian.PutUint64(buf[pos:], uint64(log.fileKey.timeRange.to.UnixNano()))
	pos += 8

	if n := copy(buf[pos:], encodeBar(log.bar)); n != barByteSize {
		return nil, fmt.Errorf("failed to encode bar into wal log: %w", io.ErrShortWrite)
	}
	pos += barByteSize

	binary.LittleEndian.PutUint64(buf[pos:], uint64(log.offset))
	pos += 8

	if log.written {
		buf[pos] = 1
	}

	return buf, nil
}

func (a *Archive) writeBarUpsert(fileKey barFileKey, bar *domain.Bar, offset int64, written bool) error {
	if a.disableWal {
		return nil
	}

	log := upsertBarLog{
		timestamp: time.Now(),
		fileKey:   fileKey,
		bar:       bar,
		offset:    offset,
		written:   written,
	}
	encodedLog, err := encodeUpsertBarLog(log)
	if err != nil {
		return err
	}
	logLength := len(encodedLog)

	if _, err := a.currentWal.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	if err := binary.Write(a.currentWal, binary.LittleEndian, uint64(logLength)); err != nil {
		return err
	}

	n, err := a.currentWal.Write(encodedLog)
	if n != logLength && err == nil {
		return io.ErrShortWrite
	}
	return err
}
