package storage

import (
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/0xc0d3d00d/tickerd/internal/domain"
)

const barByteSize = 57

var ErrBarNotWritten = errors.New("bar not written")

func encodeBar(bar *domain.Bar) []byte {
	buf := make([]byte, barByteSize)

	timestamp := bar.Timestamp.UnixNano()

	binary.LittleEndian.PutUint64(buf, uint64(timestamp))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(bar.Open))
	binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(bar.High))
	binary.LittleEndian.PutUint64(buf[24:], math.Float64bits(bar.Low))
	binary.LittleEndian.PutUint64(buf[32:], math.Float64bits(bar.Close))
	binary.LittleEndian.PutUint64(buf[40:], math.Float64bits(bar.Volume))
	binary.LittleEndian.PutUint64(buf[48:], uint64(bar.Trades))
	// indicates the bar is written
	buf[56] = 1

	return buf
}

func decodeBar(buf []byte, bar *domain.Bar) error {
	if len(buf) != barByteSize {
		return errors.New("invalid buffer size")
	}
	if buf[56] == 0 {
		return ErrBarNotWritten
	}

	timestamp := binary.LittleEndian.Uint64(buf[:8])
	bar.Timestamp = time.Unix(0, int64(timestamp)).UTC()
	bar.Open = math.Float64frombits(binary.LittleEndian.Uint64(buf[8:16]))
	bar.High = math.Float64frombits(binary.LittleEndian.Uint64(buf[16:24]))
	bar.Low = math.Float64frombits(binary.LittleEndian.Uint64(buf[24:32]))
	bar.Close = math.Float64frombits(binary.LittleEndian.Uint64(buf[32:40]))
	bar.Volume = math.Float64frombits(binary.LittleEndian.Uint64(buf[40:48]))
	bar.Trades = int64(binary.LittleEndian.Uint64(buf[48:56]))

	return nil
}
