package domain

import "time"

// Bar is a finalized OHLC aggregate over one time bucket. Timestamp is the
// bucket start instant in UTC and is always a multiple of the timeframe
// width. Bars are created once by the resampler and immutable afterwards.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Trades    int64     `json:"trades"`
}
