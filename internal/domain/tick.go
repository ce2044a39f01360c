package domain

import "time"

// Tick is a single trade event as delivered by the feed. Timestamp is in
// milliseconds since the Unix epoch; Symbol is lowercased at the ingestion
// boundary.
type Tick struct {
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"ts"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
}

func (t Tick) Time() time.Time {
	return time.UnixMilli(t.Timestamp).UTC()
}
