package domain

import (
	"fmt"
	"sort"
	"time"
)

// Timeframe is a named fixed bucket width used for aggregation.
type Timeframe struct {
	Name  string
	Width time.Duration
}

func (tf Timeframe) String() string {
	return tf.Name
}

// BucketStart returns the start of the bucket containing t, aligned to the
// Unix epoch.
func (tf Timeframe) BucketStart(t time.Time) time.Time {
	width := int64(tf.Width / time.Second)
	sec := t.Unix() / width * width
	return time.Unix(sec, 0).UTC()
}

// Catalog is the fixed set of timeframes the process aggregates, built from
// configuration at startup. Ordered by width ascending.
type Catalog struct {
	frames []Timeframe
	byName map[string]Timeframe
}

// NewCatalog builds a catalog from a name → width-in-seconds map.
func NewCatalog(widths map[string]int) (*Catalog, error) {
	if len(widths) == 0 {
		return nil, fmt.Errorf("%w: empty timeframe catalog", ErrInvalidTimeframe)
	}

	frames := make([]Timeframe, 0, len(widths))
	byName := make(map[string]Timeframe, len(widths))
	for name, seconds := range widths {
		if name == "" || seconds <= 0 {
			return nil, fmt.Errorf("%w: %q=%d", ErrInvalidTimeframe, name, seconds)
		}
		tf := Timeframe{Name: name, Width: time.Duration(seconds) * time.Second}
		frames = append(frames, tf)
		byName[name] = tf
	}

	sort.Slice(frames, func(i, j int) bool {
		if frames[i].Width == frames[j].Width {
			return frames[i].Name < frames[j].Name
		}
		return frames[i].Width < frames[j].Width
	})

	return &Catalog{frames: frames, byName: byName}, nil
}

// Timeframes returns the catalog entries ordered by width ascending.
func (c *Catalog) Timeframes() []Timeframe {
	return c.frames
}

func (c *Catalog) ParseTimeframe(name string) (Timeframe, error) {
	tf, ok := c.byName[name]
	if !ok {
		return Timeframe{}, ErrInvalidTimeframe
	}
	return tf, nil
}
