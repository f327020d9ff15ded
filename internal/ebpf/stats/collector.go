// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package stats

import (
	"sync"
	"time"

	"grimm.is/portdrop/internal/store"
)

// Sample is one snapshot with the time it was taken.
type Sample struct {
	store.Stats
	At time.Time `json:"at"`
}

// Rates are per-second counter deltas between two samples.
type Rates struct {
	Total   float64 `json:"total_pps"`
	TCP     float64 `json:"tcp_pps"`
	Dropped float64 `json:"dropped_pps"`
	Passed  float64 `json:"passed_pps"`
}

// Collector takes snapshots from a store and remembers the previous one
// so rates can be derived.
type Collector struct {
	mu   sync.RWMutex
	src  store.Control
	now  func() time.Time
	last Sample
	prev Sample
	n    int
}

// NewCollector creates a new statistics collector
func NewCollector(src store.Control) *Collector {
	return &Collector{src: src, now: time.Now}
}

// Collect takes a snapshot. On error the previous samples are kept.
func (c *Collector) Collect() (Sample, error) {
	snap, err := c.src.Snapshot()
	if err != nil {
		return Sample{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.prev = c.last
	c.last = Sample{Stats: snap, At: c.now()}
	c.n++
	return c.last, nil
}

// Last returns the most recent sample, ok is false before the first one.
func (c *Collector) Last() (Sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last, c.n > 0
}

// Rates returns per-second rates over the last two samples.
func (c *Collector) Rates() Rates {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.n < 2 {
		return Rates{}
	}
	return Between(c.prev, c.last)
}

// Between derives per-second rates from two samples taken in order. A
// counter that went backwards, as after a restart, rates zero.
func Between(prev, last Sample) Rates {
	secs := last.At.Sub(prev.At).Seconds()
	if secs <= 0 {
		return Rates{}
	}
	rate := func(cur, old uint64) float64 {
		if cur < old {
			return 0
		}
		return float64(cur-old) / secs
	}
	return Rates{
		Total:   rate(last.Total, prev.Total),
		TCP:     rate(last.TCP, prev.TCP),
		Dropped: rate(last.Dropped, prev.Dropped),
		Passed:  rate(last.Passed, prev.Passed),
	}
}
