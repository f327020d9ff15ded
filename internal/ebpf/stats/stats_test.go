// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package stats

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/portdrop/internal/store"
)

func TestFormatDropRate(t *testing.T) {
	assert.Equal(t, "0.00%", FormatDropRate(store.Stats{}))
	assert.Equal(t, "25.00%", FormatDropRate(store.Stats{Total: 4, Dropped: 1}))
	assert.Equal(t, "33.33%", FormatDropRate(store.Stats{Total: 3, Dropped: 1}))
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "0", FormatCount(0))
	assert.Equal(t, "1,234,567", FormatCount(1234567))
	assert.Equal(t, "9,223,372,036,854,775,808", FormatCount(math.MaxInt64+1))
	assert.Equal(t, "18,446,744,073,709,551,615", FormatCount(math.MaxUint64))
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, store.Stats{Total: 1234567, TCP: 1000, Dropped: 10, Passed: 1234557}))

	out := buf.String()
	assert.Contains(t, out, "Total packets:   1,234,567")
	assert.Contains(t, out, "TCP packets:     1,000")
	assert.Contains(t, out, "Dropped packets: 10")
	assert.Contains(t, out, "Passed packets:  1,234,557")
	assert.Contains(t, out, "Drop rate:       0.00%")
}

func TestCollector_Rates(t *testing.T) {
	s := store.New()
	c := NewCollector(s)
	base := time.Unix(1_700_000_000, 0)
	tick := 0
	c.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * 2 * time.Second)
	}

	_, ok := c.Last()
	assert.False(t, ok)
	assert.Equal(t, Rates{}, c.Rates())

	_, err := c.Collect()
	require.NoError(t, err)
	assert.Equal(t, Rates{}, c.Rates(), "one sample has no rate")

	s.Record().Add(store.CounterTotal, 100)
	s.Record().Add(store.CounterDropped, 20)
	sample, err := c.Collect()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), sample.Total)

	r := c.Rates()
	assert.InDelta(t, 50.0, r.Total, 1e-9)
	assert.InDelta(t, 10.0, r.Dropped, 1e-9)
	assert.Zero(t, r.Passed)

	last, ok := c.Last()
	assert.True(t, ok)
	assert.Equal(t, sample, last)
}

func TestCollector_UnavailableStore(t *testing.T) {
	c := NewCollector(store.NewWithoutRecord())
	_, err := c.Collect()
	assert.ErrorIs(t, err, store.ErrUnavailable)
	_, ok := c.Last()
	assert.False(t, ok)
}

func TestReporter_FinalReportOnCancel(t *testing.T) {
	s := store.New()
	s.Record().Add(store.CounterTotal, 8)
	s.Record().Add(store.CounterDropped, 2)

	var buf bytes.Buffer
	r := NewReporter(s, &buf, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))

	out := buf.String()
	assert.Contains(t, out, "Final statistics:")
	assert.Equal(t, 1, strings.Count(out, "=== Packet Statistics ==="))
	assert.Contains(t, out, "Drop rate:       25.00%")
}

func TestReporter_PeriodicReports(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(store.New(), &buf, 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	// at least one periodic report plus the final one
	assert.GreaterOrEqual(t, strings.Count(buf.String(), "=== Packet Statistics ==="), 2)
}

func TestReporter_DefaultInterval(t *testing.T) {
	r := NewReporter(store.New(), &bytes.Buffer{}, 0, nil)
	assert.Equal(t, DefaultInterval, r.interval)
}

func TestBetween(t *testing.T) {
	at := time.Unix(100, 0)
	prev := Sample{Stats: store.Stats{Total: 10, Dropped: 5}, At: at}
	last := Sample{Stats: store.Stats{Total: 30, Dropped: 4}, At: at.Add(4 * time.Second)}

	r := Between(prev, last)
	assert.InDelta(t, 5.0, r.Total, 1e-9)
	assert.Zero(t, r.Dropped, "counter reset")

	assert.Equal(t, Rates{}, Between(last, prev), "out of order")
}
