// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package stats

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/dustin/go-humanize"

	"grimm.is/portdrop/internal/logging"
	"grimm.is/portdrop/internal/store"
)

// DefaultInterval is the reporting period of --stats.
const DefaultInterval = 5 * time.Second

// FormatDropRate renders dropped/total as a percentage with two decimals.
func FormatDropRate(s store.Stats) string {
	return fmt.Sprintf("%.2f%%", s.DropRate())
}

// FormatCount renders a counter with thousands separators.
func FormatCount(v uint64) string {
	return humanize.BigComma(new(big.Int).SetUint64(v))
}

// WriteReport prints the four counters and the drop rate.
func WriteReport(w io.Writer, s store.Stats) error {
	_, err := fmt.Fprintf(w,
		"\n=== Packet Statistics ===\n"+
			"Total packets:   %s\n"+
			"TCP packets:     %s\n"+
			"Dropped packets: %s\n"+
			"Passed packets:  %s\n"+
			"Drop rate:       %s\n"+
			"=========================\n",
		FormatCount(s.Total), FormatCount(s.TCP), FormatCount(s.Dropped), FormatCount(s.Passed), FormatDropRate(s))
	return err
}

// Reporter prints a report every interval until its context ends, then
// prints a final one.
type Reporter struct {
	collector *Collector
	out       io.Writer
	interval  time.Duration
	logger    *logging.Logger
}

// NewReporter creates a reporter over src writing to out.
func NewReporter(src store.Control, out io.Writer, interval time.Duration, logger *logging.Logger) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reporter{
		collector: NewCollector(src),
		out:       out,
		interval:  interval,
		logger:    logger.WithComponent("stats"),
	}
}

// Run blocks until ctx is cancelled. Snapshot failures are logged and the
// loop carries on.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out, "\nFinal statistics:")
			r.report()
			return nil
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *Reporter) report() {
	sample, err := r.collector.Collect()
	if err != nil {
		r.logger.WithError(err).Error("failed to read statistics")
		return
	}
	if err := WriteReport(r.out, sample.Stats); err != nil {
		r.logger.WithError(err).Warn("failed to write statistics report")
		return
	}
	rates := r.collector.Rates()
	r.logger.Debug("statistics",
		"total", sample.Total,
		"dropped", sample.Dropped,
		"drop_rate", FormatDropRate(sample.Stats),
		"pps", humanize.FormatFloat("#,###.##", rates.Total))
}
