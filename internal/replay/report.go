// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package replay

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"grimm.is/portdrop/internal/ebpf/stats"
	"grimm.is/portdrop/internal/filter"
)

// WriteSummary prints the counter report followed by a per-reason
// breakdown of the replayed frames.
func WriteSummary(w io.Writer, res Result) error {
	if err := stats.WriteReport(w, res.Stats); err != nil {
		return err
	}

	reasons := make([]filter.Reason, 0, len(res.Reasons))
	for r := range res.Reasons {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })

	fmt.Fprintln(w, "Decisions:")
	for _, r := range reasons {
		marker := ""
		if r.Malformed() {
			marker = " (malformed)"
		}
		fmt.Fprintf(w, "  %-20s %12s%s\n", r.String(), stats.FormatCount(res.Reasons[r]), marker)
	}

	if gap := res.Stats.Unaccounted(); gap > 0 {
		fmt.Fprintf(w, "Unaccounted:  %s frames counted without a verdict (truncated or malformed)\n", stats.FormatCount(gap))
	}

	pps := 0.0
	if secs := res.Elapsed.Seconds(); secs > 0 {
		pps = float64(res.Frames) / secs
	}
	_, err := fmt.Fprintf(w, "Replayed %s frames in %s (%s frames/s)\n",
		stats.FormatCount(res.Frames), res.Elapsed.Round(time.Millisecond), humanize.FormatFloat("#,###.", pps))
	return err
}
