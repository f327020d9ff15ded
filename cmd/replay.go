// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"runtime"

	"github.com/spf13/cobra"

	"grimm.is/portdrop/internal/config"
	"grimm.is/portdrop/internal/logging"
	"grimm.is/portdrop/internal/replay"
	"grimm.is/portdrop/internal/store"
)

func newReplayCommand(streams Streams) *cobra.Command {
	var (
		port    int
		workers int
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "replay <capture.pcap>",
		Short: "Classify a packet capture without touching the kernel",
		Long: `Replay reads a pcap or pcapng capture of Ethernet frames and runs every
frame through the same classification the XDP program performs, then
prints the counters it would have produced. With --verbose each dropped
packet is logged.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := store.ValidatePort(port)
			if err != nil {
				return usageError{err}
			}

			level := logging.LevelInfo
			if verbose {
				level = logging.LevelDebug
			}
			logger := logging.New(logging.Config{Level: level, Output: streams.Err})

			r, err := replay.New(replay.Options{Port: p, Workers: workers, Logger: logger})
			if err != nil {
				return err
			}
			res, err := r.File(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return replay.WriteSummary(streams.Out, res)
		},
	}

	fs := cmd.Flags()
	fs.IntVarP(&port, "port", "p", config.DefaultPort, "TCP port to filter")
	fs.IntVarP(&workers, "workers", "w", runtime.NumCPU(), "parallel classification lanes")
	fs.BoolVarP(&verbose, "verbose", "v", false, "log every dropped packet")
	return cmd
}
