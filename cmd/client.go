// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"grimm.is/portdrop/internal/ebpf/controlplane"
	"grimm.is/portdrop/internal/ebpf/stats"
	"grimm.is/portdrop/internal/errors"
	"grimm.is/portdrop/internal/store"
	"grimm.is/portdrop/internal/tui"
)

const clientTimeout = 10 * time.Second

func newPortCommand(streams Streams) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "port",
		Short: "Read or change the filtered port of a running filter",
	}
	addrFlag(cmd.PersistentFlags(), &addr)

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the filtered port",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
			defer cancel()
			msg, err := controlplane.NewClient(addr).Port(ctx)
			if err != nil {
				return err
			}
			printPort(streams.Out, msg)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <port>",
		Short: "Drop TCP packets on port from now on",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return usageError{errors.Errorf(errors.KindValidation, "invalid port number: %s", args[0])}
			}
			if _, err := store.ValidatePort(n); err != nil {
				return usageError{err}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
			defer cancel()
			msg, err := controlplane.NewClient(addr).SetPort(ctx, n)
			if err != nil {
				return err
			}
			printPort(streams.Out, msg)
			return nil
		},
	}

	clr := &cobra.Command{
		Use:   "clear",
		Short: "Stop filtering and pass all traffic",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
			defer cancel()
			if err := controlplane.NewClient(addr).ClearPort(ctx); err != nil {
				return err
			}
			printPort(streams.Out, controlplane.PortMessage{})
			return nil
		},
	}

	cmd.AddCommand(get, set, clr)
	return cmd
}

func printPort(w io.Writer, msg controlplane.PortMessage) {
	if !msg.Configured {
		fmt.Fprintln(w, "No port configured, passing all traffic")
		return
	}
	fmt.Fprintf(w, "Filtering TCP packets on port: %d\n", msg.Port)
}

func newStatsCommand(streams Streams) *cobra.Command {
	var (
		addr   string
		follow bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the counters of a running filter",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := controlplane.NewClient(addr)
			show := func(msg controlplane.StatsMessage) error {
				if asJSON {
					return json.NewEncoder(streams.Out).Encode(msg)
				}
				return stats.WriteReport(streams.Out, msg.Stats)
			}

			if follow {
				return client.Stream(cmd.Context(), show)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
			defer cancel()
			msg, err := client.Stats(ctx)
			if err != nil {
				return err
			}
			return show(msg)
		},
	}

	addrFlag(cmd.Flags(), &addr)
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing as the filter streams updates")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of the report")
	return cmd
}

func newWatchCommand(streams Streams) *cobra.Command {
	var (
		addr     string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of a running filter",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			model := tui.NewModel(controlplane.NewClient(addr), interval)
			p := tea.NewProgram(model,
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
				tea.WithInput(streams.In),
				tea.WithOutput(streams.Out),
			)
			_, err := p.Run()
			if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return errors.Wrap(err, errors.KindInternal, "dashboard failed")
			}
			return nil
		},
	}

	addrFlag(cmd.Flags(), &addr)
	cmd.Flags().DurationVarP(&interval, "interval", "n", time.Second, "refresh interval")
	return cmd
}
