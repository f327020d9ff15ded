// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package cmd implements the portdrop command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"grimm.is/portdrop/internal/errors"
)

// Streams are the standard streams a command reads and writes.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// StdStreams returns the process streams.
func StdStreams() Streams {
	return Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

// usageError marks errors that should be followed by the usage text.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// NewRootCommand builds the portdrop command tree.
func NewRootCommand(streams Streams) *cobra.Command {
	opts := &filterOptions{}

	root := &cobra.Command{
		Use:   "portdrop -i <interface> [-p <port>] [-s]",
		Short: "Drop TCP packets on one port at the XDP hook",
		Long: `portdrop attaches an XDP program to a network interface and drops every
TCP packet whose source or destination port equals the configured port.
Everything else passes. Counters of total, TCP, dropped and passed packets
are kept in a BPF map and can be printed periodically with --stats or read
through the control-plane API.`,
		Example: `  portdrop -i eth0 -p 8080 -s
  portdrop -c /etc/portdrop.hcl --api
  portdrop replay capture.pcap -p 8080`,
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runFilter(ctx, cmd, opts, streams)
		},
	}
	root.SetIn(streams.In)
	root.SetOut(streams.Out)
	root.SetErr(streams.Err)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{errors.Wrap(err, errors.KindValidation, "invalid arguments")}
	})

	opts.bind(root.Flags())

	root.AddCommand(
		newReplayCommand(streams),
		newConfigCommand(streams),
		newPortCommand(streams),
		newStatsCommand(streams),
		newWatchCommand(streams),
	)
	return root
}

// Execute runs the command line and returns the process exit status.
func Execute(args []string, streams Streams) int {
	root := NewRootCommand(streams)
	root.SetArgs(args)

	cmd, err := root.ExecuteContextC(context.Background())
	if err == nil {
		return 0
	}

	fmt.Fprintf(streams.Err, "Error: %v\n", err)
	var ue usageError
	if errors.As(err, &ue) || errors.GetKind(err) == errors.KindValidation {
		if cmd == nil {
			cmd = root
		}
		fmt.Fprintln(streams.Err)
		fmt.Fprint(streams.Err, cmd.UsageString())
	}
	return 1
}

// addrFlag adds the --addr flag shared by the client commands.
func addrFlag(fs *pflag.FlagSet, addr *string) {
	fs.StringVarP(addr, "addr", "a", defaultAPIAddr, "address of a running portdrop control plane")
}

// usageArgs makes argument-count errors print the usage text.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError{errors.Wrap(err, errors.KindValidation, "invalid arguments")}
		}
		return nil
	}
}
