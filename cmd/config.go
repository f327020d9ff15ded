// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"grimm.is/portdrop/internal/config"
	"grimm.is/portdrop/internal/errors"
	"grimm.is/portdrop/internal/tui"
)

func newConfigCommand(streams Streams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, check and format configuration files",
	}
	cmd.AddCommand(
		newConfigInitCommand(streams),
		newConfigValidateCommand(streams),
		newConfigFmtCommand(streams),
	)
	return cmd
}

func newConfigInitCommand(streams Streams) *cobra.Command {
	var (
		output      string
		iface       string
		port        int
		force       bool
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with every setting at its default",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			cfg.Interface = iface
			cfg.Port = port

			if interactive {
				form := tui.NewConfigForm(cfg)
				form.Form.WithInput(streams.In).WithOutput(streams.Err)
				if err := form.Form.Run(); err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						return errors.New(errors.KindValidation, "aborted")
					}
					return errors.Wrap(err, errors.KindInternal, "configuration form failed")
				}
				if err := form.Apply(); err != nil {
					return err
				}
			} else if cfg.Interface != "" {
				if err := cfg.Validate().Err(); err != nil {
					return usageError{err}
				}
			}

			data := config.Render(cfg)
			if output == "" || output == "-" {
				_, err := streams.Out.Write(data)
				return err
			}
			if !force {
				if _, err := os.Stat(output); err == nil {
					return errors.Attr(errors.New(errors.KindConflict, "file exists, use --force to overwrite"), "path", output)
				}
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return errors.Attr(errors.Wrap(err, errors.KindInternal, "failed to write configuration"), "path", output)
			}
			fmt.Fprintf(streams.Out, "Wrote %s\n", output)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&output, "output", "o", "-", "file to write, - for stdout")
	fs.StringVarP(&iface, "interface", "i", "", "network interface to attach to")
	fs.IntVarP(&port, "port", "p", config.DefaultPort, "TCP port to filter")
	fs.BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	fs.BoolVar(&interactive, "interactive", false, "ask for each setting")
	return cmd
}

func newConfigValidateCommand(streams Streams) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a configuration file",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(args[0])
			if err != nil {
				return err
			}
			if errs := cfg.Validate(); errs.HasErrors() {
				fmt.Fprintf(streams.Out, "INVALID: %s\n", args[0])
				for _, e := range errs {
					fmt.Fprintf(streams.Out, "  %s\n", e.Error())
				}
				return errors.Attr(errors.Errorf(errors.KindValidation, "%d problem(s) found", len(errs)), "path", args[0])
			}
			fmt.Fprintf(streams.Out, "VALID: interface %s, port %d, %s mode\n", cfg.Interface, cfg.Port, cfg.XDPMode)
			return nil
		},
	}
}

func newConfigFmtCommand(streams Streams) *cobra.Command {
	var diff, write bool

	cmd := &cobra.Command{
		Use:   "fmt <file>",
		Short: "Rewrite a configuration file in canonical HCL",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			current, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					return errors.Attr(errors.Wrap(err, errors.KindNotFound, "configuration file not found"), "path", path)
				}
				return errors.Attr(errors.Wrap(err, errors.KindInternal, "failed to read configuration"), "path", path)
			}
			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}

			canonical := config.Render(cfg)
			switch {
			case diff:
				fmt.Fprint(streams.Out, config.Diff(path, current, cfg))
			case write:
				if ext := strings.ToLower(filepath.Ext(path)); ext == ".json" || ext == ".yaml" || ext == ".yml" {
					return errors.Attr(errors.New(errors.KindValidation, "--write only rewrites HCL files"), "path", path)
				}
				if bytes.Equal(current, canonical) {
					return nil
				}
				if err := os.WriteFile(path, canonical, 0o644); err != nil {
					return errors.Attr(errors.Wrap(err, errors.KindInternal, "failed to write configuration"), "path", path)
				}
				fmt.Fprintln(streams.Out, path)
			default:
				_, err = streams.Out.Write(canonical)
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&diff, "diff", "d", false, "show the changes instead of the result")
	cmd.Flags().BoolVarP(&write, "write", "w", false, "write the result back to the file")
	return cmd
}
