// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ebpf

import (
	"time"

	"grimm.is/portdrop/internal/ebpf/hooks"
	"grimm.is/portdrop/internal/errors"
	"grimm.is/portdrop/internal/store"
)

// Config is what the Manager needs to bring the filter up. It is built
// from the file configuration and the command line.
type Config struct {
	Interface string
	// Port is written to the port map at startup. Zero leaves the filter
	// unconfigured, passing everything.
	Port uint16
	Mode hooks.Mode

	Stats         bool
	StatsInterval time.Duration

	API APIConfig
}

// APIConfig configures the control-plane listener.
type APIConfig struct {
	Enabled     bool
	Listen      string
	Metrics     bool
	MetricsPath string
	// StreamInterval is the websocket push period.
	StreamInterval time.Duration
}

// Validate checks the fields the Manager relies on.
func (c Config) Validate() error {
	if c.Interface == "" {
		return errors.New(errors.KindValidation, "network interface is required")
	}
	if c.Port != 0 {
		if _, err := store.ValidatePort(int(c.Port)); err != nil {
			return err
		}
	}
	if c.Mode != "" {
		if _, err := hooks.ParseMode(string(c.Mode)); err != nil {
			return err
		}
	}
	if c.API.Enabled && c.API.Listen == "" {
		return errors.New(errors.KindValidation, "API listen address is required when the API is enabled")
	}
	return nil
}
