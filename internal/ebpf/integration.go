// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ebpf

import (
	"grimm.is/portdrop/internal/config"
	"grimm.is/portdrop/internal/ebpf/hooks"
	"grimm.is/portdrop/internal/errors"
)

// ConfigFromFile converts a validated file configuration into a Manager
// configuration.
func ConfigFromFile(c *config.Config) (Config, error) {
	if errs := c.Validate(); errs.HasErrors() {
		return Config{}, errs.Err()
	}
	mode, err := hooks.ParseMode(c.XDPMode)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Interface:     c.Interface,
		Port:          uint16(c.Port),
		Mode:          mode,
		Stats:         c.Stats.Enabled,
		StatsInterval: c.StatsInterval(),
		API: APIConfig{
			Enabled:        c.API.Enabled,
			Listen:         c.API.Listen,
			Metrics:        c.Metrics.Enabled,
			MetricsPath:    c.Metrics.Path,
			StreamInterval: c.StreamInterval(),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, errors.KindValidation, "invalid filter configuration")
	}
	return cfg, nil
}
