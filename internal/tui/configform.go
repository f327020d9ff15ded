// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"grimm.is/portdrop/internal/config"
	"grimm.is/portdrop/internal/ebpf/hooks"
	"grimm.is/portdrop/internal/errors"
	"grimm.is/portdrop/internal/store"
)

// ConfigForm asks for the settings `portdrop config init` writes.
// The form edits cfg in place except for the port, which is bound to a
// string and copied back by Apply.
type ConfigForm struct {
	Form *huh.Form

	cfg  *config.Config
	port string
}

// NewConfigForm builds the form over cfg, which should carry defaults.
func NewConfigForm(cfg *config.Config) *ConfigForm {
	cfg.ApplyDefaults()
	f := &ConfigForm{cfg: cfg, port: strconv.Itoa(cfg.Port)}

	var modes []huh.Option[string]
	for _, m := range hooks.Modes() {
		modes = append(modes, huh.NewOption(string(m), string(m)))
	}

	f.Form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Interface").
				Description("Network interface the XDP program attaches to").
				Value(&cfg.Interface).
				Validate(config.ValidateInterfaceName),
			huh.NewInput().
				Title("Port").
				Description("TCP port to drop, as source or destination").
				Value(&f.port).
				Validate(validatePortText),
			huh.NewSelect[string]().
				Title("XDP mode").
				Options(modes...).
				Value(&cfg.XDPMode),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Print statistics periodically?").
				Value(&cfg.Stats.Enabled),
			huh.NewConfirm().
				Title("Enable the control-plane API?").
				Description("Serves stats, port changes and health on "+cfg.API.Listen).
				Value(&cfg.API.Enabled),
		),
	).WithTheme(huh.ThemeBase16())

	return f
}

// Apply copies the port answer into the configuration and validates it.
func (f *ConfigForm) Apply() error {
	port, err := strconv.Atoi(strings.TrimSpace(f.port))
	if err != nil {
		return validatePortText(f.port)
	}
	f.cfg.Port = port
	return f.cfg.Validate().Err()
}

func validatePortText(s string) error {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return errors.Errorf(errors.KindValidation, "invalid port number: %s", s)
	}
	_, err = store.ValidatePort(p)
	return err
}
