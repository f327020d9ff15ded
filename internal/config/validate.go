// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"grimm.is/portdrop/internal/ebpf/hooks"
	"grimm.is/portdrop/internal/errors"
	"grimm.is/portdrop/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Err returns nil when there are no errors, otherwise a validation-kind
// error wrapping the collection.
func (e ValidationErrors) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return errors.Wrap(e, errors.KindValidation, "invalid configuration")
}

// ValidateInterfaceName checks a network interface name the way the
// kernel would: non-empty, shorter than IFNAMSIZ, no '/' or whitespace.
func ValidateInterfaceName(name string) error {
	switch {
	case name == "":
		return errors.New(errors.KindValidation, "network interface is required")
	case len(name) >= unix.IFNAMSIZ:
		return errors.Attr(errors.Errorf(errors.KindValidation,
			"invalid interface name: %s (longer than %d characters)", name, unix.IFNAMSIZ-1), "iface", name)
	case name == "." || name == ".." || strings.ContainsAny(name, "/: \t\n"):
		return errors.Attr(errors.Errorf(errors.KindValidation, "invalid interface name: %s", name), "iface", name)
	}
	return nil
}

// Validate validates the entire configuration.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, err error) {
		if err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error()})
		}
	}

	add("interface", ValidateInterfaceName(c.Interface))
	if c.Port <= 0 || c.Port > 65535 {
		add("port", fmt.Errorf("invalid port number: %d", c.Port))
	}
	_, err := hooks.ParseMode(c.XDPMode)
	add("xdp_mode", err)

	if c.Stats != nil {
		add("stats.interval", validateInterval(c.Stats.Interval))
	}
	if c.API != nil {
		if c.API.Enabled {
			if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
				add("api.listen", err)
			}
		}
		add("api.stream_interval", validateInterval(c.API.StreamInterval))
	}
	if c.Metrics != nil {
		if c.Metrics.Enabled && (c.API == nil || !c.API.Enabled) {
			add("metrics.enabled", fmt.Errorf("metrics are served by the API, enable the api block"))
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			add("metrics.path", fmt.Errorf("path must start with /: %q", c.Metrics.Path))
		}
	}
	if c.Log != nil {
		_, err := logging.ParseLevel(c.Log.Level)
		add("log.level", err)
	}
	return errs
}

func validateInterval(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	if d <= 0 {
		return fmt.Errorf("interval must be positive, got %s", s)
	}
	return nil
}
