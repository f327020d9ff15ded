// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/portdrop/internal/errors"
	"grimm.is/portdrop/internal/logging"
)

const sampleHCL = `
interface = "eth0"
port      = 8080
xdp_mode  = "generic"

stats {
  enabled  = true
  interval = "2s"
}

api {
  enabled = true
  listen  = "127.0.0.1:9000"
}

log {
  level = "debug"
}
`

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, DefaultPort, c.Port)
	assert.Equal(t, "auto", c.XDPMode)
	assert.False(t, c.Stats.Enabled)
	assert.Equal(t, 5*time.Second, c.StatsInterval())
	assert.Equal(t, time.Second, c.StreamInterval())
	assert.Equal(t, DefaultAPIListen, c.API.Listen)
	assert.Equal(t, "/metrics", c.Metrics.Path)

	errs := c.Validate()
	require.Len(t, errs, 1, "only the interface is missing")
	assert.Equal(t, "interface", errs[0].Field)
}

func TestLoadHCL(t *testing.T) {
	c, err := LoadHCL([]byte(sampleHCL), "test.hcl")
	require.NoError(t, err)

	assert.Equal(t, "eth0", c.Interface)
	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, "generic", c.XDPMode)
	assert.True(t, c.Stats.Enabled)
	assert.Equal(t, 2*time.Second, c.StatsInterval())
	assert.True(t, c.API.Enabled)
	assert.Equal(t, "127.0.0.1:9000", c.API.Listen)
	assert.Equal(t, DefaultStreamInterval, c.API.StreamInterval, "absent field inside a present block is defaulted")
	assert.False(t, c.Metrics.Enabled, "absent block is defaulted")
	assert.Empty(t, c.Validate())

	lc, err := c.Logging()
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, lc.Level)
}

func TestLoadHCL_Errors(t *testing.T) {
	tests := map[string]string{
		"syntax":        `interface = `,
		"unknown field": `colour = "blue"`,
		"wrong type":    `port = "many"`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadHCL([]byte(src), "bad.hcl")
			require.Error(t, err)
			assert.Equal(t, errors.KindValidation, errors.GetKind(err))
		})
	}
}

func TestLoadJSONAndYAML(t *testing.T) {
	j, err := LoadJSON([]byte(`{"interface":"eth1","port":22,"stats":{"enabled":true}}`))
	require.NoError(t, err)
	assert.Equal(t, "eth1", j.Interface)
	assert.Equal(t, 22, j.Port)
	assert.True(t, j.Stats.Enabled)
	assert.Equal(t, DefaultStatsInterval, j.Stats.Interval)

	y, err := LoadYAML([]byte("interface: eth2\nport: 443\nxdp_mode: driver\n"))
	require.NoError(t, err)
	assert.Equal(t, "eth2", y.Interface)
	assert.Equal(t, 443, y.Port)
	assert.Equal(t, "driver", y.XDPMode)

	empty, err := LoadYAML(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, empty.Port)

	_, err = LoadJSON([]byte(`{"iface":"eth0"}`))
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
	_, err = LoadYAML([]byte("iface: eth0\n"))
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
		return p
	}

	c, err := LoadFile(write("a.hcl", sampleHCL))
	require.NoError(t, err)
	assert.Equal(t, "eth0", c.Interface)

	c, err = LoadFile(write("b.json", `{"interface":"eth1"}`))
	require.NoError(t, err)
	assert.Equal(t, "eth1", c.Interface)

	c, err = LoadFile(write("c.yml", "interface: eth2\n"))
	require.NoError(t, err)
	assert.Equal(t, "eth2", c.Interface)

	c, err = LoadFile(write("portdrop.conf", `{"interface":"eth3"}`))
	require.NoError(t, err, "unknown extension falls back to JSON")
	assert.Equal(t, "eth3", c.Interface)

	_, err = LoadFile(filepath.Join(dir, "missing.hcl"))
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*Config)
		field string
	}{
		{"port zero", func(c *Config) { c.Port = 0 }, "port"},
		{"port too large", func(c *Config) { c.Port = 65536 }, "port"},
		{"negative port", func(c *Config) { c.Port = -5 }, "port"},
		{"long interface", func(c *Config) { c.Interface = "averyverylongname0" }, "interface"},
		{"slash in interface", func(c *Config) { c.Interface = "eth/0" }, "interface"},
		{"mode", func(c *Config) { c.XDPMode = "fast" }, "xdp_mode"},
		{"interval", func(c *Config) { c.Stats.Interval = "soon" }, "stats.interval"},
		{"zero interval", func(c *Config) { c.Stats.Interval = "0s" }, "stats.interval"},
		{"listen", func(c *Config) { c.API.Enabled = true; c.API.Listen = "nope" }, "api.listen"},
		{"metrics without api", func(c *Config) { c.Metrics.Enabled = true }, "metrics.enabled"},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.Interface = "eth0"
			tt.mod(c)

			errs := c.Validate()
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)

			err := errs.Err()
			assert.Equal(t, errors.KindValidation, errors.GetKind(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_PortBoundaries(t *testing.T) {
	for _, p := range []int{1, 65535} {
		c := Default()
		c.Interface = "eth0"
		c.Port = p
		assert.Empty(t, c.Validate(), "port %d", p)
	}
	assert.NoError(t, ValidationErrors(nil).Err())
}

func TestValidateInterfaceName(t *testing.T) {
	assert.NoError(t, ValidateInterfaceName("eth0"))
	assert.NoError(t, ValidateInterfaceName("enp0s31f6.100"))
	assert.NoError(t, ValidateInterfaceName(strings.Repeat("x", 15)))
	assert.Error(t, ValidateInterfaceName(strings.Repeat("x", 16)))
	assert.Error(t, ValidateInterfaceName(""))
	assert.Error(t, ValidateInterfaceName(".."))
}

func TestRender_RoundTrip(t *testing.T) {
	c, err := LoadHCL([]byte(sampleHCL), "test.hcl")
	require.NoError(t, err)

	out := Render(c)
	assert.Contains(t, string(out), `interface = "eth0"`)
	assert.Contains(t, string(out), "stats {")

	again, err := LoadHCL(out, "rendered.hcl")
	require.NoError(t, err)
	assert.Equal(t, c, again)
	assert.Equal(t, string(out), string(Render(again)), "rendering is canonical")
}

func TestRender_DoesNotMutate(t *testing.T) {
	c := &Config{Interface: "eth0", Stats: &StatsConfig{Enabled: true}}
	Render(c)
	assert.Empty(t, c.Stats.Interval)
	assert.Nil(t, c.API)
}

func TestDiff(t *testing.T) {
	c, err := LoadHCL([]byte(sampleHCL), "test.hcl")
	require.NoError(t, err)

	assert.Empty(t, Diff("a.hcl", Render(c), c))

	d := Diff("a.hcl", []byte(sampleHCL), c)
	assert.Contains(t, d, "--- a.hcl")
	assert.Contains(t, d, "+++ a.hcl (canonical)")
	assert.Contains(t, d, `+  stream_interval = "1s"`)
}

func TestClone(t *testing.T) {
	c := Default()
	d := c.Clone()
	d.Stats.Enabled = true
	d.Log.Level = "error"
	assert.False(t, c.Stats.Enabled)
	assert.Equal(t, DefaultLogLevel, c.Log.Level)
}
