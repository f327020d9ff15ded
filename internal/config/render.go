// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/zclconf/go-cty/cty"
)

// Render writes cfg as canonical HCL. Absent blocks are rendered with
// their defaults.
func Render(cfg *Config) []byte {
	c := cfg.Clone()
	c.ApplyDefaults()

	f := hclwrite.NewEmptyFile()
	body := f.Body()

	body.SetAttributeValue("interface", cty.StringVal(c.Interface))
	body.SetAttributeValue("port", cty.NumberIntVal(int64(c.Port)))
	body.SetAttributeValue("xdp_mode", cty.StringVal(c.XDPMode))

	body.AppendNewline()
	stats := body.AppendNewBlock("stats", nil).Body()
	stats.SetAttributeValue("enabled", cty.BoolVal(c.Stats.Enabled))
	stats.SetAttributeValue("interval", cty.StringVal(c.Stats.Interval))

	body.AppendNewline()
	api := body.AppendNewBlock("api", nil).Body()
	api.SetAttributeValue("enabled", cty.BoolVal(c.API.Enabled))
	api.SetAttributeValue("listen", cty.StringVal(c.API.Listen))
	api.SetAttributeValue("stream_interval", cty.StringVal(c.API.StreamInterval))

	body.AppendNewline()
	metrics := body.AppendNewBlock("metrics", nil).Body()
	metrics.SetAttributeValue("enabled", cty.BoolVal(c.Metrics.Enabled))
	metrics.SetAttributeValue("path", cty.StringVal(c.Metrics.Path))

	body.AppendNewline()
	log := body.AppendNewBlock("log", nil).Body()
	log.SetAttributeValue("level", cty.StringVal(c.Log.Level))
	log.SetAttributeValue("json", cty.BoolVal(c.Log.JSON))

	return hclwrite.Format(f.Bytes())
}

// Diff returns a unified diff from a file's current contents to its
// canonical rendering, empty when they match.
func Diff(path string, current []byte, cfg *Config) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(current)),
		B:        difflib.SplitLines(string(Render(cfg))),
		FromFile: path,
		ToFile:   path + " (canonical)",
		Context:  3,
	}
	text, _ := difflib.GetUnifiedDiffString(diff)
	return text
}
