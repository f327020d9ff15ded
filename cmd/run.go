// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"grimm.is/portdrop/internal/config"
	"grimm.is/portdrop/internal/ebpf"
	"grimm.is/portdrop/internal/logging"
)

const defaultAPIAddr = config.DefaultAPIListen

// filterOptions are the flags of the root command. Flags given on the
// command line override the configuration file.
type filterOptions struct {
	configFile    string
	iface         string
	port          int
	stats         bool
	statsInterval time.Duration
	xdpMode       string
	api           bool
	apiListen     string
	metrics       bool
	logLevel      string
	logJSON       bool
}

func (o *filterOptions) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configFile, "config", "c", "", "configuration file (HCL, JSON or YAML)")
	fs.StringVarP(&o.iface, "interface", "i", "", "network interface to attach to (required)")
	fs.IntVarP(&o.port, "port", "p", config.DefaultPort, "TCP port to filter")
	fs.BoolVarP(&o.stats, "stats", "s", false, "show packet statistics every 5 seconds")
	fs.DurationVar(&o.statsInterval, "stats-interval", 5*time.Second, "statistics report interval")
	fs.StringVar(&o.xdpMode, "xdp-mode", config.DefaultXDPMode, "attach mode: auto, driver, generic or offload")
	fs.BoolVar(&o.api, "api", false, "serve the control-plane API")
	fs.StringVar(&o.apiListen, "api-listen", config.DefaultAPIListen, "control-plane API listen address")
	fs.BoolVar(&o.metrics, "metrics", false, "export Prometheus metrics on the API")
	fs.StringVar(&o.logLevel, "log-level", config.DefaultLogLevel, "log level: debug, info, warn or error")
	fs.BoolVar(&o.logJSON, "log-json", false, "log as JSON")
}

// resolve loads the configuration file, if any, and applies the flags
// that were set explicitly.
func (o *filterOptions) resolve(fs *pflag.FlagSet) (*config.Config, error) {
	cfg := config.Default()
	if o.configFile != "" {
		loaded, err := config.LoadFile(o.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	changed := fs.Changed
	if changed("interface") {
		cfg.Interface = o.iface
	}
	if changed("port") {
		cfg.Port = o.port
	}
	if changed("stats") {
		cfg.Stats.Enabled = o.stats
	}
	if changed("stats-interval") {
		cfg.Stats.Interval = o.statsInterval.String()
		cfg.Stats.Enabled = true
	}
	if changed("xdp-mode") {
		cfg.XDPMode = o.xdpMode
	}
	if changed("api") {
		cfg.API.Enabled = o.api
	}
	if changed("api-listen") {
		cfg.API.Listen = o.apiListen
		cfg.API.Enabled = true
	}
	if changed("metrics") {
		cfg.Metrics.Enabled = o.metrics
		if o.metrics {
			cfg.API.Enabled = true
		}
	}
	if changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if changed("log-json") {
		cfg.Log.JSON = o.logJSON
	}
	return cfg, nil
}

// filterSetup is everything runFilter needs before it touches the kernel.
type filterSetup struct {
	config ebpf.Config
	logger *logging.Logger
}

func (o *filterOptions) setup(fs *pflag.FlagSet, streams Streams) (filterSetup, error) {
	cfg, err := o.resolve(fs)
	if err != nil {
		return filterSetup{}, err
	}
	filterCfg, err := ebpf.ConfigFromFile(cfg)
	if err != nil {
		return filterSetup{}, usageError{err}
	}
	logCfg, err := cfg.Logging()
	if err != nil {
		return filterSetup{}, usageError{err}
	}
	logCfg.Output = streams.Err
	logger := logging.New(logCfg)
	logging.SetDefault(logger)

	return filterSetup{config: filterCfg, logger: logger}, nil
}

func runFilter(ctx context.Context, cmd *cobra.Command, opts *filterOptions, streams Streams) error {
	setup, err := opts.setup(cmd.Flags(), streams)
	if err != nil {
		return err
	}

	m, err := ebpf.NewManager(setup.config, setup.logger, streams.Out)
	if err != nil {
		return err
	}
	return m.Run(ctx)
}
