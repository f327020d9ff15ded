// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ebpf brings the XDP port filter up on an interface, serves its
// control plane while it runs and tears it down again.
package ebpf

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"grimm.is/portdrop/internal/ebpf/controlplane"
	"grimm.is/portdrop/internal/ebpf/hooks"
	"grimm.is/portdrop/internal/ebpf/loader"
	"grimm.is/portdrop/internal/ebpf/maps"
	"grimm.is/portdrop/internal/ebpf/metrics"
	"grimm.is/portdrop/internal/ebpf/stats"
	"grimm.is/portdrop/internal/errors"
	"grimm.is/portdrop/internal/logging"
	"grimm.is/portdrop/internal/store"
)

const shutdownTimeout = 5 * time.Second

// attachment is an attached hook as far as the Manager is concerned.
type attachment interface {
	Detach() error
	Active() bool
}

// backend is the kernel side of the Manager.
type backend struct {
	load   func() error
	maps   func() (port, stats maps.Map)
	attach func(iface string, mode hooks.Mode) (attachment, hooks.Mode, error)
	info   func() (loader.ProgramInfo, error)
	close  func() error
}

func kernelBackend(l *loader.Loader, hm *hooks.Manager) backend {
	return backend{
		load: l.Load,
		maps: func() (maps.Map, maps.Map) {
			return l.PortMap(), l.StatsMap()
		},
		attach: func(iface string, mode hooks.Mode) (attachment, hooks.Mode, error) {
			h, err := hm.Attach(l.Program(), iface, mode)
			if err != nil {
				return nil, "", err
			}
			return h, h.Mode, nil
		},
		info: l.Info,
		close: func() error {
			return errors.Join(hm.Close(), l.Close())
		},
	}
}

// Manager owns the filter from load to teardown.
type Manager struct {
	config Config
	logger *logging.Logger
	out    io.Writer

	kernel  backend
	store   *maps.Store
	metrics *metrics.Metrics

	hook     attachment
	hookMode hooks.Mode

	started bool
	mutex   sync.Mutex
}

// NewManager validates cfg and prepares a Manager. Nothing touches the
// kernel until Start. Reports and the banner go to out, stdout when nil.
func NewManager(cfg Config, logger *logging.Logger, out io.Writer) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == "" {
		cfg.Mode = hooks.ModeAuto
	}
	if logger == nil {
		logger = logging.Default()
	}
	if out == nil {
		out = os.Stdout
	}

	return &Manager{
		config: cfg,
		logger: logger.WithComponent("ebpf"),
		out:    out,
		kernel: kernelBackend(loader.NewLoader(logger), hooks.NewManager(logger)),
	}, nil
}

// Start loads the program, zeroes the statistics record, writes the port
// and attaches to the interface. If any step fails everything acquired so
// far is released before the error is returned.
func (m *Manager) Start() (err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.started {
		return errors.New(errors.KindConflict, "port filter already started")
	}
	m.started = true
	defer func() {
		if err != nil {
			if cerr := m.teardown(); cerr != nil {
				m.logger.WithError(cerr).Warn("cleanup after failed start")
			}
		}
	}()

	if err := m.kernel.load(); err != nil {
		return err
	}

	portMap, statsMap := m.kernel.maps()
	m.store = maps.NewStore(portMap, statsMap)
	if err := m.store.Init(); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to initialize statistics map")
	}
	if m.config.Port != 0 {
		if err := m.store.SetPort(m.config.Port); err != nil {
			return errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to set target port"), "port", m.config.Port)
		}
	}
	m.metrics = metrics.NewMetrics(m.store)

	hook, mode, err := m.kernel.attach(m.config.Interface, m.config.Mode)
	if err != nil {
		m.metrics.HookErrors.WithLabelValues(m.config.Interface, "attach").Inc()
		return err
	}
	m.hook, m.hookMode = hook, mode
	m.metrics.HookAttached.WithLabelValues(m.config.Interface, string(mode)).Set(1)

	m.banner()
	return nil
}

func (m *Manager) banner() {
	fmt.Fprintln(m.out, "XDP packet filter loaded successfully!")
	fmt.Fprintf(m.out, "Interface: %s (%s mode)\n", m.config.Interface, m.hookMode)
	if m.config.Port != 0 {
		fmt.Fprintf(m.out, "Filtering TCP packets on port: %d\n", m.config.Port)
	} else {
		fmt.Fprintln(m.out, "No port configured, passing all traffic")
	}
	fmt.Fprintln(m.out, "Press Ctrl+C to stop...")
	if m.config.Stats {
		fmt.Fprintf(m.out, "Statistics will be shown every %s\n", m.statsInterval())
	}
	m.logger.Info("port filter running",
		"iface", m.config.Interface, "port", m.config.Port, "mode", string(m.hookMode))
}

func (m *Manager) statsInterval() time.Duration {
	if m.config.StatsInterval > 0 {
		return m.config.StatsInterval
	}
	return stats.DefaultInterval
}

// Run starts the filter and keeps it up until ctx is cancelled, running the
// statistics reporter and the API alongside. On the way out the reporter
// prints its final report, then the hook is detached and the maps and
// program are closed.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}

	var api *controlplane.Server
	if m.config.API.Enabled {
		opts := controlplane.Options{
			Logger:         m.logger,
			StreamInterval: m.config.API.StreamInterval,
			Status:         m.Status,
		}
		if m.config.API.Metrics {
			opts.Metrics = m.metrics
			opts.MetricsPath = m.config.API.MetricsPath
		}
		api = controlplane.New(m.store, opts)
		if err := api.Start(m.config.API.Listen); err != nil {
			return errors.Join(err, m.Close())
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if m.config.Stats {
		reporter := stats.NewReporter(m.store, m.out, m.statsInterval(), m.logger)
		g.Go(func() error {
			return reporter.Run(gctx)
		})
	}

	if api != nil {
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return api.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	runErr := g.Wait()
	closeErr := m.Close()
	if closeErr == nil {
		fmt.Fprintln(m.out, "Program terminated gracefully")
	}
	return errors.Join(runErr, closeErr)
}

// Close detaches the hook, then closes the maps and the program. It is
// safe to call more than once.
func (m *Manager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.teardown()
}

func (m *Manager) teardown() error {
	var errs []error

	if m.hook != nil {
		if err := m.hook.Detach(); err != nil {
			errs = append(errs, err)
			if m.metrics != nil {
				m.metrics.HookErrors.WithLabelValues(m.config.Interface, "detach").Inc()
			}
		} else {
			fmt.Fprintln(m.out, "XDP program detached from interface")
			m.logger.Debug("xdp program detached", "iface", m.config.Interface)
		}
		if m.metrics != nil {
			m.metrics.HookAttached.WithLabelValues(m.config.Interface, string(m.hookMode)).Set(0)
		}
		m.hook = nil
	}

	if err := m.kernel.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Store is the control surface of the running filter, nil before Start.
func (m *Manager) Store() store.Control {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.store == nil {
		return nil
	}
	return m.store
}

// Metrics is the collector over the running filter, nil before Start.
func (m *Manager) Metrics() *metrics.Metrics {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.metrics
}

// Status reports the hook and program for the health route.
func (m *Manager) Status() controlplane.Status {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	st := controlplane.Status{
		Interface: m.config.Interface,
		Mode:      string(m.hookMode),
		Attached:  m.hook != nil && m.hook.Active(),
	}
	if h, ok := m.hook.(*hooks.Hook); ok {
		st.Driver = h.Driver
	}
	if info, err := m.kernel.info(); err == nil {
		st.Program = &info
	}
	return st
}
