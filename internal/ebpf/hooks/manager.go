// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package hooks

import (
	"strings"
	"sync"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/vishvananda/netlink"

	"grimm.is/portdrop/internal/errors"
	"grimm.is/portdrop/internal/logging"
)

// Mode selects how the XDP program is attached.
type Mode string

const (
	// ModeAuto tries native driver mode first and falls back to generic.
	ModeAuto    Mode = "auto"
	ModeDriver  Mode = "driver"
	ModeGeneric Mode = "generic"
	ModeOffload Mode = "offload"
)

// Modes lists the accepted mode names.
func Modes() []Mode {
	return []Mode{ModeAuto, ModeDriver, ModeGeneric, ModeOffload}
}

// ParseMode parses a mode name; empty means auto.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if m == "" {
		return ModeAuto, nil
	}
	for _, known := range Modes() {
		if m == known {
			return m, nil
		}
	}
	return "", errors.Attr(errors.Errorf(errors.KindValidation, "unknown xdp mode %q", s), "mode", s)
}

func (m Mode) flags() link.XDPAttachFlags {
	switch m {
	case ModeDriver:
		return link.XDPDriverMode
	case ModeGeneric:
		return link.XDPGenericMode
	case ModeOffload:
		return link.XDPOffloadMode
	}
	return 0
}

// attempts is the order in which attach modes are tried.
func (m Mode) attempts() []Mode {
	if m == ModeAuto {
		return []Mode{ModeDriver, ModeGeneric}
	}
	return []Mode{m}
}

type closer interface {
	Close() error
}

// Hook is one attached XDP program.
type Hook struct {
	Interface  string
	Index      int
	Mode       Mode // mode the attach succeeded with
	Driver     string
	AttachedAt time.Time

	lnk    closer
	active bool
	mutex  sync.Mutex
	onDone func(*Hook)
}

// Detach removes the program from the interface. Calling it again is a
// no-op.
func (h *Hook) Detach() error {
	h.mutex.Lock()
	if !h.active {
		h.mutex.Unlock()
		return nil
	}
	if err := h.lnk.Close(); err != nil {
		h.mutex.Unlock()
		return errors.Attr(errors.Wrap(err, errors.KindInternal, "failed to detach XDP program"), "iface", h.Interface)
	}
	h.active = false
	h.mutex.Unlock()

	// outside h.mutex: the manager takes its own lock first
	if h.onDone != nil {
		h.onDone(h)
	}
	return nil
}

// Active reports whether the hook is still attached.
func (h *Hook) Active() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.active
}

// Manager attaches XDP programs to interfaces and tracks the hooks it
// created, one per interface.
type Manager struct {
	hooks  map[string]*Hook
	mutex  sync.Mutex
	logger *logging.Logger

	lookup func(name string) (netlink.Link, error)
	attach func(opts link.XDPOptions) (closer, error)
	driver func(iface string) (string, error)
}

// NewManager creates a new hook manager
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		hooks:  make(map[string]*Hook),
		logger: logger.WithComponent("hooks"),
		lookup: netlink.LinkByName,
		attach: func(opts link.XDPOptions) (closer, error) {
			return link.AttachXDP(opts)
		},
		driver: DriverName,
	}
}

// Attach resolves iface and attaches program to it. An interface that
// already carries an XDP program is left alone.
func (hm *Manager) Attach(program *ebpf.Program, iface string, mode Mode) (*Hook, error) {
	if program == nil {
		return nil, errors.New(errors.KindValidation, "no program to attach")
	}
	if mode == "" {
		mode = ModeAuto
	}

	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	if h, ok := hm.hooks[iface]; ok && h.Active() {
		return nil, errors.Attr(errors.New(errors.KindConflict, "port filter already attached"), "iface", iface)
	}

	nl, err := hm.lookup(iface)
	if err != nil {
		var nf netlink.LinkNotFoundError
		if errors.As(err, &nf) {
			return nil, errors.Attr(errors.Wrap(err, errors.KindNotFound, "interface not found"), "iface", iface)
		}
		return nil, errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to look up interface"), "iface", iface)
	}
	attrs := nl.Attrs()
	if xdp := attrs.Xdp; xdp != nil && xdp.Attached {
		return nil, errors.Attr(
			errors.Errorf(errors.KindConflict, "interface already has an XDP program (id %d)", xdp.ProgId),
			"iface", iface)
	}

	driver, err := hm.driver(iface)
	if err != nil {
		hm.logger.Debug("driver name unavailable", "iface", iface, "error", err)
	}

	var lastErr error
	for _, m := range mode.attempts() {
		lnk, err := hm.attach(link.XDPOptions{
			Program:   program,
			Interface: attrs.Index,
			Flags:     m.flags(),
		})
		if err != nil {
			hm.logger.Debug("xdp attach failed", "iface", iface, "mode", string(m), "error", err)
			lastErr = err
			continue
		}

		h := &Hook{
			Interface:  iface,
			Index:      attrs.Index,
			Mode:       m,
			Driver:     driver,
			AttachedAt: time.Now(),
			lnk:        lnk,
			active:     true,
			onDone:     hm.forget,
		}
		hm.hooks[iface] = h
		if mode == ModeAuto && m == ModeGeneric {
			hm.logger.Warn("driver lacks native XDP, using generic mode", "iface", iface, "driver", driver)
		}
		hm.logger.Info("xdp program attached", "iface", iface, "ifindex", attrs.Index, "mode", string(m), "driver", driver)
		return h, nil
	}

	return nil, errors.Attr(errors.Wrap(lastErr, errors.KindInternal, "failed to attach XDP program"), "iface", iface)
}

func (hm *Manager) forget(h *Hook) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()
	if hm.hooks[h.Interface] == h {
		delete(hm.hooks, h.Interface)
	}
}

// ListAttached returns all attached hooks
func (hm *Manager) ListAttached() []*Hook {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	result := make([]*Hook, 0, len(hm.hooks))
	for _, h := range hm.hooks {
		result = append(result, h)
	}
	return result
}

// DetachAll detaches all hooks
func (hm *Manager) DetachAll() error {
	var errs []error
	for _, h := range hm.ListAttached() {
		if err := h.Detach(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes the hook manager and detaches all hooks
func (hm *Manager) Close() error {
	return hm.DetachAll()
}
