// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package loader

import (
	"fmt"
	"sync"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/features"
	"github.com/cilium/ebpf/rlimit"
	"golang.org/x/sys/unix"

	"grimm.is/portdrop/internal/ebpf/programs"
	"grimm.is/portdrop/internal/errors"
	"grimm.is/portdrop/internal/logging"
)

// Loader owns the port filter program and its maps from load to Close.
type Loader struct {
	objs     programs.PortFilterObjects
	loaded   bool
	loadedAt time.Time
	logger   *logging.Logger
	mutex    sync.Mutex
}

// NewLoader creates a new eBPF loader
func NewLoader(logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.Default()
	}
	return &Loader{logger: logger.WithComponent("loader")}
}

// Load checks privileges, lifts the memlock limit on older kernels and
// loads the port filter into the kernel. Nothing is attached yet.
func (l *Loader) Load() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.loaded {
		return errors.New(errors.KindConflict, "port filter already loaded")
	}
	if err := CheckPrivileges(); err != nil {
		return err
	}
	if err := rlimit.RemoveMemlock(); err != nil {
		return errors.Wrap(err, errors.KindPermission, "failed to remove memlock rlimit")
	}
	if err := VerifyKernelSupport(); err != nil {
		return err
	}

	if err := programs.LoadPortFilterObjects(&l.objs, nil); err != nil {
		var ve *ebpf.VerifierError
		if errors.As(err, &ve) {
			l.logger.Debug("verifier log", "log", fmt.Sprintf("%+v", ve))
		}
		l.objs = programs.PortFilterObjects{}
		return errors.Wrap(err, errors.KindInternal, "failed to load port filter")
	}

	l.loaded = true
	l.loadedAt = time.Now()
	l.logger.Debug("port filter loaded", "program", programs.PortFilterProgram)
	return nil
}

// Program returns the loaded XDP program, nil before Load.
func (l *Loader) Program() *ebpf.Program {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.objs.Program
}

// PortMap returns the single-slot port configuration map.
func (l *Loader) PortMap() *ebpf.Map {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.objs.PortMap
}

// StatsMap returns the single-slot statistics map.
func (l *Loader) StatsMap() *ebpf.Map {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.objs.StatsMap
}

// Close releases the program and maps. The program must already be
// detached. Safe to call more than once.
func (l *Loader) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if !l.loaded {
		return nil
	}
	err := l.objs.Close()
	l.objs = programs.PortFilterObjects{}
	l.loaded = false
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to close port filter")
	}
	return nil
}

// CheckPrivileges fails unless running with an effective uid of 0.
func CheckPrivileges() error {
	if unix.Geteuid() != 0 {
		return errors.New(errors.KindPermission, "loading XDP programs requires root privileges")
	}
	return nil
}

// VerifyKernelSupport checks that the kernel can run the port filter.
func VerifyKernelSupport() error {
	if err := features.HaveProgramType(ebpf.XDP); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "kernel lacks XDP support")
	}
	for _, mt := range []ebpf.MapType{ebpf.Hash, ebpf.Array} {
		if err := features.HaveMapType(mt); err != nil {
			return errors.Wrapf(err, errors.KindUnavailable, "kernel lacks %s maps", mt)
		}
	}
	return nil
}
