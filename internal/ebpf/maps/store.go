// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package maps exposes the port filter's kernel maps as a store.Control.
package maps

import (
	"sync"

	"github.com/cilium/ebpf"

	"grimm.is/portdrop/internal/errors"
	"grimm.is/portdrop/internal/store"
)

// Map is the subset of *ebpf.Map the store uses.
type Map interface {
	Lookup(key, valueOut interface{}) error
	Update(key, value interface{}, flags ebpf.MapUpdateFlags) error
	Delete(key interface{}) error
}

// slot is the only key of both single-entry maps.
const slot = uint32(0)

// Store reads and writes the port and statistics maps. The kernel
// program increments the counters itself; this side only configures the
// port and takes snapshots.
type Store struct {
	port  Map
	stats Map
	// serializes control-plane writers; readers in the kernel never wait
	mutex sync.Mutex
}

// NewStore wraps the two maps of a loaded port filter.
func NewStore(portMap, statsMap Map) *Store {
	return &Store{port: portMap, stats: statsMap}
}

// Init zeroes the statistics record and clears the port. Called once
// before the program is attached.
func (s *Store) Init() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.stats.Update(slot, store.Stats{}, ebpf.UpdateAny); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to zero statistics record")
	}
	if err := s.clearPort(); err != nil {
		return err
	}
	return nil
}

// LoadPort reads the configured port. A missing entry is an unset port.
func (s *Store) LoadPort() (uint16, bool, error) {
	var port uint16
	err := s.port.Lookup(slot, &port)
	switch {
	case err == nil:
		return port, true, nil
	case errors.Is(err, ebpf.ErrKeyNotExist):
		return 0, false, nil
	default:
		return 0, false, errors.Wrap(err, errors.KindUnavailable, "failed to read port map")
	}
}

// SetPort replaces the configured port. The kernel sees either the old
// or the new value.
func (s *Store) SetPort(port uint16) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.port.Update(slot, port, ebpf.UpdateAny); err != nil {
		return errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to write port map"), "port", port)
	}
	return nil
}

// ClearPort removes the port entry; the filter passes everything.
func (s *Store) ClearPort() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.clearPort()
}

func (s *Store) clearPort() error {
	if err := s.port.Delete(slot); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
		return errors.Wrap(err, errors.KindUnavailable, "failed to clear port map")
	}
	return nil
}

// Snapshot copies the statistics record out of the kernel.
func (s *Store) Snapshot() (store.Stats, error) {
	var stats store.Stats
	if err := s.stats.Lookup(slot, &stats); err != nil {
		return store.Stats{}, errors.Wrap(err, errors.KindUnavailable, "failed to read statistics map")
	}
	return stats, nil
}

var _ store.Control = (*Store)(nil)
