// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store holds the state shared between the packet classifier and
// the control plane: the filtered port and the packet counters.
//
// The classifier side (Datapath) is lock-free: a single atomic word for the
// port and atomic adds on a record allocated once. The control side
// (Control) may be backed by kernel maps, so its operations return errors.
package store

import (
	"sync/atomic"

	"grimm.is/portdrop/internal/errors"
)

// Counter names one of the four packet counters.
type Counter uint8

const (
	CounterTotal Counter = iota
	CounterTCP
	CounterDropped
	CounterPassed

	numCounters
)

func (c Counter) String() string {
	switch c {
	case CounterTotal:
		return "total"
	case CounterTCP:
		return "tcp"
	case CounterDropped:
		return "dropped"
	case CounterPassed:
		return "passed"
	default:
		return "unknown"
	}
}

// Counters lists every counter in record order.
func Counters() []Counter {
	return []Counter{CounterTotal, CounterTCP, CounterDropped, CounterPassed}
}

// Stats is a point-in-time copy of the counters. Field order and widths
// match the kernel statistics record so it can be read straight out of the
// stats map.
type Stats struct {
	Total   uint64 `json:"total"`
	TCP     uint64 `json:"tcp"`
	Dropped uint64 `json:"dropped"`
	Passed  uint64 `json:"passed"`
}

// Get returns the value of one counter.
func (s Stats) Get(c Counter) uint64 {
	switch c {
	case CounterTotal:
		return s.Total
	case CounterTCP:
		return s.TCP
	case CounterDropped:
		return s.Dropped
	case CounterPassed:
		return s.Passed
	}
	return 0
}

// DropRate is dropped/total in percent, 0 when nothing was seen.
func (s Stats) DropRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Dropped) / float64(s.Total) * 100
}

// Unaccounted is the number of frames counted in Total that neither passed
// nor dropped with a counter, i.e. frames rejected as truncated. Snapshots
// are not transactional so the value is only exact once traffic stops.
func (s Stats) Unaccounted() uint64 {
	done := s.Passed + s.Dropped
	if done >= s.Total {
		return 0
	}
	return s.Total - done
}

// Record is the fixed-size counter record incremented by classifiers.
type Record struct {
	counters [numCounters]atomic.Uint64
}

// Increment adds one to c.
func (r *Record) Increment(c Counter) {
	if c < numCounters {
		r.counters[c].Add(1)
	}
}

// Add adds n to c.
func (r *Record) Add(c Counter, n uint64) {
	if c < numCounters {
		r.counters[c].Add(n)
	}
}

// Load reads one counter.
func (r *Record) Load(c Counter) uint64 {
	if c >= numCounters {
		return 0
	}
	return r.counters[c].Load()
}

// Snapshot reads the four counters one after the other.
func (r *Record) Snapshot() Stats {
	return Stats{
		Total:   r.counters[CounterTotal].Load(),
		TCP:     r.counters[CounterTCP].Load(),
		Dropped: r.counters[CounterDropped].Load(),
		Passed:  r.counters[CounterPassed].Load(),
	}
}

// Datapath is the capability surface a classification runs against.
type Datapath interface {
	// Port returns the configured port, ok is false when unset.
	Port() (port uint16, ok bool)
	// Record returns the counter record, nil when it is unavailable.
	Record() *Record
}

// Control is the control-plane surface.
type Control interface {
	LoadPort() (port uint16, ok bool, err error)
	SetPort(port uint16) error
	ClearPort() error
	Snapshot() (Stats, error)
}

// ErrUnavailable is returned when the statistics record cannot be reached.
var ErrUnavailable = errors.New(errors.KindUnavailable, "statistics record unavailable")

const portSet = 1 << 16

// Store is the in-process implementation of both Datapath and Control.
type Store struct {
	// low 16 bits hold the port, bit 16 marks it as set; one word so
	// readers never see a torn value.
	port   atomic.Uint32
	record *Record
}

// New returns a store with an unset port and zeroed counters.
func New() *Store {
	return &Store{record: &Record{}}
}

// NewWithoutRecord returns a store whose statistics record is missing.
// Classifications against it abort.
func NewWithoutRecord() *Store {
	return &Store{}
}

func (s *Store) Port() (uint16, bool) {
	v := s.port.Load()
	return uint16(v), v&portSet != 0
}

func (s *Store) Record() *Record {
	return s.record
}

func (s *Store) LoadPort() (uint16, bool, error) {
	p, ok := s.Port()
	return p, ok, nil
}

func (s *Store) SetPort(port uint16) error {
	s.port.Store(portSet | uint32(port))
	return nil
}

func (s *Store) ClearPort() error {
	s.port.Store(0)
	return nil
}

func (s *Store) Snapshot() (Stats, error) {
	if s.record == nil {
		return Stats{}, ErrUnavailable
	}
	return s.record.Snapshot(), nil
}

var (
	_ Datapath = (*Store)(nil)
	_ Control  = (*Store)(nil)
)

// ValidatePort checks that p is a usable TCP port (1-65535).
func ValidatePort(p int) (uint16, error) {
	if p <= 0 || p > 65535 {
		return 0, errors.Attr(errors.Errorf(errors.KindValidation, "invalid port number: %d", p), "port", p)
	}
	return uint16(p), nil
}
