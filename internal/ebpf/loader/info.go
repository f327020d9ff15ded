// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package loader

import (
	"time"

	"github.com/cilium/ebpf"

	"grimm.is/portdrop/internal/errors"
)

// ProgramInfo describes the loaded program for health reporting.
type ProgramInfo struct {
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Tag      string    `json:"tag"`
	ID       uint32    `json:"id"`
	LoadedAt time.Time `json:"loaded_at"`
	Maps     []MapInfo `json:"maps"`
}

// MapInfo describes one of the filter maps.
type MapInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	KeySize    uint32 `json:"key_size"`
	ValueSize  uint32 `json:"value_size"`
	MaxEntries uint32 `json:"max_entries"`
}

// Info queries the kernel for the loaded program and its maps.
func (l *Loader) Info() (ProgramInfo, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if !l.loaded {
		return ProgramInfo{}, errors.New(errors.KindUnavailable, "port filter not loaded")
	}

	info, err := l.objs.Program.Info()
	if err != nil {
		return ProgramInfo{}, errors.Wrap(err, errors.KindInternal, "failed to get program info")
	}
	id, _ := info.ID()

	pi := ProgramInfo{
		Name:     info.Name,
		Type:     info.Type.String(),
		Tag:      info.Tag,
		ID:       uint32(id),
		LoadedAt: l.loadedAt,
	}

	for _, m := range []*ebpf.Map{l.objs.PortMap, l.objs.StatsMap} {
		mi, err := m.Info()
		if err != nil {
			return ProgramInfo{}, errors.Wrap(err, errors.KindInternal, "failed to get map info")
		}
		pi.Maps = append(pi.Maps, MapInfo{
			Name:       mi.Name,
			Type:       mi.Type.String(),
			KeySize:    mi.KeySize,
			ValueSize:  mi.ValueSize,
			MaxEntries: mi.MaxEntries,
		})
	}
	return pi, nil
}
