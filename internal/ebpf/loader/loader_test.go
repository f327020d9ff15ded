// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package loader

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/portdrop/internal/ebpf/programs"
	"grimm.is/portdrop/internal/errors"
	"grimm.is/portdrop/internal/testutil"
)

func TestCheckPrivileges(t *testing.T) {
	err := CheckPrivileges()
	if os.Geteuid() == 0 {
		assert.NoError(t, err)
		return
	}
	require.Error(t, err)
	assert.Equal(t, errors.KindPermission, errors.GetKind(err))
}

func TestLoader_NotLoaded(t *testing.T) {
	l := NewLoader(nil)
	assert.Nil(t, l.Program())
	assert.Nil(t, l.PortMap())
	assert.Nil(t, l.StatsMap())
	assert.NoError(t, l.Close())

	_, err := l.Info()
	assert.Equal(t, errors.KindUnavailable, errors.GetKind(err))
}

func TestLoader_LoadAndClose(t *testing.T) {
	testutil.RequireRoot(t)
	if err := VerifyKernelSupport(); err != nil {
		t.Skipf("eBPF not supported: %v", err)
	}

	l := NewLoader(nil)
	require.NoError(t, l.Load())
	defer l.Close()

	require.NotNil(t, l.Program())
	require.NotNil(t, l.PortMap())
	require.NotNil(t, l.StatsMap())

	err := l.Load()
	assert.Equal(t, errors.KindConflict, errors.GetKind(err))

	info, err := l.Info()
	require.NoError(t, err)
	assert.Equal(t, "XDP", info.Type)
	assert.Len(t, info.Maps, 2)
	for _, m := range info.Maps {
		assert.Equal(t, uint32(1), m.MaxEntries)
	}
	assert.Equal(t, uint32(programs.StatsValueSize), info.Maps[1].ValueSize)

	require.NoError(t, l.Close())
	assert.Nil(t, l.Program())
	assert.NoError(t, l.Close())
}
