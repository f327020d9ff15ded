// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/portdrop/internal/config"
	"grimm.is/portdrop/internal/ebpf/controlplane"
	"grimm.is/portdrop/internal/store"
	"grimm.is/portdrop/internal/testutil"
)

func newAPI(t *testing.T) (*store.Store, string) {
	t.Helper()
	s := store.New()
	ts := httptest.NewServer(controlplane.New(s, controlplane.Options{}).Handler())
	t.Cleanup(ts.Close)
	return s, ts.URL
}

func TestPortCommands(t *testing.T) {
	s, addr := newAPI(t)

	res := run(t, "port", "get", "--addr", addr)
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "No port configured, passing all traffic")

	res = run(t, "port", "set", "8080", "--addr", addr)
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "Filtering TCP packets on port: 8080")
	port, ok := s.Port()
	assert.True(t, ok)
	assert.Equal(t, uint16(8080), port)

	res = run(t, "port", "get", "-a", addr)
	assert.Contains(t, res.out, "port: 8080")

	res = run(t, "port", "clear", "--addr", addr)
	require.Equal(t, 0, res.code, res.err)
	_, ok = s.Port()
	assert.False(t, ok)
}

func TestPortSet_Invalid(t *testing.T) {
	s, addr := newAPI(t)
	for _, arg := range []string{"0", "65536", "ssh"} {
		res := run(t, "port", "set", arg, "--addr", addr)
		assert.Equal(t, 1, res.code)
		assert.Contains(t, res.err, "invalid port number: "+arg)
		assert.Contains(t, res.err, "Usage:")
	}
	_, ok := s.Port()
	assert.False(t, ok)
}

func TestPortGet_Unreachable(t *testing.T) {
	res := run(t, "port", "get", "--addr", "127.0.0.1:1")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "Error:")
	assert.NotContains(t, res.err, "Usage:")
}

func TestStatsCommand(t *testing.T) {
	s, addr := newAPI(t)
	require.NoError(t, s.SetPort(4040))
	s.Record().Add(store.CounterTotal, 200)
	s.Record().Add(store.CounterTCP, 150)
	s.Record().Add(store.CounterDropped, 50)
	s.Record().Add(store.CounterPassed, 150)

	res := run(t, "stats", "--addr", addr)
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "=== Packet Statistics ===")
	assert.Contains(t, res.out, "Dropped packets: 50")
	assert.Contains(t, res.out, "Drop rate:       25.00%")

	res = run(t, "stats", "--json", "--addr", addr)
	require.Equal(t, 0, res.code, res.err)
	var msg controlplane.StatsMessage
	require.NoError(t, json.Unmarshal([]byte(res.out), &msg))
	assert.Equal(t, uint64(200), msg.Total)
	assert.Equal(t, uint16(4040), msg.Port)
}

func writeCapture(t *testing.T, frames ...[]byte) string {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for _, f := range frames {
		ci := gopacket.CaptureInfo{Timestamp: time.Unix(1_700_000_000, 0), CaptureLength: len(f), Length: len(f)}
		require.NoError(t, w.WritePacket(ci, f))
	}
	path := filepath.Join(t.TempDir(), "capture.pcap")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestReplayCommand(t *testing.T) {
	path := writeCapture(t,
		testutil.TCPFrame(t, 50000, 8080),
		testutil.TCPFrame(t, 8080, 50000),
		testutil.TCPFrame(t, 50000, 443),
		testutil.UDPFrame(t, 8080, 53),
	)

	res := run(t, "replay", path, "-p", "8080", "-w", "2")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "Total packets:   4")
	assert.Contains(t, res.out, "TCP packets:     3")
	assert.Contains(t, res.out, "Dropped packets: 2")
	assert.Contains(t, res.out, "Passed packets:  2")
	assert.Contains(t, res.out, "Drop rate:       50.00%")
	assert.Contains(t, res.out, "src_port_match")
	assert.Contains(t, res.out, "Replayed 4 frames")

	res = run(t, "replay", path, "-p", "8080", "-v")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.err, "dropped TCP packet")
}

func TestReplayCommand_Errors(t *testing.T) {
	res := run(t, "replay")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "Usage:")

	res = run(t, "replay", writeCapture(t), "-p", "99999")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "invalid port number: 99999")

	res = run(t, "replay", filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "capture not found")
}

func TestConfigInit(t *testing.T) {
	res := run(t, "config", "init", "-i", "eth0", "-p", "8080")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, `interface = "eth0"`)
	assert.Contains(t, res.out, "port      = 8080")

	cfg, err := config.LoadHCL([]byte(res.out), "init.hcl")
	require.NoError(t, err)
	assert.False(t, cfg.Validate().HasErrors())

	path := filepath.Join(t.TempDir(), "portdrop.hcl")
	res = run(t, "config", "init", "-i", "eth0", "-o", path)
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "Wrote "+path)

	res = run(t, "config", "init", "-i", "eth0", "-o", path)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "file exists")

	res = run(t, "config", "init", "-i", "eth0", "-o", path, "--force")
	assert.Equal(t, 0, res.code, res.err)

	res = run(t, "config", "init", "-i", "eth0", "-p", "0")
	assert.Equal(t, 1, res.code)
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.hcl")
	require.NoError(t, os.WriteFile(good, []byte("interface = \"eth0\"\nport = 22\n"), 0o644))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("interface: eth0\nport: 70000\nxdp_mode: turbo\n"), 0o644))

	res := run(t, "config", "validate", good)
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "VALID: interface eth0, port 22, auto mode")

	res = run(t, "config", "validate", bad)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.out, "INVALID: "+bad)
	assert.Contains(t, res.out, "port: invalid port number: 70000")
	assert.Contains(t, res.out, "xdp_mode:")
	assert.Contains(t, res.err, "2 problem(s) found")
}

func TestConfigFmt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portdrop.hcl")
	require.NoError(t, os.WriteFile(path, []byte("interface=\"eth0\"\nport=22\n"), 0o644))

	res := run(t, "config", "fmt", "--diff", path)
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "+++ "+path+" (canonical)")
	assert.Contains(t, res.out, `-interface="eth0"`)

	res = run(t, "config", "fmt", "-w", path)
	require.Equal(t, 0, res.code, res.err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `interface = "eth0"`)

	res = run(t, "config", "fmt", "--diff", path)
	require.Equal(t, 0, res.code, res.err)
	assert.Empty(t, res.out)

	jsonPath := filepath.Join(t.TempDir(), "portdrop.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"interface":"eth0"}`), 0o644))
	res = run(t, "config", "fmt", "-w", jsonPath)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "only rewrites HCL files")
}
