// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package replay

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/portdrop/internal/errors"
	"grimm.is/portdrop/internal/filter"
	"grimm.is/portdrop/internal/logging"
	"grimm.is/portdrop/internal/store"
	"grimm.is/portdrop/internal/testutil"
)

func captureInfo(data []byte) gopacket.CaptureInfo {
	return gopacket.CaptureInfo{
		Timestamp:     time.Unix(1_700_000_000, 0),
		CaptureLength: len(data),
		Length:        len(data),
	}
}

// mixedFrames is ten frames: 4 dropped, 3 passed TCP, 2 passed UDP and
// one truncated Ethernet header.
func mixedFrames(t *testing.T) [][]byte {
	return [][]byte{
		testutil.TCPFrame(t, 50000, 4040),
		testutil.TCPFrame(t, 4040, 50000),
		testutil.TCPFrame(t, 50001, 4040),
		testutil.TCPFrame(t, 4040, 4040),
		testutil.TCPFrame(t, 50000, 80),
		testutil.TCPFrame(t, 443, 50000),
		testutil.TCPFrame(t, 22, 50022),
		testutil.UDPFrame(t, 4040, 53),
		testutil.UDPFrame(t, 53, 4040),
		{0x02, 0x00, 0x00},
	}
}

func pcapBytes(t *testing.T, linkType layers.LinkType, frames [][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65535, linkType))
	for _, f := range frames {
		require.NoError(t, w.WritePacket(captureInfo(f), f))
	}
	return buf.Bytes()
}

func pcapngBytes(t *testing.T, frames [][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := pcapgo.NewNgWriter(&buf, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for _, f := range frames {
		require.NoError(t, w.WritePacket(captureInfo(f), f))
	}
	require.NoError(t, w.Flush())
	return buf.Bytes()
}

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError, Output: &bytes.Buffer{}})
}

func TestReplay_Pcap(t *testing.T) {
	for _, workers := range []int{1, 4} {
		r, err := New(Options{Port: 4040, Workers: workers, Logger: quietLogger()})
		require.NoError(t, err)

		res, err := r.Read(context.Background(), bytes.NewReader(pcapBytes(t, layers.LinkTypeEthernet, mixedFrames(t))))
		require.NoError(t, err)

		assert.Equal(t, uint64(10), res.Frames)
		assert.Equal(t, store.Stats{Total: 10, TCP: 7, Dropped: 4, Passed: 5}, res.Stats)
		assert.Equal(t, uint64(3), res.Reasons[filter.ReasonDstPortMatch])
		assert.Equal(t, uint64(1), res.Reasons[filter.ReasonSrcPortMatch])
		assert.Equal(t, uint64(2), res.Reasons[filter.ReasonNotTCP])
		assert.Equal(t, uint64(1), res.Reasons[filter.ReasonTruncatedEthernet])
		assert.Equal(t, uint64(1), res.Stats.Unaccounted())
	}
}

func TestReplay_Pcapng(t *testing.T) {
	r, err := New(Options{Port: 4040, Workers: 2, Logger: quietLogger()})
	require.NoError(t, err)

	res, err := r.Read(context.Background(), bytes.NewReader(pcapngBytes(t, mixedFrames(t))))
	require.NoError(t, err)
	assert.Equal(t, store.Stats{Total: 10, TCP: 7, Dropped: 4, Passed: 5}, res.Stats)
}

func TestReplay_Unconfigured(t *testing.T) {
	r, err := New(Options{Workers: 2, Logger: quietLogger()})
	require.NoError(t, err)

	res, err := r.Read(context.Background(), bytes.NewReader(pcapBytes(t, layers.LinkTypeEthernet, mixedFrames(t))))
	require.NoError(t, err)
	assert.Zero(t, res.Stats.Dropped)
	assert.Equal(t, uint64(7), res.Reasons[filter.ReasonUnconfigured])
	assert.Equal(t, uint64(9), res.Stats.Passed)
}

func TestReplay_RejectsNonEthernet(t *testing.T) {
	r, err := New(Options{Port: 4040, Logger: quietLogger()})
	require.NoError(t, err)

	_, err = r.Read(context.Background(), bytes.NewReader(pcapBytes(t, layers.LinkTypeRaw, nil)))
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestReplay_Garbage(t *testing.T) {
	r, err := New(Options{Logger: quietLogger()})
	require.NoError(t, err)

	_, err = r.Read(context.Background(), bytes.NewReader([]byte("definitely not a capture")))
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))

	_, err = r.Read(context.Background(), bytes.NewReader(nil))
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestReplay_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.pcap")
	require.NoError(t, os.WriteFile(path, pcapBytes(t, layers.LinkTypeEthernet, mixedFrames(t)), 0o644))

	r, err := New(Options{Port: 4040, Logger: quietLogger()})
	require.NoError(t, err)
	res, err := r.File(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), res.Stats.Dropped)

	_, err = r.File(context.Background(), filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestReplay_Cancelled(t *testing.T) {
	frames := make([][]byte, 0, 2000)
	for i := 0; i < 2000; i++ {
		frames = append(frames, testutil.TCPFrame(t, 50000, 4040))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := New(Options{Port: 4040, Workers: 1, Logger: quietLogger()})
	require.NoError(t, err)
	res, err := r.Read(ctx, bytes.NewReader(pcapBytes(t, layers.LinkTypeEthernet, frames)))
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, res.Frames, uint64(2000))
}

func TestReplay_DropTraceAtDebug(t *testing.T) {
	var logs bytes.Buffer
	logger := logging.New(logging.Config{Level: logging.LevelDebug, Output: &logs, JSON: true})

	r, err := New(Options{Port: 4040, Workers: 1, Logger: logger})
	require.NoError(t, err)
	_, err = r.Read(context.Background(), bytes.NewReader(pcapBytes(t, layers.LinkTypeEthernet,
		[][]byte{testutil.TCPFrame(t, 50000, 4040)})))
	require.NoError(t, err)

	assert.Contains(t, logs.String(), `"msg":"dropped TCP packet"`)
	assert.Contains(t, logs.String(), `"dst_port":4040`)
	assert.Contains(t, logs.String(), `"reason":"dst_port_match"`)
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	res := Result{
		Frames:  3,
		Stats:   store.Stats{Total: 3, TCP: 2, Dropped: 1, Passed: 1},
		Reasons: map[filter.Reason]uint64{filter.ReasonDstPortMatch: 1, filter.ReasonNoMatch: 1, filter.ReasonTruncatedTCP: 1},
		Elapsed: time.Second,
	}
	require.NoError(t, WriteSummary(&buf, res))

	out := buf.String()
	assert.Contains(t, out, "Drop rate:       33.33%")
	assert.Contains(t, out, "truncated_tcp")
	assert.Contains(t, out, "(malformed)")
	assert.Contains(t, out, "Replayed 3 frames in 1s")
	assert.Contains(t, out, "Unaccounted:  1 frames counted without a verdict")

	buf.Reset()
	res.Stats = store.Stats{Total: 2, TCP: 2, Dropped: 1, Passed: 1}
	require.NoError(t, WriteSummary(&buf, res))
	assert.NotContains(t, buf.String(), "Unaccounted")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("truncated_tcp")), bytes.Index(buf.Bytes(), []byte("dst_port_match")))
}
