// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package replay runs a packet capture through the Go classifier.
//
// Frames are read from a pcap or pcapng file and fanned out to a fixed
// number of lanes that share one in-process store, the same way the
// kernel program runs on every CPU against one set of maps.
package replay

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"golang.org/x/sync/errgroup"

	"grimm.is/portdrop/internal/errors"
	"grimm.is/portdrop/internal/filter"
	"grimm.is/portdrop/internal/logging"
	"grimm.is/portdrop/internal/store"
)

// pcapng section header block type, identical in both byte orders.
const ngMagic = 0x0A0D0D0A

// Options configures a replay.
type Options struct {
	// Port is the filtered port; zero replays unconfigured.
	Port    uint16
	Workers int
	Logger  *logging.Logger
}

// Result summarizes a replay.
type Result struct {
	Frames  uint64
	Stats   store.Stats
	Reasons map[filter.Reason]uint64
	Elapsed time.Duration
}

type packetReader interface {
	ReadPacketData() ([]byte, error)
	LinkType() layers.LinkType
}

type pcapReader struct{ *pcapgo.Reader }

func (r pcapReader) ReadPacketData() ([]byte, error) {
	data, _, err := r.Reader.ReadPacketData()
	return data, err
}

type ngReader struct{ *pcapgo.NgReader }

func (r ngReader) ReadPacketData() ([]byte, error) {
	data, _, err := r.NgReader.ReadPacketData()
	return data, err
}

// Replayer classifies captures against one store.
type Replayer struct {
	store   *store.Store
	workers int
	logger  *logging.Logger
}

// New creates a replayer with a fresh store configured from opts.
func New(opts Options) (*Replayer, error) {
	s := store.New()
	if opts.Port != 0 {
		if err := s.SetPort(opts.Port); err != nil {
			return nil, err
		}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Replayer{store: s, workers: workers, logger: logger.WithComponent("replay")}, nil
}

// Store is the store frames are classified against.
func (r *Replayer) Store() *store.Store {
	return r.store
}

// File replays the capture at path.
func (r *Replayer) File(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, errors.Attr(errors.Wrap(err, errors.KindNotFound, "capture not found"), "path", path)
		}
		return Result{}, errors.Attr(errors.Wrap(err, errors.KindInternal, "failed to open capture"), "path", path)
	}
	defer f.Close()

	res, err := r.Read(ctx, f)
	if err != nil {
		return res, errors.Attr(err, "path", path)
	}
	return res, nil
}

// Read replays a capture from src, detecting pcap or pcapng.
func (r *Replayer) Read(ctx context.Context, src io.Reader) (Result, error) {
	pr, err := openReader(src)
	if err != nil {
		return Result{}, err
	}
	if lt := pr.LinkType(); lt != layers.LinkTypeEthernet {
		return Result{}, errors.Attr(errors.Errorf(errors.KindValidation, "unsupported link type %s", lt), "link_type", lt.String())
	}
	return r.run(ctx, pr)
}

func openReader(src io.Reader) (packetReader, error) {
	br := bufio.NewReader(src)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "capture too short")
	}

	if binary.LittleEndian.Uint32(magic) == ngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindValidation, "invalid pcapng capture")
		}
		return ngReader{ng}, nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "invalid pcap capture")
	}
	return pcapReader{pr}, nil
}

// laneResult is what one lane counted; merged after all lanes finish.
type laneResult struct {
	frames  uint64
	reasons map[filter.Reason]uint64
}

func (r *Replayer) run(ctx context.Context, pr packetReader) (Result, error) {
	start := time.Now()
	frames := make(chan []byte, r.workers*64)
	lanes := make([]laneResult, r.workers)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(frames)
		for {
			data, err := pr.ReadPacketData()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return errors.Wrap(err, errors.KindValidation, "failed to read packet")
			}
			select {
			case frames <- data:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	classifier := filter.New(r.store)
	for i := range lanes {
		lane := &lanes[i]
		lane.reasons = make(map[filter.Reason]uint64)
		g.Go(func() error {
			for frame := range frames {
				dec := classifier.Decide(frame)
				lane.frames++
				lane.reasons[dec.Reason]++
				if dec.Verdict == filter.VerdictDrop {
					r.logger.Debug("dropped TCP packet",
						"src_port", dec.SrcPort, "dst_port", dec.DstPort, "reason", dec.Reason.String())
				}
			}
			return nil
		})
	}

	err := g.Wait()

	res := Result{Reasons: make(map[filter.Reason]uint64), Elapsed: time.Since(start)}
	for _, lane := range lanes {
		res.Frames += lane.frames
		for reason, n := range lane.reasons {
			res.Reasons[reason] += n
		}
	}
	snap, serr := r.store.Snapshot()
	res.Stats = snap
	return res, errors.Join(err, serr)
}
