// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package programs

import (
	"encoding/binary"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
)

// Object names inside the port filter collection.
const (
	PortFilterProgram = "xdp_port_filter"
	PortMapName       = "port_map"
	StatsMapName      = "stats_map"
)

// Statistics record layout: four u64 counters, in store.Counter order.
const (
	statsTotalOffset   = 0
	statsTCPOffset     = 8
	statsDroppedOffset = 16
	statsPassedOffset  = 24
	StatsValueSize     = 32
)

// XDP action codes.
const (
	xdpAborted = 0
	xdpDrop    = 1
	xdpPass    = 2
)

// struct xdp_md
const (
	xdpMDData    = 0
	xdpMDDataEnd = 4
)

// Frame offsets, relative to the start of the Ethernet header.
const (
	ethHdrLen      = 14
	ethTypeHi      = 12
	ethTypeLo      = 13
	ipVerIHL       = ethHdrLen + 0
	ipProto        = ethHdrLen + 9
	ipMinEnd       = ethHdrLen + 20
	tcpMinHdrLen   = 20
	etherTypeIPv4  = 0x0800
	ipProtocolTCP  = 6
	ipMinIHLWords  = 5
	ipIHLMask      = 0x0f
	mapKeyStackOff = -4
)

// Jump labels.
const (
	lblHaveStats  = "have_stats"
	lblPassCount  = "pass_count"
	lblPassSilent = "pass_silent"
	lblDrop       = "drop"
	lblDropDst    = "drop_dst"
	lblDropSrc    = "drop_src"
)

// Drop traces, readable from the kernel trace pipe.
const (
	traceDropDst = "Dropping TCP packet to port %u"
	traceDropSrc = "Dropping TCP packet from port %u"
)

// xadd atomically adds src to the u64 at dst+off.
func xadd(dst, src asm.Register, off int16) asm.Instruction {
	ins := asm.StoreXAdd(dst, src, asm.DWord)
	ins.Offset = off
	return ins
}

// loadPort16 assembles a big-endian u16 at base+off into dst, using
// tmp as scratch. Byte loads keep it independent of host endianness.
func loadPort16(dst, tmp, base asm.Register, off int16) asm.Instructions {
	return asm.Instructions{
		asm.LoadMem(dst, base, off, asm.Byte),
		asm.LSh.Imm(dst, 8),
		asm.LoadMem(tmp, base, off+1, asm.Byte),
		asm.Or.Reg(dst, tmp),
	}
}

// lookupKeyZero calls bpf_map_lookup_elem(map, &0). R0 holds the value
// pointer or NULL afterwards.
func lookupKeyZero(mapName string) asm.Instructions {
	return asm.Instructions{
		asm.StoreImm(asm.RFP, mapKeyStackOff, 0, asm.Word),
		asm.LoadMapPtr(asm.R1, 0).WithReference(mapName),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, mapKeyStackOff),
		asm.FnMapLookupElem.Call(),
	}
}

// tracePrintk calls bpf_trace_printk(format, arg). The format is copied
// onto the stack below the map key slot. Only R1-R5 are clobbered.
func tracePrintk(format string, arg asm.Register) asm.Instructions {
	buf := make([]byte, (len(format)+1+7)&^7)
	copy(buf, format)
	base := int16(mapKeyStackOff - 4 - len(buf))

	var insns asm.Instructions
	for i := 0; i < len(buf); i += 8 {
		insns = append(insns,
			asm.LoadImm(asm.R1, int64(binary.NativeEndian.Uint64(buf[i:])), asm.DWord),
			asm.StoreMem(asm.RFP, base+int16(i), asm.R1, asm.DWord),
		)
	}
	return append(insns,
		asm.Mov.Reg(asm.R1, asm.RFP),
		asm.Add.Imm(asm.R1, int32(base)),
		asm.Mov.Imm(asm.R2, int32(len(format)+1)),
		asm.Mov.Reg(asm.R3, arg),
		asm.FnTracePrintk.Call(),
	)
}

// PortFilterInstructions is the XDP port filter. Register use:
//
//	R6 ctx, later the source port
//	R7 statistics record
//	R8 start of the TCP header
//	R9 destination port
//
// It mirrors filter.Classify step for step.
func PortFilterInstructions() asm.Instructions {
	var insns asm.Instructions
	add := func(more ...asm.Instruction) { insns = append(insns, more...) }

	add(asm.Mov.Reg(asm.R6, asm.R1))

	// Statistics record; without it nothing can be counted.
	add(lookupKeyZero(StatsMapName)...)
	add(
		asm.JNE.Imm(asm.R0, 0, lblHaveStats),
		asm.Mov.Imm(asm.R0, xdpAborted),
		asm.Return(),

		asm.Mov.Reg(asm.R7, asm.R0).WithSymbol(lblHaveStats),
		asm.Mov.Imm(asm.R1, 1),
		xadd(asm.R7, asm.R1, statsTotalOffset),

		asm.LoadMem(asm.R2, asm.R6, xdpMDData, asm.Word),
		asm.LoadMem(asm.R3, asm.R6, xdpMDDataEnd, asm.Word),

		// Ethernet
		asm.Mov.Reg(asm.R4, asm.R2),
		asm.Add.Imm(asm.R4, ethHdrLen),
		asm.JGT.Reg(asm.R4, asm.R3, lblPassSilent),
		asm.LoadMem(asm.R5, asm.R2, ethTypeHi, asm.Byte),
		asm.LSh.Imm(asm.R5, 8),
		asm.LoadMem(asm.R4, asm.R2, ethTypeLo, asm.Byte),
		asm.Or.Reg(asm.R5, asm.R4),
		asm.JNE.Imm(asm.R5, etherTypeIPv4, lblPassCount),

		// IPv4 fixed header
		asm.Mov.Reg(asm.R4, asm.R2),
		asm.Add.Imm(asm.R4, ipMinEnd),
		asm.JGT.Reg(asm.R4, asm.R3, lblPassSilent),
		asm.LoadMem(asm.R5, asm.R2, ipProto, asm.Byte),
		asm.JNE.Imm(asm.R5, ipProtocolTCP, lblPassCount),

		asm.Mov.Imm(asm.R1, 1),
		xadd(asm.R7, asm.R1, statsTCPOffset),

		// TCP header at 14 + IHL*4, IHL in [5, 15]
		asm.LoadMem(asm.R5, asm.R2, ipVerIHL, asm.Byte),
		asm.And.Imm(asm.R5, ipIHLMask),
		asm.JLT.Imm(asm.R5, ipMinIHLWords, lblPassSilent),
		asm.LSh.Imm(asm.R5, 2),
		asm.Mov.Reg(asm.R8, asm.R2),
		asm.Add.Imm(asm.R8, ethHdrLen),
		asm.Add.Reg(asm.R8, asm.R5),
		asm.Mov.Reg(asm.R4, asm.R8),
		asm.Add.Imm(asm.R4, tcpMinHdrLen),
		asm.JGT.Reg(asm.R4, asm.R3, lblPassSilent),
	)
	add(loadPort16(asm.R9, asm.R4, asm.R8, 2)...)
	add(loadPort16(asm.R6, asm.R4, asm.R8, 0)...)

	// Configured port; an absent entry means unset.
	add(lookupKeyZero(PortMapName)...)
	add(
		asm.JEq.Imm(asm.R0, 0, lblPassCount),
		asm.LoadMem(asm.R1, asm.R0, 0, asm.Half),
		asm.JEq.Reg(asm.R1, asm.R9, lblDropDst),
		asm.JEq.Reg(asm.R1, asm.R6, lblDropSrc),

		asm.Mov.Imm(asm.R1, 1).WithSymbol(lblPassCount),
		xadd(asm.R7, asm.R1, statsPassedOffset),
		asm.Mov.Imm(asm.R0, xdpPass).WithSymbol(lblPassSilent),
		asm.Return(),
	)

	// One trace per drop, naming the port that matched. Destination wins
	// when both do.
	dst := tracePrintk(traceDropDst, asm.R9)
	dst[0] = dst[0].WithSymbol(lblDropDst)
	add(dst...)
	add(asm.Ja.Label(lblDrop))
	src := tracePrintk(traceDropSrc, asm.R6)
	src[0] = src[0].WithSymbol(lblDropSrc)
	add(src...)

	add(
		asm.Mov.Imm(asm.R1, 1).WithSymbol(lblDrop),
		xadd(asm.R7, asm.R1, statsDroppedOffset),
		asm.Mov.Imm(asm.R0, xdpDrop),
		asm.Return(),
	)
	return insns
}

// PortFilterSpec returns a fresh collection spec for the port filter.
// Callers may modify it before loading.
func PortFilterSpec() *ebpf.CollectionSpec {
	return &ebpf.CollectionSpec{
		Maps: map[string]*ebpf.MapSpec{
			PortMapName: {
				Name:       PortMapName,
				Type:       ebpf.Hash,
				KeySize:    4,
				ValueSize:  2,
				MaxEntries: 1,
			},
			StatsMapName: {
				Name:       StatsMapName,
				Type:       ebpf.Array,
				KeySize:    4,
				ValueSize:  StatsValueSize,
				MaxEntries: 1,
			},
		},
		Programs: map[string]*ebpf.ProgramSpec{
			PortFilterProgram: {
				Name:         PortFilterProgram,
				Type:         ebpf.XDP,
				License:      "GPL",
				Instructions: PortFilterInstructions(),
			},
		},
	}
}

// PortFilterObjects holds the loaded program and maps.
type PortFilterObjects struct {
	Program  *ebpf.Program `ebpf:"xdp_port_filter"`
	PortMap  *ebpf.Map     `ebpf:"port_map"`
	StatsMap *ebpf.Map     `ebpf:"stats_map"`
}

// LoadPortFilterObjects loads the collection into the kernel and assigns
// its objects to objs. opts may be nil.
func LoadPortFilterObjects(objs *PortFilterObjects, opts *ebpf.CollectionOptions) error {
	if err := PortFilterSpec().LoadAndAssign(objs, opts); err != nil {
		return fmt.Errorf("failed to load port filter: %w", err)
	}
	return nil
}

// Close releases the program and maps. Safe on partially loaded objects,
// Close on a nil program or map is a no-op.
func (o *PortFilterObjects) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{o.Program, o.PortMap, o.StatsMap} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
