// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package filter

import "encoding/binary"

// Header sizes and field offsets, all relative to the start of their header.
const (
	EthernetHeaderLen = 14
	IPv4MinHeaderLen  = 20
	IPv4MaxHeaderLen  = 60
	TCPMinHeaderLen   = 20

	ethTypeOffset    = 12
	ipv4VerIHLOffset = 0
	ipv4ProtoOffset  = 9
	tcpSrcPortOffset = 0
	tcpDstPortOffset = 2

	EtherTypeIPv4 = 0x0800
	ProtocolTCP   = 6
)

// FrameView is a bounds-checked window onto a received frame. It never
// copies or owns the buffer. Every accessor verifies off+size <= Len()
// before touching memory and reports failure instead of panicking.
type FrameView struct {
	buf        []byte
	start, end int
}

// NewFrameView covers the whole of b.
func NewFrameView(b []byte) FrameView {
	return FrameView{buf: b, start: 0, end: len(b)}
}

// Len is the number of bytes visible through the view.
func (v FrameView) Len() int { return v.end - v.start }

// Has reports whether n bytes starting at off are inside the view.
// Written as subtraction so off+n cannot overflow.
func (v FrameView) Has(off, n int) bool {
	return off >= 0 && n >= 0 && off <= v.Len() && n <= v.Len()-off
}

// Sub narrows the view to [off, off+n).
func (v FrameView) Sub(off, n int) (FrameView, bool) {
	if !v.Has(off, n) {
		return FrameView{}, false
	}
	s := v.start + off
	return FrameView{buf: v.buf, start: s, end: s + n}, true
}

// Uint8 reads one byte at off.
func (v FrameView) Uint8(off int) (uint8, bool) {
	if !v.Has(off, 1) {
		return 0, false
	}
	return v.buf[v.start+off], true
}

// Uint16 reads a big-endian (network order) value at off and returns it
// in host order.
func (v FrameView) Uint16(off int) (uint16, bool) {
	if !v.Has(off, 2) {
		return 0, false
	}
	s := v.start + off
	return binary.BigEndian.Uint16(v.buf[s : s+2]), true
}

// EthernetHeader is a validated view of an Ethernet II header.
type EthernetHeader struct{ v FrameView }

// ParseEthernet validates that an Ethernet header fits at the start of v.
func ParseEthernet(v FrameView) (EthernetHeader, bool) {
	h, ok := v.Sub(0, EthernetHeaderLen)
	return EthernetHeader{h}, ok
}

func (h EthernetHeader) EtherType() uint16 {
	t, _ := h.v.Uint16(ethTypeOffset)
	return t
}

// IPv4Header is a validated view of the fixed 20-byte part of an IPv4
// header. Options, if any, are not covered by the view.
type IPv4Header struct{ v FrameView }

// ParseIPv4 validates that a minimal IPv4 header fits at off.
func ParseIPv4(v FrameView, off int) (IPv4Header, bool) {
	h, ok := v.Sub(off, IPv4MinHeaderLen)
	return IPv4Header{h}, ok
}

// IHL is the header length in 32-bit words, 0..15.
func (h IPv4Header) IHL() uint8 {
	b, _ := h.v.Uint8(ipv4VerIHLOffset)
	return b & 0x0f
}

// HeaderLen is IHL*4, at most IPv4MaxHeaderLen.
func (h IPv4Header) HeaderLen() int {
	return int(h.IHL()) * 4
}

func (h IPv4Header) Protocol() uint8 {
	p, _ := h.v.Uint8(ipv4ProtoOffset)
	return p
}

// TCPHeader is a validated view of the fixed 20-byte part of a TCP header.
type TCPHeader struct{ v FrameView }

// ParseTCP validates that a minimal TCP header fits at off.
func ParseTCP(v FrameView, off int) (TCPHeader, bool) {
	h, ok := v.Sub(off, TCPMinHeaderLen)
	return TCPHeader{h}, ok
}

func (h TCPHeader) SrcPort() uint16 {
	p, _ := h.v.Uint16(tcpSrcPortOffset)
	return p
}

func (h TCPHeader) DstPort() uint16 {
	p, _ := h.v.Uint16(tcpDstPortOffset)
	return p
}
