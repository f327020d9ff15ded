// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package testutil

import (
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	srcIP  = net.IPv4(192, 0, 2, 1)
	dstIP  = net.IPv4(192, 0, 2, 2)
)

// FrameOptions describes a synthetic Ethernet frame.
type FrameOptions struct {
	EtherType layers.EthernetType // defaults to IPv4
	Protocol  layers.IPProtocol   // defaults to TCP
	SrcPort   uint16
	DstPort   uint16
	// IPOptions adds IPv4 options, in 4-byte words (at most 10).
	IPOptions int
	Payload   []byte
}

// TCPFrame builds an Ethernet/IPv4/TCP frame.
func TCPFrame(t testing.TB, src, dst uint16) []byte {
	t.Helper()
	return Frame(t, FrameOptions{SrcPort: src, DstPort: dst})
}

// UDPFrame builds an Ethernet/IPv4/UDP frame.
func UDPFrame(t testing.TB, src, dst uint16) []byte {
	t.Helper()
	return Frame(t, FrameOptions{Protocol: layers.IPProtocolUDP, SrcPort: src, DstPort: dst})
}

// Frame serializes a frame from opts with gopacket.
func Frame(t testing.TB, opts FrameOptions) []byte {
	t.Helper()

	if opts.EtherType == 0 {
		opts.EtherType = layers.EthernetTypeIPv4
	}
	if opts.Protocol == 0 {
		opts.Protocol = layers.IPProtocolTCP
	}

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: opts.EtherType}
	buf := gopacket.NewSerializeBuffer()
	so := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if opts.EtherType != layers.EthernetTypeIPv4 {
		payload := opts.Payload
		if payload == nil {
			payload = make([]byte, 46)
		}
		require.NoError(t, gopacket.SerializeLayers(buf, so, eth, gopacket.Payload(payload)))
		return buf.Bytes()
	}

	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: opts.Protocol,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	if opts.IPOptions > 0 {
		// one option spanning exactly the requested words
		ip.Options = []layers.IPv4Option{{
			OptionType:   0x94,
			OptionLength: uint8(opts.IPOptions * 4),
			OptionData:   make([]byte, opts.IPOptions*4-2),
		}}
	}

	var l4 gopacket.SerializableLayer
	switch opts.Protocol {
	case layers.IPProtocolTCP:
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(opts.SrcPort),
			DstPort: layers.TCPPort(opts.DstPort),
			SYN:     true,
			Window:  65535,
		}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
		l4 = tcp
	case layers.IPProtocolUDP:
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(opts.SrcPort),
			DstPort: layers.UDPPort(opts.DstPort),
		}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
		l4 = udp
	default:
		l4 = gopacket.Payload(make([]byte, 8))
	}

	require.NoError(t, gopacket.SerializeLayers(buf, so, eth, ip, l4, gopacket.Payload(opts.Payload)))
	return buf.Bytes()
}

// WithIHL returns a copy of frame with the IPv4 IHL nibble rewritten.
func WithIHL(frame []byte, ihl uint8) []byte {
	out := append([]byte(nil), frame...)
	out[14] = out[14]&0xf0 | ihl&0x0f
	return out
}
