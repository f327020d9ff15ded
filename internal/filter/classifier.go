// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package filter decides, per frame, whether to drop or pass it based on a
// single TCP port matched against both the source and destination port.
//
// Classify is a pure function of the frame and the port configuration. Run
// wires it to a store.Datapath: it reads the port, applies the counter
// deltas and returns the verdict. Neither allocates, blocks or loops over
// frame contents. The kernel rendition of the same algorithm lives in
// internal/ebpf/programs and is tested against this one.
package filter

import "grimm.is/portdrop/internal/store"

// Verdict is the classifier output. Values equal the XDP action codes.
type Verdict uint32

const (
	VerdictAborted Verdict = 0 // XDP_ABORTED
	VerdictDrop    Verdict = 1 // XDP_DROP
	VerdictPass    Verdict = 2 // XDP_PASS
)

func (v Verdict) String() string {
	switch v {
	case VerdictAborted:
		return "ABORT"
	case VerdictDrop:
		return "DROP"
	case VerdictPass:
		return "PASS"
	default:
		return "UNKNOWN"
	}
}

// Reason records which step of the pipeline produced the verdict.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonStoreUnavailable
	ReasonTruncatedEthernet
	ReasonNotIPv4
	ReasonTruncatedIPv4
	ReasonNotTCP
	ReasonBadIHL
	ReasonTruncatedTCP
	ReasonUnconfigured
	ReasonDstPortMatch
	ReasonSrcPortMatch
	ReasonNoMatch
)

var reasonNames = [...]string{
	ReasonNone:              "none",
	ReasonStoreUnavailable:  "store_unavailable",
	ReasonTruncatedEthernet: "truncated_ethernet",
	ReasonNotIPv4:           "not_ipv4",
	ReasonTruncatedIPv4:     "truncated_ipv4",
	ReasonNotTCP:            "not_tcp",
	ReasonBadIHL:            "bad_ihl",
	ReasonTruncatedTCP:      "truncated_tcp",
	ReasonUnconfigured:      "unconfigured",
	ReasonDstPortMatch:      "dst_port_match",
	ReasonSrcPortMatch:      "src_port_match",
	ReasonNoMatch:           "no_match",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "unknown"
}

// Malformed reports whether the frame was rejected by a length check.
// Such frames only ever count towards total (and tcp, when the IPv4 part
// parsed).
func (r Reason) Malformed() bool {
	switch r {
	case ReasonTruncatedEthernet, ReasonTruncatedIPv4, ReasonBadIHL, ReasonTruncatedTCP:
		return true
	}
	return false
}

// Deltas is the set of counters one classification increments. Each
// counter moves by at most one per frame.
type Deltas uint8

func deltaBit(c store.Counter) Deltas { return 1 << c }

// Has reports whether c is incremented.
func (d Deltas) Has(c store.Counter) bool { return d&deltaBit(c) != 0 }

func (d Deltas) with(c store.Counter) Deltas { return d | deltaBit(c) }

// Stats expresses the deltas as a counter record increment.
func (d Deltas) Stats() store.Stats {
	var s store.Stats
	if d.Has(store.CounterTotal) {
		s.Total = 1
	}
	if d.Has(store.CounterTCP) {
		s.TCP = 1
	}
	if d.Has(store.CounterDropped) {
		s.Dropped = 1
	}
	if d.Has(store.CounterPassed) {
		s.Passed = 1
	}
	return s
}

// Apply adds the deltas to rec.
func (d Deltas) Apply(rec *store.Record) {
	for _, c := range store.Counters() {
		if d.Has(c) {
			rec.Increment(c)
		}
	}
}

// Decision is the full result of classifying one frame.
type Decision struct {
	Verdict Verdict
	Deltas  Deltas
	Reason  Reason
	// SrcPort and DstPort are only set once the TCP header parsed.
	SrcPort uint16
	DstPort uint16
}

func decide(v Verdict, d Deltas, r Reason) Decision {
	return Decision{Verdict: v, Deltas: d, Reason: r}
}

// Classify runs the decision pipeline over frame. port is only consulted
// when configured is true. The steps and their counter effects:
//
//	total++ always
//	short of an Ethernet header          -> PASS
//	EtherType not IPv4                   -> passed++, PASS
//	short of a 20 byte IPv4 header       -> PASS
//	protocol not TCP                     -> passed++, PASS
//	tcp++
//	IHL < 5, or short of a TCP header
//	  at 14+IHL*4                        -> PASS
//	port unset                           -> passed++, PASS
//	dst port or else src port matches    -> dropped++, DROP
//	otherwise                            -> passed++, PASS
//
// Truncated frames are passed without touching passed/dropped. An IHL
// below 5 is deliberately treated as truncated too, unlike filters that
// trust the field and go on to read "ports" from inside the IPv4 header.
func Classify(frame []byte, port uint16, configured bool) Decision {
	d := Deltas(0).with(store.CounterTotal)
	v := NewFrameView(frame)

	eth, ok := ParseEthernet(v)
	if !ok {
		return decide(VerdictPass, d, ReasonTruncatedEthernet)
	}
	if eth.EtherType() != EtherTypeIPv4 {
		return decide(VerdictPass, d.with(store.CounterPassed), ReasonNotIPv4)
	}

	ip, ok := ParseIPv4(v, EthernetHeaderLen)
	if !ok {
		return decide(VerdictPass, d, ReasonTruncatedIPv4)
	}
	if ip.Protocol() != ProtocolTCP {
		return decide(VerdictPass, d.with(store.CounterPassed), ReasonNotTCP)
	}

	d = d.with(store.CounterTCP)

	// IHL is four bits so the offset is bounded by 14+60; below five words
	// the TCP header would overlap the IPv4 one.
	if ip.IHL() < IPv4MinHeaderLen/4 {
		return decide(VerdictPass, d, ReasonBadIHL)
	}
	tcp, ok := ParseTCP(v, EthernetHeaderLen+ip.HeaderLen())
	if !ok {
		return decide(VerdictPass, d, ReasonTruncatedTCP)
	}

	dec := Decision{SrcPort: tcp.SrcPort(), DstPort: tcp.DstPort()}
	switch {
	case !configured:
		dec.Verdict, dec.Deltas, dec.Reason = VerdictPass, d.with(store.CounterPassed), ReasonUnconfigured
	case dec.DstPort == port:
		dec.Verdict, dec.Deltas, dec.Reason = VerdictDrop, d.with(store.CounterDropped), ReasonDstPortMatch
	case dec.SrcPort == port:
		dec.Verdict, dec.Deltas, dec.Reason = VerdictDrop, d.with(store.CounterDropped), ReasonSrcPortMatch
	default:
		dec.Verdict, dec.Deltas, dec.Reason = VerdictPass, d.with(store.CounterPassed), ReasonNoMatch
	}
	return dec
}

// Run classifies frame against dp and applies the counter deltas. A
// missing counter record aborts without touching any counter.
func Run(frame []byte, dp store.Datapath) Decision {
	rec := dp.Record()
	if rec == nil {
		return decide(VerdictAborted, 0, ReasonStoreUnavailable)
	}
	port, configured := dp.Port()
	dec := Classify(frame, port, configured)
	dec.Deltas.Apply(rec)
	return dec
}

// Classifier binds Run to one datapath, for callers that hand out a
// per-frame callback.
type Classifier struct {
	dp store.Datapath
}

// New returns a classifier over dp.
func New(dp store.Datapath) *Classifier {
	return &Classifier{dp: dp}
}

// Verdict classifies one frame and returns only the verdict.
func (c *Classifier) Verdict(frame []byte) Verdict {
	return Run(frame, c.dp).Verdict
}

// Decide classifies one frame and returns the full decision.
func (c *Classifier) Decide(frame []byte) Decision {
	return Run(frame, c.dp)
}
