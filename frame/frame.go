// Package frame defines the typed payloads that travel from the
// reception pipeline to installed handlers and, ultimately, to the
// delivery endpoint. It replaces the original design's single raw-bytes-
// plus-size-plus-enum-tag tuple with small concrete types behind one
// interface, so a handler that wants RTCP structure doesn't have to
// re-parse what the pipeline already parsed.
package frame

import (
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// Kind identifies which concrete Frame implementation a Frame value is.
type Kind int

const (
	// KindRaw is an undemuxed or not-yet-classified datagram.
	KindRaw Kind = iota
	// KindRTP is a parsed RTP packet.
	KindRTP
	// KindRTCP is one or more parsed RTCP packets carried in a single
	// compound datagram.
	KindRTCP
)

func (k Kind) String() string {
	switch k {
	case KindRTP:
		return "rtp"
	case KindRTCP:
		return "rtcp"
	default:
		return "raw"
	}
}

// Frame is anything that can be handed to a handler or delivered to a
// caller. Raw carries the original datagram bytes for handlers that want
// them regardless of classification (e.g. an SRTCP decrypt step that runs
// before RTCP parsing).
type Frame interface {
	Kind() Kind
	Raw() []byte
}

// RawFrame wraps an unclassified datagram.
type RawFrame struct {
	Bytes []byte
}

func (f *RawFrame) Kind() Kind  { return KindRaw }
func (f *RawFrame) Raw() []byte { return f.Bytes }

// RTPFrame wraps a parsed RTP packet together with the datagram it came
// from, since a handler transforming the packet (e.g. SRTP decrypt) may
// still need the original wire bytes for authentication tag checks.
type RTPFrame struct {
	Packet rtp.Packet
	Bytes  []byte
}

func (f *RTPFrame) Kind() Kind  { return KindRTP }
func (f *RTPFrame) Raw() []byte { return f.Bytes }

// ParseRTP classifies and parses a datagram as RTP.
func ParseRTP(data []byte) (*RTPFrame, error) {
	f := &RTPFrame{Bytes: data}
	if err := f.Packet.Unmarshal(data); err != nil {
		return nil, err
	}
	return f, nil
}

// RTCPFrame wraps one or more RTCP packets parsed from a single compound
// datagram, per RFC 3550 §6.1.
type RTCPFrame struct {
	Packets []rtcp.Packet
	Bytes   []byte
}

func (f *RTCPFrame) Kind() Kind  { return KindRTCP }
func (f *RTCPFrame) Raw() []byte { return f.Bytes }

// ParseRTCP classifies and parses a datagram as a compound RTCP packet.
func ParseRTCP(data []byte) (*RTCPFrame, error) {
	packets, err := rtcp.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &RTCPFrame{Packets: packets, Bytes: data}, nil
}

// IsRTCP applies the standard RFC 5761 heuristic for demultiplexing RTP
// and RTCP on a shared port: a second header byte in the range 192-223
// marks RTCP (the RFC 3550 packet types 200-204 lie inside that range).
func IsRTCP(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	pt := data[1]
	return pt >= 192 && pt <= 223
}
