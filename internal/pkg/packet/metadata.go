// Package packet adapts decoded packets into the metadata the fingerprint
// engine consumes, and reads them from capture files.
package packet

import (
	"time"

	"github.com/endorses/fpengine/internal/pkg/fingerprint"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Unknown marks an attribute the packet does not carry
const Unknown int64 = -1

// Info is the packet view used during matching
type Info interface {
	// SrcAddr and DstAddr return the logical endpoint addresses, or "" when
	// the packet has none.
	SrcAddr() string
	DstAddr() string

	// FilterValue returns the packet's value for t, or Unknown
	FilterValue(t fingerprint.FilterType) int64

	// Payload returns the transport payload, possibly empty
	Payload() []byte
}

// Metadata is a flattened, decode-once view of a packet
type Metadata struct {
	Timestamp time.Time
	Src       string
	Dst       string
	Size      int

	Ethertype int64
	Protocol  int64
	TTL       int64
	SrcPort   int64
	DstPort   int64
	Flags     int64
	Ack       int64
	Seq       int64
	Window    int64
	MSS       int64

	Data []byte
}

// NewMetadata returns metadata with every attribute Unknown
func NewMetadata() *Metadata {
	return &Metadata{
		Ethertype: Unknown,
		Protocol:  Unknown,
		TTL:       Unknown,
		SrcPort:   Unknown,
		DstPort:   Unknown,
		Flags:     Unknown,
		Ack:       Unknown,
		Seq:       Unknown,
		Window:    Unknown,
		MSS:       Unknown,
	}
}

func (m *Metadata) SrcAddr() string { return m.Src }
func (m *Metadata) DstAddr() string { return m.Dst }
func (m *Metadata) Payload() []byte { return m.Data }
func (m *Metadata) Time() time.Time { return m.Timestamp }

// FilterValue implements Info
func (m *Metadata) FilterValue(t fingerprint.FilterType) int64 {
	switch t {
	case fingerprint.FilterDstPort:
		return m.DstPort
	case fingerprint.FilterSrcPort:
		return m.SrcPort
	case fingerprint.FilterTransportProtocol:
		return m.Protocol
	case fingerprint.FilterEthertype:
		return m.Ethertype
	case fingerprint.FilterTTL:
		return m.TTL
	case fingerprint.FilterFlags:
		return m.Flags
	case fingerprint.FilterAck:
		return m.Ack
	case fingerprint.FilterSeq:
		return m.Seq
	case fingerprint.FilterWindow:
		return m.Window
	case fingerprint.FilterMSS:
		return m.MSS
	case fingerprint.FilterDsize:
		if m.Protocol == Unknown {
			return Unknown
		}
		return int64(len(m.Data))
	default:
		return Unknown
	}
}

// FromGopacket extracts metadata from a decoded packet. Layers the packet
// lacks leave their attributes Unknown.
func FromGopacket(pkt gopacket.Packet) *Metadata {
	m := NewMetadata()
	if pkt == nil {
		return m
	}

	md := pkt.Metadata()
	m.Timestamp = md.Timestamp
	m.Size = md.Length
	if m.Size == 0 {
		m.Size = len(pkt.Data())
	}

	if eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet); ok {
		m.Ethertype = int64(eth.EthernetType)
	}

	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		m.Src = ip.SrcIP.String()
		m.Dst = ip.DstIP.String()
		m.TTL = int64(ip.TTL)
		m.Protocol = int64(ip.Protocol)
		if m.Ethertype == Unknown {
			m.Ethertype = int64(layers.EthernetTypeIPv4)
		}
	case *layers.IPv6:
		m.Src = ip.SrcIP.String()
		m.Dst = ip.DstIP.String()
		m.TTL = int64(ip.HopLimit)
		m.Protocol = int64(ip.NextHeader)
		if m.Ethertype == Unknown {
			m.Ethertype = int64(layers.EthernetTypeIPv6)
		}
	}

	switch tl := pkt.TransportLayer().(type) {
	case *layers.TCP:
		m.SrcPort = int64(tl.SrcPort)
		m.DstPort = int64(tl.DstPort)
		m.Flags = tcpFlags(tl)
		m.Ack = int64(tl.Ack)
		m.Seq = int64(tl.Seq)
		m.Window = int64(tl.Window)
		m.MSS = tcpMSS(tl)
		m.Protocol = int64(layers.IPProtocolTCP)
		m.Data = tl.Payload
	case *layers.UDP:
		m.SrcPort = int64(tl.SrcPort)
		m.DstPort = int64(tl.DstPort)
		m.Protocol = int64(layers.IPProtocolUDP)
		m.Data = tl.Payload
	default:
		if app := pkt.ApplicationLayer(); app != nil {
			m.Data = app.Payload()
		}
	}
	return m
}

func tcpFlags(tcp *layers.TCP) int64 {
	var f int64
	set := func(on bool, bit int64) {
		if on {
			f |= bit
		}
	}
	set(tcp.FIN, fingerprint.FlagFIN)
	set(tcp.SYN, fingerprint.FlagSYN)
	set(tcp.RST, fingerprint.FlagRST)
	set(tcp.PSH, fingerprint.FlagPSH)
	set(tcp.ACK, fingerprint.FlagACK)
	set(tcp.URG, fingerprint.FlagURG)
	set(tcp.ECE, fingerprint.FlagECE)
	set(tcp.CWR, fingerprint.FlagCWR)
	set(tcp.NS, fingerprint.FlagNS)
	return f
}

func tcpMSS(tcp *layers.TCP) int64 {
	for _, opt := range tcp.Options {
		if opt.OptionType == layers.TCPOptionKindMSS && len(opt.OptionData) == 2 {
			return int64(opt.OptionData[0])<<8 | int64(opt.OptionData[1])
		}
	}
	return Unknown
}
