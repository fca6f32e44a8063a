package match

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/endorses/fpengine/internal/pkg/engine"
	"github.com/endorses/fpengine/internal/pkg/fingerprint"
	"github.com/endorses/fpengine/internal/pkg/graph"
	"github.com/endorses/fpengine/internal/pkg/packet"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modbusYAML = `
name: Modbus
filters:
  - name: modbus-server
    for: server
    dst_port: 502
    transport_protocol: 6
payloads:
  server:
    always:
      - direction: CONNECTION
        confidence: 1
        details: {category: ICS}
    operations:
      - match:
          offset: 7
          depth: 1
          content: {type: HEX, value: "03"}
          and_then:
            - return:
                direction: DESTINATION
                confidence: 5
                details:
                  role: SERVER
                extract:
                  - name: UnitID
                    from: 6
                    to: 7
                    convert: INTEGER
`

var modbusRequest = []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x11, 0x03, 0x00, 0x6b, 0x00, 0x03}

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) gopacket.Packet {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

func ipv4Layers(proto layers.IPProtocol) (*layers.Ethernet, *layers.IPv4) {
	eth := &layers.Ethernet{
		SrcMAC:       []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		SrcIP:    []byte{192, 168, 1, 1},
		DstIP:    []byte{192, 168, 1, 2},
		Protocol: proto,
	}
	return eth, ip
}

func modbusPacket(t *testing.T) gopacket.Packet {
	eth, ip := ipv4Layers(layers.IPProtocolTCP)
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 502, Seq: 1, ACK: true, PSH: true, Window: 8192}
	_ = tcp.SetNetworkLayerForChecksum(ip)
	return serialize(t, eth, ip, tcp, gopacket.Payload(modbusRequest))
}

func dnsPacket(t *testing.T) gopacket.Packet {
	eth, ip := ipv4Layers(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: 12345, DstPort: 53}
	_ = udp.SetNetworkLayerForChecksum(ip)
	return serialize(t, eth, ip, udp, gopacket.Payload([]byte{0xab, 0xcd, 0x01, 0x00}))
}

func writeCapture(t *testing.T, pkts ...gopacket.Packet) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, pkt := range pkts {
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000+int64(i), 0),
			CaptureLength: len(pkt.Data()),
			Length:        len(pkt.Data()),
		}
		require.NoError(t, w.WritePacket(ci, pkt.Data()))
	}
	return buf.Bytes()
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	def, errs, err := fingerprint.ParseYAML([]byte(modbusYAML), fingerprint.LoadOptions{})
	require.NoError(t, err)
	require.Empty(t, errs)
	return engine.New([]*fingerprint.Definition{def}, nil)
}

func newReader(t *testing.T, data []byte) *packet.Reader {
	t.Helper()
	r, err := packet.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	return r
}

type packetCollector struct {
	mu   sync.Mutex
	pkts []gopacket.Packet
}

func (c *packetCollector) WritePacket(pkt gopacket.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pkts = append(c.pkts, pkt)
	return nil
}

func TestPipeline_Run(t *testing.T) {
	capture := writeCapture(t, modbusPacket(t), dnsPacket(t), modbusPacket(t))
	g := graph.New()
	matched := &packetCollector{}

	p := &Pipeline{Engine: newEngine(t), Sink: g, Workers: 4, Matched: matched}
	require.NoError(t, p.Run(context.Background(), []*packet.Reader{newReader(t, capture)}))

	assert.Equal(t, int64(3), p.Read())
	assert.Equal(t, int64(2), p.MatchedPackets())
	assert.Len(t, matched.pkts, 2)

	v, ok := g.Vertex("192.168.1.2")
	require.True(t, ok)
	assert.Equal(t, 2, v.Records)
	unit, ok := v.Properties.Best("UnitID")
	require.True(t, ok)
	assert.Equal(t, "17", unit.Value)

	e, ok := g.Edge("192.168.1.1", "192.168.1.2")
	require.True(t, ok)
	assert.Equal(t, 2, e.Records)

	_, ok = g.Vertex("192.168.1.1")
	assert.False(t, ok, "the client is never attributed a vertex record")
}

func TestPipeline_MultipleCaptures(t *testing.T) {
	first := newReader(t, writeCapture(t, modbusPacket(t)))
	second := newReader(t, writeCapture(t, dnsPacket(t), modbusPacket(t)))

	var mu sync.Mutex
	var records []engine.Record
	sink := engine.SinkFunc(func(r engine.Record) {
		mu.Lock()
		defer mu.Unlock()
		records = append(records, r)
	})

	p := &Pipeline{Engine: newEngine(t), Sink: sink}
	require.NoError(t, p.Run(context.Background(), []*packet.Reader{first, second}))

	assert.Equal(t, int64(3), p.Read())
	assert.Len(t, records, 4)
}

func TestPipeline_TruncatedCapture(t *testing.T) {
	capture := writeCapture(t, modbusPacket(t), modbusPacket(t))
	truncated := capture[:len(capture)-5]

	p := &Pipeline{Engine: newEngine(t), Sink: graph.New(), Workers: 2}
	err := p.Run(context.Background(), []*packet.Reader{newReader(t, truncated)})
	assert.Error(t, err)
}

func TestPipeline_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	capture := writeCapture(t, modbusPacket(t), dnsPacket(t))
	p := &Pipeline{Engine: newEngine(t), Sink: graph.New()}
	assert.NoError(t, p.Run(ctx, []*packet.Reader{newReader(t, capture)}))
	assert.LessOrEqual(t, p.Read(), int64(2))
}

func resetFlags(t *testing.T) {
	t.Helper()
	fingerprintPaths, lookupPaths, writeMatched = nil, nil, ""
	for _, name := range []string{"workers", "output", "watch", "regex-timeout", "metrics-addr"} {
		f := MatchCmd.Flags().Lookup(name)
		require.NotNil(t, f)
		require.NoError(t, f.Value.Set(f.DefValue))
	}
}

func writeInputs(t *testing.T) (fpFile, captureFile string) {
	t.Helper()
	dir := t.TempDir()
	fpFile = filepath.Join(dir, "modbus.yaml")
	require.NoError(t, os.WriteFile(fpFile, []byte(modbusYAML), 0644))
	captureFile = filepath.Join(dir, "traffic.pcap")
	require.NoError(t, os.WriteFile(captureFile, writeCapture(t, modbusPacket(t), dnsPacket(t)), 0644))
	return fpFile, captureFile
}

func TestMatchCommand_Help(t *testing.T) {
	resetFlags(t)
	var buf bytes.Buffer
	MatchCmd.SetOut(&buf)
	MatchCmd.SetErr(&buf)
	MatchCmd.SetArgs([]string{"--help"})

	require.NoError(t, MatchCmd.Execute())
	output := buf.String()
	for _, want := range []string{"Run the loaded fingerprints", "--fingerprints", "--write-matched", "--watch"} {
		assert.Contains(t, output, want)
	}
}

func TestMatchCommand_JSON(t *testing.T) {
	resetFlags(t)
	fpFile, captureFile := writeInputs(t)
	matchedFile := filepath.Join(t.TempDir(), "matched.pcap")

	var buf bytes.Buffer
	MatchCmd.SetOut(&buf)
	MatchCmd.SetErr(&bytes.Buffer{})
	MatchCmd.SetArgs([]string{"-f", fpFile, "-o", "json", "-w", "2", "--write-matched", matchedFile, captureFile})
	require.NoError(t, MatchCmd.Execute())

	var kinds []string
	runIDs := map[string]bool{}
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var line struct {
			RunID string `json:"run_id"`
			Kind  string `json:"kind"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		kinds = append(kinds, line.Kind)
		runIDs[line.RunID] = true
	}
	assert.ElementsMatch(t, []string{"edge", "vertex"}, kinds)
	assert.Len(t, runIDs, 1)
	assert.False(t, runIDs[""])

	r, err := packet.Open(matchedFile)
	require.NoError(t, err)
	defer r.Close()
	pkt, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, modbusRequest, packet.FromGopacket(pkt).Payload())
}

func TestMatchCommand_Text(t *testing.T) {
	resetFlags(t)
	fpFile, captureFile := writeInputs(t)

	var buf bytes.Buffer
	MatchCmd.SetOut(&buf)
	MatchCmd.SetErr(&bytes.Buffer{})
	MatchCmd.SetArgs([]string{"-f", fpFile, "-o", "text", "--metrics-addr", "127.0.0.1:0", captureFile})
	require.NoError(t, MatchCmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "Fingerprint summary")
	assert.Contains(t, output, "192.168.1.2")
	assert.Contains(t, output, "UnitID")
}

func TestMatchCommand_Errors(t *testing.T) {
	fpFile, captureFile := writeInputs(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing fingerprints", []string{"-f", filepath.Join(t.TempDir(), "none"), captureFile}},
		{"missing capture", []string{"-f", fpFile, filepath.Join(t.TempDir(), "none.pcap")}},
		{"unknown output format", []string{"-f", fpFile, "-o", "xml", captureFile}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags(t)
			MatchCmd.SetOut(&bytes.Buffer{})
			MatchCmd.SetErr(&bytes.Buffer{})
			MatchCmd.SetArgs(tt.args)
			assert.Error(t, MatchCmd.Execute())
		})
	}
}
