package packet

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/endorses/fpengine/internal/pkg/logger"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// StdinPath selects standard input in Open
const StdinPath = "-"

// pcapng section header block type; identical in both byte orders
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type linkSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Reader yields decoded packets from a pcap or pcapng stream
type Reader struct {
	name     string
	closer   io.Closer
	linkType layers.LinkType
	source   *gopacket.PacketSource
}

// Open reads path, or standard input for StdinPath
func Open(path string) (*Reader, error) {
	if path == StdinPath {
		r, err := NewReader(os.Stdin)
		if err != nil {
			return nil, err
		}
		r.name = "stdin"
		return r, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.name = path
	r.closer = f
	return r, nil
}

// NewReader detects the capture format from the stream header
func NewReader(in io.Reader) (*Reader, error) {
	br := bufio.NewReader(in)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}

	var src linkSource
	if bytes.Equal(magic, ngMagic) {
		src, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, fmt.Errorf("unsupported capture format: %w", err)
	}

	ps := gopacket.NewPacketSource(src, src.LinkType())
	ps.DecodeOptions = gopacket.DecodeOptions{Lazy: true}

	logger.Debug("Opened capture", "link_type", src.LinkType().String())
	return &Reader{linkType: src.LinkType(), source: ps}, nil
}

// Next returns the next packet, or io.EOF when the stream ends
func (r *Reader) Next() (gopacket.Packet, error) {
	return r.source.NextPacket()
}

// LinkType returns the capture's link layer type
func (r *Reader) LinkType() layers.LinkType {
	return r.linkType
}

// Name identifies the capture in log output
func (r *Reader) Name() string {
	return r.name
}

// Close releases the underlying file, if any
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
