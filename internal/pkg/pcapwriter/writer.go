// Package pcapwriter saves the packets that produced fingerprint records to
// a capture file, so matches can be inspected with other tools.
package pcapwriter

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/endorses/fpengine/internal/pkg/constants"
	"github.com/endorses/fpengine/internal/pkg/logger"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Writer writes packets to a PCAP file from a background goroutine
type Writer struct {
	filePath   string
	file       *os.File
	writer     *pcapgo.Writer
	packetChan chan gopacket.Packet
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     atomic.Bool
	syncTicker *time.Ticker

	packetCount  atomic.Int64
	bytesWritten atomic.Int64
	dropped      atomic.Int64
}

// Config for PCAP writer
type Config struct {
	FilePath     string          // Path to PCAP file
	LinkType     layers.LinkType // Link type of the source capture
	BufferSize   int             // Channel buffer size
	SyncInterval time.Duration   // How often to sync to disk
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		LinkType:     layers.LinkTypeEthernet,
		BufferSize:   constants.PCAPWriteQueueBuffer,
		SyncInterval: constants.PCAPSyncInterval,
	}
}

// New creates the file, writes its header and starts the write loop
func New(config *Config) (*Writer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.FilePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if config.BufferSize <= 0 {
		config.BufferSize = constants.PCAPWriteQueueBuffer
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = constants.PCAPSyncInterval
	}

	// #nosec G304 -- Path is from the command line
	file, err := os.Create(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create PCAP file: %w", err)
	}

	pcapWriter := pcapgo.NewWriter(file)
	if err := pcapWriter.WriteFileHeader(constants.PCAPSnapLen, config.LinkType); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to write PCAP header: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		filePath:   config.FilePath,
		file:       file,
		writer:     pcapWriter,
		packetChan: make(chan gopacket.Packet, config.BufferSize),
		ctx:        ctx,
		cancel:     cancel,
		syncTicker: time.NewTicker(config.SyncInterval),
	}

	w.wg.Add(1)
	go w.writeLoop()

	logger.Info("Created PCAP writer", "file", config.FilePath, "link_type", config.LinkType.String())
	return w, nil
}

// WritePacket queues pkt without blocking. Packets are dropped when the
// queue is full.
func (w *Writer) WritePacket(pkt gopacket.Packet) error {
	if w.closed.Load() {
		return fmt.Errorf("writer is closed")
	}

	select {
	case w.packetChan <- pkt:
		return nil
	case <-w.ctx.Done():
		return fmt.Errorf("writer context cancelled")
	default:
		w.dropped.Add(1)
		return fmt.Errorf("write buffer full")
	}
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()

	for {
		select {
		case pkt, ok := <-w.packetChan:
			if !ok {
				return
			}
			if err := w.writePacketToFile(pkt); err != nil {
				logger.Error("Failed to write packet", "error", err, "file", w.filePath)
			}

		case <-w.syncTicker.C:
			w.mu.Lock()
			if w.file != nil {
				_ = w.file.Sync()
			}
			w.mu.Unlock()

		case <-w.ctx.Done():
			w.drainPackets()
			return
		}
	}
}

func (w *Writer) writePacketToFile(pkt gopacket.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data := pkt.Data()
	ci := pkt.Metadata().CaptureInfo
	if ci.CaptureLength == 0 {
		ci.CaptureLength = len(data)
	}
	if ci.Length == 0 {
		ci.Length = len(data)
	}
	if ci.Timestamp.IsZero() {
		ci.Timestamp = time.Now()
	}
	if err := w.writer.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}

	w.packetCount.Add(1)
	w.bytesWritten.Add(int64(len(data)))
	return nil
}

func (w *Writer) drainPackets() {
	for {
		select {
		case pkt, ok := <-w.packetChan:
			if !ok {
				return
			}
			if err := w.writePacketToFile(pkt); err != nil {
				logger.Warn("Failed to write packet during drain", "error", err)
			}
		default:
			return
		}
	}
}

// Close flushes pending packets and closes the file. It is idempotent.
func (w *Writer) Close() error {
	if w.closed.Swap(true) {
		return nil
	}

	w.cancel()
	close(w.packetChan)
	w.wg.Wait()
	w.syncTicker.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			logger.Warn("Failed to sync PCAP file", "error", err, "file", w.filePath)
		}
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close PCAP file: %w", err)
		}
		w.file = nil
	}

	logger.Info("Closed PCAP writer",
		"file", w.filePath,
		"packets", w.packetCount.Load(),
		"bytes", w.bytesWritten.Load(),
		"dropped", w.dropped.Load())
	return nil
}

// Stats returns packets written, bytes written and packets dropped
func (w *Writer) Stats() (packetCount, bytesWritten, dropped int64) {
	return w.packetCount.Load(), w.bytesWritten.Load(), w.dropped.Load()
}

// FilePath returns the file path being written to
func (w *Writer) FilePath() string {
	return w.filePath
}
