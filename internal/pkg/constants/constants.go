// Package constants provides shared constants used across fpengine components.
package constants

import "time"

// Shutdown and reload timing
const (
	// GracefulShutdownTimeout bounds the metrics server shutdown
	GracefulShutdownTimeout = 2 * time.Second

	// ReloadDebounce coalesces bursts of file events into one reload
	ReloadDebounce = 200 * time.Millisecond

	// MetricsServerTimeout bounds reads and writes on the metrics endpoint
	MetricsServerTimeout = 10 * time.Second
)

// Channel buffer sizes
//
// Single-item buffers are used for signals that must never block the sender. Large buffers sit between the capture reader and the match
// workers, where bursts would otherwise stall the reader.
const (
	// SignalChannelBuffer is the buffer size for OS signal channels
	SignalChannelBuffer = 1

	// PacketChannelBuffer is the queue between the capture reader and workers
	PacketChannelBuffer = 1000

	// PCAPWriteQueueBuffer is the queue in front of the matched-packet writer
	PCAPWriteQueueBuffer = 1000
)

// PCAP output
const (
	// PCAPSnapLen is the snapshot length written to capture file headers
	PCAPSnapLen = 65536

	// PCAPSyncInterval is how often the matched-packet writer syncs to disk
	PCAPSyncInterval = 5 * time.Second
)
