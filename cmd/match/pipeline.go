package match

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/endorses/fpengine/internal/pkg/constants"
	"github.com/endorses/fpengine/internal/pkg/engine"
	"github.com/endorses/fpengine/internal/pkg/logger"
	"github.com/endorses/fpengine/internal/pkg/packet"
	"github.com/google/gopacket"
	"golang.org/x/sync/errgroup"
)

// PacketWriter receives every packet that produced at least one record
type PacketWriter interface {
	WritePacket(pkt gopacket.Packet) error
}

// Pipeline feeds captures through an engine with a pool of workers
type Pipeline struct {
	Engine  *engine.Engine
	Sink    engine.Sink
	Workers int
	Matched PacketWriter // optional

	read    atomic.Int64
	matched atomic.Int64
}

// Run reads every capture in order and returns once all packets have been
// processed or ctx is cancelled. A capture that cannot be read stops the run.
func (p *Pipeline) Run(ctx context.Context, readers []*packet.Reader) error {
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	packets := make(chan gopacket.Packet, constants.PacketChannelBuffer)

	g.Go(func() error {
		defer close(packets)
		for _, r := range readers {
			if err := p.feed(ctx, r, packets); err != nil {
				return err
			}
		}
		return nil
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for pkt := range packets {
				p.process(pkt)
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pipeline) feed(ctx context.Context, r *packet.Reader, out chan<- gopacket.Packet) error {
	logger.Info("Reading capture", "source", r.Name(), "link_type", r.LinkType().String())
	for {
		pkt, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		p.read.Add(1)

		select {
		case out <- pkt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) process(pkt gopacket.Packet) {
	if p.Engine.ProcessTo(packet.FromGopacket(pkt), p.Sink) == 0 {
		return
	}
	p.matched.Add(1)
	if p.Matched != nil {
		if err := p.Matched.WritePacket(pkt); err != nil {
			logger.Debug("Matched packet not written", "error", err)
		}
	}
}

// Read returns the number of packets read from the captures
func (p *Pipeline) Read() int64 {
	return p.read.Load()
}

// MatchedPackets returns the number of packets that produced at least one record
func (p *Pipeline) MatchedPackets() int64 {
	return p.matched.Load()
}
