package ingest

import (
	"context"

	"github.com/halcyon-data/inventory.report/internal/monitoring"
	"github.com/halcyon-data/inventory.report/internal/pipeline"
	"github.com/halcyon-data/inventory.report/internal/readermux"
)

// SerialSource drains packet lines from a reader mux into the pipeline.
type SerialSource struct {
	mux       readermux.Muxer
	processor Processor
}

// NewSerialSource creates a serial ingest source over an already-open mux.
func NewSerialSource(mux readermux.Muxer, processor Processor) *SerialSource {
	return &SerialSource{mux: mux, processor: processor}
}

// Run subscribes to the mux and processes packets until the context is
// cancelled or the mux closes the subscription. Undecodable lines are
// logged and skipped; the reader keeps scanning.
func (s *SerialSource) Run(ctx context.Context) error {
	id, lines := s.mux.Subscribe()
	defer s.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			pkt, err := pipeline.DecodeScanPacket([]byte(line))
			if err != nil {
				monitoring.Logf("[Ingest] skipping bad serial packet: %v", err)
				continue
			}
			s.processor.Process(ctx, pkt)
		}
	}
}
