// Package ingest feeds reader scan packets into the processing pipeline
// from the two supported transports: a directly attached serial reader
// and an MQTT broker bridging remote readers.
package ingest

import (
	"context"

	"github.com/halcyon-data/inventory.report/internal/pipeline"
)

// Processor consumes decoded scan packets. Satisfied by the pipeline.
type Processor interface {
	Process(ctx context.Context, pkt pipeline.ScanPacket) pipeline.Result
}
