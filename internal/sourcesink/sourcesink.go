// Package sourcesink defines the I/O boundary the runtime consumes:
// a pull-based record source, attributed/byte sinks for good/pii/bad
// output, and a checkpointer. Concrete drivers (Kinesis, PubSub, Kafka,
// file, stdout) are out of scope per spec.md §1; this package also
// provides an in-memory implementation used by tests and the
// end-to-end scenarios in SPEC_FULL.md §8.
package sourcesink

import (
	"context"

	"github.com/flowmesh-oss/enrich/internal/model"
)

// Source is a pull-based, cancellable stream of records. Records may
// arrive in any order across partitions but in order within a partition.
// The source is responsible for flow control upstream; Next blocks until
// a record is available, ctx is done, or the stream is exhausted (ok ==
// false with a nil error).
type Source interface {
	Next(ctx context.Context) (model.Record, bool, error)
}

// Ack is returned by a successful sink write.
type Ack struct{}

// AttributedSink writes bytes with routing attributes. Implementations
// must be safe for concurrent use and are responsible for batching.
type AttributedSink interface {
	Write(ctx context.Context, data []byte, attributes map[string]string) (Ack, error)
}

// ByteSink is the bad-sink shape: no attributes required.
type ByteSink interface {
	Write(ctx context.Context, data []byte) (Ack, error)
}

// Checkpointer marks a record as durably processed. Checkpoint must be
// idempotent and, per spec.md §3 invariant 3, the runtime guarantees
// Checkpoint(r) happens-before Checkpoint(r′) for r < r′ on the same
// partition.
type Checkpointer interface {
	Checkpoint(ctx context.Context, r model.Record) error
}
