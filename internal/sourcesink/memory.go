package sourcesink

import (
	"context"
	"sync"

	"github.com/flowmesh-oss/enrich/internal/model"
)

// MemoryRecord is one record fed into a MemorySource.
type MemoryRecord struct {
	Bytes       []byte
	PartitionID string
}

// MemorySource is an in-memory, non-blocking Source used by tests and
// the end-to-end scenarios. It is exhausted once every seeded record has
// been pulled.
type MemorySource struct {
	mu      sync.Mutex
	records []MemoryRecord
	next    int
}

// NewMemorySource seeds a MemorySource with records, each assigned a
// sequential ack handle so test assertions can verify checkpoint order.
func NewMemorySource(records []MemoryRecord) *MemorySource {
	return &MemorySource{records: records}
}

// Next implements Source.
func (s *MemorySource) Next(ctx context.Context) (model.Record, bool, error) {
	select {
	case <-ctx.Done():
		return model.Record{}, false, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.records) {
		return model.Record{}, false, nil
	}
	idx := s.next
	s.next++
	rec := s.records[idx]
	return model.Record{
		Bytes:       rec.Bytes,
		PartitionID: rec.PartitionID,
		AckHandle:   idx,
	}, true, nil
}

// MemorySink is an AttributedSink/ByteSink that appends every write to
// an in-memory slice, guarded by a mutex so it is safe under the
// runtime's concurrent sink workers.
type MemorySink struct {
	mu    sync.Mutex
	Items []MemorySinkItem
}

// MemorySinkItem is one recorded write.
type MemorySinkItem struct {
	Data       []byte
	Attributes map[string]string
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write implements AttributedSink and ByteSink (attributes may be nil).
func (s *MemorySink) Write(ctx context.Context, data []byte, attributes map[string]string) (Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.Items = append(s.Items, MemorySinkItem{Data: cp, Attributes: attributes})
	return Ack{}, nil
}

// Count returns the number of writes recorded so far.
func (s *MemorySink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Items)
}

// byteSinkAdapter adapts a MemorySink (AttributedSink shape) to the
// ByteSink interface used for the bad sink.
type byteSinkAdapter struct {
	sink *MemorySink
}

// NewByteSinkAdapter wraps a MemorySink so it satisfies ByteSink.
func NewByteSinkAdapter(sink *MemorySink) ByteSink {
	return &byteSinkAdapter{sink: sink}
}

func (a *byteSinkAdapter) Write(ctx context.Context, data []byte) (Ack, error) {
	return a.sink.Write(ctx, data, nil)
}

// MemoryCheckpointer records checkpointed ack handles in call order so
// tests can assert per-partition ordering.
type MemoryCheckpointer struct {
	mu         sync.Mutex
	Checkpoints []any
}

// NewMemoryCheckpointer returns an empty MemoryCheckpointer.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{}
}

// Checkpoint implements Checkpointer.
func (c *MemoryCheckpointer) Checkpoint(ctx context.Context, r model.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Checkpoints = append(c.Checkpoints, r.AckHandle)
	return nil
}

// Count returns the number of checkpoints recorded so far.
func (c *MemoryCheckpointer) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Checkpoints)
}
