// Package runtime wires source, decoder, pipeline, and sinks together:
// it owns concurrency (bounded work/sink queues), per-partition
// checkpoint ordering, and the graceful-shutdown sequence, per spec.md
// §4.9 and §5.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowmesh-oss/enrich/internal/badrow"
	"github.com/flowmesh-oss/enrich/internal/decode"
	"github.com/flowmesh-oss/enrich/internal/model"
	"github.com/flowmesh-oss/enrich/internal/pipeline"
	"github.com/flowmesh-oss/enrich/internal/platform/logging"
	"github.com/flowmesh-oss/enrich/internal/platform/metrics"
	"github.com/flowmesh-oss/enrich/internal/registry"
	"github.com/flowmesh-oss/enrich/internal/sourcesink"
)

// Config collects Runtime's dependencies and concurrency tunables.
type Config struct {
	Source  sourcesink.Source
	Good    sourcesink.AttributedSink
	PII     sourcesink.AttributedSink
	Bad     sourcesink.ByteSink
	Checkpointer sourcesink.Checkpointer

	Decoder  *decode.Decoder
	Pipeline *pipeline.Pipeline
	Registry *registry.Registry
	BadRow   *badrow.Builder

	ConcurrencyEnrich int // bounded work-queue size
	ConcurrencySink   int // bounded sink-queue size

	ShutdownGrace time.Duration // default 30s per spec.md §4.9

	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Runtime drives the source-to-sink loop.
type Runtime struct {
	cfg Config

	workSem chan struct{}
	sinkSem chan struct{}

	wg sync.WaitGroup

	partitionMu  sync.Mutex
	partitionSeq map[string]*sequencer

	stopOnce sync.Once
	stopCh   chan struct{}

	failMu  sync.Mutex
	failErr error
}

// sequencer releases acks for a single partition in arrival order even
// if they complete out of order, per spec.md §4.9's per-partition commit
// sequencer.
type sequencer struct {
	mu       sync.Mutex
	next     int
	pending  map[int]func()
	released int
}

func newSequencer() *sequencer {
	return &sequencer{pending: map[int]func(){}}
}

// reserve returns the next sequence number for this partition.
func (s *sequencer) reserve() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.next
	s.next++
	return seq
}

// complete registers fn to run once every earlier-sequenced record in
// this partition has completed; runs immediately (and any now-unblocked
// successors) when seq is the next expected one.
func (s *sequencer) complete(seq int, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[seq] = fn
	for {
		next, ok := s.pending[s.released]
		if !ok {
			break
		}
		delete(s.pending, s.released)
		s.released++
		next()
	}
}

// New builds a Runtime from cfg, defaulting unset concurrency/timeouts.
func New(cfg Config) *Runtime {
	if cfg.ConcurrencyEnrich <= 0 {
		cfg.ConcurrencyEnrich = 8
	}
	if cfg.ConcurrencySink <= 0 {
		cfg.ConcurrencySink = 8
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	return &Runtime{
		cfg:          cfg,
		workSem:      make(chan struct{}, cfg.ConcurrencyEnrich),
		sinkSem:      make(chan struct{}, cfg.ConcurrencySink),
		partitionSeq: map[string]*sequencer{},
		stopCh:       make(chan struct{}),
	}
}

// failSink records a terminal sink failure (the sink's own retry/backoff
// already ran; this error is final). Only the first failure matters: it
// stops the read loop and is surfaced from Run once draining completes.
// Per spec.md §7 kind 6, a terminal sink failure must not be
// checkpointed and must shut the runtime down to prevent data loss.
func (r *Runtime) failSink(err error) {
	r.stopOnce.Do(func() {
		r.failMu.Lock()
		r.failErr = err
		r.failMu.Unlock()
		close(r.stopCh)
	})
}

func (r *Runtime) sinkFailure() error {
	r.failMu.Lock()
	defer r.failMu.Unlock()
	return r.failErr
}

func (r *Runtime) seqFor(partition string) *sequencer {
	r.partitionMu.Lock()
	defer r.partitionMu.Unlock()
	s, ok := r.partitionSeq[partition]
	if !ok {
		s = newSequencer()
		r.partitionSeq[partition] = s
	}
	return s
}

// Run pulls records until ctx is cancelled or the source is exhausted,
// processing each one through the bounded work queue. It blocks until
// shutdown completes (drain, flush, checkpoint, close registry).
func (r *Runtime) Run(ctx context.Context) error {
readLoop:
	for {
		select {
		case <-r.stopCh:
			break readLoop
		default:
		}

		rec, ok, err := r.cfg.Source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break readLoop
			}
			return fmt.Errorf("source read: %w", err)
		}
		if !ok {
			break readLoop
		}

		r.workSem <- struct{}{}
		r.wg.Add(1)
		seq := r.seqFor(rec.PartitionID).reserve()

		go func(rec model.Record, seq int) {
			defer func() { <-r.workSem; r.wg.Done() }()
			r.processRecord(ctx, rec, seq)
		}(rec, seq)
	}

	r.wg.Wait()
	if err := r.cfg.Registry.Close(); err != nil {
		return fmt.Errorf("close registry: %w", err)
	}
	if sinkErr := r.sinkFailure(); sinkErr != nil {
		if r.cfg.Logger != nil {
			r.cfg.Logger.Error(ctx, "Enrich shutdown forced", sinkErr, nil)
		}
		return fmt.Errorf("terminal sink failure: %w", sinkErr)
	}
	if r.cfg.Logger != nil {
		r.cfg.Logger.Info(ctx, "Enrich stopped", nil)
	}
	return nil
}

func (r *Runtime) processRecord(ctx context.Context, rec model.Record, seq int) {
	payload, err := r.cfg.Decoder.Decode(ctx, rec.Bytes)
	if err != nil {
		if werr := r.emitDecodeFailure(ctx, rec, err); werr != nil {
			// Terminal sink failure: the bad row was never durably
			// written, so this record must not be checkpointed either.
			return
		}
		r.checkpointInOrder(ctx, rec, seq)
		return
	}

	if len(payload.Events) == 0 {
		// Zero-event payload: still checkpointed, no output (spec.md §8).
		r.checkpointInOrder(ctx, rec, seq)
		return
	}

	var failed int32
	var pending sync.WaitGroup
	for _, event := range payload.Events {
		pending.Add(1)
		go func(e model.RawEvent) {
			defer pending.Done()
			if err := r.processEvent(ctx, e, rec.Bytes); err != nil {
				atomic.AddInt32(&failed, 1)
			}
		}(event)
	}
	pending.Wait()

	if atomic.LoadInt32(&failed) > 0 {
		// Per spec.md §7 kind 6: a terminal sink failure for any event
		// derived from this record means the record is not checkpointed.
		return
	}
	r.checkpointInOrder(ctx, rec, seq)
}

func (r *Runtime) emitDecodeFailure(ctx context.Context, rec model.Record, err error) error {
	var row model.BadRow
	var sizeErr *decode.ErrSizeViolation
	if asSizeViolation(err, &sizeErr) {
		row = r.cfg.BadRow.SizeViolation(rec.Bytes, sizeErr.Max)
	} else {
		row = r.cfg.BadRow.AdapterFailure(rec.Bytes, err)
	}
	data, _ := json.Marshal(row)
	return r.writeBad(ctx, data)
}

func asSizeViolation(err error, target **decode.ErrSizeViolation) bool {
	for err != nil {
		if sv, ok := err.(*decode.ErrSizeViolation); ok {
			*target = sv
			return true
		}
		unwrap, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrap.Unwrap()
	}
	return false
}

// processEvent runs the pipeline for one event and writes its outcomes
// to their sinks. The returned error is non-nil only for a terminal sink
// failure (the sink already retried internally and gave up); the caller
// must not checkpoint the owning record in that case.
func (r *Runtime) processEvent(ctx context.Context, raw model.RawEvent, rawPayload []byte) error {
	outcomes, err := r.cfg.Pipeline.Process(ctx, raw, rawPayload)
	if err != nil {
		// Pipeline suspension (pause gate await) was cancelled by shutdown;
		// nothing more to do for this event.
		return nil
	}
	var firstErr error
	for _, o := range outcomes {
		r.sinkSem <- struct{}{}
		var werr error
		switch o.Sink {
		case pipeline.SinkGood:
			werr = r.writeAttributed(ctx, r.cfg.Good, o)
		case pipeline.SinkPII:
			werr = r.writeAttributed(ctx, r.cfg.PII, o)
		case pipeline.SinkBad:
			werr = r.writeBad(ctx, o.Bytes)
		}
		<-r.sinkSem
		if werr != nil && firstErr == nil {
			firstErr = werr
		}
	}
	return firstErr
}

// writeAttributed writes to an attributed sink. A non-nil error is
// terminal: the sink has already exhausted its own retry/backoff
// (spec.md §7 kind 6), so this failure stops the runtime.
func (r *Runtime) writeAttributed(ctx context.Context, sink sourcesink.AttributedSink, o pipeline.Outcome) error {
	if sink == nil {
		return nil
	}
	_, err := sink.Write(ctx, o.Bytes, o.Attributes)
	if err != nil {
		if r.cfg.Logger != nil {
			r.cfg.Logger.LogSinkAck(ctx, string(o.Sink), 0, err)
		}
		r.failSink(err)
		return err
	}
	return nil
}

// writeBad writes to the bad sink. See writeAttributed on terminal
// failure semantics.
func (r *Runtime) writeBad(ctx context.Context, data []byte) error {
	if r.cfg.Bad == nil {
		return nil
	}
	_, err := r.cfg.Bad.Write(ctx, data)
	if err != nil {
		if r.cfg.Logger != nil {
			r.cfg.Logger.LogSinkAck(ctx, "bad", 0, err)
		}
		r.failSink(err)
		return err
	}
	return nil
}

// checkpointInOrder releases this record's checkpoint only once every
// earlier-sequenced record on the same partition has checkpointed,
// preserving spec.md §3 invariant 3.
func (r *Runtime) checkpointInOrder(ctx context.Context, rec model.Record, seq int) {
	r.seqFor(rec.PartitionID).complete(seq, func() {
		if err := r.cfg.Checkpointer.Checkpoint(ctx, rec); err != nil && r.cfg.Logger != nil {
			r.cfg.Logger.Error(ctx, "checkpoint failed", err, nil)
			return
		}
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordCheckpoint()
		}
	})
}
