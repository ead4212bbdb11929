// Package tracing records loop execution traces: one trace per run,
// one span per model call, tool call, iteration, or delegation. Spans
// are buffered in memory and flushed to the tracing store in batches so
// emission never blocks the loop.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goswarm/internal/store"
)

const (
	defaultBufferSize    = 1024
	defaultBatchSize     = 64
	defaultFlushInterval = 2 * time.Second
	flushTimeout         = 5 * time.Second

	outputPreviewLimit = 500
	errorLimit         = 200
)

// Exporter receives every flushed span, e.g. to forward it to an
// external tracing backend. ExportSpan runs on the flush worker and
// must not block for long.
type Exporter interface {
	ExportSpan(span store.SpanData)
}

// Config configures a Collector. Store may be nil for exporter-only
// collectors; spans then skip persistence.
type Config struct {
	Store    store.TracingStore
	Exporter Exporter

	// Verbose enables full message serialization on model-call spans.
	Verbose bool

	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// Collector buffers spans and writes them out in the background. All
// methods are safe on a nil receiver, which makes tracing a strictly
// optional collaborator.
type Collector struct {
	store    store.TracingStore
	exporter Exporter
	verbose  bool

	batchSize int
	interval  time.Duration

	buf     chan store.SpanData
	flushCh chan chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Int64
}

// New builds a collector and starts its flush worker. Call Close to
// flush outstanding spans and stop the worker.
func New(cfg Config) *Collector {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	c := &Collector{
		store:     cfg.Store,
		exporter:  cfg.Exporter,
		verbose:   cfg.Verbose,
		batchSize: cfg.BatchSize,
		interval:  cfg.FlushInterval,
		buf:       make(chan store.SpanData, cfg.BufferSize),
		flushCh:   make(chan chan struct{}),
		done:      make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Verbose reports whether model-call spans should carry full message
// previews.
func (c *Collector) Verbose() bool {
	return c != nil && c.verbose
}

// EmitSpan queues a span for persistence. It never blocks; when the
// buffer is full the span is dropped.
func (c *Collector) EmitSpan(span store.SpanData) {
	if c == nil || c.closed.Load() {
		return
	}
	if span.ID == uuid.Nil {
		span.ID = store.NewID()
	}
	if span.CreatedAt.IsZero() {
		span.CreatedAt = time.Now().UTC()
	}
	if span.Status == "" {
		span.Status = store.SpanStatusCompleted
	}
	select {
	case c.buf <- span:
	default:
		if n := c.dropped.Add(1); n == 1 || n%1000 == 0 {
			slog.Warn("span buffer full, dropping spans", "dropped", n)
		}
	}
}

// Dropped returns how many spans were discarded because the buffer was
// full.
func (c *Collector) Dropped() int64 {
	if c == nil {
		return 0
	}
	return c.dropped.Load()
}

// StartTrace opens a trace row for a loop run and returns its ID.
// Missing fields are defaulted. Returns uuid.Nil when the trace could
// not be created; span emitters treat that as tracing-disabled.
func (c *Collector) StartTrace(ctx context.Context, trace *store.TraceData) uuid.UUID {
	if c == nil {
		return uuid.Nil
	}
	if trace.ID == uuid.Nil {
		trace.ID = store.NewID()
	}
	if trace.StartTime.IsZero() {
		trace.StartTime = time.Now().UTC()
	}
	if trace.Status == "" {
		trace.Status = store.TraceStatusRunning
	}
	if c.store != nil {
		if err := c.store.CreateTrace(ctx, trace); err != nil {
			slog.Warn("failed to create trace",
				"agent", trace.AgentName, "conversation_id", trace.ConversationID, "error", err)
			return uuid.Nil
		}
	}
	return trace.ID
}

// FinishTrace flushes buffered spans and closes the trace row with its
// final status and duration.
func (c *Collector) FinishTrace(ctx context.Context, traceID uuid.UUID, status, output, errMsg string, duration time.Duration) {
	if c == nil || traceID == uuid.Nil {
		return
	}
	c.Flush()
	if c.store == nil {
		return
	}
	updates := map[string]any{
		"status":      status,
		"end_time":    time.Now().UTC(),
		"duration_ms": int(duration.Milliseconds()),
	}
	if output != "" {
		updates["output_preview"] = truncate(output, outputPreviewLimit)
	}
	if errMsg != "" {
		updates["error"] = truncate(errMsg, errorLimit)
	}
	if err := c.store.UpdateTrace(ctx, traceID, updates); err != nil {
		slog.Warn("failed to finish trace", "trace_id", traceID, "error", err)
	}
}

// Flush blocks until every span buffered before the call is written out.
func (c *Collector) Flush() {
	if c == nil || c.closed.Load() {
		return
	}
	ack := make(chan struct{})
	select {
	case c.flushCh <- ack:
		<-ack
	case <-c.done:
	}
}

// Close flushes outstanding spans and stops the worker. Further
// EmitSpan calls are no-ops.
func (c *Collector) Close() {
	if c == nil {
		return
	}
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	c.wg.Wait()
}

func (c *Collector) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	batch := make([]store.SpanData, 0, c.batchSize)
	for {
		select {
		case span := <-c.buf:
			batch = append(batch, span)
			if len(batch) >= c.batchSize {
				batch = c.flush(batch)
			}
		case <-ticker.C:
			batch = c.flush(batch)
		case ack := <-c.flushCh:
			batch = c.flush(c.drainInto(batch))
			close(ack)
		case <-c.done:
			c.flush(c.drainInto(batch))
			return
		}
	}
}

// drainInto empties the buffer channel without blocking.
func (c *Collector) drainInto(batch []store.SpanData) []store.SpanData {
	for {
		select {
		case span := <-c.buf:
			batch = append(batch, span)
		default:
			return batch
		}
	}
}

// flush writes one batch to the store, refreshes aggregates for every
// trace touched, and hands the spans to the exporter. Returns the
// reusable zero-length batch.
func (c *Collector) flush(batch []store.SpanData) []store.SpanData {
	if len(batch) == 0 {
		return batch
	}
	if c.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		if err := c.store.BatchCreateSpans(ctx, batch); err != nil {
			slog.Warn("failed to flush spans", "count", len(batch), "error", err)
		} else {
			seen := make(map[uuid.UUID]struct{}, 2)
			for i := range batch {
				id := batch[i].TraceID
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				if err := c.store.BatchUpdateTraceAggregates(ctx, id); err != nil {
					slog.Debug("failed to update trace aggregates", "trace_id", id, "error", err)
				}
			}
		}
		cancel()
	}
	if c.exporter != nil {
		for i := range batch {
			c.exporter.ExportSpan(batch[i])
		}
	}
	return batch[:0]
}

func truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
