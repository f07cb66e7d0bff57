package obstacledb

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/foresight/internal/monitoring"
	"github.com/banshee-data/foresight/internal/obstacle"
	"github.com/banshee-data/foresight/internal/timeutil"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultMaxBatch      = 256
)

// AsyncWriter buffers feature records and flushes them to the store in
// batches, keeping sqlite writes off the ingestion path. Record never
// blocks on the database: rows accumulate in memory and a background
// goroutine drains them on a flush interval, or sooner when the buffer
// fills up.
type AsyncWriter struct {
	db    *DB
	runID string

	interval time.Duration
	maxBatch int
	clock    timeutil.Clock

	kickCh chan struct{}

	mu      sync.Mutex
	pending []FeatureRecord
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// AsyncWriterConfig contains configuration for AsyncWriter.
type AsyncWriterConfig struct {
	// DB is the feature store to flush into.
	DB *DB
	// RunID stamps every buffered record.
	RunID string
	// Interval is how often to flush; zero uses 5s.
	Interval time.Duration
	// MaxBatch triggers an early flush once this many records are
	// buffered; zero uses 256.
	MaxBatch int
	// Clock is optional; if nil, the wall clock is used.
	Clock timeutil.Clock
}

// NewAsyncWriter creates a writer for one recording run.
func NewAsyncWriter(cfg AsyncWriterConfig) *AsyncWriter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &AsyncWriter{
		db:       cfg.DB,
		runID:    cfg.RunID,
		interval: interval,
		maxBatch: maxBatch,
		clock:    clock,
		kickCh:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Record buffers one feature row. Safe for concurrent use.
func (w *AsyncWriter) Record(obstacleID int, typ obstacle.Type, f obstacle.Feature) {
	w.mu.Lock()
	w.pending = append(w.pending, FeatureRecord{
		RunID:      w.runID,
		ObstacleID: obstacleID,
		Type:       typ,
		Feature:    f,
	})
	full := len(w.pending) >= w.maxBatch
	w.mu.Unlock()

	if full {
		// Nudge the writer goroutine; never write from the caller.
		select {
		case w.kickCh <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of buffered records awaiting a flush.
func (w *AsyncWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Run starts the flush loop. It blocks until the context is cancelled or
// Stop() is called, draining the buffer one final time on the way out.
// Returns nil on clean shutdown.
func (w *AsyncWriter) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil // already running
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	defer func() {
		close(w.doneCh)
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	monitoring.Logf("feature writer started: run=%s interval=%v", w.runID, w.interval)

	for {
		select {
		case <-ctx.Done():
			w.flush("final")
			return nil
		case <-w.stopCh:
			w.flush("final")
			return nil
		case <-w.kickCh:
			w.flush("batch")
		case <-ticker.C():
			w.flush("periodic")
		}
	}
}

// Stop requests the writer to stop and waits for the final flush. It is
// safe to call multiple times.
func (w *AsyncWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	select {
	case <-w.stopCh:
		// already closed
	default:
		close(w.stopCh)
	}
	w.mu.Unlock()

	<-w.doneCh
}

// IsRunning returns whether the flush loop is currently running.
func (w *AsyncWriter) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Flush drains the buffer synchronously. Used by offline tools that never
// start the background loop.
func (w *AsyncWriter) Flush() {
	w.flush("manual")
}

func (w *AsyncWriter) flush(reason string) {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := w.db.RecordBatch(batch); err != nil {
		monitoring.Logf("feature writer: error flushing %d records: %v", len(batch), err)
		return
	}
	monitoring.Tracef("feature writer: flushed %d records (%s)", len(batch), reason)
}
