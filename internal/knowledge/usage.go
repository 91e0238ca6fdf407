package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// UsageRecorder is the part of Store the tracker writes to
type UsageRecorder interface {
	RecordUsage(ctx context.Context, id string, helpful bool) error
}

// UsageEvent describes one applied (or failed) usage update
type UsageEvent struct {
	EntryID   string
	Helpful   bool
	MessageID string
	Err       error
	At        time.Time
}

// UsageConfig holds tracker configuration
type UsageConfig struct {
	Workers       int           // Number of worker goroutines
	QueueSize     int           // Pending updates before Track starts dropping
	UpdateTimeout time.Duration // Per-update deadline
	// Observer, if set, is called after each update attempt from a worker
	Observer func(context.Context, UsageEvent)
}

// DefaultUsageConfig returns default tracker configuration
func DefaultUsageConfig() *UsageConfig {
	return &UsageConfig{
		Workers:       2,
		QueueSize:     256,
		UpdateTimeout: 10 * time.Second,
	}
}

// UsageMetrics tracks tracker throughput
type UsageMetrics struct {
	Enqueued  int64
	Applied   int64
	Failed    int64
	Dropped   int64
	QueueSize int
}

type usageUpdate struct {
	entryID   string
	helpful   bool
	messageID string
}

// UsageTracker applies knowledge usage updates on a pool of detached
// workers so bookkeeping never delays an answer.
type UsageTracker struct {
	recorder UsageRecorder
	config   *UsageConfig
	logger   *slog.Logger

	queue  chan usageUpdate
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex // guards closed and queue sends
	closed  bool
	metrics UsageMetrics
	mmu     sync.Mutex
}

// NewUsageTracker starts the worker pool
func NewUsageTracker(recorder UsageRecorder, config *UsageConfig, logger *slog.Logger) *UsageTracker {
	if config == nil {
		config = DefaultUsageConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.UpdateTimeout <= 0 {
		config.UpdateTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &UsageTracker{
		recorder: recorder,
		config:   config,
		logger:   logger,
		queue:    make(chan usageUpdate, config.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < config.Workers; i++ {
		t.wg.Add(1)
		go t.worker()
	}
	return t
}

// Track enqueues one update per retrieved entry. Entries in cited count as
// helpful. It never blocks: updates that do not fit are dropped and logged.
func (t *UsageTracker) Track(messageID string, retrieved, cited []string) {
	citedSet := make(map[string]struct{}, len(cited))
	for _, id := range cited {
		citedSet[id] = struct{}{}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, id := range retrieved {
		if t.closed {
			t.count(func(m *UsageMetrics) { m.Dropped++ })
			continue
		}

		_, helpful := citedSet[id]
		select {
		case t.queue <- usageUpdate{entryID: id, helpful: helpful, messageID: messageID}:
			t.count(func(m *UsageMetrics) { m.Enqueued++ })
		default:
			t.count(func(m *UsageMetrics) { m.Dropped++ })
			t.logger.Warn("usage queue full, dropping update", "entry_id", id, "message_id", messageID)
		}
	}
}

func (t *UsageTracker) worker() {
	defer t.wg.Done()

	for upd := range t.queue {
		t.apply(upd)
	}
}

func (t *UsageTracker) apply(upd usageUpdate) {
	ctx, cancel := context.WithTimeout(t.ctx, t.config.UpdateTimeout)
	defer cancel()

	err := t.recorder.RecordUsage(ctx, upd.entryID, upd.helpful)
	if err != nil {
		t.count(func(m *UsageMetrics) { m.Failed++ })
		level := slog.LevelWarn
		if errors.Is(err, ErrNotFound) {
			level = slog.LevelDebug
		}
		t.logger.Log(ctx, level, "failed to record knowledge usage",
			"entry_id", upd.entryID, "message_id", upd.messageID, "error", err)
	} else {
		t.count(func(m *UsageMetrics) { m.Applied++ })
	}

	if t.config.Observer != nil {
		t.config.Observer(ctx, UsageEvent{
			EntryID:   upd.entryID,
			Helpful:   upd.helpful,
			MessageID: upd.messageID,
			Err:       err,
			At:        time.Now(),
		})
	}
}

func (t *UsageTracker) count(fn func(*UsageMetrics)) {
	t.mmu.Lock()
	fn(&t.metrics)
	t.mmu.Unlock()
}

// Metrics returns a copy of the current counters
func (t *UsageTracker) Metrics() UsageMetrics {
	t.mmu.Lock()
	m := t.metrics
	t.mmu.Unlock()
	m.QueueSize = len(t.queue)
	return m
}

// Shutdown stops accepting updates and waits for queued ones to drain.
// Workers still running at the deadline have their updates cancelled.
func (t *UsageTracker) Shutdown(timeout time.Duration) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.cancel()
		return nil
	case <-time.After(timeout):
		t.cancel()
		return fmt.Errorf("usage tracker shutdown timeout exceeded")
	}
}
