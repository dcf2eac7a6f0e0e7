// Package queue buffers pending events and flushes them in batches:
// when the batch threshold is reached, on a timer, on a reachability
// notification, or on an explicit request. Events leave the queue only
// after the transport acknowledges the batch containing them.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mfclarke-cnx/posthog-go/internal/event"
	"github.com/mfclarke-cnx/posthog-go/internal/storage"
	"github.com/mfclarke-cnx/posthog-go/internal/transport"
)

// Config configures the queue.
type Config struct {
	// BatchSize is both the flush threshold and the maximum batch handed
	// to the sender.
	BatchSize int
	// MaxQueueSize bounds buffered events; the oldest pending events are
	// evicted once it is exceeded.
	MaxQueueSize int
	// FlushInterval is the periodic flush timer.
	FlushInterval time.Duration
}

// Queue is the pending-event buffer plus its flush loop. All mutation
// goes through one mutex; delivery happens on the Start goroutine, so at
// most one flush is in flight and overlapping requests coalesce.
type Queue struct {
	mu       sync.Mutex
	pending  []*event.Event
	inFlight int

	sender transport.BatchSender
	store  storage.Store
	config Config
	log    *zap.Logger

	flushCh   chan struct{}
	reachable <-chan struct{}
	done      chan struct{}
}

// New restores any persisted queue from storage and returns the queue.
// reachable may be nil; when set, each notification (connectivity
// restored) triggers a flush attempt.
func New(sender transport.BatchSender, store storage.Store, config Config, reachable <-chan struct{}, log *zap.Logger) *Queue {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 30 * time.Second
	}

	q := &Queue{
		sender:    sender,
		store:     store,
		config:    config,
		log:       log,
		flushCh:   make(chan struct{}, 1),
		reachable: reachable,
		done:      make(chan struct{}),
	}
	q.restore()
	return q
}

func (q *Queue) restore() {
	slot, err := q.store.GetDict(storage.KeyQueuedEvents)
	if err != nil {
		q.log.Warn("Failed to read persisted queue", zap.Error(err))
		return
	}
	items, ok := slot["events"].([]any)
	if !ok {
		return
	}

	restored := make([]*event.Event, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		e, err := event.FromJSON(data)
		if err != nil {
			q.log.Warn("Dropping unreadable persisted event", zap.Error(err))
			continue
		}
		restored = append(restored, e)
	}

	q.mu.Lock()
	q.pending = restored
	q.mu.Unlock()

	if len(restored) > 0 {
		q.log.Info("Restored persisted events",
			zap.Int("event_count", len(restored)))
	}
}

// persistLocked snapshots the pending slice into the storage slot. Callers
// hold q.mu.
func (q *Queue) persistLocked() {
	items := make([]any, 0, len(q.pending))
	for _, e := range q.pending {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		var item map[string]any
		if err := json.Unmarshal(data, &item); err != nil {
			continue
		}
		items = append(items, item)
	}

	if err := q.store.SetDict(storage.KeyQueuedEvents, map[string]any{"events": items}); err != nil {
		q.log.Error("Failed to persist queue", zap.Error(err))
	}
}

// Enqueue adds an event, evicting the oldest pending events past
// MaxQueueSize, and requests a flush once the batch threshold is reached.
func (q *Queue) Enqueue(e *event.Event) {
	q.mu.Lock()
	q.pending = append(q.pending, e)

	for q.config.MaxQueueSize > 0 && len(q.pending) > q.config.MaxQueueSize {
		// Never evict the in-flight head: those events are part of a
		// submitted batch.
		idx := q.inFlight
		if idx >= len(q.pending) {
			break
		}
		dropped := q.pending[idx]
		q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
		q.log.Warn("Queue full, dropping oldest event",
			zap.String("event_name", dropped.Name),
			zap.String("uuid", dropped.UUID))
	}

	q.persistLocked()
	size := len(q.pending)
	q.mu.Unlock()

	if size >= q.config.BatchSize {
		q.RequestFlush()
	}
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// RequestFlush asks the flush loop to run. Requests arriving while a
// flush is in progress coalesce into a single follow-up flush.
func (q *Queue) RequestFlush() {
	select {
	case q.flushCh <- struct{}{}:
	default:
	}
}

// Start runs the flush loop until ctx is cancelled, then attempts one
// final delivery of whatever is still buffered.
func (q *Queue) Start(ctx context.Context) {
	defer close(q.done)

	ticker := time.NewTicker(q.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.log.Info("Flush loop shutting down")
			if q.Len() > 0 {
				final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				q.flush(final)
				cancel()
			}
			return

		case <-q.flushCh:
			q.flush(ctx)

		case <-ticker.C:
			q.flush(ctx)

		case _, ok := <-q.reachable:
			if !ok {
				// Collaborator went away; stop selecting on it.
				q.reachable = nil
				continue
			}
			q.log.Debug("Network reachable, attempting flush")
			q.flush(ctx)
		}
	}
}

// Wait blocks until the flush loop has exited.
func (q *Queue) Wait() {
	<-q.done
}

// flush submits one batch of the oldest pending events. On success the
// batch is removed and the persisted snapshot updated; on failure the
// events stay pending for the next trigger.
func (q *Queue) flush(ctx context.Context) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}

	count := len(q.pending)
	if q.config.BatchSize > 0 && count > q.config.BatchSize {
		count = q.config.BatchSize
	}
	batch := make([]*event.Event, count)
	copy(batch, q.pending[:count])
	q.inFlight = count
	q.mu.Unlock()

	err := q.sender.SendBatch(ctx, batch)

	q.mu.Lock()
	q.inFlight = 0
	if err != nil {
		q.mu.Unlock()
		q.log.Warn("Batch delivery failed, events stay queued",
			zap.Int("event_count", len(batch)),
			zap.Error(err))
		return
	}

	q.pending = q.pending[count:]
	q.persistLocked()
	remaining := len(q.pending)
	q.mu.Unlock()

	q.log.Debug("Batch delivered",
		zap.Int("event_count", count),
		zap.Int("remaining", remaining))

	if remaining >= q.config.BatchSize {
		q.RequestFlush()
	}
}
