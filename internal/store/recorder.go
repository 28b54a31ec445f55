package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/authflow/internal/playback"
)

const (
	defaultRecorderBuffer = 256
	recorderBatchSize     = 64
)

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	Buffer int          // queued events before new ones are dropped; defaults to 256
	Retry  *RetryPolicy // nil means DefaultRetryPolicy
	Logger *slog.Logger
}

// Recorder persists a session's debug events. Hook never blocks: events are
// queued on a bounded channel and written in batches by a background
// goroutine. When the queue is full the event is dropped and counted. A batch
// that still fails after its retries, or arrives while the EventLog's write
// breaker is open, is dropped and counted too.
type Recorder struct {
	log       *EventLog
	sessionID string
	logger    *slog.Logger
	retry     RetryPolicy

	mu     sync.RWMutex
	closed bool
	queue  chan *Event
	done   chan struct{}

	dropped atomic.Uint64
	written atomic.Uint64
}

// NewRecorder starts a recorder for sessionID. Call Close to flush and stop it.
func NewRecorder(el *EventLog, sessionID string, opts RecorderOptions) *Recorder {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	retry := DefaultRetryPolicy()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	r := &Recorder{
		log:       el,
		sessionID: sessionID,
		logger:    logger,
		retry:     retry,
		queue:     make(chan *Event, buffer),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

// Hook returns the DebugHook that feeds this recorder.
func (r *Recorder) Hook() playback.DebugHook {
	return r.Record
}

// Record queues ev for persistence.
func (r *Recorder) Record(ev playback.DebugEvent) {
	e := &Event{
		SessionID: r.sessionID,
		FlowID:    ev.FlowID,
		StepIndex: ev.StepIndex,
		Type:      ev.Type,
		Timestamp: ev.Timestamp.UTC(),
	}
	if ev.StepID != nil {
		e.StepID = *ev.StepID
	}
	if len(ev.Metadata) > 0 {
		if raw, err := json.Marshal(ev.Metadata); err == nil {
			e.Metadata = raw
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- e:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full
// or the recorder was closed.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns how many events were persisted.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Close stops accepting events and waits until everything queued is written
// or ctx expires.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	batch := make([]*Event, 0, recorderBatchSize)
	for e := range r.queue {
		batch = append(batch, e)
	drain:
		for len(batch) < recorderBatchSize {
			select {
			case more, ok := <-r.queue:
				if !ok {
					break drain
				}
				batch = append(batch, more)
			default:
				break drain
			}
		}
		r.flush(batch)
		batch = batch[:0]
	}
}

func (r *Recorder) flush(batch []*Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	breaker := r.log.breaker
	if err := breaker.allow(); err != nil {
		r.dropped.Add(uint64(len(batch)))
		r.logger.Debug("trace write skipped", "session_id", r.sessionID, "events", len(batch), "error", err)
		return
	}

	var err error
	for attempt := 0; ; attempt++ {
		if err = r.log.AppendEvents(ctx, batch); err == nil {
			breaker.success()
			r.written.Add(uint64(len(batch)))
			return
		}
		if !IsRetryable(err) || attempt+1 >= r.retry.Attempts {
			break
		}
		if waitBackoff(ctx, r.retry.Backoff(attempt)) != nil {
			break
		}
	}

	r.dropped.Add(uint64(len(batch)))
	if IsRetryable(err) {
		if state := breaker.failure(); state == CircuitOpen {
			r.logger.Error("trace writes suspended", "session_id", r.sessionID, "error", err)
			return
		}
	} else {
		breaker.success()
	}
	r.logger.Warn("trace write failed", "session_id", r.sessionID, "events", len(batch), "error", err)
}
