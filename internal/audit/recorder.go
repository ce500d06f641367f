package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/mediamcp/internal/session"
	"github.com/rendis/mediamcp/internal/tools"
)

// DefaultQueueSize bounds the number of pending writes.
const DefaultQueueSize = 1024

type op func(ctx context.Context, s *Store) error

type job struct {
	name string
	run  op
	done chan struct{}
}

// Recorder writes lifecycle and dispatch events to the Store from a single
// background goroutine. It never blocks callers: when the queue is full the
// event is dropped and counted.
type Recorder struct {
	store  *Store
	logger *slog.Logger
	queue  chan job

	dropped atomic.Int64

	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}
}

// NewRecorder starts a recorder. queueSize <= 0 selects DefaultQueueSize.
func NewRecorder(store *Store, queueSize int, logger *slog.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:   store,
		logger:  logger,
		queue:   make(chan job, queueSize),
		stopped: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) loop() {
	defer close(r.stopped)
	for j := range r.queue {
		if j.run != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := j.run(ctx, r.store); err != nil {
				r.logger.Warn("audit write failed", "op", j.name, "error", err)
			}
			cancel()
		}
		if j.done != nil {
			close(j.done)
		}
	}
}

func (r *Recorder) enqueue(j job) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	if j.done != nil {
		r.queue <- j
		return true
	}
	select {
	case r.queue <- j:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Flush waits until every event queued before the call has been written.
func (r *Recorder) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !r.enqueue(job{name: "flush", done: done}) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the writer. The Store stays open.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.stopped
}

func (r *Recorder) SessionCreated(_ context.Context, s session.Session) {
	r.enqueue(job{name: "session_created", run: func(ctx context.Context, st *Store) error {
		return st.InsertSession(ctx, s.ID, s.Config, s.CreatedAt)
	}})
}

func (r *Recorder) SessionRemoved(_ context.Context, s session.Session, reason string) {
	at := time.Now()
	r.enqueue(job{name: "session_removed", run: func(ctx context.Context, st *Store) error {
		return st.MarkRemoved(ctx, s.ID, reason, at)
	}})
}

func (r *Recorder) IndexBuilt(_ context.Context, sessionID string, items int, elapsed time.Duration, err error) {
	at := time.Now()
	r.enqueue(job{name: "index_built", run: func(ctx context.Context, st *Store) error {
		return st.RecordIndex(ctx, sessionID, items, elapsed, err, at)
	}})
}

func (r *Recorder) ToolCalled(_ context.Context, rec tools.CallRecord) {
	call := ToolCall{
		Tool:      rec.Tool,
		SessionID: rec.SessionID,
		Outcome:   outcome(rec.Code),
		Duration:  rec.Duration,
		CalledAt:  time.Now(),
	}
	if rec.Err != nil {
		call.Error = rec.Err.Error()
	}
	r.enqueue(job{name: "tool_called", run: func(ctx context.Context, st *Store) error {
		return st.InsertToolCall(ctx, call)
	}})
}

func outcome(code string) string {
	if code == "" {
		return "OK"
	}
	return code
}

var (
	_ session.Observer = (*Recorder)(nil)
	_ tools.Observer   = (*Recorder)(nil)
)
