package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Expirer is the part of the registry the reaper drives.
type Expirer interface {
	Expire(maxAge time.Duration) []string
}

// Reaper periodically expires sessions older than a maximum age on a cron
// schedule.
type Reaper struct {
	target   Expirer
	maxAge   time.Duration
	schedule cron.Schedule
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var reapParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewReaper creates a reaper for target. spec accepts five-field cron
// expressions and descriptors such as "@every 1m".
func NewReaper(target Expirer, maxAge time.Duration, spec string, logger *slog.Logger) (*Reaper, error) {
	schedule, err := reapParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse reap schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		target:   target,
		maxAge:   maxAge,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Start launches the background loop. A reaper with a non-positive max age
// never starts.
func (r *Reaper) Start(ctx context.Context) error {
	if r.maxAge <= 0 {
		return nil
	}

	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return fmt.Errorf("reaper already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.loop(loopCtx)
	r.logger.Info("session reaper started", slog.Duration("max_age", r.maxAge))
	return nil
}

func (r *Reaper) loop(ctx context.Context) {
	defer close(r.done)

	for {
		now := r.now()
		wait := r.schedule.Next(now).Sub(now)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.Sweep()
		}
	}
}

// Sweep expires stale sessions once and returns their ids.
func (r *Reaper) Sweep() []string {
	expired := r.target.Expire(r.maxAge)
	if len(expired) > 0 {
		r.logger.Info("expired stale sessions", slog.Int("count", len(expired)))
	}
	return expired
}

// Stop shuts the loop down and waits for it to exit.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil
	r.logger.Info("session reaper stopped")
}
