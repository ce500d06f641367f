// Package session owns tenant sessions: their lifecycle, the context binding
// of session ids and the scheduled expiry of stale sessions.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/mediamcp/pkg/schema"
)

// Removal reasons reported to observers.
const (
	ReasonDisconnect = "disconnect"
	ReasonExpired    = "expired"
	ReasonShutdown   = "shutdown"
)

// Session is one live tenant connection.
type Session struct {
	ID        string              `json:"id"`
	Config    schema.TenantConfig `json:"-"`
	CreatedAt time.Time           `json:"created_at"`
}

// Cache is the per-session index storage the registry reserves and evicts.
type Cache interface {
	Reserve(id string)
	Evict(id string) bool
}

// Indexer builds the media index of a new session.
type Indexer interface {
	Build(ctx context.Context, sessionID string, cfg schema.TenantConfig) (int, error)
}

// Observer is notified about session lifecycle events. Implementations must
// not block.
type Observer interface {
	SessionCreated(ctx context.Context, s Session)
	SessionRemoved(ctx context.Context, s Session, reason string)
	IndexBuilt(ctx context.Context, sessionID string, items int, elapsed time.Duration, err error)
}

// Deps holds the registry collaborators.
type Deps struct {
	Cache     Cache
	Indexer   Indexer
	Observers []Observer
	Logger    *slog.Logger
	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time
}

// Registry tracks live sessions and starts their index builds.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	closed   bool

	cache     Cache
	indexer   Indexer
	observers []Observer
	logger    *slog.Logger
	now       func() time.Time

	buildCtx    context.Context
	cancelBuild context.CancelFunc
	builds      sync.WaitGroup
}

// NewRegistry creates a registry. Builds run under a background context
// cancelled by Close.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		sessions:    make(map[string]Session),
		cache:       deps.Cache,
		indexer:     deps.Indexer,
		observers:   deps.Observers,
		logger:      deps.Logger,
		now:         deps.Now,
		buildCtx:    ctx,
		cancelBuild: cancel,
	}
}

// Create registers a session for cfg and starts its index build in the
// background. It returns the new session id without waiting for the build.
func (r *Registry) Create(cfg schema.TenantConfig) (string, error) {
	s := Session{
		ID:        uuid.New().String(),
		Config:    cfg,
		CreatedAt: r.now().UTC(),
	}

	if r.cache != nil {
		r.cache.Reserve(s.ID)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if r.cache != nil {
			r.cache.Evict(s.ID)
		}
		return "", schema.NewError(schema.ErrCodeExecution, "session registry is closed")
	}
	r.sessions[s.ID] = s
	if r.indexer != nil {
		r.builds.Add(1)
	}
	r.mu.Unlock()

	ctx := WithID(r.buildCtx, s.ID)
	r.logger.InfoContext(ctx, "session created",
		slog.String("region", cfg.Region),
		slog.Any("containers", cfg.Containers()),
	)
	for _, o := range r.observers {
		o.SessionCreated(ctx, s)
	}

	if r.indexer != nil {
		go r.build(ctx, s)
	}
	return s.ID, nil
}

func (r *Registry) build(ctx context.Context, s Session) {
	defer r.builds.Done()

	start := r.now()
	n, err := r.indexer.Build(ctx, s.ID, s.Config)
	elapsed := r.now().Sub(start)

	if err != nil {
		r.logger.WarnContext(ctx, "index build finished with errors",
			slog.Int("items", n),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
	} else {
		r.logger.InfoContext(ctx, "index build complete",
			slog.Int("items", n),
			slog.Duration("elapsed", elapsed),
		)
	}
	for _, o := range r.observers {
		o.IndexBuilt(ctx, s.ID, n, elapsed, err)
	}
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return Session{}, schema.NotFound("session", id)
	}
	return s, nil
}

// Remove deregisters the session and evicts its cache entry. It reports
// whether the session existed; removing twice is harmless.
func (r *Registry) Remove(id string) bool {
	return r.remove(id, ReasonDisconnect)
}

func (r *Registry) remove(id, reason string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if r.cache != nil {
		r.cache.Evict(id)
	}
	if !ok {
		return false
	}

	ctx := WithID(context.Background(), id)
	r.logger.InfoContext(ctx, "session removed", slog.String("reason", reason))
	for _, o := range r.observers {
		o.SessionRemoved(ctx, s, reason)
	}
	return true
}

// List returns all sessions ordered by creation time.
func (r *Registry) List() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Expire removes sessions created more than maxAge ago and returns their
// ids. A non-positive maxAge expires nothing.
func (r *Registry) Expire(maxAge time.Duration) []string {
	if maxAge <= 0 {
		return nil
	}
	cutoff := r.now().UTC().Add(-maxAge)

	var stale []string
	for _, s := range r.List() {
		if s.CreatedAt.Before(cutoff) {
			stale = append(stale, s.ID)
		}
	}
	var expired []string
	for _, id := range stale {
		if r.remove(id, ReasonExpired) {
			expired = append(expired, id)
		}
	}
	return expired
}

// Close cancels in-flight index builds, waits for them to return and
// removes every remaining session.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancelBuild()
	r.builds.Wait()
	for _, s := range r.List() {
		r.remove(s.ID, ReasonShutdown)
	}
}
