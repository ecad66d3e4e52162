package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/teslashibe/go-formcam/internal/log"
)

// Registry owns the live sessions of a process, keyed by handle.
type Registry struct {
	template  Options
	exclusive bool
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	// OnStart is called with every new session after it is registered and
	// before acquisition, e.g. to attach a broadcaster.
	OnStart func(s *Session)
}

// NewRegistry creates a registry that builds sessions from template. With
// exclusive set, starting a session stops all others first so a single
// physical camera is never contended.
func NewRegistry(template Options, exclusive bool) *Registry {
	return &Registry{
		template:  template,
		exclusive: exclusive,
		logger:    log.Component("registry"),
		sessions:  make(map[string]*Session),
	}
}

// StartCapture creates, registers and starts a session. The session is
// returned even when acquisition fails; it then sits in StreamError and the
// acquisition error is returned alongside it.
func (r *Registry) StartCapture(ctx context.Context, formID string) (*Session, error) {
	if r.exclusive {
		r.StopAll()
	}

	opts := r.template
	opts.ID = uuid.NewString()
	opts.FormID = formID

	s, err := New(opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[s.ID()] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("session started", "session", s.ID(), "form", formID, "active", count)

	if r.OnStart != nil {
		r.OnStart(s)
	}
	return s, s.Start(ctx)
}

// StopCapture stops and forgets a session.
func (r *Registry) StopCapture(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	return s.Stop()
}

// Get returns a session by handle.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns snapshots of all sessions, oldest first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Snapshot())
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

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StopAll stops and forgets every session.
func (r *Registry) StopAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for id, s := range all {
		if err := s.Stop(); err != nil {
			r.logger.Debug("stop", "session", id, "error", err)
		}
		s.Wait()
	}
}
