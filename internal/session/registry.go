// Package session keeps one measurement controller per client, together with
// the capture stream that client may have open, and expires idle sessions.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"go-dimension-detective/internal/controller"
	apperrors "go-dimension-detective/internal/errors"
	"go-dimension-detective/internal/logger"
	"go-dimension-detective/internal/source"
)

// Session is one client's workspace
type Session struct {
	ID         string
	Controller *controller.Controller
	Capture    *source.CaptureSource
	// Camera is nil when capture is disabled
	Camera    *source.RelayCamera
	CreatedAt time.Time

	lastSeen atomic.Int64
}

// LastSeen is the last time the session was used
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load()).UTC()
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Session) teardown() {
	s.Capture.Stop()
	s.Controller.Close()
}

// Options configures a Registry
type Options struct {
	TTL         time.Duration
	MaxSessions int
	// NewController builds the controller for a new session id
	NewController  func(id string) *controller.Controller
	Decoder        *source.Decoder
	CaptureEnabled bool
	// OnClose runs after a session is torn down
	OnClose func(id string)
	// InUse reports sessions held open by a client, such as an event
	// stream listener; they do not expire while it returns true
	InUse func(id string) bool
}

// Registry owns every live session
type Registry struct {
	opts Options
	now  func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session
func (r *Registry) Create() (*Session, error) {
	id := uuid.NewString()
	now := r.now()

	var camera *source.RelayCamera
	var cam source.Camera
	if r.opts.CaptureEnabled {
		camera = source.NewRelayCamera()
		cam = camera
	}

	s := &Session{
		ID:         id,
		Controller: r.opts.NewController(id),
		Capture:    source.NewCaptureSource(cam, r.opts.Decoder),
		Camera:     camera,
		CreatedAt:  now.UTC(),
	}
	s.touch(now)

	r.mu.Lock()
	if r.opts.MaxSessions > 0 && len(r.sessions) >= r.opts.MaxSessions {
		r.mu.Unlock()
		s.teardown()
		return nil, apperrors.NewRateLimitedError("too many active sessions")
	}
	r.sessions[id] = s
	r.mu.Unlock()

	logger.WithField("session_id", id).Info("Session created")
	return s, nil
}

// Get returns a live session and marks it used
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return nil, apperrors.NewNotFoundError("session not found", nil)
	}
	now := r.now()
	if r.expired(s, now) {
		r.remove(id, "expired")
		return nil, apperrors.NewNotFoundError("session expired", nil)
	}
	s.touch(now)
	return s, nil
}

// Delete tears a session down
func (r *Registry) Delete(id string) error {
	if !r.remove(id, "deleted") {
		return apperrors.NewNotFoundError("session not found", nil)
	}
	return nil
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes every session idle for longer than the TTL
func (r *Registry) Sweep(now time.Time) int {
	r.mu.RLock()
	var stale []string
	for id, s := range r.sessions {
		if r.expired(s, now) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, id := range stale {
		if r.remove(id, "expired") {
			removed++
		}
	}
	return removed
}

// Run sweeps on every tick until ctx is done
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(r.now()); n > 0 {
				logger.WithFields(logrus.Fields{"removed": n, "remaining": r.Len()}).Info("Expired sessions swept")
			}
		}
	}
}

// CloseAll tears down every session
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.remove(id, "shutdown")
	}
}

func (r *Registry) expired(s *Session, now time.Time) bool {
	if r.opts.TTL <= 0 {
		return false
	}
	if r.opts.InUse != nil && r.opts.InUse(s.ID) {
		s.touch(now)
		return false
	}
	return now.Sub(s.LastSeen()) > r.opts.TTL
}

func (r *Registry) remove(id, reason string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.teardown()
	if r.opts.OnClose != nil {
		r.opts.OnClose(id)
	}
	logger.WithFields(logrus.Fields{"session_id": id, "reason": reason}).Info("Session closed")
	return true
}
