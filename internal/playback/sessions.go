package playback

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/fanoutlab/fanoutlab/internal/errors"
	"github.com/fanoutlab/fanoutlab/internal/replay"
)

// DefaultMaxSessions caps live controllers in a Registry.
const DefaultMaxSessions = 64

// Session is a controller addressable by id.
type Session struct {
	ID         string      `json:"id"`
	CreatedAt  time.Time   `json:"createdAt"`
	Controller *Controller `json:"-"`

	lastUsed time.Time
}

// Registry holds playback sessions for remote callers. When full, the
// least recently used session is closed to make room.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	max       int
	scheduler Scheduler
	clock     clock.PassiveClock
	engine    *replay.Engine
}

// NewRegistry creates a session registry.
func NewRegistry(scheduler Scheduler, engine *replay.Engine, clk clock.PassiveClock, max int) *Registry {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		max:       max,
		scheduler: scheduler,
		clock:     clk,
		engine:    engine,
	}
}

// Create starts a new session replaying payload under policy.
func (r *Registry) Create(payload json.RawMessage, policy replay.Policy) *Session {
	opts := []Option{WithClock(r.clock)}
	if r.engine != nil {
		opts = append(opts, WithEngine(r.engine))
	}
	ctrl := NewController(r.scheduler, payload, policy, opts...)

	now := r.clock.Now()
	s := &Session{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		Controller: ctrl,
		lastUsed:   now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.sessions) >= r.max {
		r.evictLocked()
	}
	r.sessions[s.ID] = s
	return s
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, errors.New(errors.ErrCategoryReplay, errors.CodeSessionNotFound, "replay session not found: "+id)
	}
	s.lastUsed = r.clock.Now()
	return s, nil
}

// Delete closes and removes a session.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return errors.New(errors.ErrCategoryReplay, errors.CodeSessionNotFound, "replay session not found: "+id)
	}
	s.Controller.Close()
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Controller.Close()
	}
}

func (r *Registry) evictLocked() {
	var oldest *Session
	for _, s := range r.sessions {
		if oldest == nil || s.lastUsed.Before(oldest.lastUsed) {
			oldest = s
		}
	}
	if oldest == nil {
		return
	}
	delete(r.sessions, oldest.ID)
	oldest.Controller.Close()
}
