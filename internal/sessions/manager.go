// Package sessions manages persistent interpreter sessions: creation,
// idle expiry, capacity eviction, and per-session execution serialization.
package sessions

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/recurse/internal/interp"
	"github.com/haasonsaas/recurse/internal/metrics"
)

// ErrNotFound indicates the session does not exist or has been evicted.
var ErrNotFound = errors.New("session not found")

// Session is one persistent interpreter with its bookkeeping. Executions
// against the same session are serialized by the manager.
type Session struct {
	ID         string
	CreatedAt  time.Time
	LastAccess time.Time
	Interp     *interp.Interpreter

	mu sync.Mutex
}

// Info is the read-only view returned by List.
type Info struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
}

// Config bounds the manager. Zero values take the defaults.
type Config struct {
	// TTL is the idle lifetime; sessions untouched for longer are swept.
	TTL time.Duration

	// MaxSessions caps live sessions; creating past the cap evicts the
	// least recently used session.
	MaxSessions int

	// SweepInterval is how often the expiry sweep runs.
	SweepInterval time.Duration

	// CacheSize is the per-manager memoization cache size. Zero disables
	// memoization.
	CacheSize int
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Minute
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 100
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

// Manager owns the session table.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	cache    *interp.Cache
	metrics  *metrics.Metrics

	nowFunc func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager creates a manager and starts its expiry sweep.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	var cache *interp.Cache
	if cfg.CacheSize > 0 {
		c, err := interp.NewCache(cfg.CacheSize)
		if err == nil {
			cache = c
		}
	}

	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
		cache:    cache,
		nowFunc:  time.Now,
		stop:     make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// SetMetrics attaches Prometheus collectors. Optional.
func (m *Manager) SetMetrics(mx *metrics.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = mx
	m.reportGaugeLocked()
}

// SetNowFunc overrides the clock. Tests only.
func (m *Manager) SetNowFunc(fn func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowFunc = fn
}

// Close stops the expiry sweep.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// GetOrCreate returns the named session, creating it if needed. An empty
// id creates a session under a fresh UUID.
func (m *Manager) GetOrCreate(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if s, ok := m.sessions[id]; ok {
		s.LastAccess = m.nowFunc()
		return s
	}

	m.evictOverCapLocked()

	now := m.nowFunc()
	s := &Session{
		ID:         id,
		CreatedAt:  now,
		LastAccess: now,
		Interp:     interp.New(m.cache),
	}
	m.sessions[id] = s
	m.reportGaugeLocked()
	m.logger.Debug("session created", "session_id", id, "live_sessions", len(m.sessions))
	return s
}

// Get returns an existing session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.LastAccess = m.nowFunc()
	return s, nil
}

// Destroy removes a session. Destroying an absent session is not an error.
func (m *Manager) Destroy(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		m.reportGaugeLocked()
		m.logger.Debug("session destroyed", "session_id", id)
	}
}

// List returns session metadata ordered by last access, newest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, Info{ID: s.ID, CreatedAt: s.CreatedAt, LastAccess: s.LastAccess})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccess.After(out[j].LastAccess) })
	return out
}

// Len returns the live session count.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Execute runs code in the named session under the given profile,
// serialized against other executions in the same session. Concurrent
// executions in different sessions proceed in parallel.
func (m *Manager) Execute(ctx context.Context, sessionID, code string, profile interp.Profile) interp.Result {
	return m.ExecuteWithContext(ctx, sessionID, code, profile, nil)
}

// ExecuteWithContext runs code with overlay variables merged into the
// session's context dict before execution, under the same serialization.
func (m *Manager) ExecuteWithContext(ctx context.Context, sessionID, code string, profile interp.Profile, overrides map[string]string) interp.Result {
	s := m.GetOrCreate(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range overrides {
		s.Interp.SetContext(k, v)
	}
	res := s.Interp.Execute(ctx, code, profile)

	m.mu.Lock()
	s.LastAccess = m.nowFunc()
	m.mu.Unlock()
	return res
}

// LookupVariable returns the rendered value of a top-level variable in an
// existing session. The second return is false when the session or the
// variable does not exist.
func (m *Manager) LookupVariable(sessionID, name string) (string, bool) {
	s, err := m.Get(sessionID)
	if err != nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Interp.Lookup(name)
}

// evictOverCapLocked makes room for one more session by dropping the
// least recently used ones.
func (m *Manager) evictOverCapLocked() {
	for len(m.sessions) >= m.cfg.MaxSessions {
		var oldest *Session
		for _, s := range m.sessions {
			if oldest == nil || s.LastAccess.Before(oldest.LastAccess) {
				oldest = s
			}
		}
		if oldest == nil {
			return
		}
		delete(m.sessions, oldest.ID)
		m.reportGaugeLocked()
		m.logger.Info("session evicted", "session_id", oldest.ID, "reason", "capacity")
	}
}

// reportGaugeLocked pushes the live session count to the gauge. Callers
// hold m.mu.
func (m *Manager) reportGaugeLocked() {
	if m.metrics != nil {
		m.metrics.SetActiveSessions(len(m.sessions))
	}
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep removes sessions idle past the TTL. Returns how many were swept.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.nowFunc().Add(-m.cfg.TTL)
	swept := 0
	for id, s := range m.sessions {
		if s.LastAccess.Before(cutoff) {
			delete(m.sessions, id)
			swept++
			m.logger.Info("session expired", "session_id", id, "idle_since", s.LastAccess)
		}
	}
	if swept > 0 {
		m.reportGaugeLocked()
	}
	return swept
}
