// Package session gives every browser its own identity client and auth
// bridge. A session is keyed by the id in the session cookie; its signed-in
// user is persisted under that id so it survives idle eviction and restarts.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benvon/letmeask/internal/bridge"
	"github.com/benvon/letmeask/internal/models"
	"github.com/benvon/letmeask/internal/services/identity"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultIdleTimeout is how long an unused session stays loaded.
const DefaultIdleTimeout = 30 * time.Minute

// restoreWait bounds how long opening a stored session waits for its bridge
// to publish the stored user.
const restoreWait = 5 * time.Second

var (
	// ErrNotFound is returned by Lookup for ids with no live or stored session.
	ErrNotFound = errors.New("session not found")
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("session manager closed")
)

// PersistenceFunc returns the store for one session's signed-in user.
type PersistenceFunc func(id string) identity.Persistence

// Session is one browser's identity client and the bridge over it.
type Session struct {
	id     string
	store  identity.Persistence
	auth   *identity.Auth
	bridge *bridge.Bridge
	ctx    context.Context
	cancel context.CancelFunc

	lastUsed  atomic.Int64
	closeOnce sync.Once

	// closed when the bridge reports a malformed identity
	failed   chan struct{}
	failOnce sync.Once
}

func (s *Session) ID() string { return s.id }

// Value is the bridge's published value for this browser.
func (s *Session) Value() bridge.Value { return s.bridge.Value() }

// User returns the browser's signed-in user, or nil.
func (s *Session) User() *models.User { return s.bridge.State().User() }

func (s *Session) Bridge() *bridge.Bridge { return s.bridge }

// CallbackHandler completes this browser's pending sign-ins.
func (s *Session) CallbackHandler() http.Handler { return s.auth.CallbackHandler() }

func (s *Session) touch(now time.Time) { s.lastUsed.Store(now.UnixNano()) }

func (s *Session) idleSince(cutoff time.Time) bool {
	return s.lastUsed.Load() < cutoff.UnixNano()
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.bridge.Close()
		s.auth.Close()
	})
}

// shortID is safe to log; the full id is a bearer credential.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithIdleTimeout sets how long an unused session stays loaded.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idle = d
		}
	}
}

// WithAuthOptions adds options to every session's identity client.
// Persistence and logger are always set by the manager.
func WithAuthOptions(opts ...identity.Option) Option {
	return func(m *Manager) { m.authOpts = append(m.authOpts, opts...) }
}

// WithOpenHook runs fn for every session once its bridge has started. ctx
// is cancelled when the session closes.
func WithOpenHook(fn func(ctx context.Context, s *Session)) Option {
	return func(m *Manager) { m.onOpen = fn }
}

// Manager owns the loaded sessions.
type Manager struct {
	backend     identity.Backend
	persistence PersistenceFunc
	authOpts    []identity.Option
	logger      *zap.Logger
	idle        time.Duration
	onOpen      func(ctx context.Context, s *Session)
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a manager whose sessions sign in through backend and
// store their users where persistence says.
func NewManager(backend identity.Backend, persistence PersistenceFunc, opts ...Option) *Manager {
	m := &Manager{
		backend:     backend,
		persistence: persistence,
		logger:      zap.NewNop(),
		idle:        DefaultIdleTimeout,
		now:         time.Now,
		sessions:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a session under a fresh id.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	id := uuid.NewString()
	return m.open(ctx, id, m.persistence(id))
}

// Lookup returns the session for id, reloading it from persistence when it
// is not loaded. Ids with nothing stored yield ErrNotFound.
func (m *Manager) Lookup(ctx context.Context, id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	s := m.sessions[id]
	m.mu.Unlock()
	if s != nil {
		s.touch(m.now())
		return s, nil
	}

	p := m.persistence(id)
	user, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return m.open(ctx, id, p)
}

func (m *Manager) open(ctx context.Context, id string, p identity.Persistence) (*Session, error) {
	logger := m.logger.With(zap.String("session", shortID(id)))

	opts := append([]identity.Option(nil), m.authOpts...)
	opts = append(opts, identity.WithPersistence(p), identity.WithLogger(logger.Named("identity")))
	auth := identity.New(m.backend, opts...)
	if err := auth.Start(ctx); err != nil {
		auth.Close()
		return nil, err
	}

	s := &Session{id: id, store: p, auth: auth, failed: make(chan struct{})}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.bridge = bridge.New(auth,
		bridge.WithLogger(logger.Named("bridge")),
		bridge.WithFatalHandler(func(err error) {
			s.failOnce.Do(func() { close(s.failed) })
			// keeps the session store I/O off the identity dispatcher
			go m.drop(s, err)
		}),
	)
	s.touch(m.now())

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.close()
		return nil, ErrClosed
	}
	if existing := m.sessions[id]; existing != nil {
		m.mu.Unlock()
		s.close()
		existing.touch(m.now())
		return existing, nil
	}
	m.sessions[id] = s
	m.mu.Unlock()

	if err := s.bridge.Start(); err != nil {
		m.remove(s)
		return nil, err
	}
	if auth.CurrentUser() != nil {
		if err := awaitPublished(ctx, s); err != nil {
			m.remove(s)
			return nil, err
		}
	}
	if m.onOpen != nil {
		m.onOpen(s.ctx, s)
	}
	logger.Debug("session_opened")
	return s, nil
}

// awaitPublished waits for the bridge to publish the stored user. A stored
// identity the bridge rejects yields ErrNotFound.
func awaitPublished(ctx context.Context, s *Session) error {
	ctx, cancel := context.WithTimeout(ctx, restoreWait)
	defer cancel()

	updates := s.bridge.State().Watch(ctx)
	for {
		select {
		case <-s.failed:
			return ErrNotFound
		case user, ok := <-updates:
			if !ok {
				select {
				case <-s.failed:
					return ErrNotFound
				default:
				}
				return fmt.Errorf("stored session was not restored: %w", context.Cause(ctx))
			}
			if user != nil {
				return nil
			}
		}
	}
}

// drop is the error boundary for a session whose identity cannot be
// mapped: the stored identity is cleared so the session does not fail the
// same way when it is next loaded.
func (m *Manager) drop(s *Session, cause error) {
	m.logger.Error("session_dropped_malformed_identity",
		zap.String("session", shortID(s.id)),
		zap.Error(cause),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Clear(ctx); err != nil {
		m.logger.Warn("failed_to_clear_dropped_session",
			zap.String("session", shortID(s.id)),
			zap.Error(err),
		)
	}
	m.remove(s)
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()
	s.close()
}

// Sweep unloads sessions idle for longer than the idle timeout and reports
// how many it unloaded. Their stored users are kept.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.idle)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.idleSince(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.close()
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("idle_sessions_unloaded", zap.Int("count", n), zap.Int("loaded", m.Len()))
			}
		}
	}
}

// Len reports how many sessions are loaded.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close unloads every session. Later lookups fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
