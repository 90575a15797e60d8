package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benvon/letmeask/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// DefaultPopupTimeout is how long SignInWithPopup waits for the callback.
const DefaultPopupTimeout = 5 * time.Minute

// Backend talks to the identity provider's authorization server.
type Backend interface {
	AuthCodeURL(state string, scopes []string, opts ...oauth2.AuthCodeOption) string
	// Exchange redeems an authorization code and returns the verified
	// identity claims.
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*models.JWTClaims, error)
}

// Option configures an Auth.
type Option func(*Auth)

// WithPersistence sets where the signed-in user is stored between runs. The
// default keeps it in memory.
func WithPersistence(p Persistence) Option {
	return func(a *Auth) { a.persistence = p }
}

// WithDefaultOpener sets the opener used when the sign-in context carries
// none.
func WithDefaultOpener(o PopupOpener) Option {
	return func(a *Auth) { a.opener = o }
}

// WithPopupTimeout bounds how long SignInWithPopup waits for the callback.
// Non-positive values keep DefaultPopupTimeout.
func WithPopupTimeout(d time.Duration) Option {
	return func(a *Auth) {
		if d > 0 {
			a.popupTimeout = d
		}
	}
}

// WithLogger sets the logger for sign-in and session events.
func WithLogger(l *zap.Logger) Option {
	return func(a *Auth) {
		if l != nil {
			a.logger = l
		}
	}
}

type authEvent struct {
	user   *User
	target uint64
}

// Auth is the client-side identity SDK: it owns the signed-in provider user
// and notifies listeners whenever it changes. Listeners run on a single
// dispatcher goroutine in the order events occurred.
type Auth struct {
	backend      Backend
	persistence  Persistence
	opener       PopupOpener
	popupTimeout time.Duration
	logger       *zap.Logger

	startMu sync.Mutex

	mu        sync.Mutex
	current   *User
	started   bool
	closed    bool
	listeners map[uint64]func(*User)
	nextID    uint64
	pending   map[string]*pendingPopup
	queue     []authEvent

	wake        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	watchCancel context.CancelFunc
	wg          sync.WaitGroup
}

// New creates an Auth client. Call Start to restore the persisted session.
func New(backend Backend, opts ...Option) *Auth {
	a := &Auth{
		backend:      backend,
		persistence:  NewMemoryPersistence(),
		popupTimeout: DefaultPopupTimeout,
		logger:       zap.NewNop(),
		listeners:    make(map[uint64]func(*User)),
		pending:      make(map[string]*pendingPopup),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.dispatch()
	return a
}

// Start restores the persisted session and announces it to listeners. When
// the persistence is shared it also follows sign-ins and sign-outs made by
// other processes. Calling Start again is a no-op.
func (a *Auth) Start(ctx context.Context) error {
	a.startMu.Lock()
	defer a.startMu.Unlock()

	a.mu.Lock()
	started, closed := a.started, a.closed
	a.mu.Unlock()
	if closed {
		return ErrAuthClosed
	}
	if started {
		return nil
	}

	user, err := a.persistence.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrAuthClosed
	}
	a.current = user.clone()
	a.started = true
	a.enqueueLocked(authEvent{user: a.current.clone()})

	if w, ok := a.persistence.(Watcher); ok {
		watchCtx, cancel := context.WithCancel(context.Background())
		a.watchCancel = cancel
		a.wg.Add(1)
		go a.watch(watchCtx, w)
	}
	a.mu.Unlock()

	a.logger.Debug("auth_started", zap.Bool("signed_in", user != nil))
	return nil
}

func (a *Auth) watch(ctx context.Context, w Watcher) {
	defer a.wg.Done()
	err := w.Watch(ctx, a.applyRemote)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("session_watch_stopped", zap.Error(err))
	}
}

func (a *Auth) applyRemote(user *User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || sameUser(a.current, user) {
		return
	}
	a.current = user.clone()
	a.enqueueLocked(authEvent{user: a.current.clone()})
}

// OnAuthStateChanged registers fn for every change of the signed-in user. nil
// means signed out. Once the client has started, fn first receives the
// current state. The returned function unregisters fn.
func (a *Auth) OnAuthStateChanged(fn func(*User)) func() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return func() {}
	}
	a.nextID++
	id := a.nextID
	a.listeners[id] = fn
	if a.started {
		a.enqueueLocked(authEvent{user: a.current.clone(), target: id})
	}
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.listeners, id)
			a.mu.Unlock()
		})
	}
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (a *Auth) CurrentUser() *User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current.clone()
}

// SignInWithPopup runs the authorization code flow with PKCE. It opens the
// provider's page and blocks until HandleRedirect completes the attempt, ctx
// is cancelled, or the popup timeout elapses.
func (a *Auth) SignInWithPopup(ctx context.Context, provider AuthProvider) (*UserCredential, error) {
	if provider == nil {
		return nil, ErrInvalidProvider
	}

	opener := popupOpenerFrom(ctx)
	if opener == nil {
		opener = a.opener
	}
	if opener == nil {
		return nil, ErrPopupBlocked
	}

	state := uuid.NewString()
	p := &pendingPopup{
		provider: provider,
		verifier: oauth2.GenerateVerifier(),
		result:   make(chan popupResult, 1),
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrAuthClosed
	}
	a.pending[state] = p
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.pending, state)
		a.mu.Unlock()
	}()

	opts := append(provider.AuthCodeOptions(), oauth2.S256ChallengeOption(p.verifier))
	authURL := a.backend.AuthCodeURL(state, provider.Scopes(), opts...)
	if err := opener.Open(ctx, authURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPopupBlocked, err)
	}

	timer := time.NewTimer(a.popupTimeout)
	defer timer.Stop()

	select {
	case res := <-p.result:
		return res.cred, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrCancelledPopupRequest, ctx.Err())
	case <-timer.C:
		return nil, ErrPopupTimeout
	case <-a.done:
		return nil, ErrAuthClosed
	}
}

// SignOut clears the session and tells listeners nobody is signed in.
func (a *Auth) SignOut(ctx context.Context) error {
	if a.isClosed() {
		return ErrAuthClosed
	}
	if err := a.persistence.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	a.setCurrent(nil)
	a.logger.Debug("signed_out")
	return nil
}

// Close stops event delivery and fails pending sign-ins with ErrAuthClosed.
func (a *Auth) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.queue = nil
		cancel := a.watchCancel
		a.mu.Unlock()

		close(a.done)
		if cancel != nil {
			cancel()
		}
		a.wg.Wait()
	})
}

func (a *Auth) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Auth) setCurrent(user *User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.current = user.clone()
	a.enqueueLocked(authEvent{user: a.current.clone()})
}

func (a *Auth) enqueueLocked(ev authEvent) {
	a.queue = append(a.queue, ev)
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Auth) dispatch() {
	for {
		select {
		case <-a.done:
			return
		case <-a.wake:
		}
		for {
			select {
			case <-a.done:
				return
			default:
			}
			ev, fns, ok := a.next()
			if !ok {
				break
			}
			for _, fn := range fns {
				fn(ev.user.clone())
			}
		}
	}
}

// next pops the oldest event together with the listeners it goes to.
func (a *Auth) next() (authEvent, []func(*User), bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return authEvent{}, nil, false
	}
	ev := a.queue[0]
	a.queue[0] = authEvent{}
	a.queue = a.queue[1:]

	if ev.target != 0 {
		fn, ok := a.listeners[ev.target]
		if !ok {
			return ev, nil, true
		}
		return ev, []func(*User){fn}, true
	}

	ids := make([]uint64, 0, len(a.listeners))
	for id := range a.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(*User), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, a.listeners[id])
	}
	return ev, fns, true
}
