// Package bridge connects the identity provider to the application: it
// follows the provider's auth-state stream, maps provider identities to
// models.User and publishes the result together with a Google sign-in
// action.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benvon/letmeask/internal/models"
	"github.com/benvon/letmeask/internal/services/identity"
	"github.com/benvon/letmeask/internal/validation"
	"go.uber.org/zap"
)

// ErrMissingUserInfo is returned when the provider identity lacks a display
// name or photo URL. No User is produced in that case.
var ErrMissingUserInfo = errors.New("missing user information from Google account")

// ErrClosed is returned by Start on a closed bridge.
var ErrClosed = errors.New("bridge: closed")

// Provider is the part of the identity SDK the bridge consumes.
type Provider interface {
	OnAuthStateChanged(fn func(*identity.User)) (unsubscribe func())
	SignInWithPopup(ctx context.Context, provider identity.AuthProvider) (*identity.UserCredential, error)
}

// Value is what the bridge publishes to its consumers.
type Value struct {
	User             *models.User
	SignInWithGoogle func(ctx context.Context) error
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger used for publications and malformed identities.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithStrategy replaces the credential strategy built for each sign-in.
func WithStrategy(factory func() identity.AuthProvider) Option {
	return func(b *Bridge) {
		if factory != nil {
			b.strategy = factory
		}
	}
}

// WithFatalHandler replaces how malformed identities on the auth-state
// stream are reported. The default handler delivers them on Fatal().
func WithFatalHandler(fn func(error)) Option {
	return func(b *Bridge) {
		if fn != nil {
			b.onFatal = fn
		}
	}
}

// Bridge owns the AuthState cell. It is its only writer.
type Bridge struct {
	provider Provider
	strategy func() identity.AuthProvider
	logger   *zap.Logger
	onFatal  func(error)
	fatal    chan error
	state    *State

	mu          sync.Mutex
	unsubscribe func()
	started     bool
	closed      atomic.Bool

	// serializes stream notifications
	streamMu sync.Mutex
}

// New creates a bridge with an empty AuthState. Call Start to subscribe.
func New(provider Provider, opts ...Option) *Bridge {
	b := &Bridge{
		provider: provider,
		strategy: func() identity.AuthProvider { return identity.NewGoogleAuthProvider() },
		logger:   zap.NewNop(),
		fatal:    make(chan error, 1),
		state:    newState(),
	}
	b.onFatal = b.reportFatal
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start subscribes to the provider's auth-state stream.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return ErrClosed
	}
	if b.started {
		return nil
	}
	b.started = true
	b.unsubscribe = b.provider.OnAuthStateChanged(b.handleAuthState)
	return nil
}

func (b *Bridge) handleAuthState(pu *identity.User) {
	b.streamMu.Lock()
	defer b.streamMu.Unlock()

	if b.closed.Load() || pu == nil {
		return
	}
	u, err := MapUser(pu)
	if err != nil {
		b.logger.Error("malformed_identity_on_auth_stream",
			zap.String("uid", pu.UID),
			zap.Error(err),
		)
		b.onFatal(err)
		return
	}
	b.publish(u, "auth_state_changed")
}

// SignInWithGoogle runs the provider's interactive Google sign-in and
// publishes the resulting user. Provider errors are returned as is.
func (b *Bridge) SignInWithGoogle(ctx context.Context) error {
	cred, err := b.provider.SignInWithPopup(ctx, b.strategy())
	if err != nil {
		if b.closed.Load() {
			return nil
		}
		return err
	}
	if b.closed.Load() || cred == nil || cred.User == nil {
		return nil
	}
	u, err := MapUser(cred.User)
	if err != nil {
		return err
	}
	b.publish(u, "signed_in_with_google")
	return nil
}

func (b *Bridge) publish(u *models.User, source string) {
	if !b.state.set(u) {
		return
	}
	b.logger.Info("auth_state_published",
		zap.String("user_id", u.ID),
		zap.String("source", source),
	)
}

// Close unsubscribes from the provider and discards AuthState. Anything that
// resolves afterwards is dropped.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Swap(true) {
		return
	}
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
	b.state.discard()
}

// Value returns the published contract for the current AuthState.
func (b *Bridge) Value() Value {
	return Value{
		User:             b.state.User(),
		SignInWithGoogle: b.SignInWithGoogle,
	}
}

// State returns the read-only view of AuthState.
func (b *Bridge) State() *State {
	return b.state
}

// Fatal delivers malformed identities seen on the auth-state stream. The
// identity stays persisted, so the host must clear it or the next restore
// reports it again.
func (b *Bridge) Fatal() <-chan error {
	return b.fatal
}

func (b *Bridge) reportFatal(err error) {
	select {
	case b.fatal <- err:
	default:
	}
}

// MapUser converts a provider identity into a User. It fails with
// ErrMissingUserInfo when the display name or photo URL is missing.
func MapUser(pu *identity.User) (*models.User, error) {
	if pu == nil {
		return nil, fmt.Errorf("%w: no identity", ErrMissingUserInfo)
	}
	u := &models.User{
		ID:     pu.UID,
		Name:   pu.DisplayName,
		Avatar: pu.PhotoURL,
	}
	if err := validation.ValidateUser(u); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingUserInfo, err)
	}
	return u, nil
}
