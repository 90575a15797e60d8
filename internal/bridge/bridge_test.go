package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benvon/letmeask/internal/models"
	"github.com/benvon/letmeask/internal/services/identity"
)

type fakeProvider struct {
	mu           sync.Mutex
	listener     func(*identity.User)
	subscribed   int
	unsubscribed int

	signIn       func(ctx context.Context) (*identity.UserCredential, error)
	lastStrategy identity.AuthProvider
}

func (p *fakeProvider) OnAuthStateChanged(fn func(*identity.User)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = fn
	p.subscribed++
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.unsubscribed++
	}
}

// emit calls the listener even after unsubscription, like a late SDK event.
func (p *fakeProvider) emit(u *identity.User) {
	p.mu.Lock()
	fn := p.listener
	p.mu.Unlock()
	if fn != nil {
		fn(u)
	}
}

func (p *fakeProvider) SignInWithPopup(ctx context.Context, strategy identity.AuthProvider) (*identity.UserCredential, error) {
	p.mu.Lock()
	p.lastStrategy = strategy
	fn := p.signIn
	p.mu.Unlock()
	if fn == nil {
		return nil, errors.New("no sign-in configured")
	}
	return fn(ctx)
}

type fatalRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *fatalRecorder) handle(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *fatalRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func startedBridge(t *testing.T, p *fakeProvider, opts ...Option) *Bridge {
	t.Helper()
	b := New(p, opts...)
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func ada() *identity.User {
	return &identity.User{UID: "u1", DisplayName: "Ada Lovelace", PhotoURL: "https://x/a.png", ProviderID: identity.GoogleProviderID}
}

func TestBridge_StreamPublishesMappedUser(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	b := startedBridge(t, p)

	if b.Value().User != nil {
		t.Fatal("AuthState should start empty")
	}

	p.emit(ada())

	want := models.User{ID: "u1", Name: "Ada Lovelace", Avatar: "https://x/a.png"}
	if got := b.Value().User; got == nil || *got != want {
		t.Errorf("User = %+v, want %+v", got, want)
	}
}

func TestBridge_StreamMalformedIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		user *identity.User
	}{
		{"missing display name", &identity.User{UID: "u1", PhotoURL: "https://x/a.png"}},
		{"missing photo", &identity.User{UID: "u1", DisplayName: "Ada Lovelace"}},
		{"missing both", &identity.User{UID: "u1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			t.Run("from empty", func(t *testing.T) {
				p := &fakeProvider{}
				rec := &fatalRecorder{}
				b := startedBridge(t, p, WithFatalHandler(rec.handle))

				p.emit(tt.user)

				if rec.count() != 1 {
					t.Fatalf("fatal errors = %d, want 1", rec.count())
				}
				if !errors.Is(rec.errs[0], ErrMissingUserInfo) {
					t.Errorf("fatal error = %v, want ErrMissingUserInfo", rec.errs[0])
				}
				if b.Value().User != nil {
					t.Errorf("AuthState = %+v, want unchanged nil", b.Value().User)
				}
			})

			t.Run("from signed in", func(t *testing.T) {
				p := &fakeProvider{}
				rec := &fatalRecorder{}
				b := startedBridge(t, p, WithFatalHandler(rec.handle))
				p.emit(ada())

				p.emit(tt.user)

				if rec.count() != 1 {
					t.Fatalf("fatal errors = %d, want 1", rec.count())
				}
				if got := b.Value().User; got == nil || got.Name != "Ada Lovelace" {
					t.Errorf("AuthState = %+v, want previous user", got)
				}
			})
		})
	}
}

func TestBridge_FatalChannel(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	b := startedBridge(t, p)

	p.emit(&identity.User{UID: "u1", PhotoURL: "https://x/a.png"})

	select {
	case err := <-b.Fatal():
		if !errors.Is(err, ErrMissingUserInfo) {
			t.Errorf("fatal = %v, want ErrMissingUserInfo", err)
		}
		if err.Error() == "" {
			t.Error("empty error message")
		}
	case <-time.After(time.Second):
		t.Fatal("no fatal error delivered")
	}
}

func TestBridge_StreamSignedOutIsIgnored(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	b := startedBridge(t, p)

	p.emit(nil)
	if b.Value().User != nil {
		t.Errorf("User = %+v, want nil", b.Value().User)
	}

	p.emit(ada())
	p.emit(nil)
	if got := b.Value().User; got == nil || got.ID != "u1" {
		t.Errorf("sign-out notification changed AuthState to %+v", got)
	}
}

func TestBridge_SignInWithGoogle(t *testing.T) {
	t.Parallel()

	providerErr := errors.New("popup blocked")

	tests := []struct {
		name     string
		cred     *identity.UserCredential
		err      error
		wantErr  error
		wantUser *models.User
	}{
		{
			name:     "valid user",
			cred:     &identity.UserCredential{User: ada()},
			wantUser: &models.User{ID: "u1", Name: "Ada Lovelace", Avatar: "https://x/a.png"},
		},
		{
			name: "no user",
			cred: &identity.UserCredential{},
		},
		{
			name: "no credential",
		},
		{
			name:    "provider error",
			err:     providerErr,
			wantErr: providerErr,
		},
		{
			name:    "malformed identity",
			cred:    &identity.UserCredential{User: &identity.User{UID: "u1", DisplayName: "Ada Lovelace"}},
			wantErr: ErrMissingUserInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := &fakeProvider{signIn: func(context.Context) (*identity.UserCredential, error) {
				return tt.cred, tt.err
			}}
			b := startedBridge(t, p)

			updates := b.State().Watch(context.Background())
			<-updates

			err := b.Value().SignInWithGoogle(context.Background())
			if tt.wantErr == nil && err != nil {
				t.Fatalf("SignInWithGoogle() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("SignInWithGoogle() error = %v, want %v", err, tt.wantErr)
			}
			if tt.err != nil && err != tt.err {
				t.Errorf("provider error was wrapped: %v", err)
			}

			got := b.Value().User
			switch {
			case tt.wantUser == nil && got != nil:
				t.Errorf("User = %+v, want nil", got)
			case tt.wantUser != nil && (got == nil || *got != *tt.wantUser):
				t.Errorf("User = %+v, want %+v", got, tt.wantUser)
			}

			wantUpdates := 0
			if tt.wantUser != nil {
				wantUpdates = 1
			}
			if n := len(updates); n != wantUpdates {
				t.Errorf("state updates = %d, want %d", n, wantUpdates)
			}

			if _, ok := p.lastStrategy.(*identity.GoogleAuthProvider); !ok {
				t.Errorf("strategy = %T, want *identity.GoogleAuthProvider", p.lastStrategy)
			}
		})
	}
}

func TestBridge_SignInBuildsFreshStrategy(t *testing.T) {
	t.Parallel()

	var built []identity.AuthProvider
	p := &fakeProvider{signIn: func(context.Context) (*identity.UserCredential, error) { return nil, nil }}
	b := startedBridge(t, p, WithStrategy(func() identity.AuthProvider {
		s := identity.NewGoogleAuthProvider()
		built = append(built, s)
		return s
	}))

	for i := 0; i < 2; i++ {
		if err := b.SignInWithGoogle(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(built) != 2 || built[0] == built[1] {
		t.Errorf("strategies built = %d, want 2 distinct", len(built))
	}
}

func TestBridge_Close(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	rec := &fatalRecorder{}
	b := New(p, WithFatalHandler(rec.handle))
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	p.emit(ada())

	watch := b.State().Watch(context.Background())
	b.Close()
	b.Close()

	if p.unsubscribed != 1 {
		t.Errorf("unsubscribed = %d, want 1", p.unsubscribed)
	}
	if b.Value().User != nil {
		t.Error("AuthState not discarded on close")
	}

	p.emit(&identity.User{UID: "u2", DisplayName: "Grace", PhotoURL: "https://x/g.png"})
	p.emit(&identity.User{UID: "u3"})
	if b.Value().User != nil {
		t.Errorf("notification after close mutated AuthState: %+v", b.Value().User)
	}
	if rec.count() != 0 {
		t.Errorf("notification after close raised %d fatal errors", rec.count())
	}

	for range watch {
	}

	if err := b.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after close = %v, want ErrClosed", err)
	}
}

func TestBridge_LateSignInAfterClose(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{})
	p := &fakeProvider{signIn: func(context.Context) (*identity.UserCredential, error) {
		close(entered)
		<-release
		return &identity.UserCredential{User: ada()}, nil
	}}

	b := New(p)
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- b.SignInWithGoogle(context.Background()) }()

	<-entered
	b.Close()
	close(release)

	if err := <-done; err != nil {
		t.Errorf("late sign-in returned %v, want nil", err)
	}
	if b.Value().User != nil {
		t.Errorf("late sign-in mutated AuthState: %+v", b.Value().User)
	}
}

func TestBridge_LateSignInFailureAfterClose(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{})
	p := &fakeProvider{signIn: func(context.Context) (*identity.UserCredential, error) {
		close(entered)
		<-release
		return nil, errors.New("popup closed")
	}}
	b := New(p)

	done := make(chan error, 1)
	go func() { done <- b.SignInWithGoogle(context.Background()) }()

	<-entered
	b.Close()
	close(release)

	if err := <-done; err != nil {
		t.Errorf("late failure returned %v, want nil", err)
	}
}

func TestBridge_StartIdempotent(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	b := startedBridge(t, p)
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	if p.subscribed != 1 {
		t.Errorf("subscribed = %d, want 1", p.subscribed)
	}
}

func TestBridge_ValueUserIsCopy(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	b := startedBridge(t, p)
	p.emit(ada())

	v := b.Value()
	v.User.Name = "changed"
	if b.Value().User.Name != "Ada Lovelace" {
		t.Error("consumer mutated AuthState through Value")
	}
}

func TestMapUser(t *testing.T) {
	t.Parallel()

	if _, err := MapUser(nil); !errors.Is(err, ErrMissingUserInfo) {
		t.Errorf("MapUser(nil) error = %v", err)
	}
	u, err := MapUser(ada())
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != "u1" || u.Name != "Ada Lovelace" || u.Avatar != "https://x/a.png" {
		t.Errorf("MapUser() = %+v", u)
	}
}
