// Package sessiontest builds in-memory session managers for tests.
package sessiontest

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/benvon/letmeask/internal/models"
	"github.com/benvon/letmeask/internal/services/identity"
	"github.com/benvon/letmeask/internal/session"
	"golang.org/x/oauth2"
)

// AuthorizeURL is where Backend sends every sign-in.
const AuthorizeURL = "https://idp.example.com/authorize"

// ErrInvalidGrant is returned by Backend for codes it does not know.
var ErrInvalidGrant = errors.New("invalid_grant")

// Backend exchanges each known authorization code for its claims.
type Backend struct {
	Claims map[string]*models.JWTClaims
}

func (b Backend) AuthCodeURL(state string, _ []string, _ ...oauth2.AuthCodeOption) string {
	return AuthorizeURL + "?state=" + url.QueryEscape(state)
}

func (b Backend) Exchange(_ context.Context, code string, _ ...oauth2.AuthCodeOption) (*models.JWTClaims, error) {
	claims, ok := b.Claims[code]
	if !ok {
		return nil, ErrInvalidGrant
	}
	return claims, nil
}

// StateFrom returns the state parameter of an authorize URL built by Backend.
func StateFrom(authURL string) string {
	u, err := url.Parse(authURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("state")
}

// Store keeps one MemoryPersistence per session id.
type Store struct {
	mu   sync.Mutex
	byID map[string]*identity.MemoryPersistence
}

func NewStore() *Store {
	return &Store{byID: make(map[string]*identity.MemoryPersistence)}
}

// Persistence is a session.PersistenceFunc.
func (s *Store) Persistence(id string) identity.Persistence {
	return s.get(id)
}

func (s *Store) get(id string) *identity.MemoryPersistence {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		p = identity.NewMemoryPersistence()
		s.byID[id] = p
	}
	return p
}

// Seed stores user as the signed-in identity of session id.
func (s *Store) Seed(t testing.TB, id string, user *identity.User) {
	t.Helper()
	if err := s.get(id).Save(context.Background(), user); err != nil {
		t.Fatalf("seed session %s: %v", id, err)
	}
}

// Stored returns the identity stored for session id, or nil.
func (s *Store) Stored(t testing.TB, id string) *identity.User {
	t.Helper()
	user, err := s.get(id).Load(context.Background())
	if err != nil {
		t.Fatalf("load session %s: %v", id, err)
	}
	return user
}

// NewManager returns a manager over backend and store that is closed when
// the test ends.
func NewManager(t testing.TB, backend identity.Backend, store *Store, opts ...session.Option) *session.Manager {
	t.Helper()
	m := session.NewManager(backend, store.Persistence, opts...)
	t.Cleanup(m.Close)
	return m
}
