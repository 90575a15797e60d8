package bridge

import (
	"context"
	"sync"

	"github.com/benvon/letmeask/internal/models"
)

// State is the bridge's AuthState cell. Only the bridge writes to it; every
// other component reads snapshots or watches it.
type State struct {
	mu       sync.Mutex
	user     *models.User
	watchers map[chan *models.User]struct{}
	closed   bool
	done     chan struct{}
}

func newState() *State {
	return &State{
		watchers: make(map[chan *models.User]struct{}),
		done:     make(chan struct{}),
	}
}

// User returns a copy of the signed-in user, or nil when nobody has signed in.
func (s *State) User() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user.Clone()
}

// Watch returns a channel carrying the current value followed by every
// change. A slow reader only sees the latest value. The channel is closed
// when ctx is done or the bridge is closed.
func (s *State) Watch(ctx context.Context) <-chan *models.User {
	ch := make(chan *models.User, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch
	}
	s.watchers[ch] = struct{}{}
	ch <- s.user.Clone()
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[ch]; ok {
			delete(s.watchers, ch)
			close(ch)
		}
	}()
	return ch
}

// set stores u and reports whether the value changed.
func (s *State) set(u *models.User) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.user != nil && u != nil && *s.user == *u {
		return false
	}
	s.user = u.Clone()
	for ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s.user.Clone()
	}
	return true
}

func (s *State) discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.user = nil
	close(s.done)
	for ch := range s.watchers {
		delete(s.watchers, ch)
		close(ch)
	}
}
