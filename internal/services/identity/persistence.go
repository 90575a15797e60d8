package identity

import (
	"context"
	"sync"
)

// Persistence stores the signed-in provider user across restarts.
type Persistence interface {
	// Load returns the stored user, or nil when nobody is signed in.
	Load(ctx context.Context) (*User, error)
	Save(ctx context.Context, user *User) error
	Clear(ctx context.Context) error
}

// Watcher is implemented by persistence shared between processes. Watch
// blocks, calling fn for every change made by another process, until ctx is
// done.
type Watcher interface {
	Watch(ctx context.Context, fn func(*User)) error
}

// MemoryPersistence keeps the session for the lifetime of the process.
type MemoryPersistence struct {
	mu   sync.Mutex
	user *User
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{}
}

func (p *MemoryPersistence) Load(context.Context) (*User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.user.clone(), nil
}

func (p *MemoryPersistence) Save(_ context.Context, user *User) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = user.clone()
	return nil
}

func (p *MemoryPersistence) Clear(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = nil
	return nil
}
