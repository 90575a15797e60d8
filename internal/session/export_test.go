package session

import "time"

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}
