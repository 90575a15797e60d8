package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultSessionTTL bounds how long an idle session survives in Redis.
const DefaultSessionTTL = 30 * 24 * time.Hour

// RedisPersistence stores the session under <prefix>:user and announces every
// change on <prefix>:events so other processes sharing the session follow it.
type RedisPersistence struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	origin string
}

type sessionEvent struct {
	Origin string `json:"origin"`
	User   *User  `json:"user"`
}

// NewRedisPersistence creates a Redis-backed session store. A ttl <= 0 uses
// DefaultSessionTTL.
func NewRedisPersistence(client *redis.Client, prefix string, ttl time.Duration) *RedisPersistence {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisPersistence{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		origin: uuid.NewString(),
	}
}

func (p *RedisPersistence) userKey() string { return p.prefix + ":user" }
func (p *RedisPersistence) eventsKey() string { return p.prefix + ":events" }

func (p *RedisPersistence) Load(ctx context.Context) (*User, error) {
	data, err := p.client.Get(ctx, p.userKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &user, nil
}

func (p *RedisPersistence) Save(ctx context.Context, user *User) error {
	if user == nil {
		return p.Clear(ctx)
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	event, err := json.Marshal(sessionEvent{Origin: p.origin, User: user})
	if err != nil {
		return fmt.Errorf("failed to encode session event: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, p.userKey(), data, p.ttl)
	pipe.Publish(ctx, p.eventsKey(), event)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (p *RedisPersistence) Clear(ctx context.Context) error {
	event, err := json.Marshal(sessionEvent{Origin: p.origin})
	if err != nil {
		return fmt.Errorf("failed to encode session event: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Del(ctx, p.userKey())
	pipe.Publish(ctx, p.eventsKey(), event)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Watch relays changes published by other RedisPersistence instances.
// Changes made through p itself are skipped.
func (p *RedisPersistence) Watch(ctx context.Context, fn func(*User)) error {
	sub := p.client.Subscribe(ctx, p.eventsKey())
	defer func() {
		_ = sub.Close()
	}()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to session events: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event sessionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			if event.Origin == p.origin {
				continue
			}
			fn(event.User)
		}
	}
}
