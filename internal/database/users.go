package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/letmeask/internal/models"
)

// ErrProfileNotFound is returned when no profile exists for an ID
var ErrProfileNotFound = errors.New("profile not found")

// ProfileRepository handles the profile directory
type ProfileRepository struct {
	db *DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Upsert records that user was seen at seenAt. The first sighting is kept;
// name, avatar and last_seen_at follow the latest one.
func (r *ProfileRepository) Upsert(ctx context.Context, user *models.User, seenAt time.Time) (*models.Profile, error) {
	query := `
		INSERT INTO users (id, name, avatar, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			avatar = EXCLUDED.avatar,
			last_seen_at = GREATEST(users.last_seen_at, EXCLUDED.last_seen_at)
		RETURNING id, name, avatar, first_seen_at, last_seen_at
	`

	p := &models.Profile{}
	err := r.db.QueryRowContext(ctx, query, user.ID, user.Name, user.Avatar, seenAt.UTC()).Scan(
		&p.ID,
		&p.Name,
		&p.Avatar,
		&p.FirstSeenAt,
		&p.LastSeenAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}
	return p, nil
}

// GetByID retrieves a profile by user ID
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	query := `
		SELECT id, name, avatar, first_seen_at, last_seen_at
		FROM users
		WHERE id = $1
	`

	p := &models.Profile{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Avatar,
		&p.FirstSeenAt,
		&p.LastSeenAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// ListRecent returns the most recently seen profiles
func (r *ProfileRepository) ListRecent(ctx context.Context, limit int) ([]*models.Profile, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, name, avatar, first_seen_at, last_seen_at
		FROM users
		ORDER BY last_seen_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var profiles []*models.Profile
	for rows.Next() {
		p := &models.Profile{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Avatar, &p.FirstSeenAt, &p.LastSeenAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return profiles, nil
}
