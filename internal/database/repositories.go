package database

import (
	"context"
	"time"

	"github.com/benvon/letmeask/internal/models"
)

// ProfileStore defines the profile directory operations used by workers
// This interface enables better testability by allowing mock implementations
type ProfileStore interface {
	Upsert(ctx context.Context, user *models.User, seenAt time.Time) (*models.Profile, error)
}

// OIDCConfigStore defines the provider configuration operations used by the CLIs
type OIDCConfigStore interface {
	GetByProvider(ctx context.Context, provider string) (*models.OIDCConfig, error)
	GetAll(ctx context.Context) ([]*models.OIDCConfig, error)
	Upsert(ctx context.Context, config *models.OIDCConfig) error
}

// Ensure concrete types implement the interfaces
var (
	_ ProfileStore    = (*ProfileRepository)(nil)
	_ OIDCConfigStore = (*OIDCConfigRepository)(nil)
)
