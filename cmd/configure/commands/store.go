package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/benvon/letmeask/internal/config"
	"github.com/benvon/letmeask/internal/database"
)

// StoreOpener opens the provider configuration store. The returned func releases it.
type StoreOpener func(ctx context.Context) (database.OIDCConfigStore, func(), error)

// OpenDatabaseStore connects to DATABASE_URL and makes sure the schema exists
func OpenDatabaseStore(ctx context.Context) (database.OIDCConfigStore, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	release := func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
	}

	if err := database.EnsureSchema(ctx, db); err != nil {
		release()
		return nil, nil, err
	}

	return database.NewOIDCConfigRepository(db), release, nil
}
