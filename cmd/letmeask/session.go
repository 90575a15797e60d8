package main

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/letmeask/internal/bridge"
	"github.com/benvon/letmeask/internal/config"
	"github.com/benvon/letmeask/internal/database"
	"github.com/benvon/letmeask/internal/logger"
	"github.com/benvon/letmeask/internal/services/identity"
	"github.com/benvon/letmeask/internal/services/oidc"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// session is the provider client and bridge a command runs against
type session struct {
	auth        *identity.Auth
	bridge      *bridge.Bridge
	redirectURI string
	logger      *zap.Logger
	closers     []func()
}

// openSession connects to the provider configuration and the shared session
// store. Sessions live in Redis under SESSION_KEY, so a sign-in made through
// the server is visible here and the other way round.
func openSession(ctx context.Context, debug bool, opener identity.PopupOpener) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	zapLogger, err := logger.NewDevelopmentLogger(debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	s := &session{logger: zapLogger}
	s.closers = append(s.closers, func() { logger.Sync(zapLogger) })

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = db.Close() })

	oidcProvider := oidc.NewProvider(database.NewOIDCConfigRepository(db), oidc.NewJWKSManager(), zapLogger)
	oidcConfig, err := oidcProvider.GetConfig(ctx, cfg.OIDCProvider)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.redirectURI = oidcConfig.RedirectURI

	backend, err := oidcProvider.Backend(ctx, cfg.OIDCProvider)
	if err != nil {
		s.Close()
		return nil, err
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	s.closers = append(s.closers, func() { _ = redisClient.Close() })

	s.auth = identity.New(backend,
		identity.WithPersistence(identity.NewRedisPersistence(redisClient, cfg.SessionKey, cfg.SessionTTL)),
		identity.WithDefaultOpener(opener),
		identity.WithPopupTimeout(cfg.PopupTimeout),
		identity.WithLogger(zapLogger.Named("identity")),
	)
	s.closers = append(s.closers, s.auth.Close)

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.auth.Start(startCtx); err != nil {
		s.Close()
		return nil, err
	}

	s.bridge = bridge.New(s.auth, bridge.WithLogger(zapLogger.Named("bridge")))
	s.closers = append(s.closers, s.bridge.Close)
	if err := s.bridge.Start(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// Close releases everything in reverse order of acquisition
func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
