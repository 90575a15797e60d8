package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benvon/letmeask/api"
	"github.com/benvon/letmeask/internal/config"
	"github.com/benvon/letmeask/internal/database"
	"github.com/benvon/letmeask/internal/handlers"
	"github.com/benvon/letmeask/internal/logger"
	"github.com/benvon/letmeask/internal/middleware"
	"github.com/benvon/letmeask/internal/queue"
	"github.com/benvon/letmeask/internal/services/identity"
	"github.com/benvon/letmeask/internal/services/oidc"
	"github.com/benvon/letmeask/internal/session"
	"github.com/benvon/letmeask/internal/telemetry"
	"github.com/benvon/letmeask/internal/workers"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"
)

const serviceName = "letmeask-server"

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// registered first so it runs after every other deferred cleanup
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	debugMode := cfg.ServerDebugMode || *debugFlag

	zapLogger, err := logger.New(cfg.LogDevelopment, debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync(zapLogger)

	zapLogger.Info("starting_server",
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.String("frontend_url", cfg.FrontendURL),
		zap.String("oidc_provider", cfg.OIDCProvider),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	startCtx, startCancel := context.WithTimeout(context.Background(), time.Minute)
	defer startCancel()

	tracingEnabled := false
	if cfg.OTELEnabled {
		if cfg.OTELEndpoint == "" {
			zapLogger.Warn("otel_enabled_but_endpoint_not_configured")
		} else if tp, err := telemetry.InitTracer(startCtx, serviceName, cfg.OTELEndpoint); err != nil {
			zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
		} else {
			tracingEnabled = true
			zapLogger.Info("otel_tracer_initialized", zap.String("endpoint", cfg.OTELEndpoint))
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
					zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
				}
			}()
		}
	}

	db, err := database.New(startCtx, cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
		}
	}()
	if err := database.EnsureSchema(startCtx, db); err != nil {
		zapLogger.Fatal("failed_to_apply_schema", zap.Error(err))
	}
	zapLogger.Info("connected_to_database")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		zapLogger.Fatal("invalid_redis_url", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
		}
	}()
	if err := redisClient.Ping(startCtx).Err(); err != nil {
		zapLogger.Fatal("failed_to_connect_to_redis", zap.Error(err))
	}
	zapLogger.Info("connected_to_redis")

	// RabbitMQ is optional here; without it sign-ins are not recorded in the profile directory.
	var jobQueue *queue.RabbitMQQueue
	if err := cfg.RequireRabbitMQ(); err != nil {
		zapLogger.Warn("profile_sync_disabled", zap.Error(err))
	} else {
		jobQueue, err = queue.ConnectWithRetry(context.Background(), cfg.RabbitMQURL, zapLogger)
		if err != nil {
			zapLogger.Fatal("failed_to_connect_to_rabbitmq_after_retries", zap.Error(err))
		}
		defer func() {
			if err := jobQueue.Close(); err != nil {
				zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
			}
		}()
	}

	oidcConfigRepo := database.NewOIDCConfigRepository(db)
	jwksManager := oidc.NewJWKSManager()
	oidcProvider := oidc.NewProvider(oidcConfigRepo, jwksManager, zapLogger)

	backend, err := oidcProvider.Backend(startCtx, cfg.OIDCProvider)
	if err != nil {
		zapLogger.Fatal("failed_to_initialize_oidc_backend",
			zap.String("provider", cfg.OIDCProvider),
			zap.Error(err),
		)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	// every browser gets its own identity client and bridge, stored under
	// its session cookie id
	sessionOpts := []session.Option{
		session.WithLogger(zapLogger.Named("session")),
		session.WithIdleTimeout(cfg.SessionIdleTimeout),
		session.WithAuthOptions(identity.WithPopupTimeout(cfg.PopupTimeout)),
	}
	if jobQueue != nil {
		announcer := workers.NewSignInAnnouncer(jobQueue, zapLogger.Named("announcer"))
		sessionOpts = append(sessionOpts, session.WithOpenHook(func(ctx context.Context, s *session.Session) {
			go func() {
				if err := announcer.Run(ctx, s.Bridge().State().Watch(ctx)); err != nil && !errors.Is(err, context.Canceled) {
					zapLogger.Error("sign_in_announcer_stopped", zap.Error(err))
				}
			}()
		}))
	}
	sessions := session.NewManager(backend, func(id string) identity.Persistence {
		return identity.NewRedisPersistence(redisClient, cfg.SessionKey+":session:"+id, cfg.SessionTTL)
	}, sessionOpts...)
	defer sessions.Close()
	go func() {
		if err := sessions.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			zapLogger.Error("session_sweeper_stopped", zap.Error(err))
		}
	}()

	signInLimit, err := middleware.RateLimit(redisClient, cfg.SignInRateLimit, "letmeask:ratelimit")
	if err != nil {
		zapLogger.Fatal("failed_to_create_rate_limiter", zap.Error(err))
	}

	pingRedis := func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	checks := map[string]handlers.CheckFunc{
		"database": db.Ping,
		"redis":    pingRedis,
		"rabbitmq": nil,
	}
	if jobQueue != nil {
		checks["rabbitmq"] = jobQueue.HealthCheck
	}
	healthChecker := handlers.NewHealthChecker(checks)

	openAPIHandler, err := handlers.NewOpenAPIHandler(api.OpenAPISpec)
	if err != nil {
		zapLogger.Fatal("failed_to_load_openapi_document", zap.Error(err))
	}

	authHandler := handlers.NewAuthHandler(oidcProvider, cfg.OIDCProvider, sessions, zapLogger)

	r := mux.NewRouter()

	// gorilla/mux runs middleware in registration order, outermost first
	if tracingEnabled {
		r.Use(otelmux.Middleware(serviceName))
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))
	r.Use(middleware.CORSFromEnv(cfg.FrontendURL, zapLogger))
	r.Use(middleware.ErrorHandler(zapLogger))
	r.Use(middleware.Audit(zapLogger))
	r.Use(middleware.Logging(zapLogger))
	r.Use(middleware.Auth(sessions, zapLogger))

	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods("GET")
	openAPIHandler.RegisterRoutes(r)

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	authHandler.RegisterRoutes(apiRouter.PathPrefix("/auth").Subrouter(), signInLimit)

	// preflight requests are answered by the CORS middleware; this only gives them a route
	r.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// the popup route holds its request until the provider URL is ready, so
	// WriteTimeout must outlast handlers.DefaultPopupStartTimeout
	srv := &http.Server{
		Addr:           ":" + cfg.ServerPort,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	serveErr := make(chan error, 1)
	go func() {
		zapLogger.Info("server_starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		zapLogger.Info("server_shutting_down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		zapLogger.Error("server_failed", zap.Error(err))
		exitCode = 1
	}

	runCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("server_forced_to_shutdown", zap.Error(err))
	}

	zapLogger.Info("server_exited")
}
