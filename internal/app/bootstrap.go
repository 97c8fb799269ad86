package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"file-server-go/internal/auth"
	"file-server-go/internal/config"
	"file-server-go/internal/events"
	"file-server-go/internal/files"
	httpxmiddleware "file-server-go/internal/httpx/middleware"
	"file-server-go/internal/identity"
	"file-server-go/internal/logger"
	"file-server-go/internal/observability"
	"file-server-go/internal/ratelimit"
	"file-server-go/internal/sentryx"
	"file-server-go/internal/session"
	"file-server-go/internal/workspace"
)

// Release is stamped at build time with -ldflags "-X file-server-go/internal/app.Release=...".
var Release = "dev"

// ServerApp holds all runtime dependencies for the file server.
type ServerApp struct {
	Config      *config.AppConfig
	Identities  *identity.Store
	Sessions    *session.Store
	Limiter     *ratelimit.Limiter
	APILimiter  *httpxmiddleware.RateLimiter
	Metrics     *observability.Metrics
	Hub         *events.Hub
	Auth        *auth.Service
	AuthHandler *auth.Handler
	FileHandler *files.Handler
	Logger      *logger.Logger

	startedAt time.Time
	stopPrune chan struct{}
	closeOnce sync.Once
}

// New loads configuration and builds a fully wired server application.
func New(configPath string) (*ServerApp, error) {
	logger.Init(logger.Config{
		Output:   os.Stdout,
		MinLevel: logger.INFO,
		UseColor: true,
	})

	log := logger.WithComponent("MAIN")

	cwd, _ := os.Getwd()
	cfg, err := config.Load(resolveConfigPath(cwd, configPath))
	if err != nil {
		if errors.Is(err, config.ErrMissingSecret) {
			log.Error("JWT_SECRET environment variable is required")
		}
		return nil, err
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	if err := sentryx.Init(sentryx.Options{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Env,
		Service:     "file-server",
		Release:     Release,
	}); err != nil {
		log.Warn("Sentry disabled: %v", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig wires every component from an already validated config.
func NewWithConfig(cfg *config.AppConfig) (*ServerApp, error) {
	log := logger.WithComponent("MAIN")

	log.Info("Environment: %s", cfg.Env)
	log.Info("Port: %d", cfg.Port)
	log.Info("Storage root: %s", cfg.StorageRoot)

	for _, dir := range []string{cfg.StorageRoot, cfg.DataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	// Canonical so symlinked mounts (e.g. /tmp on macOS) do not trip the
	// containment checks.
	storageRoot, err := filepath.EvalSymlinks(cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	identities, err := identity.Open(cfg.IdentityDBPath(), false)
	if err != nil {
		return nil, err
	}

	sessions := session.NewStore(session.StoreConfig{
		FilePath:   cfg.SessionsPath(),
		Expiration: cfg.TokenTTL,
	})
	log.Info("Loaded %d sessions from disk", sessions.Count())

	limiter := ratelimit.NewLimiter(ratelimit.Config{FilePath: cfg.LoginLimitsPath()})

	resolver := workspace.NewResolver(storageRoot)
	metrics := observability.NewMetrics()
	hub := events.NewHub(cfg.AllowedOrigins, metrics)

	authService, err := auth.NewService(auth.Config{
		Secret:   []byte(cfg.JWTSecret),
		TokenTTL: cfg.TokenTTL,
	}, identities, resolver, sessions)
	if err != nil {
		limiter.Stop()
		sessions.Stop()
		_ = identities.Close()
		return nil, err
	}

	fileService := files.NewService(resolver, identities, hub)

	return &ServerApp{
		Config:     cfg,
		Identities: identities,
		Sessions:   sessions,
		Limiter:    limiter,
		APILimiter: httpxmiddleware.NewRateLimiter(httpxmiddleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		}),
		Metrics:     metrics,
		Hub:         hub,
		Auth:        authService,
		AuthHandler: auth.NewHandler(authService, limiter, metrics),
		FileHandler: files.NewHandler(fileService, metrics, cfg.MaxUploadSize),
		Logger:      log,
		startedAt:   time.Now(),
		stopPrune:   make(chan struct{}),
	}, nil
}

func resolveConfigPath(cwd, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(config.EnvPrefix + "_CONFIG"); env != "" {
		return env
	}

	candidate := filepath.Join(cwd, "config.json")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}

	candidate = filepath.Join(cwd, "..", "..", "config.json")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}

	return filepath.Join(cwd, "config.json")
}

// Run initializes and starts the server until shutdown.
func Run(configPath string) error {
	app, err := New(configPath)
	if err != nil {
		return err
	}
	return app.Run()
}
