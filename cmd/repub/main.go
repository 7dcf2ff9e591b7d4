package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/repub/pkg/activity"
	"github.com/platinummonkey/repub/pkg/api"
	"github.com/platinummonkey/repub/pkg/async"
	"github.com/platinummonkey/repub/pkg/auth"
	"github.com/platinummonkey/repub/pkg/blob"
	"github.com/platinummonkey/repub/pkg/config"
	"github.com/platinummonkey/repub/pkg/mail"
	"github.com/platinummonkey/repub/pkg/middleware"
	"github.com/platinummonkey/repub/pkg/observability"
	"github.com/platinummonkey/repub/pkg/publish"
	"github.com/platinummonkey/repub/pkg/storage"
	"github.com/platinummonkey/repub/pkg/storage/postgres"
	"github.com/platinummonkey/repub/pkg/storage/sqlite"
	"github.com/platinummonkey/repub/pkg/upstream"
	"github.com/platinummonkey/repub/pkg/webhooks"
)

// Build identity, stamped by the linker.
var (
	version = "dev"
	gitHash = ""
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "repub:", err)
		os.Exit(1)
	}
}

func run() error {
	listenFlag := flag.String("listen", "", "listen address (host:port), overrides REPUB_LISTEN_ADDR/PORT")
	databaseFlag := flag.String("database", "", "database URL, overrides REPUB_DATABASE_URL")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *listenFlag != "" {
		host, port, err := net.SplitHostPort(*listenFlag)
		if err != nil {
			return fmt.Errorf("invalid -listen address %q: %w", *listenFlag, err)
		}
		cfg.ListenAddr, cfg.ListenPort = host, port
	}
	if *databaseFlag != "" {
		cfg.DatabaseURL = *databaseFlag
	}
	if cfg.Version == "dev" && version != "" {
		cfg.Version = version
	}
	if cfg.GitHash == "" {
		cfg.GitHash = gitHash
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	log := logrus.NewEntry(logger)
	log.WithFields(logrus.Fields{
		"version": cfg.Version,
		"listen":  cfg.ListenHostPort(),
	}).Info("starting repub")

	ctx := context.Background()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	if err := store.RunMigrations(ctx); err != nil {
		store.Close()
		return fmt.Errorf("migrations failed: %w", err)
	}
	if err := bootstrapAdmin(ctx, store, log); err != nil {
		store.Close()
		return err
	}

	hosted, cache, err := openBlobStores(ctx, cfg)
	if err != nil {
		store.Close()
		return err
	}

	keypair, err := auth.NewKeypair()
	if err != nil {
		store.Close()
		return fmt.Errorf("keypair generation failed: %w", err)
	}

	runner := async.NewRunner(ctx, log)
	webhookSvc := webhooks.NewService(store, mail.NewLogMailer(log), log)
	recorder := activity.NewRecorder(store, log)
	publisher := publish.NewService(store, hosted, log, publish.Options{
		RequireAuth: cfg.RequirePublishAuth,
	})

	var upstreamClient *upstream.Client
	if cfg.EnableUpstreamProxy {
		upstreamClient = upstream.NewClient(cfg.UpstreamURL, log)
		log.WithField("upstream", cfg.UpstreamURL).Info("upstream proxy enabled")
	}
	downloads := upstream.NewDownloads(store, hosted, cache, upstreamClient, log)

	apiServer := api.NewServer(api.Deps{
		Store:     store,
		Hosted:    hosted,
		Cache:     cache,
		Publisher: publisher,
		Downloads: downloads,
		Upstream:  upstreamClient,
		Webhooks:  webhookSvc,
		Activity:  recorder,
		Keypair:   keypair,
		Runner:    runner,
		Log:       log,
	}, api.Options{
		BaseURL:             cfg.BaseURL,
		Version:             cfg.Version,
		GitHash:             cfg.GitHash,
		MaxUploadBytes:      cfg.MaxUploadSizeBytes,
		RequirePublishAuth:  cfg.RequirePublishAuth,
		RequireDownloadAuth: cfg.RequireDownloadAuth,
		WebDir:              cfg.WebDir,
		AdminDir:            cfg.AdminDir,
	})

	metrics := observability.NewMetrics(store)
	health := observability.NewHealthChecker(store, hosted, cache, cfg.Version)

	root := http.NewServeMux()
	root.HandleFunc("/health", health.Liveness)
	root.HandleFunc("/health/detailed", health.Readiness)
	root.Handle("/metrics", metrics.Handler())
	root.Handle("/", apiServer)

	var limiter *middleware.RateLimiter
	handler := http.Handler(root)
	handler = middleware.NewIPAllowlist("/admin", cfg.AdminIPWhitelist).Middleware(handler)
	if cfg.RateLimitRequests > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
		handler = limiter.Middleware(handler)
	}
	handler = metrics.Middleware(handler)
	handler = middleware.CORS(cfg.CORSAllowedOrigins)(handler)
	handler = middleware.ServerHeaders(cfg.Version, cfg.GitHash)(handler)
	handler = middleware.RequestLogging(log)(handler)
	handler = middleware.Recovery(log)(handler)

	tracerProvider, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:  cfg.OTelEnabled,
		Endpoint: cfg.OTelEndpoint,
		Version:  cfg.Version,
		Insecure: cfg.OTelInsecure,
	}, log)
	if err != nil {
		log.WithError(err).Warn("tracing disabled")
	}
	if tracerProvider != nil {
		handler = otelhttp.NewHandler(handler, "repub")
	}

	jobs := startJobs(store, publisher, limiter, log)

	httpServer := &http.Server{
		Addr:              cfg.ListenHostPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := observability.NewShutdownManager(log, httpServer, cfg.ShutdownTimeout)
	shutdown.Register(func(ctx context.Context) error {
		jobs.Stop()
		return nil
	})
	shutdown.Register(func(ctx context.Context) error {
		if !runner.Wait(10 * time.Second) {
			log.Warn("abandoned background tasks at shutdown")
		}
		return nil
	})
	if upstreamClient != nil {
		shutdown.Register(func(ctx context.Context) error {
			upstreamClient.Close()
			return nil
		})
	}
	if tracerProvider != nil {
		shutdown.Register(tracerProvider.Shutdown)
	}
	shutdown.Register(func(ctx context.Context) error {
		return store.Close()
	})

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", httpServer.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- shutdown.Wait() }()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case err := <-waitErr:
		return err
	}
}

// openStore picks the metadata backend from the database URL scheme.
// A bare path opens sqlite.
func openStore(cfg *config.Config, log *logrus.Entry) (storage.Store, error) {
	url := cfg.DatabaseURL
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		pg, err := postgres.New(url)
		if err != nil {
			return nil, fmt.Errorf("postgres connection failed: %w", err)
		}
		log.Info("using postgres metadata store")
		if cfg.RedisURL != "" {
			cached, err := postgres.NewCachedStore(pg, cfg.RedisURL)
			if err != nil {
				pg.Close()
				return nil, fmt.Errorf("redis cache setup failed: %w", err)
			}
			log.Info("redis read cache enabled")
			return cached, nil
		}
		return pg, nil
	default:
		path := strings.TrimPrefix(url, "sqlite://")
		s, err := sqlite.New(path)
		if err != nil {
			return nil, fmt.Errorf("sqlite open failed: %w", err)
		}
		log.WithField("path", path).Info("using sqlite metadata store")
		return s, nil
	}
}

// bootstrapAdmin seeds the default admin account when none exists. The
// account must change its password before it can do anything else.
func bootstrapAdmin(ctx context.Context, store storage.Store, log *logrus.Entry) error {
	count, err := store.CountAdminUsers(ctx)
	if err != nil {
		return fmt.Errorf("admin count failed: %w", err)
	}
	if count > 0 {
		return nil
	}
	hash, err := auth.HashPassword("admin")
	if err != nil {
		return err
	}
	if _, err := store.CreateAdminUser(ctx, "admin", hash, true); err != nil {
		return fmt.Errorf("admin bootstrap failed: %w", err)
	}
	log.Warn("created default admin account admin/admin; change the password immediately")
	return nil
}

// openBlobStores builds the hosted and cache archive stores, sharing
// one bucket (with key prefixes) or one directory tree.
func openBlobStores(ctx context.Context, cfg *config.Config) (hosted, cache blob.Store, err error) {
	if cfg.UseS3() {
		base := blob.S3Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
			SignedURLTTL: cfg.SignedURLTTL,
		}
		hostedCfg, cacheCfg := base, base
		hostedCfg.KeyPrefix = "hosted"
		cacheCfg.KeyPrefix = "cache"
		if hosted, err = blob.NewS3Store(ctx, hostedCfg); err != nil {
			return nil, nil, err
		}
		if cache, err = blob.NewS3Store(ctx, cacheCfg); err != nil {
			return nil, nil, err
		}
	} else {
		hosted = blob.NewFilesystemStore(filepath.Join(cfg.StoragePath, "hosted"))
		cache = blob.NewFilesystemStore(filepath.Join(cfg.StoragePath, "cache"))
	}
	if err = hosted.EnsureReady(ctx); err != nil {
		return nil, nil, fmt.Errorf("hosted blob store not ready: %w", err)
	}
	if err = cache.EnsureReady(ctx); err != nil {
		return nil, nil, fmt.Errorf("cache blob store not ready: %w", err)
	}
	return hosted, cache, nil
}

// startJobs schedules the periodic housekeeping work.
func startJobs(store storage.Store, publisher *publish.Service, limiter *middleware.RateLimiter, log *logrus.Entry) *cron.Cron {
	c := cron.New()

	c.AddFunc("@every 10m", func() {
		if n := publisher.Sessions().Reap(); n > 0 {
			log.WithField("sessions", n).Info("reaped stale upload sessions")
		}
	})
	if limiter != nil {
		c.AddFunc("@every 5m", limiter.Compact)
	}
	c.AddFunc("@every 1h", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n, err := store.DeleteExpiredSessions(ctx); err != nil {
			log.WithError(err).Warn("session cleanup failed")
		} else if n > 0 {
			log.WithField("sessions", n).Info("deleted expired sessions")
		}
		if n, err := store.DeleteExpiredTokens(ctx); err != nil {
			log.WithError(err).Warn("token cleanup failed")
		} else if n > 0 {
			log.WithField("tokens", n).Info("deleted expired tokens")
		}
	})

	c.Start()
	return c
}
