// Package app initializes and holds long-lived application services, acting
// as a dependency injection container. It is constructed once at startup and
// shut down explicitly.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lexhaven/regtruth/internal/alert"
	alertpubsub "github.com/lexhaven/regtruth/internal/alert/pubsub"
	"github.com/lexhaven/regtruth/internal/config"
	"github.com/lexhaven/regtruth/internal/logging"
	"github.com/lexhaven/regtruth/internal/metrics"
	"github.com/lexhaven/regtruth/internal/ratelimit"
	"github.com/lexhaven/regtruth/internal/search"
	"github.com/lexhaven/regtruth/internal/storage"
	"github.com/lexhaven/regtruth/internal/storage/gcs"
	"github.com/lexhaven/regtruth/internal/storage/local"
	"github.com/lexhaven/regtruth/internal/storage/memory"
	"github.com/lexhaven/regtruth/internal/storage/postgres"
	"github.com/lexhaven/regtruth/internal/watchdog"
)

// App holds the shared, long-lived services.
type App struct {
	Cfg      config.Config
	Logger   *zap.Logger
	Pool     *pgxpool.Pool
	Blob     storage.BlobStore
	Alerter  alert.Alerter
	Registry *ratelimit.Registry

	Checkpoints func(source string) (*postgres.CheckpointStore, error)
	Documents   *postgres.DocumentStore
	Pointers    *postgres.PointerStore
	Rules       *postgres.RuleStore
	Endpoints   *postgres.EndpointStore

	pubsubClient *pubsub.Client
	gcsClient    *gstorage.Client
	searchSvc    *search.Service
}

// New constructs every service the commands need, failing fast when a
// critical dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics.Init()

	a := &App{Cfg: cfg, Logger: logger}

	a.Pool, err = postgres.NewPool(ctx, postgres.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}

	if a.Blob, err = newBlobStore(ctx, a, cfg.Blob); err != nil {
		a.Close()
		return nil, err
	}
	if a.Alerter, err = newAlerter(ctx, a, cfg.PubSub, logger); err != nil {
		a.Close()
		return nil, err
	}

	a.Registry = ratelimit.NewRegistry(ratelimit.Config{
		MinDelay:       cfg.RateLimit.MinDelay,
		MaxDelay:       cfg.RateLimit.MaxDelay,
		ErrorThreshold: cfg.RateLimit.ErrorThreshold,
		CooldownPeriod: cfg.RateLimit.CooldownPeriod,
	}, logger, a.Alerter)

	a.Checkpoints = func(source string) (*postgres.CheckpointStore, error) {
		return postgres.NewCheckpointStore(a.Pool, source)
	}
	if a.Documents, err = postgres.NewDocumentStore(a.Pool, logger); err != nil {
		a.Close()
		return nil, err
	}
	if a.Pointers, err = postgres.NewPointerStore(a.Pool); err != nil {
		a.Close()
		return nil, err
	}
	if a.Rules, err = postgres.NewRuleStore(a.Pool); err != nil {
		a.Close()
		return nil, err
	}
	if a.Endpoints, err = postgres.NewEndpointStore(a.Pool); err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("application services initialized",
		zap.String("blob_backend", cfg.Blob.Backend),
		zap.Bool("pubsub_alerts", cfg.PubSub.Enabled),
	)
	return a, nil
}

// SearchService lazily constructs the semantic search service. It requires
// the OpenAI embeddings client, which is only configured where search is
// actually used.
func (a *App) SearchService() (*search.Service, error) {
	if a.searchSvc != nil {
		return a.searchSvc, nil
	}
	embedder, err := search.NewOpenAIEmbedder(search.OpenAIConfig{
		APIKey:  a.Cfg.OpenAI.APIKey,
		BaseURL: a.Cfg.OpenAI.BaseURL,
		Model:   a.Cfg.OpenAI.Model,
		QPS:     a.Cfg.OpenAI.QPS,
	})
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}
	svc, err := search.NewService(a.Pool,
		search.NewCachingEmbedder(embedder, a.Cfg.OpenAI.CacheTTL),
		a.Logger,
	)
	if err != nil {
		return nil, err
	}
	a.searchSvc = svc
	return svc, nil
}

// Watchdog builds a watchdog over the endpoint store and the live limiter
// registry.
func (a *App) Watchdog() (*watchdog.Watchdog, error) {
	return watchdog.New(watchdog.Config{
		SLA:                  a.Cfg.Watchdog.SLA,
		ErrorStreakThreshold: a.Cfg.Watchdog.ErrorStreakThreshold,
		Interval:             a.Cfg.Watchdog.Interval,
	}, a.Endpoints, a.Registry, a.Alerter, a.Logger)
}

func newBlobStore(ctx context.Context, a *App, cfg config.BlobConfig) (storage.BlobStore, error) {
	switch cfg.Backend {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.gcsClient = client
		return gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
	case "local":
		return local.New(local.Config{BaseDir: cfg.LocalDir})
	case "memory":
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

func newAlerter(ctx context.Context, a *App, cfg config.PubSubConfig, logger *zap.Logger) (alert.Alerter, error) {
	if !cfg.Enabled {
		return alert.NewLogAlerter(logger), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	a.pubsubClient = client
	return alertpubsub.New(client.Topic(cfg.TopicName))
}

// Close shuts down all services. Safe to call on a partially constructed App.
func (a *App) Close() {
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.Logger.Warn("close pubsub client", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.Logger.Warn("close gcs client", zap.Error(err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}
