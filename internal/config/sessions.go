package config

import (
	"context"
	"time"

	"PoseService/database/postgres"
	poseDispatcher "PoseService/internal/api/pose/dispatcher"
	poseRepository "PoseService/internal/api/pose/repository"
	poseService "PoseService/internal/api/pose/service"
	"PoseService/internal/entity"
	"PoseService/pkg/engine"
	"PoseService/pkg/redis"
	"PoseService/pkg/s3"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Sinks are the optional collaborators of a session. Each one is nil unless
// configured, and a sink that cannot be reached at startup is skipped.
type Sinks struct {
	DB        *sqlx.DB
	Journal   poseService.Journal
	Publisher poseService.Publisher
	Store     s3.ItfS3

	redis redis.IRedis
}

func OpenSinks(ctx context.Context, cfg *Config, log *logrus.Logger) *Sinks {
	sinks := &Sinks{}

	if cfg.DatabaseURL != "" {
		db, err := postgres.Connect(cfg.DatabaseURL)
		if err != nil {
			log.WithField("error", err.Error()).Error("Failed to connect to database, session journal disabled")
		} else {
			repo := poseRepository.New(db, log)
			migrateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := repo.Migrate(migrateCtx)
			cancel()
			if err != nil {
				db.Close()
				log.WithField("error", err.Error()).Error("Session journal disabled")
			} else {
				sinks.DB = db
				sinks.Journal = repo
			}
		}
	}

	if cfg.RedisAddress != "" {
		sinks.redis = redis.New(log)
		sinks.Publisher = sinks.redis
	}

	if cfg.AWSRegion != "" {
		store, err := s3.New()
		if err != nil {
			log.WithField("error", err.Error()).Error("Failed to create S3 client, s3:// models disabled")
		} else {
			sinks.Store = store
		}
	}

	return sinks
}

func (s *Sinks) Close() {
	if s == nil {
		return
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.DB != nil {
		_ = s.DB.Close()
	}
}

// NewEngineProvider builds the worker-backed engine provider.
func NewEngineProvider(cfg *Config, log *logrus.Logger) engine.Provider {
	return engine.NewWorkerProvider(engine.WorkerConfig{
		Command:     cfg.EngineCommand,
		Args:        cfg.EngineArgs,
		StopTimeout: cfg.EngineStopTimeout,
	}, log)
}

// SessionFactory returns the constructor transports use for new sessions.
func SessionFactory(
	cfg *Config,
	log *logrus.Logger,
	provider engine.Provider,
	sinks *Sinks,
	transport entity.Transport,
) poseService.Factory {
	opts := []poseService.Option{
		poseService.WithLogger(log),
		poseService.WithTransport(transport),
		poseService.WithEngineOptions(engine.DefaultOptions()),
	}

	var store s3.ItfS3
	if sinks != nil {
		store = sinks.Store
		if sinks.Journal != nil {
			opts = append(opts, poseService.WithJournal(sinks.Journal))
		}
		if sinks.Publisher != nil {
			opts = append(opts, poseService.WithPublisher(sinks.Publisher))
		}
	}
	opts = append(opts, poseService.WithResolver(poseService.NewModelResolver(store, cfg.ModelCacheDir)))

	return poseService.NewFactory(provider, opts...)
}

// DispatcherOptions applies the default model to channel sessions only; the
// mailbox requires an explicit model reference.
func DispatcherOptions(cfg *Config, log *logrus.Logger, transport entity.Transport) []poseDispatcher.Option {
	opts := []poseDispatcher.Option{poseDispatcher.WithLogger(log)}
	if transport == entity.TransportChannel && cfg.DefaultModel != "" {
		opts = append(opts, poseDispatcher.WithDefaultModel(cfg.DefaultModel))
	}
	return opts
}
