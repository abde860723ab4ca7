package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/stayops/stayops/internal/api"
	v1 "github.com/stayops/stayops/internal/api/v1"
	"github.com/stayops/stayops/internal/config"
	"github.com/stayops/stayops/internal/logger"
	"github.com/stayops/stayops/internal/postgres"
	"github.com/stayops/stayops/internal/pubsub"
	kafkaPubsub "github.com/stayops/stayops/internal/pubsub/kafka"
	memoryPubsub "github.com/stayops/stayops/internal/pubsub/memory"
	"github.com/stayops/stayops/internal/relay"
	"github.com/stayops/stayops/internal/repository"
	"github.com/stayops/stayops/internal/service"
	"github.com/stayops/stayops/internal/types"
	"github.com/stayops/stayops/migrations"
)

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	app := fx.New(
		fx.Provide(
			// Config
			config.NewConfig,

			// Logger
			newLogger,

			// Postgres
			postgres.NewDB,
			newTxRunner,

			// PubSub
			newPubSub,
			newPublisher,

			// Repositories
			repository.NewOutboxRepository,
			repository.NewSequenceRepository,

			// Services
			service.NewNumberingService,
			service.NewOutboxWriter,

			// Relay
			relay.New,

			// Handlers and router
			v1.NewHealthHandler,
			v1.NewOutboxHandler,
			v1.NewSequenceHandler,
			newRouter,
		),
		fx.Invoke(
			applyMigrations,
			startRelay,
			startServer,
		),
	)

	app.Run()
}

func newLogger(cfg *config.Configuration) (*logger.Logger, error) {
	return logger.NewLogger(cfg.Logging.Level)
}

func newTxRunner(db *postgres.DB) postgres.TxRunner {
	return db
}

func newPubSub(cfg *config.Configuration, log *logger.Logger) (pubsub.PubSub, error) {
	if cfg.Deployment.Mode == types.ModeLocal {
		return memoryPubsub.NewPubSub(cfg, log), nil
	}
	return kafkaPubsub.NewPubSub(cfg, log)
}

func newPublisher(ps pubsub.PubSub) pubsub.Publisher {
	return ps
}

func newRouter(
	health *v1.HealthHandler,
	outbox *v1.OutboxHandler,
	seq *v1.SequenceHandler,
	cfg *config.Configuration,
	log *logger.Logger,
) *gin.Engine {
	if cfg.Deployment.Mode != types.ModeLocal {
		gin.SetMode(gin.ReleaseMode)
	}
	return api.NewRouter(api.Handlers{
		Health:   health,
		Outbox:   outbox,
		Sequence: seq,
	}, log)
}

func applyMigrations(cfg *config.Configuration, db *postgres.DB, log *logger.Logger) error {
	if !cfg.Postgres.AutoMigrate {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := migrations.Apply(ctx, db); err != nil {
		return err
	}
	log.Infow("applied database migrations")
	return nil
}

func startRelay(lc fx.Lifecycle, r *relay.Relay) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			r.Start(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			r.Stop()
			return nil
		},
	})
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	router *gin.Engine,
	log *logger.Logger,
) {
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting ops server", "address", cfg.Server.Address)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
