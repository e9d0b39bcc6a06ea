package container

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"gocausal/adapters/memory"
	"gocausal/adapters/postgres"
	"gocausal/adapters/rng"
	"gocausal/app"
	"gocausal/internal"
	"gocausal/internal/config"
	"gocausal/internal/metrics"
	"gocausal/ports"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config

	// Infrastructure
	DB       *sqlx.DB
	Registry *prometheus.Registry
	Metrics  *metrics.ForestMetrics
	RNG      ports.RNGPort

	// Repositories (data access layer)
	ForestRepo ports.ForestRepository

	// Services
	EffectService *app.EffectService
}

// New creates a container from cfg. A configured DATABASE_URL selects the
// PostgreSQL repository; otherwise forests are kept in memory.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	logger := internal.DefaultLogger.WithComponent("container")

	c := &Container{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		RNG:      rng.NewSeededAdapter(),
	}
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = metrics.NewForestMetrics(c.Registry)

	if cfg.Database.Enabled() {
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		c.DB = db
		c.ForestRepo = postgres.NewForestRepository(db)
		logger.Info("using PostgreSQL forest repository")
	} else {
		c.ForestRepo = memory.NewForestRepository()
		logger.Info("DATABASE_URL not set, keeping forests in memory")
	}

	c.EffectService = app.NewEffectService(c.ForestRepo, c.RNG, c.Metrics, cfg.Forest)
	return c, nil
}

// Close releases the database connection, if any
func (c *Container) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
