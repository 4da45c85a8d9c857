package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ev-readiness/pipeline/internal/aggregate"
	"github.com/ev-readiness/pipeline/internal/change"
	"github.com/ev-readiness/pipeline/internal/db"
	"github.com/ev-readiness/pipeline/internal/geo"
	"github.com/ev-readiness/pipeline/internal/promotion"
	"github.com/ev-readiness/pipeline/internal/reference"
	"github.com/ev-readiness/pipeline/internal/registry"
	"github.com/ev-readiness/pipeline/internal/score"
	"github.com/ev-readiness/pipeline/internal/store"
	"github.com/ev-readiness/pipeline/internal/zipsub"
)

// pipelineEnv holds every initialized collaborator the refresh/status/serve
// commands share, built once per process invocation.
type pipelineEnv struct {
	pool        *pgxpool.Pool
	Store       *store.Store
	Coordinator *promotion.Coordinator
	ChangeLog   *promotion.ChangeLog
}

// Close releases the connection pool.
func (pe *pipelineEnv) Close() {
	if pe.pool != nil {
		pe.pool.Close()
	}
}

// initEnv opens the database pool, runs pending migrations, loads the
// county fixture, and wires every component the refresh-cycle state
// machine depends on.
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "connect to database")
	}

	if err := store.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "migrate schema")
	}

	counties, err := geo.LoadCountyFixture(cfg.Geo.CountyFixturePath)
	if err != nil {
		zap.L().Warn("county fixture not loaded, falling back to the static ZIP-to-county map only", zap.Error(err))
		counties = nil
	}

	if cfg.Score.WeightsPath != "" {
		weights, err := score.LoadWeights(cfg.Score.WeightsPath)
		if err != nil {
			zap.L().Warn("scoring weights override not loaded, using defaults", zap.Error(err))
		} else if weights != nil {
			weights.Apply()
			zap.L().Info("scoring weights override applied", zap.String("path", cfg.Score.WeightsPath))
		}
	}

	st := store.New(pool)
	refCache := reference.New(pool,
		reference.CensusConfig{BaseURL: cfg.Census.BaseURL, APIKey: cfg.Census.APIKey},
		reference.VMTConfig{BaseURL: cfg.VMT.BaseURL, APIKey: cfg.VMT.APIKey})
	reg := registry.New(pool, registry.Config{
		BaseURL: cfg.Registry.BaseURL,
		APIKey:  cfg.Registry.APIKey,
	})
	det := change.New(pool, counties)
	agg := aggregate.New(pool, refCache, counties)
	zr := zipsub.New(pool, agg)
	cl := promotion.NewChangeLog(pool)
	coord := promotion.New(pool, st, reg, det, agg, zr, cl)

	return &pipelineEnv{
		pool:        pool,
		Store:       st,
		Coordinator: coord,
		ChangeLog:   cl,
	}, nil
}
