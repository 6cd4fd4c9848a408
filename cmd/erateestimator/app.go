package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bher20/erateestimator/internal/auth"
	"github.com/bher20/erateestimator/internal/config"
	"github.com/bher20/erateestimator/internal/estimate"
	"github.com/bher20/erateestimator/internal/logger"
	"github.com/bher20/erateestimator/internal/migrate"
	"github.com/bher20/erateestimator/internal/ratesource"
	"github.com/bher20/erateestimator/internal/storage"
	"github.com/bher20/erateestimator/internal/tariff"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg    config.Config
	log    zerolog.Logger
	store  storage.Storage
	loader *ratesource.Loader
	cache  estimate.Cache
	svc    *estimate.Service
	auth   *auth.Service
}

// newApp opens storage, loads the rate registry and builds the estimate
// service. The initial load must succeed.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	migrate.SetLogger(log)

	store, err := storage.Open(ctx, storage.Config{
		Driver:      cfg.DB.Driver,
		DSN:         cfg.DB.DSN,
		AutoMigrate: cfg.DB.AutoMigrate,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &app{cfg: cfg, log: log, store: store}
	src, err := ratesource.Build(ratesource.Options{
		Source:      cfg.Rates.Source,
		File:        cfg.Rates.File,
		URL:         cfg.Rates.URL,
		SnapshotKey: cfg.Rates.SnapshotKey,
		Timeout:     cfg.Rates.Timeout,
	}, store, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	holder := tariff.NewHolder(nil)
	a.loader = ratesource.NewLoader(src, holder, log)
	if _, err := a.loader.Reload(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.cache = estimate.OpenCache(ctx, estimate.CacheConfig{
		Driver:        cfg.Cache.Driver,
		RedisAddr:     cfg.Cache.RedisAddr,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
	}, log)

	a.svc, err = estimate.NewService(holder, serviceConfig(cfg), a.cache, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Auth.Enabled {
		a.auth, err = auth.NewService(store, cfg.Auth.AdminTokenHash, log)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func serviceConfig(cfg config.Config) estimate.Config {
	return estimate.Config{
		Solver: tariff.SolverConfig{
			UpperBoundKWh: cfg.Solver.UpperBoundKWh,
			MaxIterations: cfg.Solver.MaxIterations,
			Tolerance:     cfg.Solver.Tolerance,
		},
		Water: estimate.WaterProfile{
			M3PerKWh:       cfg.Water.M3PerKWh,
			PumpHeadM:      cfg.Water.PumpHeadM,
			PumpEfficiency: cfg.Water.PumpEfficiency,
		},
		CacheTTL:      cfg.Cache.TTL,
		MaxPeriodDays: cfg.Solver.MaxPeriodDays,
	}
}

func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close cache")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close storage")
		}
	}
}
