package main

import (
	"context"
	"fmt"

	"github.com/banshee-data/coverage.report/internal/config"
	"github.com/banshee-data/coverage.report/internal/coverage"
	"github.com/banshee-data/coverage.report/internal/db"
	"github.com/banshee-data/coverage.report/internal/geogrid"
	"github.com/banshee-data/coverage.report/internal/monitoring"
)

// openStore opens the configured coverage backend. The returned *db.DB is
// non-nil only for the sqlite backend, whose admin routes the server mounts.
func openStore(ctx context.Context, cfg *config.CoverageConfig, g *geogrid.Grid) (coverage.Store, *db.DB, error) {
	switch cfg.GetStore() {
	case config.StoreSQLite:
		d, err := db.NewDB(cfg.GetDBPath())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		s, err := db.NewCoverageStore(ctx, d, g)
		if err != nil {
			d.Close()
			return nil, nil, err
		}
		monitoring.Logf("Using sqlite store %s (grid %s)", cfg.GetDBPath(), s.GridID())
		return s, d, nil
	case config.StoreRedis:
		s, err := coverage.OpenRedisStore(ctx, cfg.GetRedisAddr(), g)
		if err != nil {
			return nil, nil, err
		}
		monitoring.Logf("Using redis store %s (grid %s)", cfg.GetRedisAddr(), g.Fingerprint())
		return s, nil, nil
	case config.StoreMongo:
		s, err := coverage.OpenMongoStore(ctx, cfg.GetMongoURI(), cfg.GetMongoDatabase(), g)
		if err != nil {
			return nil, nil, err
		}
		monitoring.Logf("Using mongo store %s/%s (grid %s)", cfg.GetMongoURI(), cfg.GetMongoDatabase(), g.Fingerprint())
		return s, nil, nil
	default:
		monitoring.Logf("Using in-memory store; coverage is lost on exit")
		return coverage.NewMemoryStore(), nil, nil
	}
}

func calculatorOptions(cfg *config.CoverageConfig) coverage.Options {
	return coverage.Options{
		ClassAInterval:   cfg.GetClassAInterval(),
		ClassBInterval:   cfg.GetClassBInterval(),
		MaxGap:           cfg.GetMaxGap(),
		SatelliteSources: cfg.SatelliteSources,
	}
}
