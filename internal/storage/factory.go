package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Config controls how the storage backend is opened.
type Config struct {
	Driver string
	DSN    string
	// AutoMigrate brings the schema up to date on open. Without it the
	// schema is expected to be managed with `erateestimator migrate`.
	AutoMigrate bool
}

// Open constructs a Storage based on the given configuration.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (Storage, error) {
	drv := cfg.Driver
	if drv == "" {
		drv = "memory"
	}
	log = log.With().Str("component", "storage").Str("driver", drv).Logger()

	switch drv {
	case "memory":
		log.Info().Msg("using in-memory backend")
		return NewMemory(), nil

	case "sqlite", "postgres":
		log.Info().Msg("using gorm backend")
		st, err := NewGormStorage(drv, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("storage open: %w", err)
		}
		if cfg.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				st.Close()
				return nil, fmt.Errorf("storage migrate: %w", err)
			}
		}
		return st, nil

	case "postgrespool":
		log.Info().Msg("using pgx pool backend")
		st, err := OpenPostgresPool(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("storage open: %w", err)
		}
		if cfg.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				st.Close()
				return nil, fmt.Errorf("storage migrate: %w", err)
			}
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", drv)
	}
}
