package store

import (
	"context"
	"fmt"

	"github.com/arturoeanton/codequery/internal/port"
	"github.com/arturoeanton/codequery/pkg/config"
)

// Open returns the store selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config) (port.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		s, err := NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
