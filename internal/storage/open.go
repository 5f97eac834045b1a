package storage

import (
	"context"
	"fmt"

	"github.com/your-org/facegate/internal/config"
)

// Open returns the Store selected by cfg.Driver. Postgres schemas are
// migrated when migrate is true.
func Open(ctx context.Context, cfg config.DatabaseConfig, migrate bool) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres", "":
		s, err := NewPostgresStore(cfg)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := s.Migrate(ctx); err != nil {
				s.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}
