package app

import (
	"context"
	"fmt"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/storage"
)

// Stores opens the metadata store (migrating Postgres) and the blob store.
func Stores(ctx context.Context, cfg *config.Config) (storage.Store, storage.BlobStore, error) {
	store, err := storage.Open(ctx, cfg.Database, true)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	blobs, err := storage.NewBlobStore(ctx, cfg.MinIO)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("open blob store: %w", err)
	}
	return store, blobs, nil
}
