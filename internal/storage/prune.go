package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// DiscardObjects removes blobs written ahead of a write that failed. It is
// best-effort: failures are logged and left for PruneOrphans.
func DiscardObjects(ctx context.Context, blobs BlobStore, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := blobs.DeleteObject(context.WithoutCancel(ctx), key); err != nil {
			slog.Warn("discard blob", "key", key, "error", err)
		}
	}
}

// Top-level key prefixes and the record that owns each.
var orphanPrefixes = []struct {
	prefix string
	exists func(ctx context.Context, repo Repo, id uuid.UUID) (bool, error)
}{
	{"faces/", func(ctx context.Context, repo Repo, id uuid.UUID) (bool, error) {
		f, err := repo.GetFace(ctx, id)
		return f != nil, err
	}},
	{"uploads/", jobExists},
	{"jobs/", jobExists},
}

func jobExists(ctx context.Context, repo Repo, id uuid.UUID) (bool, error) {
	j, err := repo.GetJob(ctx, id)
	return j != nil, err
}

// ownerID extracts the record id from a key such as faces/<id>.jpg,
// faces/<id>/<angle>.jpg or uploads/<id>/<name>.
func ownerID(key, prefix string) (uuid.UUID, bool) {
	rest := strings.TrimPrefix(key, prefix)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	id, err := uuid.Parse(strings.TrimSuffix(rest, ".jpg"))
	return id, err == nil
}

// PruneOrphans finds blobs whose owning face or job no longer exists and,
// unless dryRun, deletes them. Keys it cannot attribute are left alone.
func PruneOrphans(ctx context.Context, repo Repo, blobs BlobStore, dryRun bool) ([]string, error) {
	var orphans []string
	for _, p := range orphanPrefixes {
		keys, err := blobs.ListObjects(ctx, p.prefix)
		if err != nil {
			return orphans, err
		}
		seen := make(map[uuid.UUID]bool)
		for _, key := range keys {
			id, ok := ownerID(key, p.prefix)
			if !ok {
				continue
			}
			exists, cached := seen[id]
			if !cached {
				if exists, err = p.exists(ctx, repo, id); err != nil {
					return orphans, fmt.Errorf("check owner of %s: %w", key, err)
				}
				seen[id] = exists
			}
			if exists {
				continue
			}
			if !dryRun {
				if err := blobs.DeleteObject(ctx, key); err != nil {
					return orphans, err
				}
			}
			orphans = append(orphans, key)
		}
	}
	return orphans, nil
}
