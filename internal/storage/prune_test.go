package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facegate/internal/models"
)

func TestPruneOrphans(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	blobs := NewMemoryBlobStore()

	face := &models.Face{ID: uuid.New(), Active: true}
	require.NoError(t, store.CreateFace(ctx, face))
	job := newJob(uuid.New())
	require.NoError(t, store.CreateJob(ctx, job))

	gone := uuid.New().String()
	keep := []string{
		FaceImageKey(face.ID.String()),
		FaceAngleKey(face.ID.String(), "left"),
		UploadKey(job.ID.String(), "group.jpg"),
		CropKey(job.ID.String(), "cluster_0", 0),
		"faces/not-an-id.jpg",
	}
	orphans := []string{
		CropKey(gone, "cluster_0", 0),
		FaceImageKey(gone),
		UploadKey(gone, "clip.mp4"),
	}
	for _, k := range append(append([]string(nil), keep...), orphans...) {
		require.NoError(t, blobs.PutObject(ctx, k, []byte("x"), "image/jpeg"))
	}

	found, err := PruneOrphans(ctx, store, blobs, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, orphans, found)
	all, _ := blobs.ListObjects(ctx, "")
	assert.Len(t, all, len(keep)+len(orphans), "dry run deletes nothing")

	found, err = PruneOrphans(ctx, store, blobs, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, orphans, found)
	all, _ = blobs.ListObjects(ctx, "")
	assert.ElementsMatch(t, keep, all)
}

type stubbornBlobs struct {
	*MemoryBlobStore
}

func (stubbornBlobs) DeleteObject(context.Context, string) error {
	return errors.New("bucket read-only")
}

func TestDiscardObjectsIsBestEffort(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobStore()
	require.NoError(t, blobs.PutObject(ctx, "faces/a.jpg", []byte("x"), "image/jpeg"))

	DiscardObjects(ctx, stubbornBlobs{blobs}, "faces/a.jpg", "")
	_, err := blobs.GetObject(ctx, "faces/a.jpg")
	assert.NoError(t, err)

	DiscardObjects(ctx, blobs, "faces/a.jpg", "")
	_, err = blobs.GetObject(ctx, "faces/a.jpg")
	assert.Error(t, err)
}
