package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
)

func newJob(uploader uuid.UUID) *models.ExtractionJob {
	return &models.ExtractionJob{
		ID:         uuid.New(),
		FileID:     uuid.New(),
		FileName:   "group.jpg",
		FileType:   models.MediaImage,
		UploadedBy: uploader,
		Status:     models.JobProcessing,
	}
}

func TestMemoryStoreTxRollback(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	face := &models.Face{ID: uuid.New(), PersonType: models.PersonUnknown, Active: true}
	require.NoError(t, s.CreateFace(ctx, face))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(r Repo) error {
		f, err := r.GetFaceForUpdate(ctx, face.ID)
		require.NoError(t, err)
		f.SelectedLabel = "Alice"
		require.NoError(t, r.UpdateFace(ctx, f))
		require.NoError(t, r.CreatePerson(ctx, &models.Visitor{PersonBase: models.PersonBase{ID: uuid.New(), Name: "Alice"}}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetFace(ctx, face.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SelectedLabel)
	p, err := s.FindPersonByName(ctx, "Alice")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestMemoryStoreTxCommit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id := uuid.New()
	require.NoError(t, s.WithTx(ctx, func(r Repo) error {
		return r.CreatePerson(ctx, &models.Employee{PersonBase: models.PersonBase{ID: id, Name: "Bob"}, EmployeeID: "E1"})
	}))
	p, err := s.GetPerson(ctx, models.PersonRef{Type: models.PersonEmployee, ID: id})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Bob", p.DisplayName())
}

func TestMemoryStoreFinishJobOnlyFromProcessing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job := newJob(uuid.New())
	require.NoError(t, s.CreateJob(ctx, job))

	require.NoError(t, s.FinishJob(ctx, job.ID, models.JobOutcome{Status: models.JobCompleted, Message: "ok", FacesCount: 2}))
	err := s.FinishJob(ctx, job.ID, models.JobOutcome{Status: models.JobFailed, Message: "late"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, "ok", got.ProcessingMessage)
}

func TestMemoryStoreMarkLabeledRequiresCompleted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job := newJob(uuid.New())
	require.NoError(t, s.CreateJob(ctx, job))
	assert.ErrorIs(t, s.MarkJobLabeled(ctx, job.ID), apperr.ErrInvalidState)
}

func TestMemoryStoreFailStaleJobs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })

	stale := newJob(uuid.New())
	require.NoError(t, s.CreateJob(ctx, stale))
	done := newJob(uuid.New())
	require.NoError(t, s.CreateJob(ctx, done))
	require.NoError(t, s.FinishJob(ctx, done.ID, models.JobOutcome{Status: models.JobCompleted}))

	s.SetClock(func() time.Time { return base.Add(time.Hour) })
	fresh := newJob(uuid.New())
	require.NoError(t, s.CreateJob(ctx, fresh))

	ids, err := s.FailStaleJobs(ctx, base.Add(30*time.Minute), "interrupted")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stale.ID}, ids)

	got, _ := s.GetJob(ctx, stale.ID)
	assert.Equal(t, models.JobFailed, got.Status)
	got, _ = s.GetJob(ctx, fresh.ID)
	assert.Equal(t, models.JobProcessing, got.Status)
}

func TestMemoryStoreFindPersonByNamePrefersEmployees(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	v := &models.Visitor{PersonBase: models.PersonBase{ID: uuid.New(), Name: "Alice", IsActive: true}}
	e := &models.Employee{PersonBase: models.PersonBase{ID: uuid.New(), Name: "Alice", IsActive: true}, EmployeeID: "E7"}
	require.NoError(t, s.CreatePerson(ctx, v))
	require.NoError(t, s.CreatePerson(ctx, e))

	p, err := s.FindPersonByName(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, e.Ref(), p.Ref())

	p, err = s.FindPersonByName(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestMemoryStoreEmployeeIDUnique(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreatePerson(ctx, &models.Employee{PersonBase: models.PersonBase{ID: uuid.New()}, EmployeeID: "E1"}))
	err := s.CreatePerson(ctx, &models.Employee{PersonBase: models.PersonBase{ID: uuid.New()}, EmployeeID: "E1"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestMemoryStoreDetachFaces(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ref := models.PersonRef{Type: models.PersonVisitor, ID: uuid.New()}
	f := &models.Face{ID: uuid.New(), Active: true}
	f.LinkTo(ref)
	require.NoError(t, s.CreateFace(ctx, f))

	n, err := s.DetachFaces(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := s.GetFace(ctx, f.ID)
	assert.False(t, got.Active)
	assert.Nil(t, got.PersonID)
	assert.Equal(t, models.PersonUnknown, got.PersonType)
}

func TestMemoryStoreSearchFaces(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	owned := func(f *models.Face) *models.Face {
		f.LinkTo(models.PersonRef{Type: models.PersonEmployee, ID: uuid.New()})
		return f
	}
	near := owned(&models.Face{ID: uuid.New(), Active: true, Embedding: []float32{1, 0.1, 0}})
	far := owned(&models.Face{ID: uuid.New(), Active: true, Embedding: []float32{0, 0, 1}})
	inactive := owned(&models.Face{ID: uuid.New(), Active: false, Embedding: []float32{1, 0, 0}})
	unowned := &models.Face{ID: uuid.New(), Active: true, Embedding: []float32{1, 0, 0}}
	rejected := owned(&models.Face{ID: uuid.New(), Active: true, Embedding: []float32{1, 0, 0},
		VerificationStatus: models.VerificationRejected})
	for _, f := range []*models.Face{near, far, inactive, unowned, rejected} {
		require.NoError(t, s.CreateFace(ctx, f))
	}

	matches, err := s.SearchFaces(ctx, []float32{1, 0, 0}, 0.5, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, near.ID, matches[0].FaceID)
	assert.Greater(t, matches[0].Score, float32(0.9))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job := newJob(uuid.New())
	job.Clusters = []models.Cluster{{ID: "person_0"}}
	require.NoError(t, s.CreateJob(ctx, job))

	got, _ := s.GetJob(ctx, job.ID)
	got.Clusters[0].SelectedLabel = "mutated"

	again, _ := s.GetJob(ctx, job.ID)
	assert.Empty(t, again.Clusters[0].SelectedLabel)
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{3, 4}, paginate(items, 2, 2))
	assert.Nil(t, paginate(items, 2, 9))
	assert.Equal(t, items, paginate(items, 0, 0))
}

func TestMemoryBlobStore(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBlobStore()
	require.NoError(t, b.PutObject(ctx, CropKey("j1", "person_0", 0), []byte("a"), "image/jpeg"))
	require.NoError(t, b.PutObject(ctx, CropKey("j1", "person_0", 1), []byte("b"), "image/jpeg"))

	keys, err := b.ListObjects(ctx, "jobs/j1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"jobs/j1/person_0/0.jpg", "jobs/j1/person_0/1.jpg"}, keys)

	_, err = b.GetObject(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestKeysAreSanitized(t *testing.T) {
	assert.Equal(t, "uploads/j/a_b.jpg", UploadKey("j", "a/b.jpg"))
	assert.NotContains(t, UploadKey("j", "../../x"), "../")
}
