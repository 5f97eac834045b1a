package extraction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/storage"
	"github.com/your-org/facegate/internal/vision"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type providerFunc func(ctx context.Context, media []byte, kind models.MediaKind) (*vision.Result, error)

func (f providerFunc) Extract(ctx context.Context, media []byte, kind models.MediaKind) (*vision.Result, error) {
	return f(ctx, media, kind)
}

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []models.ExtractionTask
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, task models.ExtractionTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, task)
	return nil
}

type fixture struct {
	engine *Engine
	store  *storage.MemoryStore
	blobs  *storage.MemoryBlobStore
	owner  *models.User
}

func newFixture(t *testing.T, provider vision.Provider, opts Options) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	blobs := storage.NewMemoryBlobStore()
	e := NewEngine(store, blobs, provider, opts)
	t.Cleanup(e.Close)
	return &fixture{engine: e, store: store, blobs: blobs, owner: models.NewUser("uploader", models.RoleUser)}
}

func twoClusters(_ context.Context, _ []byte, _ models.MediaKind) (*vision.Result, error) {
	return &vision.Result{
		Valid:     true,
		FaceCount: 4,
		Message:   "Successfully extracted 4 faces from image.",
		Clusters: map[string][]vision.Crop{
			vision.UnknownCluster: {{Image: []byte("u0"), Confidence: 0.6}},
			"cluster_0": {
				{Image: []byte("a0"), Confidence: 0.9, Embedding: []float32{1, 0}},
				{Image: []byte("a1"), Confidence: 0.8},
				{Image: []byte("a2"), Confidence: 0.7},
			},
		},
	}, nil
}

func (f *fixture) start(t *testing.T, kind models.MediaKind) uuid.UUID {
	t.Helper()
	id, err := f.engine.StartJob(context.Background(), StartRequest{
		Media:    []byte("media"),
		Kind:     kind,
		FileName: "upload.bin",
		Uploader: f.owner,
	})
	require.NoError(t, err)
	return id
}

func TestStartJobRejectsInvalidMedia(t *testing.T) {
	f := newFixture(t, providerFunc(twoClusters), Options{})
	ctx := context.Background()

	_, err := f.engine.StartJob(ctx, StartRequest{Kind: models.MediaImage, Uploader: f.owner})
	assert.ErrorIs(t, err, apperr.ErrInvalidMedia)

	_, err = f.engine.StartJob(ctx, StartRequest{Media: []byte("x"), Kind: "audio", Uploader: f.owner})
	assert.ErrorIs(t, err, apperr.ErrInvalidMedia)

	jobs, err := f.store.ListJobs(ctx, models.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

// joblessStore refuses to create jobs.
type joblessStore struct {
	*storage.MemoryStore
}

func (joblessStore) CreateJob(context.Context, *models.ExtractionJob) error {
	return errors.New("disk full")
}

func TestStartJobDiscardsUploadWhenJobNotCreated(t *testing.T) {
	blobs := storage.NewMemoryBlobStore()
	e := NewEngine(joblessStore{storage.NewMemoryStore()}, blobs, providerFunc(twoClusters), Options{})
	t.Cleanup(e.Close)

	_, err := e.StartJob(context.Background(), StartRequest{
		Media: []byte("media"), Kind: models.MediaImage, FileName: "a.jpg",
		Uploader: models.NewUser("uploader", models.RoleUser),
	})
	require.Error(t, err)

	keys, err := blobs.ListObjects(context.Background(), "uploads/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStartJobReturnsBeforeExtraction(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, providerFunc(func(ctx context.Context, m []byte, k models.MediaKind) (*vision.Result, error) {
		<-release
		return twoClusters(ctx, m, k)
	}), Options{Timeout: time.Minute})

	id := f.start(t, models.MediaImage)
	s, err := f.engine.GetJobStatus(context.Background(), id, f.owner)
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, s.Status)

	close(release)
	f.engine.Drain()
	s, err = f.engine.GetJobStatus(context.Background(), id, f.owner)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, s.Status)
}

func TestRunPersistsClusters(t *testing.T) {
	f := newFixture(t, providerFunc(twoClusters), Options{})
	ctx := context.Background()
	id := f.start(t, models.MediaImage)
	f.engine.Drain()

	s, err := f.engine.GetJobStatus(ctx, id, f.owner)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, s.Status)
	assert.Equal(t, 4, s.FacesCount)
	assert.Equal(t, 2, s.ClusterCount)
	assert.Equal(t, "Successfully extracted 4 faces from image.", s.Message)

	views, err := f.engine.ListClusters(ctx, id, f.owner)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "cluster_0", views[0].ID)
	assert.Equal(t, 3, views[0].FaceCount)
	assert.Equal(t, vision.UnknownCluster, views[1].ID)

	job, err := f.store.GetJob(ctx, id)
	require.NoError(t, err)
	cluster, ok := job.Cluster("cluster_0")
	require.True(t, ok)
	require.NotNil(t, cluster.Representative)
	assert.Equal(t, cluster.Faces[0], *cluster.Representative)
	assert.Equal(t, []float32{1, 0}, cluster.Representative.Embedding)

	crop, err := f.engine.GetFaceCrop(ctx, id, "cluster_0", 1, f.owner)
	require.NoError(t, err)
	assert.Equal(t, []byte("a1"), crop)
}

func TestRunInvalidResultFailsJob(t *testing.T) {
	msg := vision.NoFacesMessage(models.MediaVideo)
	f := newFixture(t, providerFunc(func(context.Context, []byte, models.MediaKind) (*vision.Result, error) {
		return &vision.Result{Valid: false, Message: msg}, nil
	}), Options{})
	ctx := context.Background()
	id := f.start(t, models.MediaVideo)
	f.engine.Drain()

	s, err := f.engine.GetJobStatus(ctx, id, f.owner)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, s.Status)
	assert.Equal(t, msg, s.Message)
	assert.Zero(t, s.ClusterCount)

	_, err = f.engine.ListClusters(ctx, id, f.owner)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	faces, err := f.store.ListFaces(ctx, models.FaceFilter{})
	require.NoError(t, err)
	assert.Empty(t, faces)
}

func TestRunZeroFacesFailsJob(t *testing.T) {
	f := newFixture(t, providerFunc(func(context.Context, []byte, models.MediaKind) (*vision.Result, error) {
		return &vision.Result{Valid: true, FaceCount: 0, Message: "nothing"}, nil
	}), Options{})
	id := f.start(t, models.MediaImage)
	f.engine.Drain()

	s, err := f.engine.GetJobStatus(context.Background(), id, f.owner)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, s.Status)
	assert.Equal(t, "nothing", s.Message)
}

func TestRunProviderErrorFailsJob(t *testing.T) {
	f := newFixture(t, providerFunc(func(context.Context, []byte, models.MediaKind) (*vision.Result, error) {
		return nil, errors.New("model crashed")
	}), Options{})
	id := f.start(t, models.MediaImage)
	f.engine.Drain()

	s, err := f.engine.GetJobStatus(context.Background(), id, f.owner)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, s.Status)
	assert.Contains(t, s.Message, "model crashed")
}

func TestRunWithoutProviderFailsJob(t *testing.T) {
	f := newFixture(t, nil, Options{})
	id := f.start(t, models.MediaVideo)
	f.engine.Drain()

	s, err := f.engine.GetJobStatus(context.Background(), id, f.owner)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, s.Status)
	assert.Contains(t, s.Message, "no face provider")
}

func TestRunTimeoutFailsJob(t *testing.T) {
	f := newFixture(t, providerFunc(func(ctx context.Context, _ []byte, _ models.MediaKind) (*vision.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), Options{Timeout: 20 * time.Millisecond})
	id := f.start(t, models.MediaVideo)
	f.engine.Drain()

	s, err := f.engine.GetJobStatus(context.Background(), id, f.owner)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, s.Status)
	assert.Equal(t, TimeoutMessage(20*time.Millisecond), s.Message)
}

func TestRunCancelledLeavesJobProcessing(t *testing.T) {
	d := &recordingDispatcher{}
	f := newFixture(t, providerFunc(func(ctx context.Context, _ []byte, _ models.MediaKind) (*vision.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), Options{Dispatcher: d, Timeout: time.Minute})
	id := f.start(t, models.MediaImage)
	require.Len(t, d.tasks, 1)
	assert.Equal(t, id, d.tasks[0].JobID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.engine.Run(ctx, id)
	assert.ErrorIs(t, err, context.Canceled)

	job, err := f.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, job.Status)
}

func TestRunTerminalJobIsNoop(t *testing.T) {
	calls := 0
	d := &recordingDispatcher{}
	f := newFixture(t, providerFunc(func(ctx context.Context, m []byte, k models.MediaKind) (*vision.Result, error) {
		calls++
		return twoClusters(ctx, m, k)
	}), Options{Dispatcher: d})
	id := f.start(t, models.MediaImage)
	ctx := context.Background()

	require.NoError(t, f.engine.Run(ctx, id))
	require.NoError(t, f.engine.Run(ctx, id))
	assert.Equal(t, 1, calls)

	job, err := f.store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.Status)
}

func TestDispatchFailureFailsJob(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("queue down")}
	f := newFixture(t, providerFunc(twoClusters), Options{Dispatcher: d})
	id := f.start(t, models.MediaImage)

	job, err := f.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, ScheduleMessage, job.ProcessingMessage)
}

func TestJobAccess(t *testing.T) {
	f := newFixture(t, providerFunc(twoClusters), Options{})
	ctx := context.Background()
	id := f.start(t, models.MediaImage)
	f.engine.Drain()

	stranger := models.NewUser("stranger", models.RoleUser)
	_, err := f.engine.GetJobStatus(ctx, id, stranger)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.engine.ListClusters(ctx, id, stranger)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.engine.GetFaceCrop(ctx, id, "cluster_0", 0, stranger)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.engine.GetJobStatus(ctx, id, models.NewUser("boss", models.RoleManager))
	assert.NoError(t, err)

	auditor := models.NewUser("auditor", models.RoleUser)
	auditor.Capabilities.CanViewAllData = true
	_, err = f.engine.GetJobStatus(ctx, id, auditor)
	assert.NoError(t, err)

	_, err = f.engine.GetJobStatus(ctx, uuid.New(), f.owner)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGetFaceCropBounds(t *testing.T) {
	f := newFixture(t, providerFunc(twoClusters), Options{})
	ctx := context.Background()
	id := f.start(t, models.MediaImage)
	f.engine.Drain()

	for _, idx := range []int{-1, 3} {
		_, err := f.engine.GetFaceCrop(ctx, id, "cluster_0", idx, f.owner)
		assert.ErrorIs(t, err, apperr.ErrNotFound, "index %d", idx)
	}
	_, err := f.engine.GetFaceCrop(ctx, id, "cluster_9", 0, f.owner)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListJobsScopesToOwner(t *testing.T) {
	f := newFixture(t, providerFunc(twoClusters), Options{Dispatcher: &recordingDispatcher{}})
	ctx := context.Background()
	f.start(t, models.MediaImage)

	other := models.NewUser("other", models.RoleUser)
	_, err := f.engine.StartJob(ctx, StartRequest{Media: []byte("m"), Kind: models.MediaImage, Uploader: other})
	require.NoError(t, err)

	mine, err := f.engine.ListJobs(ctx, f.owner, models.JobFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, f.owner.ID, mine[0].UploadedBy)

	all, err := f.engine.ListJobs(ctx, models.NewUser("admin", models.RoleAdmin), models.JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSweepStale(t *testing.T) {
	f := newFixture(t, providerFunc(twoClusters), Options{Dispatcher: &recordingDispatcher{}})
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.store.SetClock(func() time.Time { return base })
	id := f.start(t, models.MediaImage)

	f.engine.now = func() time.Time { return base.Add(5 * time.Minute) }
	ids, err := f.engine.SweepStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, ids)

	f.engine.now = func() time.Time { return base.Add(11 * time.Minute) }
	ids, err = f.engine.SweepStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, ids)

	job, err := f.store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, InterruptedMessage, job.ProcessingMessage)

	// a late continuation must not resurrect the job
	require.NoError(t, f.engine.Run(ctx, id))
	job, err = f.store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
}

func TestSortClusterIDs(t *testing.T) {
	ids := []string{"unknown", "cluster_10", "cluster_2", "other", "cluster_0"}
	sortClusterIDs(ids)
	assert.Equal(t, []string{"cluster_0", "cluster_2", "cluster_10", "other", "unknown"}, ids)
}
