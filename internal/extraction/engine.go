// Package extraction owns extraction jobs: it accepts an upload, runs the
// face feature provider in the background and records the outcome as
// clusters on the job.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/facegate/internal/access"
	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/storage"
	"github.com/your-org/facegate/internal/vision"
)

const (
	InterruptedMessage  = "Face extraction was interrupted before it finished. Please upload the file again."
	ScheduleMessage     = "Face extraction could not be scheduled. Please upload the file again."
	MissingMediaMessage = "The uploaded file is no longer available."
	StorageMessage      = "Extracted faces could not be stored."

	cropUploadConcurrency = 8
)

// TimeoutMessage is recorded on a job whose provider call ran past limit.
func TimeoutMessage(limit time.Duration) string {
	return fmt.Sprintf("Face extraction timed out after %s.", limit)
}

type Options struct {
	Timeout time.Duration
	Workers int
	// Dispatcher runs continuations elsewhere (a work queue). Nil runs them
	// on an in-process pool owned by the engine.
	Dispatcher Dispatcher
}

type Engine struct {
	store      storage.Store
	blobs      storage.BlobStore
	provider   vision.Provider
	dispatcher Dispatcher
	pool       *Pool
	timeout    time.Duration
	now        func() time.Time
}

func NewEngine(store storage.Store, blobs storage.BlobStore, provider vision.Provider, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	e := &Engine{
		store:      store,
		blobs:      blobs,
		provider:   provider,
		dispatcher: opts.Dispatcher,
		timeout:    opts.Timeout,
		now:        time.Now,
	}
	if e.dispatcher == nil {
		e.pool = NewPool(opts.Workers, e.Run)
		e.dispatcher = e.pool
	}
	return e
}

// Drain waits for in-process continuations. It is a no-op with an external
// dispatcher.
func (e *Engine) Drain() {
	if e.pool != nil {
		e.pool.Drain()
	}
}

func (e *Engine) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}

type StartRequest struct {
	Media     []byte
	Kind      models.MediaKind
	FileName  string
	Uploader  *models.User
	SessionID string
}

// StartJob stores the upload, creates the job in processing and schedules
// the continuation. It returns as soon as the job exists.
func (e *Engine) StartJob(ctx context.Context, req StartRequest) (uuid.UUID, error) {
	if len(req.Media) == 0 {
		return uuid.Nil, eris.Wrap(apperr.ErrInvalidMedia, "empty upload")
	}
	if !req.Kind.Valid() {
		return uuid.Nil, eris.Wrapf(apperr.ErrInvalidMedia, "unsupported file type %q", req.Kind)
	}
	if req.Uploader == nil {
		return uuid.Nil, eris.Wrap(apperr.ErrForbidden, "anonymous upload")
	}

	job := &models.ExtractionJob{
		ID:         uuid.New(),
		FileID:     uuid.New(),
		FileName:   req.FileName,
		FileType:   req.Kind,
		UploadedBy: req.Uploader.ID,
		SessionID:  req.SessionID,
		Status:     models.JobProcessing,
	}
	job.SourceKey = storage.UploadKey(job.ID.String(), req.FileName)

	if err := e.blobs.PutObject(ctx, job.SourceKey, req.Media, contentType(req.Kind)); err != nil {
		return uuid.Nil, fmt.Errorf("store upload: %w", err)
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		storage.DiscardObjects(ctx, e.blobs, job.SourceKey)
		return uuid.Nil, fmt.Errorf("create job: %w", err)
	}
	observability.JobsStarted.WithLabelValues(string(req.Kind)).Inc()
	slog.Info("extraction job created", "job_id", job.ID, "file_type", req.Kind, "uploaded_by", req.Uploader.ID)

	task := models.ExtractionTask{JobID: job.ID, EnqueuedAt: e.now()}
	if err := e.dispatcher.Dispatch(ctx, task); err != nil {
		slog.Error("dispatch extraction", "job_id", job.ID, "error", err)
		if ferr := e.finish(ctx, job.ID, models.JobOutcome{Status: models.JobFailed, Message: ScheduleMessage}, "dispatch"); ferr != nil {
			slog.Error("fail undispatched job", "job_id", job.ID, "error", ferr)
		}
	}
	return job.ID, nil
}

func contentType(kind models.MediaKind) string {
	if kind == models.MediaVideo {
		return "video/mp4"
	}
	return "image/jpeg"
}

// Run is the background continuation for one job. Outcomes are recorded on
// the job; the returned error is reserved for infrastructure failures and
// for a cancelled ctx, which leaves the job processing.
func (e *Engine) Run(ctx context.Context, jobID uuid.UUID) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return eris.Wrapf(apperr.ErrNotFound, "job %s", jobID)
	}
	if job.Status.Terminal() {
		slog.Debug("extraction job already finished", "job_id", jobID, "status", job.Status)
		return nil
	}

	media, err := e.blobs.GetObject(ctx, job.SourceKey)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("load upload", "job_id", jobID, "key", job.SourceKey, "error", err)
		return e.finish(ctx, jobID, models.JobOutcome{Status: models.JobFailed, Message: MissingMediaMessage}, "media")
	}

	if e.provider == nil {
		return e.finish(ctx, jobID, models.JobOutcome{Status: models.JobFailed, Message: providerMessage(errNoProvider)}, "provider")
	}

	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, e.timeout)
	res, err := e.provider.Extract(pctx, media, job.FileType)
	timedOut := errors.Is(pctx.Err(), context.DeadlineExceeded)
	cancel()
	observability.ProviderDuration.WithLabelValues(string(job.FileType)).Observe(time.Since(start).Seconds())

	switch {
	case ctx.Err() != nil:
		slog.Warn("extraction interrupted", "job_id", jobID)
		return ctx.Err()
	case timedOut:
		return e.finish(ctx, jobID, models.JobOutcome{Status: models.JobFailed, Message: TimeoutMessage(e.timeout)}, "timeout")
	case err != nil:
		slog.Warn("provider failed", "job_id", jobID, "error", err)
		return e.finish(ctx, jobID, models.JobOutcome{Status: models.JobFailed, Message: providerMessage(err)}, "provider")
	case res == nil:
		return e.finish(ctx, jobID, models.JobOutcome{Status: models.JobFailed, Message: providerMessage(nil)}, "provider")
	case !res.Valid || res.FaceCount == 0:
		return e.finish(ctx, jobID, models.JobOutcome{Status: models.JobFailed, Message: res.Message}, "no_faces")
	}

	clusters, stored, err := e.storeCrops(ctx, jobID, res)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("store crops", "job_id", jobID, "error", err)
		return e.finish(ctx, jobID, models.JobOutcome{Status: models.JobFailed, Message: StorageMessage}, "storage")
	}
	if stored == 0 {
		return e.finish(ctx, jobID, models.JobOutcome{Status: models.JobFailed, Message: vision.NoFacesMessage(job.FileType)}, "no_faces")
	}

	msg := res.Message
	if msg == "" {
		msg = vision.SuccessMessage(res.FaceCount, job.FileType)
	}
	observability.FacesExtracted.Add(float64(stored))
	return e.finish(ctx, jobID, models.JobOutcome{
		Status:     models.JobCompleted,
		Message:    msg,
		FacesCount: res.FaceCount,
		Clusters:   clusters,
	}, "ok")
}

// finish applies the terminal write. Losing the race to another writer
// (the stale sweep, a redelivered task) is not an error.
func (e *Engine) finish(ctx context.Context, jobID uuid.UUID, out models.JobOutcome, reason string) error {
	if err := e.store.FinishJob(ctx, jobID, out); err != nil {
		if errors.Is(err, apperr.ErrInvalidState) {
			slog.Warn("extraction job already finished", "job_id", jobID, "wanted", out.Status)
			return nil
		}
		return fmt.Errorf("finish job: %w", err)
	}
	observability.JobsFinished.WithLabelValues(string(out.Status), reason).Inc()
	slog.Info("extraction job finished", "job_id", jobID, "status", out.Status, "faces", out.FacesCount, "message", out.Message)
	return nil
}

var errNoProvider = eris.Wrap(apperr.ErrProviderFailure, "no face provider is configured")

func providerMessage(err error) string {
	if err == nil {
		return "Face extraction failed: the provider returned no result."
	}
	return "Face extraction failed: " + err.Error()
}

// storeCrops uploads every crop and returns the clusters in display order:
// numbered clusters first, unknown last.
func (e *Engine) storeCrops(ctx context.Context, jobID uuid.UUID, res *vision.Result) ([]models.Cluster, int, error) {
	ids := make([]string, 0, len(res.Clusters))
	for id, crops := range res.Clusters {
		if len(crops) > 0 {
			ids = append(ids, id)
		}
	}
	sortClusterIDs(ids)

	clusters := make([]models.Cluster, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cropUploadConcurrency)
	stored := 0
	for ci, id := range ids {
		crops := res.Clusters[id]
		faces := make([]models.FaceCrop, len(crops))
		for i, c := range crops {
			key := storage.CropKey(jobID.String(), id, i)
			faces[i] = models.FaceCrop{Key: key, Confidence: c.Confidence, Embedding: c.Embedding}
			img := c.Image
			g.Go(func() error {
				return e.blobs.PutObject(gctx, key, img, "image/jpeg")
			})
		}
		rep := faces[0]
		clusters[ci] = models.Cluster{ID: id, Faces: faces, Representative: &rep}
		stored += len(faces)
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return clusters, stored, nil
}

func sortClusterIDs(ids []string) {
	rank := func(id string) (int, int) {
		if id == vision.UnknownCluster {
			return 2, 0
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(id, "cluster_")); err == nil && strings.HasPrefix(id, "cluster_") {
			return 0, n
		}
		return 1, 0
	}
	sort.Slice(ids, func(i, j int) bool {
		gi, ni := rank(ids[i])
		gj, nj := rank(ids[j])
		if gi != gj {
			return gi < gj
		}
		if ni != nj {
			return ni < nj
		}
		return ids[i] < ids[j]
	})
}

// Summary is the status view of a job.
type Summary struct {
	ID           uuid.UUID        `json:"id"`
	FileID       uuid.UUID        `json:"file_id"`
	FileName     string           `json:"file_name"`
	FileType     models.MediaKind `json:"file_type"`
	Status       models.JobStatus `json:"status"`
	Message      string           `json:"message"`
	FacesCount   int              `json:"faces_count"`
	ClusterCount int              `json:"cluster_count"`
	IsLabeled    bool             `json:"is_labeled"`
	UploadedBy   uuid.UUID        `json:"uploaded_by"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func summarize(j *models.ExtractionJob) Summary {
	return Summary{
		ID:           j.ID,
		FileID:       j.FileID,
		FileName:     j.FileName,
		FileType:     j.FileType,
		Status:       j.Status,
		Message:      j.ProcessingMessage,
		FacesCount:   j.FacesCount,
		ClusterCount: len(j.Clusters),
		IsLabeled:    j.IsLabeled,
		UploadedBy:   j.UploadedBy,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

// ClusterView describes a cluster without its image bytes.
type ClusterView struct {
	ID             string           `json:"cluster_id"`
	FaceCount      int              `json:"face_count"`
	Confidences    []float32        `json:"confidences"`
	ProposedLabels models.Proposals `json:"proposed_labels"`
	SelectedLabel  string           `json:"selected_label,omitempty"`
}

// loadJob fetches a job and checks action against requester.
func (e *Engine) loadJob(ctx context.Context, jobID uuid.UUID, requester *models.User, action access.Action) (*models.ExtractionJob, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return nil, eris.Wrapf(apperr.ErrNotFound, "job %s", jobID)
	}
	if err := access.Authorize(requester, access.Job(job), action); err != nil {
		return nil, err
	}
	return job, nil
}

func (e *Engine) GetJobStatus(ctx context.Context, jobID uuid.UUID, requester *models.User) (*Summary, error) {
	job, err := e.loadJob(ctx, jobID, requester, access.ActionRead)
	if err != nil {
		return nil, err
	}
	s := summarize(job)
	return &s, nil
}

func (e *Engine) ListClusters(ctx context.Context, jobID uuid.UUID, requester *models.User) ([]ClusterView, error) {
	job, err := e.loadJob(ctx, jobID, requester, access.ActionRead)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobCompleted {
		return nil, eris.Wrapf(apperr.ErrInvalidState, "job %s is %s", jobID, job.Status)
	}
	views := make([]ClusterView, 0, len(job.Clusters))
	for _, c := range job.Clusters {
		conf := make([]float32, len(c.Faces))
		for i, f := range c.Faces {
			conf[i] = f.Confidence
		}
		views = append(views, ClusterView{
			ID:             c.ID,
			FaceCount:      len(c.Faces),
			Confidences:    conf,
			ProposedLabels: c.ProposedLabels,
			SelectedLabel:  c.SelectedLabel,
		})
	}
	return views, nil
}

// GetFaceCrop returns the JPEG bytes of one crop in a cluster.
func (e *Engine) GetFaceCrop(ctx context.Context, jobID uuid.UUID, clusterID string, index int, requester *models.User) ([]byte, error) {
	job, err := e.loadJob(ctx, jobID, requester, access.ActionRead)
	if err != nil {
		return nil, err
	}
	cluster, ok := job.Cluster(clusterID)
	if !ok {
		return nil, eris.Wrapf(apperr.ErrNotFound, "cluster %s in job %s", clusterID, jobID)
	}
	if index < 0 || index >= len(cluster.Faces) {
		return nil, eris.Wrapf(apperr.ErrNotFound, "face %d in cluster %s", index, clusterID)
	}
	data, err := e.blobs.GetObject(ctx, cluster.Faces[index].Key)
	if err != nil {
		return nil, fmt.Errorf("get crop: %w", err)
	}
	return data, nil
}

// ListJobs returns the requester's own jobs, or every job for a requester
// who may view all data.
func (e *Engine) ListJobs(ctx context.Context, requester *models.User, filter models.JobFilter) ([]Summary, error) {
	if requester == nil {
		return nil, eris.Wrap(apperr.ErrForbidden, "anonymous listing")
	}
	if !requester.Elevated() && !requester.Capabilities.CanViewAllData {
		id := requester.ID
		filter.UploadedBy = &id
	}
	jobs, err := e.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]Summary, len(jobs))
	for i := range jobs {
		out[i] = summarize(&jobs[i])
	}
	return out, nil
}

// SweepStale fails jobs that have been processing for longer than olderThan.
func (e *Engine) SweepStale(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	ids, err := e.store.FailStaleJobs(ctx, e.now().Add(-olderThan), InterruptedMessage)
	if err != nil {
		return nil, fmt.Errorf("sweep stale jobs: %w", err)
	}
	if len(ids) > 0 {
		observability.JobsFinished.WithLabelValues(string(models.JobFailed), "stale").Add(float64(len(ids)))
		slog.Warn("failed stale extraction jobs", "count", len(ids))
	}
	return ids, nil
}

// RunSweeper calls SweepStale every interval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context, interval, olderThan time.Duration) {
	if interval <= 0 {
		slog.Warn("stale sweeper disabled", "interval", interval)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.SweepStale(ctx, olderThan); err != nil && ctx.Err() == nil {
				slog.Error("stale sweep", "error", err)
			}
		}
	}
}
