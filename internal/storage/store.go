package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/models"
)

// Repo is the set of reads and writes available both inside and outside a
// transaction. Get* methods return (nil, nil) when the row does not exist.
type Repo interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	ListUsers(ctx context.Context) ([]models.User, error)

	CreateFace(ctx context.Context, f *models.Face) error
	GetFace(ctx context.Context, id uuid.UUID) (*models.Face, error)
	// GetFaceForUpdate locks the row until the surrounding transaction ends.
	GetFaceForUpdate(ctx context.Context, id uuid.UUID) (*models.Face, error)
	UpdateFace(ctx context.Context, f *models.Face) error
	ListFaces(ctx context.Context, filter models.FaceFilter) ([]models.Face, error)
	// SearchFaces returns active, owned, non-rejected faces whose cosine
	// similarity to embedding is at least threshold, best match first.
	SearchFaces(ctx context.Context, embedding []float32, threshold float64, limit int) ([]FaceMatch, error)
	// DetachFaces re-parents every face of ref to unknown and deactivates it.
	DetachFaces(ctx context.Context, ref models.PersonRef) (int, error)

	CreatePerson(ctx context.Context, p models.Person) error
	GetPerson(ctx context.Context, ref models.PersonRef) (models.Person, error)
	// GetPersonForUpdate locks the row until the surrounding transaction ends.
	GetPersonForUpdate(ctx context.Context, ref models.PersonRef) (models.Person, error)
	UpdatePerson(ctx context.Context, p models.Person) error
	// FindPersonByName does an exact name match, employees before visitors.
	FindPersonByName(ctx context.Context, name string) (models.Person, error)
	ListPersons(ctx context.Context, t models.PersonType, limit, offset int) ([]models.Person, error)
	DeletePerson(ctx context.Context, ref models.PersonRef) error

	CreateJob(ctx context.Context, j *models.ExtractionJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.ExtractionJob, error)
	GetJobForUpdate(ctx context.Context, id uuid.UUID) (*models.ExtractionJob, error)
	ListJobs(ctx context.Context, filter models.JobFilter) ([]models.ExtractionJob, error)
	// FinishJob applies the terminal transition. It fails with
	// apperr.ErrInvalidState when the job is no longer processing.
	FinishJob(ctx context.Context, id uuid.UUID, out models.JobOutcome) error
	UpdateJobClusters(ctx context.Context, id uuid.UUID, clusters []models.Cluster) error
	MarkJobLabeled(ctx context.Context, id uuid.UUID) error
	// FailStaleJobs fails processing jobs last touched before cutoff.
	FailStaleJobs(ctx context.Context, cutoff time.Time, message string) ([]uuid.UUID, error)
}

// Store is a Repo that can also run a function inside one transaction.
// If fn returns an error every write made through its Repo is rolled back.
type Store interface {
	Repo
	WithTx(ctx context.Context, fn func(Repo) error) error
	Ping(ctx context.Context) error
	Close()
}

type FaceMatch struct {
	FaceID     uuid.UUID         `json:"face_id"`
	PersonType models.PersonType `json:"person_type"`
	PersonID   *uuid.UUID        `json:"person_id,omitempty"`
	Score      float32           `json:"score"`
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
