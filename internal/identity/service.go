// Package identity manages the registry of employees, visitors and unknown
// persons, the faces linked to them, and the users who operate the system.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/your-org/facegate/internal/access"
	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/labeling"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/storage"
	"github.com/your-org/facegate/internal/vision"
)

// EventPublisher receives one event per recognition attempt.
type EventPublisher interface {
	PublishRecognition(ctx context.Context, ev models.RecognitionEvent) error
}

type Options struct {
	// Embedder may be nil; enrollment and recognition then fail with
	// apperr.ErrProviderFailure while the rest of the registry keeps working.
	Embedder  vision.FaceEmbedder
	Events    EventPublisher
	Threshold float64
}

type Service struct {
	store     storage.Store
	blobs     storage.BlobStore
	embedder  vision.FaceEmbedder
	events    EventPublisher
	threshold float64
	now       func() time.Time
}

func NewService(store storage.Store, blobs storage.BlobStore, opts Options) *Service {
	if opts.Threshold <= 0 {
		opts.Threshold = 0.4
	}
	return &Service{
		store:     store,
		blobs:     blobs,
		embedder:  opts.Embedder,
		events:    opts.Events,
		threshold: opts.Threshold,
		now:       time.Now,
	}
}

func (s *Service) embed(ctx context.Context, image []byte) (*vision.FaceSample, error) {
	if len(image) == 0 {
		return nil, eris.Wrap(apperr.ErrInvalidMedia, "empty image")
	}
	if s.embedder == nil {
		return nil, eris.Wrap(apperr.ErrProviderFailure, "face embedding is unavailable")
	}
	return s.embedder.EmbedFace(ctx, image)
}

// newFace stores image and returns an unsaved face carrying sample.
func (s *Service) newFace(ctx context.Context, image []byte, sample *vision.FaceSample, uploader *models.User) (*models.Face, error) {
	face := &models.Face{
		ID:                 uuid.New(),
		PersonType:         models.PersonUnknown,
		Active:             true,
		VerificationStatus: models.VerificationUnverified,
	}
	if uploader != nil {
		id := uploader.ID
		face.UploadedBy = &id
	}
	if sample != nil {
		face.Embedding = sample.Embedding
		face.Quality = sample.Confidence
		face.FeatureVersion = s.embedder.FeatureVersion()
	}
	face.ImageKey = storage.FaceImageKey(face.ID.String())
	if err := s.blobs.PutObject(ctx, face.ImageKey, image, "image/jpeg"); err != nil {
		return nil, fmt.Errorf("store face image: %w", err)
	}
	return face, nil
}

func (s *Service) markVerified(face *models.Face, by *models.User) {
	now := s.now().UTC()
	id := by.ID
	face.VerificationStatus = models.VerificationVerified
	face.VerifiedBy = &id
	face.VerificationDate = &now
}

type EmployeeInput struct {
	Name       string
	EmployeeID string
	Department string
	Image      []byte
}

type VisitorInput struct {
	Name      string
	Category  string
	IsRegular bool
	Image     []byte
}

// EnrollEmployee creates an employee and its verified face from one image.
func (s *Service) EnrollEmployee(ctx context.Context, actor *models.User, in EmployeeInput) (*models.Employee, *models.Face, error) {
	if err := access.Authorize(actor, access.Registry, access.ActionEnroll); err != nil {
		return nil, nil, err
	}
	name := labeling.NormalizeLabel(in.Name)
	if name == "" {
		return nil, nil, eris.Wrap(apperr.ErrInvalidInput, "name is required")
	}
	if in.EmployeeID == "" {
		return nil, nil, eris.Wrap(apperr.ErrInvalidInput, "employee_id is required")
	}
	emp := &models.Employee{
		PersonBase: models.PersonBase{ID: uuid.New(), Name: name, IsActive: true},
		EmployeeID: in.EmployeeID,
		Department: in.Department,
	}
	face, err := s.enroll(ctx, actor, emp, in.Image)
	if err != nil {
		return nil, nil, err
	}
	return emp, face, nil
}

// EnrollVisitor creates a visitor and its verified face from one image.
func (s *Service) EnrollVisitor(ctx context.Context, actor *models.User, in VisitorInput) (*models.Visitor, *models.Face, error) {
	if err := access.Authorize(actor, access.Registry, access.ActionEnroll); err != nil {
		return nil, nil, err
	}
	name := labeling.NormalizeLabel(in.Name)
	if name == "" {
		return nil, nil, eris.Wrap(apperr.ErrInvalidInput, "name is required")
	}
	v := &models.Visitor{
		PersonBase: models.PersonBase{ID: uuid.New(), Name: name, IsActive: true},
		Category:   in.Category,
		IsRegular:  in.IsRegular,
	}
	face, err := s.enroll(ctx, actor, v, in.Image)
	if err != nil {
		return nil, nil, err
	}
	return v, face, nil
}

func (s *Service) enroll(ctx context.Context, actor *models.User, person models.Person, image []byte) (*models.Face, error) {
	sample, err := s.embed(ctx, image)
	if err != nil {
		return nil, err
	}
	face, err := s.newFace(ctx, image, sample, actor)
	if err != nil {
		return nil, err
	}
	face.LinkTo(person.Ref())
	face.SelectedLabel = person.DisplayName()
	s.markVerified(face, actor)
	id := face.ID
	models.SetFace(person, &id)

	err = s.store.WithTx(ctx, func(tx storage.Repo) error {
		if err := tx.CreatePerson(ctx, person); err != nil {
			return err
		}
		return tx.CreateFace(ctx, face)
	})
	if err != nil {
		storage.DiscardObjects(ctx, s.blobs, face.ImageKey)
		return nil, apperr.Aborted(err, "enroll")
	}
	return face, nil
}

// SubmitFace stores an unverified, unlinked face uploaded by uploader. The
// embedding is filled in when an embedder is configured and finds a face.
func (s *Service) SubmitFace(ctx context.Context, uploader *models.User, image []byte) (*models.Face, error) {
	if uploader == nil {
		return nil, eris.Wrap(apperr.ErrForbidden, "anonymous upload")
	}
	if len(image) == 0 {
		return nil, eris.Wrap(apperr.ErrInvalidMedia, "empty image")
	}
	var sample *vision.FaceSample
	if s.embedder != nil {
		var err error
		if sample, err = s.embedder.EmbedFace(ctx, image); err != nil {
			return nil, err
		}
	}
	face, err := s.newFace(ctx, image, sample, uploader)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateFace(ctx, face); err != nil {
		storage.DiscardObjects(ctx, s.blobs, face.ImageKey)
		return nil, fmt.Errorf("create face: %w", err)
	}
	return face, nil
}
