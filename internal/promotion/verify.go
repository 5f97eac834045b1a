// Package promotion turns reviewed labels into identities: it verifies
// single faces and promotes labelled extraction clusters into faces linked
// to employees or visitors. Every decision commits in one transaction.
package promotion

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/your-org/facegate/internal/access"
	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/labeling"
	"github.com/your-org/facegate/internal/locks"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/storage"
)

type Service struct {
	store    storage.Store
	jobLocks *locks.Keyed
	now      func() time.Time
}

func NewService(store storage.Store, jobLocks *locks.Keyed) *Service {
	return &Service{store: store, jobLocks: jobLocks, now: time.Now}
}

type VerifyRequest struct {
	Decision      models.VerificationStatus
	SelectedLabel string
	PersonType    models.PersonType
	PersonID      *uuid.UUID
	// CreateNewPerson creates an Employee or Visitor named SelectedLabel.
	CreateNewPerson bool
	Note            string
}

// check validates the request shape before anything is read or written.
func (r *VerifyRequest) check() error {
	switch r.Decision {
	case models.VerificationRejected:
		return nil
	case models.VerificationVerified:
	default:
		return eris.Wrapf(apperr.ErrInvalidInput, "decision must be verified or rejected, got %q", r.Decision)
	}
	r.SelectedLabel = labeling.NormalizeLabel(r.SelectedLabel)
	if r.SelectedLabel == "" {
		return eris.Wrap(apperr.ErrMissingLabel, "a verified face needs a selected label")
	}
	if r.CreateNewPerson && r.PersonID != nil {
		return eris.Wrap(apperr.ErrInvalidInput, "create_new_person and person_id are mutually exclusive")
	}
	if (r.CreateNewPerson || r.PersonID != nil) && !r.PersonType.Known() {
		return eris.Wrapf(apperr.ErrMissingPersonType, "person type %q", r.PersonType)
	}
	return nil
}

// VerifyFace records a verification decision on a face. A verified face is
// linked to a new person, to an existing person, or (when neither is asked
// for) keeps the person it is already linked to.
func (s *Service) VerifyFace(ctx context.Context, faceID uuid.UUID, verifier *models.User, req VerifyRequest) (*models.Face, error) {
	if err := access.Authorize(verifier, access.Resource{Kind: "face", ID: faceID.String()}, access.ActionVerify); err != nil {
		return nil, err
	}
	if err := req.check(); err != nil {
		return nil, err
	}

	var out *models.Face
	err := s.store.WithTx(ctx, func(tx storage.Repo) error {
		face, err := tx.GetFaceForUpdate(ctx, faceID)
		if err != nil {
			return err
		}
		if face == nil {
			return eris.Wrapf(apperr.ErrNotFound, "face %s", faceID)
		}

		if req.Decision == models.VerificationVerified {
			person, err := s.resolveTarget(ctx, tx, face, req)
			if err != nil {
				return err
			}
			if err := linkFace(ctx, tx, face, person); err != nil {
				return err
			}
			face.SelectedLabel = req.SelectedLabel
		}

		now := s.now().UTC()
		verifierID := verifier.ID
		face.VerificationStatus = req.Decision
		face.VerifiedBy = &verifierID
		face.VerificationDate = &now
		face.VerificationNote = req.Note
		if err := tx.UpdateFace(ctx, face); err != nil {
			return err
		}
		out = face
		return nil
	})
	if err != nil {
		return nil, apperr.Aborted(err, "verify face")
	}
	observability.Promotions.WithLabelValues("verify", string(req.Decision)).Inc()
	return out, nil
}

func (s *Service) resolveTarget(ctx context.Context, tx storage.Repo, face *models.Face, req VerifyRequest) (models.Person, error) {
	switch {
	case req.CreateNewPerson:
		person, err := NewNamedPerson(req.PersonType, req.SelectedLabel)
		if err != nil {
			return nil, err
		}
		if err := tx.CreatePerson(ctx, person); err != nil {
			return nil, err
		}
		return person, nil
	case req.PersonID != nil:
		ref := models.PersonRef{Type: req.PersonType, ID: *req.PersonID}
		person, err := tx.GetPersonForUpdate(ctx, ref)
		if err != nil {
			return nil, err
		}
		if person == nil {
			return nil, eris.Wrapf(apperr.ErrNotFound, "person %s", ref)
		}
		return person, nil
	}

	ref, ok := face.Owner()
	if !ok || !ref.Type.Known() {
		return nil, eris.Wrap(apperr.ErrMissingPersonType, "face is not linked; pass create_new_person or person_id")
	}
	person, err := tx.GetPersonForUpdate(ctx, ref)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, eris.Wrapf(apperr.ErrNotFound, "person %s", ref)
	}
	return person, nil
}
