package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/your-org/facegate/internal/access"
	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/storage"
)

func (s *Service) GetPerson(ctx context.Context, actor *models.User, ref models.PersonRef) (models.Person, error) {
	if err := access.Authorize(actor, access.Registry, access.ActionRead); err != nil {
		return nil, err
	}
	if !ref.Type.Valid() {
		return nil, eris.Wrapf(apperr.ErrMissingPersonType, "person type %q", ref.Type)
	}
	p, err := s.store.GetPerson(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}
	if p == nil {
		return nil, eris.Wrapf(apperr.ErrNotFound, "person %s", ref)
	}
	return p, nil
}

func (s *Service) ListPersons(ctx context.Context, actor *models.User, t models.PersonType, limit, offset int) ([]models.Person, error) {
	if err := access.Authorize(actor, access.Registry, access.ActionRead); err != nil {
		return nil, err
	}
	if !t.Valid() {
		return nil, eris.Wrapf(apperr.ErrMissingPersonType, "person type %q", t)
	}
	persons, err := s.store.ListPersons(ctx, t, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	return persons, nil
}

// DeletePerson removes a person. Its faces are re-parented to unknown and
// deactivated in the same transaction so none is left orphaned.
func (s *Service) DeletePerson(ctx context.Context, actor *models.User, ref models.PersonRef) (int, error) {
	if err := access.Authorize(actor, access.Registry, access.ActionManageFace); err != nil {
		return 0, err
	}
	if !ref.Type.Valid() {
		return 0, eris.Wrapf(apperr.ErrMissingPersonType, "person type %q", ref.Type)
	}
	var detached int
	err := s.store.WithTx(ctx, func(tx storage.Repo) error {
		p, err := tx.GetPersonForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if p == nil {
			return eris.Wrapf(apperr.ErrNotFound, "person %s", ref)
		}
		if detached, err = tx.DetachFaces(ctx, ref); err != nil {
			return err
		}
		return tx.DeletePerson(ctx, ref)
	})
	if err != nil {
		return 0, apperr.Aborted(err, "delete person")
	}
	slog.Info("person deleted", "person", ref.String(), "detached_faces", detached)
	return detached, nil
}

func (s *Service) GetFace(ctx context.Context, actor *models.User, id uuid.UUID) (*models.Face, error) {
	face, err := s.store.GetFace(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get face: %w", err)
	}
	if face == nil {
		return nil, eris.Wrapf(apperr.ErrNotFound, "face %s", id)
	}
	if err := access.Authorize(actor, access.Face(face), access.ActionRead); err != nil {
		return nil, err
	}
	return face, nil
}

// GetFaceImage returns the primary image bytes of a face.
func (s *Service) GetFaceImage(ctx context.Context, actor *models.User, id uuid.UUID) ([]byte, error) {
	face, err := s.GetFace(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	data, err := s.blobs.GetObject(ctx, face.ImageKey)
	if err != nil {
		return nil, fmt.Errorf("get face image: %w", err)
	}
	return data, nil
}

// ListFaces lists the actor's own uploads, or every face for an actor who
// may view all data.
func (s *Service) ListFaces(ctx context.Context, actor *models.User, filter models.FaceFilter) ([]models.Face, error) {
	if actor == nil {
		return nil, eris.Wrap(apperr.ErrForbidden, "anonymous listing")
	}
	if !actor.Elevated() && !actor.Capabilities.CanViewAllData {
		id := actor.ID
		filter.UploadedBy = &id
	}
	faces, err := s.store.ListFaces(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list faces: %w", err)
	}
	return faces, nil
}

// DeactivateFace soft-deletes a face. An owner pointing at it lets go.
func (s *Service) DeactivateFace(ctx context.Context, actor *models.User, id uuid.UUID) (*models.Face, error) {
	var out *models.Face
	err := s.store.WithTx(ctx, func(tx storage.Repo) error {
		face, err := tx.GetFaceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if face == nil {
			return eris.Wrapf(apperr.ErrNotFound, "face %s", id)
		}
		if err := access.Authorize(actor, access.Face(face), access.ActionManageFace); err != nil {
			return err
		}
		if ref, ok := face.Owner(); ok {
			p, err := tx.GetPersonForUpdate(ctx, ref)
			if err != nil {
				return err
			}
			if p != nil {
				if lf := p.LinkedFace(); lf != nil && *lf == face.ID {
					models.SetFace(p, nil)
					if err := tx.UpdatePerson(ctx, p); err != nil {
						return err
					}
				}
			}
		}
		face.Active = false
		if err := tx.UpdateFace(ctx, face); err != nil {
			return err
		}
		out = face
		return nil
	})
	if err != nil {
		return nil, apperr.Aborted(err, "deactivate face")
	}
	return out, nil
}
