package promotion

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/storage"
)

// NewNamedPerson builds an active Employee or Visitor called name.
// Employees get a generated employee number.
func NewNamedPerson(t models.PersonType, name string) (models.Person, error) {
	base := models.PersonBase{ID: uuid.New(), Name: name, IsActive: true}
	switch t {
	case models.PersonEmployee:
		return &models.Employee{
			PersonBase: base,
			EmployeeID: "EMP-" + strings.ToUpper(base.ID.String()[:8]),
		}, nil
	case models.PersonVisitor:
		return &models.Visitor{PersonBase: base}, nil
	}
	return nil, eris.Wrapf(apperr.ErrMissingPersonType, "cannot create a person of type %q", t)
}

// linkFace makes face and person point at each other. The person's
// previous face is deactivated; the face's previous owner lets go of it,
// and an unknown owner is marked resolved. face itself is not saved.
func linkFace(ctx context.Context, tx storage.Repo, face *models.Face, person models.Person) error {
	ref := person.Ref()

	if prev, ok := face.Owner(); ok && prev != ref {
		owner, err := tx.GetPersonForUpdate(ctx, prev)
		if err != nil {
			return fmt.Errorf("load previous owner: %w", err)
		}
		if owner != nil {
			if lf := owner.LinkedFace(); lf != nil && *lf == face.ID {
				models.SetFace(owner, nil)
			}
			if u, ok := owner.(*models.UnknownPerson); ok {
				u.Resolution = models.ResolutionResolved
			}
			if err := tx.UpdatePerson(ctx, owner); err != nil {
				return fmt.Errorf("release previous owner: %w", err)
			}
		}
	}

	if old := person.LinkedFace(); old != nil && *old != face.ID {
		oldFace, err := tx.GetFaceForUpdate(ctx, *old)
		if err != nil {
			return fmt.Errorf("load superseded face: %w", err)
		}
		if oldFace != nil && oldFace.Active {
			oldFace.Active = false
			if err := tx.UpdateFace(ctx, oldFace); err != nil {
				return fmt.Errorf("deactivate superseded face: %w", err)
			}
		}
	}

	id := face.ID
	models.SetFace(person, &id)
	if err := tx.UpdatePerson(ctx, person); err != nil {
		return fmt.Errorf("link person: %w", err)
	}
	face.LinkTo(ref)
	face.Active = true
	return nil
}
