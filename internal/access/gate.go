// Package access decides whether an actor may perform an action on a face,
// an extraction job, or the identity registry. Every check is a pure function
// of its inputs: it reads nothing and writes nothing, so callers can evaluate
// it before touching storage.
package access

import (
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
)

type Action string

const (
	// ActionRead covers job status, cluster listings, crops and face detail.
	ActionRead Action = "read"
	// ActionLabel is proposing a label on a face or cluster.
	ActionLabel Action = "label"
	// ActionVerify is VerifyFace.
	ActionVerify Action = "verify"
	// ActionComplete is CompleteExtractionLabeling.
	ActionComplete Action = "complete"
	// ActionManageFace covers deactivating faces and deleting persons.
	ActionManageFace Action = "manage_face"
	// ActionEnroll is creating employees and visitors from an image.
	ActionEnroll Action = "enroll"
	// ActionRecognize is presenting a face to the recognize path.
	ActionRecognize Action = "recognize"
	// ActionManageUsers covers user creation, role and capability changes.
	ActionManageUsers Action = "manage_users"
)

// Resource identifies what an action targets. OwnerID is the uploader of a
// face or job; nil means the resource has no owner (system-created).
type Resource struct {
	Kind    string
	ID      string
	OwnerID *uuid.UUID
}

func Job(j *models.ExtractionJob) Resource {
	owner := j.UploadedBy
	return Resource{Kind: "job", ID: j.ID.String(), OwnerID: &owner}
}

func Face(f *models.Face) Resource {
	return Resource{Kind: "face", ID: f.ID.String(), OwnerID: f.UploadedBy}
}

// Registry is the target for enrollment, recognition and user management.
var Registry = Resource{Kind: "registry"}

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed bool
	Rule    string
}

// Evaluate applies the rules in order; the first rule that grants wins.
// Anything not granted is denied.
func Evaluate(actor *models.User, res Resource, action Action) Decision {
	if actor == nil {
		return Decision{Rule: "anonymous"}
	}
	caps := actor.Capabilities
	owner := res.OwnerID != nil && *res.OwnerID == actor.ID
	elevated := actor.Elevated()

	switch action {
	case ActionRead, ActionLabel:
		switch {
		case owner:
			return Decision{Allowed: true, Rule: "owner"}
		case elevated:
			return Decision{Allowed: true, Rule: "role"}
		case caps.CanViewAllData:
			return Decision{Allowed: true, Rule: "can_view_all_data"}
		}
	case ActionVerify:
		if caps.CanVerifyFaces {
			return Decision{Allowed: true, Rule: "can_verify_faces"}
		}
	case ActionComplete:
		switch {
		case owner:
			return Decision{Allowed: true, Rule: "owner"}
		case caps.CanVerifyFaces:
			return Decision{Allowed: true, Rule: "can_verify_faces"}
		case elevated:
			return Decision{Allowed: true, Rule: "role"}
		}
	case ActionManageFace:
		switch {
		case owner:
			return Decision{Allowed: true, Rule: "owner"}
		case caps.CanManageAllFaces:
			return Decision{Allowed: true, Rule: "can_manage_all_faces"}
		case actor.Role == models.RoleAdmin:
			return Decision{Allowed: true, Rule: "role"}
		}
	case ActionEnroll:
		if caps.CanManageAllFaces || elevated {
			return Decision{Allowed: true, Rule: "can_manage_all_faces"}
		}
	case ActionRecognize:
		return Decision{Allowed: true, Rule: "authenticated"}
	case ActionManageUsers:
		if caps.CanManageUsers {
			return Decision{Allowed: true, Rule: "can_manage_users"}
		}
	}
	return Decision{Rule: "no matching rule"}
}

// Authorize returns nil when allowed and a wrapped apperr.ErrForbidden otherwise.
func Authorize(actor *models.User, res Resource, action Action) error {
	if d := Evaluate(actor, res, action); d.Allowed {
		return nil
	}
	if res.ID != "" {
		return eris.Wrapf(apperr.ErrForbidden, "%s on %s %s", action, res.Kind, res.ID)
	}
	return eris.Wrapf(apperr.ErrForbidden, "%s on %s", action, res.Kind)
}

// CanSelectLabel reports whether the actor's proposals overwrite the
// selected label directly instead of waiting for verification.
func CanSelectLabel(actor *models.User) bool {
	return actor != nil && (actor.Capabilities.CanVerifyFaces || actor.Elevated())
}
