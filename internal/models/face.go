package models

import (
	"time"

	"github.com/google/uuid"
)

type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationVerified   VerificationStatus = "verified"
	VerificationRejected   VerificationStatus = "rejected"
)

// FeatureVersion tags vectors produced by the bundled embedding model.
const FeatureVersion = "arcface-w600k-r50"

type FaceImage struct {
	Key   string `json:"key"`
	Angle string `json:"angle"`
}

type Face struct {
	ID                 uuid.UUID          `json:"id" db:"id"`
	ImageKey           string             `json:"image_key" db:"image_key"`
	AdditionalImages   []FaceImage        `json:"additional_images" db:"additional_images"`
	Embedding          []float32          `json:"-" db:"embedding"`
	FeatureVersion     string             `json:"feature_version" db:"feature_version"`
	Quality            float32            `json:"quality" db:"quality"`
	PersonType         PersonType         `json:"person_type" db:"person_type"`
	PersonID           *uuid.UUID         `json:"person_id,omitempty" db:"person_id"`
	Active             bool               `json:"active" db:"active"`
	VerificationStatus VerificationStatus `json:"verification_status" db:"verification_status"`
	UploadedBy         *uuid.UUID         `json:"uploaded_by,omitempty" db:"uploaded_by"`
	VerifiedBy         *uuid.UUID         `json:"verified_by,omitempty" db:"verified_by"`
	VerificationDate   *time.Time         `json:"verification_date,omitempty" db:"verification_date"`
	VerificationNote   string             `json:"verification_note,omitempty" db:"verification_note"`
	ProposedLabels     Proposals          `json:"proposed_labels" db:"proposed_labels"`
	SelectedLabel      string             `json:"selected_label,omitempty" db:"selected_label"`
	SourceJobID        *uuid.UUID         `json:"source_job_id,omitempty" db:"source_job_id"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// Owner returns the linked person, or false while the face is unresolved.
func (f *Face) Owner() (PersonRef, bool) {
	if f.PersonID == nil || !f.PersonType.Valid() {
		return PersonRef{}, false
	}
	return PersonRef{Type: f.PersonType, ID: *f.PersonID}, true
}

// LinkTo points the face at a person.
func (f *Face) LinkTo(ref PersonRef) {
	id := ref.ID
	f.PersonType = ref.Type
	f.PersonID = &id
}

// Detach re-parents the face to no one and deactivates it.
func (f *Face) Detach() {
	f.PersonType = PersonUnknown
	f.PersonID = nil
	f.Active = false
}

// FaceFilter narrows ListFaces. Zero values mean "any".
type FaceFilter struct {
	UploadedBy         *uuid.UUID
	VerificationStatus VerificationStatus
	Person             *PersonRef
	ActiveOnly         bool
	Limit              int
	Offset             int
}

func (f *Face) Clone() *Face {
	c := *f
	c.AdditionalImages = append([]FaceImage(nil), f.AdditionalImages...)
	c.Embedding = append([]float32(nil), f.Embedding...)
	c.ProposedLabels = f.ProposedLabels.Clone()
	c.PersonID = cloneID(f.PersonID)
	c.UploadedBy = cloneID(f.UploadedBy)
	c.VerifiedBy = cloneID(f.VerifiedBy)
	c.SourceJobID = cloneID(f.SourceJobID)
	if f.VerificationDate != nil {
		t := *f.VerificationDate
		c.VerificationDate = &t
	}
	return &c
}
