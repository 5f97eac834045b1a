package models

import (
	"time"

	"github.com/google/uuid"
)

type PersonType string

const (
	PersonEmployee PersonType = "employee"
	PersonVisitor  PersonType = "visitor"
	PersonUnknown  PersonType = "unknown"
)

func (t PersonType) Valid() bool {
	switch t {
	case PersonEmployee, PersonVisitor, PersonUnknown:
		return true
	}
	return false
}

// Known reports whether the type names a resolved identity.
func (t PersonType) Known() bool {
	return t == PersonEmployee || t == PersonVisitor
}

// PersonRef is the discriminated reference a Face holds to its owner.
type PersonRef struct {
	Type PersonType `json:"type"`
	ID   uuid.UUID  `json:"id"`
}

func (r PersonRef) String() string {
	return string(r.Type) + "/" + r.ID.String()
}

// Person is the closed union of Employee, Visitor and UnknownPerson.
type Person interface {
	Ref() PersonRef
	DisplayName() string
	LinkedFace() *uuid.UUID
	base() *PersonBase
}

// PersonBase holds the fields every identity carries.
type PersonBase struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Name          string     `json:"name" db:"name"`
	FaceID        *uuid.UUID `json:"face_id,omitempty" db:"face_id"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	IsBlacklisted bool       `json:"is_blacklisted" db:"is_blacklisted"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

func (b *PersonBase) DisplayName() string    { return b.Name }
func (b *PersonBase) LinkedFace() *uuid.UUID { return b.FaceID }
func (b *PersonBase) base() *PersonBase      { return b }

// SetFace updates the face back-reference of any person.
func SetFace(p Person, faceID *uuid.UUID) {
	p.base().FaceID = faceID
}

type AttendanceEntry struct {
	Kind     string    `json:"kind"` // check_in, check_out
	At       time.Time `json:"at"`
	DeviceID string    `json:"device_id,omitempty"`
	Location string    `json:"location,omitempty"`
}

type Employee struct {
	PersonBase
	EmployeeID string            `json:"employee_id" db:"employee_id"`
	Department string            `json:"department" db:"department"`
	Attendance []AttendanceEntry `json:"attendance" db:"attendance"`
}

func (e *Employee) Ref() PersonRef { return PersonRef{Type: PersonEmployee, ID: e.ID} }

type VisitEntry struct {
	At       time.Time `json:"at"`
	DeviceID string    `json:"device_id,omitempty"`
	Location string    `json:"location,omitempty"`
	Purpose  string    `json:"purpose,omitempty"`
}

type Visitor struct {
	PersonBase
	Category  string       `json:"category" db:"category"`
	IsRegular bool         `json:"is_regular" db:"is_regular"`
	Visits    []VisitEntry `json:"visits" db:"visits"`
}

func (v *Visitor) Ref() PersonRef { return PersonRef{Type: PersonVisitor, ID: v.ID} }

type ThreatLevel string

const (
	ThreatLow    ThreatLevel = "low"
	ThreatMedium ThreatLevel = "medium"
	ThreatHigh   ThreatLevel = "high"
)

type ResolutionStatus string

const (
	ResolutionUnresolved ResolutionStatus = "unresolved"
	ResolutionResolved   ResolutionStatus = "resolved"
)

type Detection struct {
	At         time.Time `json:"at"`
	Confidence float32   `json:"confidence"`
	Location   string    `json:"location,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`
}

type UnknownPerson struct {
	PersonBase
	Detections  []Detection      `json:"detections" db:"detections"`
	ThreatLevel ThreatLevel      `json:"threat_level" db:"threat_level"`
	Resolution  ResolutionStatus `json:"resolution_status" db:"resolution_status"`
}

func (u *UnknownPerson) Ref() PersonRef { return PersonRef{Type: PersonUnknown, ID: u.ID} }

// ClonePerson returns a deep copy so callers can mutate without aliasing storage.
func ClonePerson(p Person) Person {
	switch v := p.(type) {
	case *Employee:
		c := *v
		c.FaceID = cloneID(v.FaceID)
		c.Attendance = append([]AttendanceEntry(nil), v.Attendance...)
		return &c
	case *Visitor:
		c := *v
		c.FaceID = cloneID(v.FaceID)
		c.Visits = append([]VisitEntry(nil), v.Visits...)
		return &c
	case *UnknownPerson:
		c := *v
		c.FaceID = cloneID(v.FaceID)
		c.Detections = append([]Detection(nil), v.Detections...)
		return &c
	}
	return nil
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
