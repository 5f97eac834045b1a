package dto

import (
	"github.com/google/uuid"
)

type VerifyFaceRequest struct {
	Decision        string     `json:"decision" binding:"required,oneof=verified rejected"`
	SelectedLabel   string     `json:"selected_label"`
	PersonType      string     `json:"person_type"`
	PersonID        *uuid.UUID `json:"person_id,omitempty"`
	CreateNewPerson bool       `json:"create_new_person"`
	Note            string     `json:"note"`
}

// EnrollEmployeeForm is bound from multipart fields next to the "image" file.
type EnrollEmployeeForm struct {
	Name       string `form:"name" binding:"required"`
	EmployeeID string `form:"employee_id" binding:"required"`
	Department string `form:"department"`
}

type EnrollVisitorForm struct {
	Name      string `form:"name" binding:"required"`
	Category  string `form:"category"`
	IsRegular bool   `form:"is_regular"`
}

type RecognizeForm struct {
	DeviceID string `form:"device_id"`
	Location string `form:"location"`
}

type PageQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

type FaceQuery struct {
	VerificationStatus string `form:"verification_status"`
	ActiveOnly         bool   `form:"active_only"`
	Limit              int    `form:"limit"`
	Offset             int    `form:"offset"`
}
