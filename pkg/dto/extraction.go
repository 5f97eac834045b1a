package dto

import (
	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/models"
)

type StartExtractionResponse struct {
	Success bool      `json:"success"`
	JobID   uuid.UUID `json:"job_id"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
}

type ProposeLabelRequest struct {
	Label      string  `json:"label" binding:"required"`
	Confidence float32 `json:"confidence"`
}

type ProposeLabelResponse struct {
	Success        bool             `json:"success"`
	Message        string           `json:"message"`
	ProposedLabels models.Proposals `json:"proposed_labels"`
}

type JobQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}
