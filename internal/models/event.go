package models

import (
	"time"

	"github.com/google/uuid"
)

// ExtractionTask is the message published to NATS for worker processing.
// The job row carries everything else the worker needs.
type ExtractionTask struct {
	JobID      uuid.UUID `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// RecognitionEvent is emitted for every face presented to the recognize path.
type RecognitionEvent struct {
	Type       string     `json:"type"` // face_recognized, face_unknown
	FaceID     uuid.UUID  `json:"face_id"`
	Person     *PersonRef `json:"person,omitempty"`
	Name       string     `json:"name,omitempty"`
	Score      float32    `json:"score,omitempty"`
	DeviceID   string     `json:"device_id,omitempty"`
	Location   string     `json:"location,omitempty"`
	Blacklist  bool       `json:"blacklisted"`
	Timestamp  time.Time  `json:"timestamp"`
	Confidence float32    `json:"confidence"`
}

const (
	EventFaceRecognized = "face_recognized"
	EventFaceUnknown    = "face_unknown"
)
