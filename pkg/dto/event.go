package dto

import "github.com/your-org/facegate/internal/models"

// WSEvent is a WebSocket message for real-time recognition delivery.
type WSEvent struct {
	Type string                  `json:"type"` // face_recognized, face_unknown
	Data models.RecognitionEvent `json:"data"`
}

func NewWSEvent(ev models.RecognitionEvent) *WSEvent {
	return &WSEvent{Type: ev.Type, Data: ev}
}

// Ack is the body of every mutating endpoint without a richer response.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}
