package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/access"
	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/storage"
)

type RecognizeInput struct {
	Image    []byte
	DeviceID string
	Location string
}

type Recognition struct {
	Matched bool                    `json:"matched"`
	FaceID  uuid.UUID               `json:"face_id"`
	Person  *models.PersonRef       `json:"person,omitempty"`
	Name    string                  `json:"name,omitempty"`
	Score   float32                 `json:"score,omitempty"`
	Event   models.RecognitionEvent `json:"event"`
}

// Recognize matches a presented face against active faces. A match logs
// attendance, a visit or a detection on the owner; no match creates a face
// and an UnknownPerson for it. Every attempt is published as an event.
func (s *Service) Recognize(ctx context.Context, actor *models.User, in RecognizeInput) (*Recognition, error) {
	if err := access.Authorize(actor, access.Registry, access.ActionRecognize); err != nil {
		return nil, err
	}
	sample, err := s.embed(ctx, in.Image)
	if err != nil {
		return nil, err
	}

	matches, err := s.store.SearchFaces(ctx, sample.Embedding, s.threshold, 1)
	if err != nil {
		return nil, fmt.Errorf("search faces: %w", err)
	}

	var rec *Recognition
	if len(matches) > 0 && matches[0].PersonID != nil {
		rec, err = s.logSighting(ctx, matches[0], sample.Confidence, in)
	} else {
		rec, err = s.registerUnknown(ctx, actor, in, sample.Embedding, sample.Confidence)
	}
	if err != nil {
		return nil, err
	}

	outcome := "unknown"
	if rec.Matched {
		outcome = "matched"
	}
	observability.Recognitions.WithLabelValues(outcome).Inc()
	if s.events != nil {
		if err := s.events.PublishRecognition(ctx, rec.Event); err != nil {
			slog.Warn("publish recognition event", "face_id", rec.FaceID, "error", err)
		}
	}
	return rec, nil
}

func (s *Service) logSighting(ctx context.Context, m storage.FaceMatch, confidence float32, in RecognizeInput) (*Recognition, error) {
	ref := models.PersonRef{Type: m.PersonType, ID: *m.PersonID}
	now := s.now().UTC()

	var person models.Person
	err := s.store.WithTx(ctx, func(tx storage.Repo) error {
		p, err := tx.GetPersonForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("face %s points at missing person %s: %w", m.FaceID, ref, apperr.ErrNotFound)
		}
		switch v := p.(type) {
		case *models.Employee:
			v.Attendance = append(v.Attendance, models.AttendanceEntry{Kind: "check_in", At: now, DeviceID: in.DeviceID, Location: in.Location})
		case *models.Visitor:
			v.Visits = append(v.Visits, models.VisitEntry{At: now, DeviceID: in.DeviceID, Location: in.Location})
		case *models.UnknownPerson:
			v.Detections = append(v.Detections, models.Detection{At: now, Confidence: confidence, DeviceID: in.DeviceID, Location: in.Location})
		}
		person = p
		return tx.UpdatePerson(ctx, p)
	})
	if err != nil {
		return nil, apperr.Aborted(err, "log sighting")
	}

	known := ref.Type.Known()
	ev := models.RecognitionEvent{
		Type:       models.EventFaceUnknown,
		FaceID:     m.FaceID,
		Person:     &ref,
		Name:       person.DisplayName(),
		Score:      m.Score,
		DeviceID:   in.DeviceID,
		Location:   in.Location,
		Blacklist:  isBlacklisted(person),
		Timestamp:  now,
		Confidence: confidence,
	}
	if known {
		ev.Type = models.EventFaceRecognized
	}
	return &Recognition{
		Matched: known,
		FaceID:  m.FaceID,
		Person:  &ref,
		Name:    person.DisplayName(),
		Score:   m.Score,
		Event:   ev,
	}, nil
}

func (s *Service) registerUnknown(ctx context.Context, actor *models.User, in RecognizeInput, embedding []float32, confidence float32) (*Recognition, error) {
	now := s.now().UTC()
	face, err := s.newFace(ctx, in.Image, nil, actor)
	if err != nil {
		return nil, err
	}
	face.Embedding = embedding
	face.Quality = confidence
	face.FeatureVersion = s.embedder.FeatureVersion()

	unknown := &models.UnknownPerson{
		PersonBase: models.PersonBase{ID: uuid.New(), IsActive: true},
		Detections: []models.Detection{{
			At: now, Confidence: confidence, DeviceID: in.DeviceID, Location: in.Location,
		}},
		ThreatLevel: models.ThreatLow,
		Resolution:  models.ResolutionUnresolved,
	}
	unknown.Name = "Unknown " + unknown.ID.String()[:8]
	faceID := face.ID
	unknown.FaceID = &faceID
	face.LinkTo(unknown.Ref())

	err = s.store.WithTx(ctx, func(tx storage.Repo) error {
		if err := tx.CreatePerson(ctx, unknown); err != nil {
			return err
		}
		return tx.CreateFace(ctx, face)
	})
	if err != nil {
		storage.DiscardObjects(ctx, s.blobs, face.ImageKey)
		return nil, apperr.Aborted(err, "register unknown")
	}

	ref := unknown.Ref()
	return &Recognition{
		FaceID: face.ID,
		Person: &ref,
		Name:   unknown.Name,
		Event: models.RecognitionEvent{
			Type:       models.EventFaceUnknown,
			FaceID:     face.ID,
			Person:     &ref,
			Name:       unknown.Name,
			DeviceID:   in.DeviceID,
			Location:   in.Location,
			Timestamp:  now,
			Confidence: confidence,
		},
	}, nil
}

func isBlacklisted(p models.Person) bool {
	switch v := p.(type) {
	case *models.Employee:
		return v.IsBlacklisted
	case *models.Visitor:
		return v.IsBlacklisted
	case *models.UnknownPerson:
		return v.IsBlacklisted
	}
	return false
}
