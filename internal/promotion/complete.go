package promotion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/your-org/facegate/internal/access"
	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/locks"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/storage"
)

// maxAdditionalImages is how many crops besides the representative a
// promoted face keeps.
const maxAdditionalImages = 4

type PromotedCluster struct {
	ClusterID     string           `json:"cluster_id"`
	FaceID        uuid.UUID        `json:"face_id"`
	Person        models.PersonRef `json:"person"`
	CreatedPerson bool             `json:"created_person"`
}

type Completion struct {
	JobID          uuid.UUID         `json:"job_id"`
	AlreadyLabeled bool              `json:"already_labeled"`
	Promoted       []PromotedCluster `json:"promoted"`
	Skipped        []string          `json:"skipped"`
}

// CompleteExtractionLabeling promotes every cluster of a completed job that
// has a selected label and marks the job labelled, all in one transaction.
// Calling it again on a labelled job changes nothing.
func (s *Service) CompleteExtractionLabeling(ctx context.Context, jobID uuid.UUID, requester *models.User) (*Completion, error) {
	if requester == nil {
		return nil, eris.Wrap(apperr.ErrForbidden, "anonymous completion")
	}
	unlock := s.jobLocks.Lock(locks.JobKey(jobID))
	defer unlock()

	var res *Completion
	err := s.store.WithTx(ctx, func(tx storage.Repo) error {
		res = &Completion{JobID: jobID}
		job, err := tx.GetJobForUpdate(ctx, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return eris.Wrapf(apperr.ErrNotFound, "job %s", jobID)
		}
		if err := access.Authorize(requester, access.Job(job), access.ActionComplete); err != nil {
			return err
		}
		if job.IsLabeled {
			res.AlreadyLabeled = true
			return nil
		}
		if job.Status != models.JobCompleted {
			return eris.Wrapf(apperr.ErrInvalidState, "job %s is %s", jobID, job.Status)
		}

		status := models.VerificationUnverified
		if requester.Capabilities.CanVerifyFaces {
			status = models.VerificationVerified
		}
		for i := range job.Clusters {
			cluster := &job.Clusters[i]
			if cluster.SelectedLabel == "" || cluster.Representative == nil {
				res.Skipped = append(res.Skipped, cluster.ID)
				continue
			}
			p, err := s.promoteCluster(ctx, tx, job, cluster, requester, status)
			if err != nil {
				return fmt.Errorf("promote %s: %w", cluster.ID, err)
			}
			res.Promoted = append(res.Promoted, *p)
		}
		return tx.MarkJobLabeled(ctx, jobID)
	})
	if err != nil {
		return nil, apperr.Aborted(err, "complete labeling")
	}

	if !res.AlreadyLabeled {
		observability.Promotions.WithLabelValues("cluster", "promoted").Add(float64(len(res.Promoted)))
		observability.Promotions.WithLabelValues("cluster", "skipped").Add(float64(len(res.Skipped)))
		slog.Info("extraction labeling completed", "job_id", jobID, "promoted", len(res.Promoted), "skipped", len(res.Skipped))
	}
	return res, nil
}

func (s *Service) promoteCluster(ctx context.Context, tx storage.Repo, job *models.ExtractionJob, cluster *models.Cluster, requester *models.User, status models.VerificationStatus) (*PromotedCluster, error) {
	person, err := tx.FindPersonByName(ctx, cluster.SelectedLabel)
	if err != nil {
		return nil, err
	}
	if person != nil {
		// Re-read under a row lock; the face link is about to change.
		if person, err = tx.GetPersonForUpdate(ctx, person.Ref()); err != nil {
			return nil, err
		}
	}
	created := false
	if person == nil {
		if person, err = NewNamedPerson(models.PersonVisitor, cluster.SelectedLabel); err != nil {
			return nil, err
		}
		if err := tx.CreatePerson(ctx, person); err != nil {
			return nil, err
		}
		created = true
	}

	rep := cluster.Representative
	uploader, source := job.UploadedBy, job.ID
	face := &models.Face{
		ID:                 uuid.New(),
		ImageKey:           rep.Key,
		Embedding:          rep.Embedding,
		Quality:            rep.Confidence,
		PersonType:         models.PersonUnknown,
		Active:             true,
		VerificationStatus: status,
		UploadedBy:         &uploader,
		ProposedLabels:     cluster.ProposedLabels.Clone(),
		SelectedLabel:      cluster.SelectedLabel,
		SourceJobID:        &source,
	}
	if len(rep.Embedding) > 0 {
		face.FeatureVersion = models.FeatureVersion
	}
	for i, crop := range cluster.Faces {
		if len(face.AdditionalImages) == maxAdditionalImages {
			break
		}
		if crop.Key == rep.Key {
			continue
		}
		face.AdditionalImages = append(face.AdditionalImages, models.FaceImage{
			Key:   crop.Key,
			Angle: fmt.Sprintf("crop_%d", i),
		})
	}
	if status == models.VerificationVerified {
		now := s.now().UTC()
		verifier := requester.ID
		face.VerifiedBy = &verifier
		face.VerificationDate = &now
	}

	if err := tx.CreateFace(ctx, face); err != nil {
		return nil, err
	}
	if err := linkFace(ctx, tx, face, person); err != nil {
		return nil, err
	}
	if err := tx.UpdateFace(ctx, face); err != nil {
		return nil, err
	}
	return &PromotedCluster{
		ClusterID:     cluster.ID,
		FaceID:        face.ID,
		Person:        person.Ref(),
		CreatedPerson: created,
	}, nil
}
