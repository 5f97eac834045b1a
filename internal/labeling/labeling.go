// Package labeling records reviewers' label proposals on faces and on
// extraction clusters.
package labeling

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/your-org/facegate/internal/access"
	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/locks"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/storage"
)

// NormalizeLabel trims the label, collapses inner whitespace and puts it in
// Unicode NFC so the same name typed twice compares equal.
func NormalizeLabel(label string) string {
	return strings.Join(strings.Fields(norm.NFC.String(label)), " ")
}

type Service struct {
	store    storage.Store
	jobLocks *locks.Keyed
	now      func() time.Time
}

// NewService builds the label service. jobLocks must be the same set the
// promotion service uses so cluster proposals and completion serialize.
func NewService(store storage.Store, jobLocks *locks.Keyed) *Service {
	return &Service{store: store, jobLocks: jobLocks, now: time.Now}
}

type Proposal struct {
	Label      string
	Confidence float32
}

func (s *Service) validate(p Proposal) (models.LabelProposal, error) {
	label := NormalizeLabel(p.Label)
	if label == "" {
		return models.LabelProposal{}, eris.Wrap(apperr.ErrMissingLabel, "label is empty")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return models.LabelProposal{}, eris.Wrapf(apperr.ErrInvalidInput, "confidence %v outside [0, 1]", p.Confidence)
	}
	return models.LabelProposal{Label: label, Confidence: p.Confidence, ProposedAt: s.now().UTC()}, nil
}

// ProposeFaceLabel upserts proposer's proposal on a face. A proposer allowed
// to select labels also sets the face's selected label.
func (s *Service) ProposeFaceLabel(ctx context.Context, faceID uuid.UUID, proposer *models.User, p Proposal) (models.Proposals, error) {
	if proposer == nil {
		return nil, eris.Wrap(apperr.ErrForbidden, "anonymous proposal")
	}
	lp, err := s.validate(p)
	if err != nil {
		return nil, err
	}
	lp.ProposedBy = proposer.ID
	selects := access.CanSelectLabel(proposer)

	var out models.Proposals
	err = s.store.WithTx(ctx, func(tx storage.Repo) error {
		face, err := tx.GetFaceForUpdate(ctx, faceID)
		if err != nil {
			return err
		}
		if face == nil {
			return eris.Wrapf(apperr.ErrNotFound, "face %s", faceID)
		}
		if err := access.Authorize(proposer, access.Face(face), access.ActionLabel); err != nil {
			return err
		}
		face.ProposedLabels = face.ProposedLabels.Upsert(lp)
		if selects {
			face.SelectedLabel = lp.Label
		}
		if err := tx.UpdateFace(ctx, face); err != nil {
			return err
		}
		out = face.ProposedLabels.Clone()
		return nil
	})
	if err != nil {
		return nil, apperr.Aborted(err, "propose face label")
	}
	observability.LabelProposals.WithLabelValues("face", strconv.FormatBool(selects)).Inc()
	return out, nil
}

// ProposeClusterLabel upserts proposer's proposal on one cluster of a
// completed job.
func (s *Service) ProposeClusterLabel(ctx context.Context, jobID uuid.UUID, clusterID string, proposer *models.User, p Proposal) (models.Proposals, error) {
	if proposer == nil {
		return nil, eris.Wrap(apperr.ErrForbidden, "anonymous proposal")
	}
	lp, err := s.validate(p)
	if err != nil {
		return nil, err
	}
	lp.ProposedBy = proposer.ID
	selects := access.CanSelectLabel(proposer)

	unlock := s.jobLocks.Lock(locks.JobKey(jobID))
	defer unlock()

	var out models.Proposals
	err = s.store.WithTx(ctx, func(tx storage.Repo) error {
		job, err := tx.GetJobForUpdate(ctx, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return eris.Wrapf(apperr.ErrNotFound, "job %s", jobID)
		}
		if err := access.Authorize(proposer, access.Job(job), access.ActionLabel); err != nil {
			return err
		}
		if job.Status != models.JobCompleted {
			return eris.Wrapf(apperr.ErrInvalidState, "job %s is %s", jobID, job.Status)
		}
		cluster, ok := job.Cluster(clusterID)
		if !ok {
			return eris.Wrapf(apperr.ErrNotFound, "cluster %s in job %s", clusterID, jobID)
		}
		cluster.ProposedLabels = cluster.ProposedLabels.Upsert(lp)
		if selects {
			cluster.SelectedLabel = lp.Label
		}
		if err := tx.UpdateJobClusters(ctx, jobID, job.Clusters); err != nil {
			return err
		}
		out = cluster.ProposedLabels.Clone()
		return nil
	})
	if err != nil {
		return nil, apperr.Aborted(err, "propose cluster label")
	}
	observability.LabelProposals.WithLabelValues("cluster", strconv.FormatBool(selects)).Inc()
	return out, nil
}
