package models

import (
	"time"

	"github.com/google/uuid"
)

// LabelProposal is one reviewer's suggested name for a face or cluster.
type LabelProposal struct {
	Label      string    `json:"label"`
	ProposedBy uuid.UUID `json:"proposed_by"`
	ProposedAt time.Time `json:"proposed_at"`
	Confidence float32   `json:"confidence"`
}

// Proposals holds at most one entry per proposer, in first-proposal order.
type Proposals []LabelProposal

// Upsert replaces the proposer's existing slot in place, or appends a new one.
func (ps Proposals) Upsert(p LabelProposal) Proposals {
	for i := range ps {
		if ps[i].ProposedBy == p.ProposedBy {
			out := make(Proposals, len(ps))
			copy(out, ps)
			out[i] = p
			return out
		}
	}
	out := make(Proposals, len(ps), len(ps)+1)
	copy(out, ps)
	return append(out, p)
}

// By returns the proposal made by the given user, if any.
func (ps Proposals) By(userID uuid.UUID) (LabelProposal, bool) {
	for _, p := range ps {
		if p.ProposedBy == userID {
			return p, true
		}
	}
	return LabelProposal{}, false
}

func (ps Proposals) Clone() Proposals {
	if ps == nil {
		return nil
	}
	out := make(Proposals, len(ps))
	copy(out, ps)
	return out
}
