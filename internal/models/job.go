package models

import (
	"time"

	"github.com/google/uuid"
)

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaImage || k == MediaVideo
}

type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further status transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition encodes the only legal moves: processing -> completed|failed.
func CanTransition(from, to JobStatus) bool {
	return from == JobProcessing && to.Terminal()
}

// FaceCrop is one detected face stored in the object store.
type FaceCrop struct {
	Key        string    `json:"key"`
	Confidence float32   `json:"confidence"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

type Cluster struct {
	ID             string     `json:"cluster_id"`
	Faces          []FaceCrop `json:"faces"`
	Representative *FaceCrop  `json:"representative,omitempty"`
	ProposedLabels Proposals  `json:"proposed_labels"`
	SelectedLabel  string     `json:"selected_label,omitempty"`
}

type ExtractionJob struct {
	ID                uuid.UUID `json:"id" db:"id"`
	FileID            uuid.UUID `json:"file_id" db:"file_id"`
	FileName          string    `json:"file_name" db:"file_name"`
	FileType          MediaKind `json:"file_type" db:"file_type"`
	SourceKey         string    `json:"source_key" db:"source_key"`
	UploadedBy        uuid.UUID `json:"uploaded_by" db:"uploaded_by"`
	SessionID         string    `json:"session_id" db:"session_id"`
	Status            JobStatus `json:"status" db:"status"`
	ProcessingMessage string    `json:"processing_message" db:"processing_message"`
	FacesCount        int       `json:"faces_count" db:"faces_count"`
	Clusters          []Cluster `json:"clusters" db:"clusters"`
	IsLabeled         bool      `json:"is_labeled" db:"is_labeled"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Cluster returns the cluster with the given id.
func (j *ExtractionJob) Cluster(id string) (*Cluster, bool) {
	for i := range j.Clusters {
		if j.Clusters[i].ID == id {
			return &j.Clusters[i], true
		}
	}
	return nil, false
}

// JobOutcome is the single terminal write a continuation performs.
type JobOutcome struct {
	Status     JobStatus
	Message    string
	FacesCount int
	Clusters   []Cluster
}

type JobFilter struct {
	UploadedBy *uuid.UUID
	Status     JobStatus
	Limit      int
	Offset     int
}

func (j *ExtractionJob) Clone() *ExtractionJob {
	c := *j
	c.Clusters = CloneClusters(j.Clusters)
	return &c
}

func CloneClusters(in []Cluster) []Cluster {
	if in == nil {
		return nil
	}
	out := make([]Cluster, len(in))
	for i, cl := range in {
		out[i] = cl
		out[i].Faces = append([]FaceCrop(nil), cl.Faces...)
		out[i].ProposedLabels = cl.ProposedLabels.Clone()
		if cl.Representative != nil {
			r := *cl.Representative
			out[i].Representative = &r
		}
	}
	return out
}
