package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
)

type memState struct {
	users   map[uuid.UUID]*models.User
	faces   map[uuid.UUID]*models.Face
	persons map[models.PersonRef]models.Person
	jobs    map[uuid.UUID]*models.ExtractionJob
}

func newMemState() *memState {
	return &memState{
		users:   make(map[uuid.UUID]*models.User),
		faces:   make(map[uuid.UUID]*models.Face),
		persons: make(map[models.PersonRef]models.Person),
		jobs:    make(map[uuid.UUID]*models.ExtractionJob),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for id, u := range s.users {
		cp := *u
		c.users[id] = &cp
	}
	for id, f := range s.faces {
		c.faces[id] = f.Clone()
	}
	for ref, p := range s.persons {
		c.persons[ref] = models.ClonePerson(p)
	}
	for id, j := range s.jobs {
		c.jobs[id] = j.Clone()
	}
	return c
}

// memRepo implements Repo over a memState. mu is nil inside a transaction,
// where the owning MemoryStore already holds the lock.
type memRepo struct {
	mu  *sync.Mutex
	st  *memState
	now func() time.Time
}

func (r *memRepo) lock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

// MemoryStore is a Store kept entirely in process memory. Transactions run
// against a snapshot that replaces the live state only on success.
type MemoryStore struct {
	memRepo
	guard sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.memRepo = memRepo{mu: &s.guard, st: newMemState(), now: time.Now}
	return s
}

// SetClock replaces the timestamp source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.guard.Lock()
	defer s.guard.Unlock()
	s.now = now
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(Repo) error) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	snapshot := s.st.clone()
	if err := fn(&memRepo{st: snapshot, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	*s.st = *snapshot
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

// --- Users ---

func (r *memRepo) CreateUser(_ context.Context, u *models.User) error {
	defer r.lock()()
	for _, existing := range r.st.users {
		if existing.Username == u.Username {
			return fmt.Errorf("create user %s: %w", u.Username, apperr.ErrConflict)
		}
	}
	if _, ok := r.st.users[u.ID]; ok {
		return fmt.Errorf("create user %s: %w", u.ID, apperr.ErrConflict)
	}
	now := r.now()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	r.st.users[u.ID] = &cp
	return nil
}

func (r *memRepo) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	defer r.lock()()
	u, ok := r.st.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *memRepo) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	defer r.lock()()
	for _, u := range r.st.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) UpdateUser(_ context.Context, u *models.User) error {
	defer r.lock()()
	existing, ok := r.st.users[u.ID]
	if !ok {
		return fmt.Errorf("update user %s: %w", u.ID, apperr.ErrNotFound)
	}
	u.UpdatedAt = r.now()
	u.CreatedAt = existing.CreatedAt
	cp := *u
	r.st.users[u.ID] = &cp
	return nil
}

func (r *memRepo) ListUsers(context.Context) ([]models.User, error) {
	defer r.lock()()
	users := make([]models.User, 0, len(r.st.users))
	for _, u := range r.st.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

// --- Faces ---

func (r *memRepo) CreateFace(_ context.Context, f *models.Face) error {
	defer r.lock()()
	if _, ok := r.st.faces[f.ID]; ok {
		return fmt.Errorf("create face %s: %w", f.ID, apperr.ErrConflict)
	}
	now := r.now()
	f.CreatedAt, f.UpdatedAt = now, now
	r.st.faces[f.ID] = f.Clone()
	return nil
}

func (r *memRepo) GetFace(_ context.Context, id uuid.UUID) (*models.Face, error) {
	defer r.lock()()
	f, ok := r.st.faces[id]
	if !ok {
		return nil, nil
	}
	return f.Clone(), nil
}

func (r *memRepo) GetFaceForUpdate(ctx context.Context, id uuid.UUID) (*models.Face, error) {
	return r.GetFace(ctx, id)
}

func (r *memRepo) UpdateFace(_ context.Context, f *models.Face) error {
	defer r.lock()()
	existing, ok := r.st.faces[f.ID]
	if !ok {
		return fmt.Errorf("update face %s: %w", f.ID, apperr.ErrNotFound)
	}
	f.UpdatedAt = r.now()
	c := f.Clone()
	c.Embedding = existing.Embedding
	c.CreatedAt = existing.CreatedAt
	r.st.faces[f.ID] = c
	return nil
}

func (r *memRepo) ListFaces(_ context.Context, filter models.FaceFilter) ([]models.Face, error) {
	defer r.lock()()
	var out []models.Face
	for _, f := range r.st.faces {
		if filter.UploadedBy != nil && (f.UploadedBy == nil || *f.UploadedBy != *filter.UploadedBy) {
			continue
		}
		if filter.VerificationStatus != "" && f.VerificationStatus != filter.VerificationStatus {
			continue
		}
		if filter.Person != nil {
			if ref, ok := f.Owner(); !ok || ref != *filter.Person {
				continue
			}
		}
		if filter.ActiveOnly && !f.Active {
			continue
		}
		out = append(out, *f.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (r *memRepo) SearchFaces(_ context.Context, embedding []float32, threshold float64, limit int) ([]FaceMatch, error) {
	defer r.lock()()
	if limit <= 0 {
		limit = 5
	}
	var matches []FaceMatch
	for _, f := range r.st.faces {
		if !f.Active || len(f.Embedding) != len(embedding) || len(embedding) == 0 {
			continue
		}
		if f.PersonID == nil || f.VerificationStatus == models.VerificationRejected {
			continue
		}
		score := cosine(embedding, f.Embedding)
		if float64(score) < threshold {
			continue
		}
		matches = append(matches, FaceMatch{
			FaceID:     f.ID,
			PersonType: f.PersonType,
			PersonID:   cloneUUID(f.PersonID),
			Score:      score,
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (r *memRepo) DetachFaces(_ context.Context, ref models.PersonRef) (int, error) {
	defer r.lock()()
	n := 0
	for _, f := range r.st.faces {
		if owner, ok := f.Owner(); ok && owner == ref {
			f.Detach()
			f.UpdatedAt = r.now()
			n++
		}
	}
	return n, nil
}

// --- Persons ---

func (r *memRepo) CreatePerson(_ context.Context, p models.Person) error {
	defer r.lock()()
	ref := p.Ref()
	if _, ok := r.st.persons[ref]; ok {
		return fmt.Errorf("create person %s: %w", ref, apperr.ErrConflict)
	}
	if e, ok := p.(*models.Employee); ok {
		for _, other := range r.st.persons {
			if oe, ok := other.(*models.Employee); ok && oe.EmployeeID == e.EmployeeID {
				return fmt.Errorf("create employee %s: %w", e.EmployeeID, apperr.ErrConflict)
			}
		}
	}
	stampPerson(p, r.now(), true)
	r.st.persons[ref] = models.ClonePerson(p)
	return nil
}

func (r *memRepo) GetPersonForUpdate(ctx context.Context, ref models.PersonRef) (models.Person, error) {
	return r.GetPerson(ctx, ref)
}

func (r *memRepo) GetPerson(_ context.Context, ref models.PersonRef) (models.Person, error) {
	defer r.lock()()
	if !ref.Type.Valid() {
		return nil, fmt.Errorf("person type %q: %w", ref.Type, apperr.ErrMissingPersonType)
	}
	p, ok := r.st.persons[ref]
	if !ok {
		return nil, nil
	}
	return models.ClonePerson(p), nil
}

func (r *memRepo) UpdatePerson(_ context.Context, p models.Person) error {
	defer r.lock()()
	ref := p.Ref()
	if _, ok := r.st.persons[ref]; !ok {
		return fmt.Errorf("update person %s: %w", ref, apperr.ErrNotFound)
	}
	stampPerson(p, r.now(), false)
	r.st.persons[ref] = models.ClonePerson(p)
	return nil
}

func (r *memRepo) FindPersonByName(_ context.Context, name string) (models.Person, error) {
	defer r.lock()()
	for _, t := range []models.PersonType{models.PersonEmployee, models.PersonVisitor} {
		var best models.Person
		for ref, p := range r.st.persons {
			if ref.Type != t || p.DisplayName() != name {
				continue
			}
			if best == nil || betterNameMatch(p, best) {
				best = p
			}
		}
		if best != nil {
			return models.ClonePerson(best), nil
		}
	}
	return nil, nil
}

func (r *memRepo) ListPersons(_ context.Context, t models.PersonType, limit, offset int) ([]models.Person, error) {
	defer r.lock()()
	if !t.Valid() {
		return nil, fmt.Errorf("person type %q: %w", t, apperr.ErrMissingPersonType)
	}
	var out []models.Person
	for ref, p := range r.st.persons {
		if ref.Type == t {
			out = append(out, models.ClonePerson(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return createdAt(out[i]).After(createdAt(out[j])) })
	return paginate(out, limit, offset), nil
}

func (r *memRepo) DeletePerson(_ context.Context, ref models.PersonRef) error {
	defer r.lock()()
	if _, ok := r.st.persons[ref]; !ok {
		return fmt.Errorf("delete person %s: %w", ref, apperr.ErrNotFound)
	}
	delete(r.st.persons, ref)
	return nil
}

// --- Jobs ---

func (r *memRepo) CreateJob(_ context.Context, j *models.ExtractionJob) error {
	defer r.lock()()
	if _, ok := r.st.jobs[j.ID]; ok {
		return fmt.Errorf("create job %s: %w", j.ID, apperr.ErrConflict)
	}
	now := r.now()
	j.CreatedAt, j.UpdatedAt = now, now
	r.st.jobs[j.ID] = j.Clone()
	return nil
}

func (r *memRepo) GetJob(_ context.Context, id uuid.UUID) (*models.ExtractionJob, error) {
	defer r.lock()()
	j, ok := r.st.jobs[id]
	if !ok {
		return nil, nil
	}
	return j.Clone(), nil
}

func (r *memRepo) GetJobForUpdate(ctx context.Context, id uuid.UUID) (*models.ExtractionJob, error) {
	return r.GetJob(ctx, id)
}

func (r *memRepo) ListJobs(_ context.Context, filter models.JobFilter) ([]models.ExtractionJob, error) {
	defer r.lock()()
	var out []models.ExtractionJob
	for _, j := range r.st.jobs {
		if filter.UploadedBy != nil && j.UploadedBy != *filter.UploadedBy {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		out = append(out, *j.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (r *memRepo) FinishJob(_ context.Context, id uuid.UUID, out models.JobOutcome) error {
	defer r.lock()()
	j, ok := r.st.jobs[id]
	if !ok || !models.CanTransition(j.Status, out.Status) {
		return fmt.Errorf("finish job %s: %w", id, apperr.ErrInvalidState)
	}
	j.Status = out.Status
	j.ProcessingMessage = out.Message
	j.FacesCount = out.FacesCount
	j.Clusters = models.CloneClusters(out.Clusters)
	j.UpdatedAt = r.now()
	return nil
}

func (r *memRepo) UpdateJobClusters(_ context.Context, id uuid.UUID, clusters []models.Cluster) error {
	defer r.lock()()
	j, ok := r.st.jobs[id]
	if !ok {
		return fmt.Errorf("update job clusters %s: %w", id, apperr.ErrNotFound)
	}
	j.Clusters = models.CloneClusters(clusters)
	j.UpdatedAt = r.now()
	return nil
}

func (r *memRepo) MarkJobLabeled(_ context.Context, id uuid.UUID) error {
	defer r.lock()()
	j, ok := r.st.jobs[id]
	if !ok || j.Status != models.JobCompleted {
		return fmt.Errorf("mark job labeled %s: %w", id, apperr.ErrInvalidState)
	}
	j.IsLabeled = true
	j.UpdatedAt = r.now()
	return nil
}

func (r *memRepo) FailStaleJobs(_ context.Context, cutoff time.Time, message string) ([]uuid.UUID, error) {
	defer r.lock()()
	var ids []uuid.UUID
	for id, j := range r.st.jobs {
		if j.Status == models.JobProcessing && j.UpdatedAt.Before(cutoff) {
			j.Status = models.JobFailed
			j.ProcessingMessage = message
			j.UpdatedAt = r.now()
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// --- helpers ---

func paginate[T any](items []T, limit, offset int) []T {
	limit = clampLimit(limit)
	if offset >= len(items) {
		return nil
	}
	if offset < 0 {
		offset = 0
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

func personBase(p models.Person) *models.PersonBase {
	switch v := p.(type) {
	case *models.Employee:
		return &v.PersonBase
	case *models.Visitor:
		return &v.PersonBase
	case *models.UnknownPerson:
		return &v.PersonBase
	}
	return nil
}

func stampPerson(p models.Person, now time.Time, created bool) {
	b := personBase(p)
	if b == nil {
		return
	}
	if created {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

func createdAt(p models.Person) time.Time {
	if b := personBase(p); b != nil {
		return b.CreatedAt
	}
	return time.Time{}
}

// betterNameMatch mirrors the SQL ordering: active first, then oldest.
func betterNameMatch(a, b models.Person) bool {
	ba, bb := personBase(a), personBase(b)
	if ba.IsActive != bb.IsActive {
		return ba.IsActive
	}
	return ba.CreatedAt.Before(bb.CreatedAt)
}
