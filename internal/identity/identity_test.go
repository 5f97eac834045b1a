package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/storage"
	"github.com/your-org/facegate/internal/vision"
)

// fakeEmbedder maps the first byte of an image to a fixed unit vector, so
// images starting with the same byte are the same person.
type fakeEmbedder struct{}

func (fakeEmbedder) EmbedFace(_ context.Context, image []byte) (*vision.FaceSample, error) {
	if image[0] == 0 {
		return nil, apperr.ErrInvalidMedia
	}
	v := make([]float32, 8)
	v[int(image[0])%8] = 1
	return &vision.FaceSample{Embedding: v, Confidence: 0.97}, nil
}

func (fakeEmbedder) FeatureVersion() string { return "fake-v1" }

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.RecognitionEvent
	err    error
}

func (p *recordingPublisher) PublishRecognition(_ context.Context, ev models.RecognitionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

type fixture struct {
	svc    *Service
	store  *storage.MemoryStore
	blobs  *storage.MemoryBlobStore
	events *recordingPublisher
	admin  *models.User
	user   *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	blobs := storage.NewMemoryBlobStore()
	events := &recordingPublisher{}
	f := &fixture{
		svc:    NewService(store, blobs, Options{Embedder: fakeEmbedder{}, Events: events}),
		store:  store,
		blobs:  blobs,
		events: events,
		admin:  models.NewUser("root", models.RoleAdmin),
		user:   models.NewUser("pat", models.RoleUser),
	}
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, f.admin))
	require.NoError(t, store.CreateUser(ctx, f.user))
	return f
}

func TestEnrollEmployee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	emp, face, err := f.svc.EnrollEmployee(ctx, f.admin, EmployeeInput{
		Name: "  Quinn   Ray ", EmployeeID: "E-7", Department: "ops", Image: []byte{1, 2, 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "Quinn Ray", emp.Name)
	assert.Equal(t, face.ID, *emp.FaceID)
	assert.Equal(t, models.VerificationVerified, face.VerificationStatus)
	assert.Equal(t, "fake-v1", face.FeatureVersion)

	stored, err := f.store.GetFace(ctx, face.ID)
	require.NoError(t, err)
	ref, ok := stored.Owner()
	require.True(t, ok)
	assert.Equal(t, emp.Ref(), ref)

	img, err := f.blobs.GetObject(ctx, face.ImageKey)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, img)
}

func TestEnrollValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.EnrollEmployee(ctx, f.user, EmployeeInput{Name: "A", EmployeeID: "E", Image: []byte{1}})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, _, err = f.svc.EnrollEmployee(ctx, f.admin, EmployeeInput{Name: "A", Image: []byte{1}})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, _, err = f.svc.EnrollVisitor(ctx, f.admin, VisitorInput{Name: " ", Image: []byte{1}})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, _, err = f.svc.EnrollVisitor(ctx, f.admin, VisitorInput{Name: "B"})
	assert.ErrorIs(t, err, apperr.ErrInvalidMedia)

	_, _, err = f.svc.EnrollEmployee(ctx, f.admin, EmployeeInput{Name: "C", EmployeeID: "E-1", Image: []byte{1}})
	require.NoError(t, err)
	_, _, err = f.svc.EnrollEmployee(ctx, f.admin, EmployeeInput{Name: "D", EmployeeID: "E-1", Image: []byte{2}})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	employees, err := f.store.ListPersons(ctx, models.PersonEmployee, 10, 0)
	require.NoError(t, err)
	assert.Len(t, employees, 1)

	// The image written for the rejected enrollment is removed again.
	images, err := f.blobs.ListObjects(ctx, "faces/")
	require.NoError(t, err)
	assert.Len(t, images, 1)
}

// facelessStore refuses to create faces.
type facelessStore struct {
	*storage.MemoryStore
}

func (facelessStore) CreateFace(context.Context, *models.Face) error {
	return errors.New("disk full")
}

func TestSubmitFaceDiscardsImageOnFailure(t *testing.T) {
	f := newFixture(t)
	svc := NewService(facelessStore{f.store}, f.blobs, Options{Embedder: fakeEmbedder{}})

	_, err := svc.SubmitFace(context.Background(), f.user, []byte{2})
	require.Error(t, err)

	images, err := f.blobs.ListObjects(context.Background(), "faces/")
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestRecognizePrefersOwnedFaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	emp, _, err := f.svc.EnrollEmployee(ctx, f.admin, EmployeeInput{Name: "Quinn", EmployeeID: "E-9", Image: []byte{1}})
	require.NoError(t, err)

	// Unlinked uploads carry the same embedding as the enrolled face.
	for range 5 {
		_, err := f.svc.SubmitFace(ctx, f.user, []byte{1, 7})
		require.NoError(t, err)
	}

	for range 10 {
		rec, err := f.svc.Recognize(ctx, f.user, RecognizeInput{Image: []byte{1}})
		require.NoError(t, err)
		require.True(t, rec.Matched)
		assert.Equal(t, emp.Ref(), *rec.Person)
	}
}

func TestEnrollWithoutEmbedder(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, f.blobs, Options{})
	_, _, err := svc.EnrollVisitor(context.Background(), f.admin, VisitorInput{Name: "V", Image: []byte{1}})
	assert.ErrorIs(t, err, apperr.ErrProviderFailure)
}

func TestRecognizeKnownFace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, face, err := f.svc.EnrollVisitor(ctx, f.admin, VisitorInput{Name: "Rita", Image: []byte{3}})
	require.NoError(t, err)

	rec, err := f.svc.Recognize(ctx, f.user, RecognizeInput{Image: []byte{3, 9}, DeviceID: "door-1", Location: "lobby"})
	require.NoError(t, err)
	assert.True(t, rec.Matched)
	assert.Equal(t, face.ID, rec.FaceID)
	assert.Equal(t, "Rita", rec.Name)
	assert.InDelta(t, 1.0, rec.Score, 1e-6)

	p, err := f.store.GetPerson(ctx, v.Ref())
	require.NoError(t, err)
	visits := p.(*models.Visitor).Visits
	require.Len(t, visits, 1)
	assert.Equal(t, "door-1", visits[0].DeviceID)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, models.EventFaceRecognized, f.events.events[0].Type)
	assert.Equal(t, "lobby", f.events.events[0].Location)
}

func TestRecognizeUnknownFaceRegistersIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.svc.EnrollEmployee(ctx, f.admin, EmployeeInput{Name: "Sam", EmployeeID: "E-2", Image: []byte{1}})
	require.NoError(t, err)

	first, err := f.svc.Recognize(ctx, f.user, RecognizeInput{Image: []byte{5}})
	require.NoError(t, err)
	assert.False(t, first.Matched)
	require.NotNil(t, first.Person)
	assert.Equal(t, models.PersonUnknown, first.Person.Type)

	p, err := f.store.GetPerson(ctx, *first.Person)
	require.NoError(t, err)
	u := p.(*models.UnknownPerson)
	assert.Equal(t, models.ResolutionUnresolved, u.Resolution)
	assert.Equal(t, first.FaceID, *u.FaceID)
	assert.Len(t, u.Detections, 1)

	// The same stranger again is a sighting of the unknown person.
	second, err := f.svc.Recognize(ctx, f.user, RecognizeInput{Image: []byte{5}})
	require.NoError(t, err)
	assert.False(t, second.Matched)
	assert.Equal(t, first.FaceID, second.FaceID)
	p, err = f.store.GetPerson(ctx, *first.Person)
	require.NoError(t, err)
	assert.Len(t, p.(*models.UnknownPerson).Detections, 2)

	require.Len(t, f.events.events, 2)
	for _, ev := range f.events.events {
		assert.Equal(t, models.EventFaceUnknown, ev.Type)
	}
}

func TestRecognizeIgnoresPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("nats down")
	_, err := f.svc.Recognize(context.Background(), f.user, RecognizeInput{Image: []byte{4}})
	assert.NoError(t, err)
}

func TestDeletePersonDetachesFaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	emp, face, err := f.svc.EnrollEmployee(ctx, f.admin, EmployeeInput{Name: "Tao", EmployeeID: "E-3", Image: []byte{6}})
	require.NoError(t, err)

	_, err = f.svc.DeletePerson(ctx, f.user, emp.Ref())
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	n, err := f.svc.DeletePerson(ctx, f.admin, emp.Ref())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.svc.GetPerson(ctx, f.admin, emp.Ref())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	stored, err := f.store.GetFace(ctx, face.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Equal(t, models.PersonUnknown, stored.PersonType)
	assert.Nil(t, stored.PersonID)

	_, err = f.svc.DeletePerson(ctx, f.admin, emp.Ref())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeactivateFace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, face, err := f.svc.EnrollVisitor(ctx, f.admin, VisitorInput{Name: "Uma", Image: []byte{7}})
	require.NoError(t, err)

	_, err = f.svc.DeactivateFace(ctx, f.user, face.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	got, err := f.svc.DeactivateFace(ctx, f.admin, face.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	p, err := f.store.GetPerson(ctx, v.Ref())
	require.NoError(t, err)
	assert.Nil(t, p.LinkedFace())

	rec, err := f.svc.Recognize(ctx, f.user, RecognizeInput{Image: []byte{7}})
	require.NoError(t, err)
	assert.False(t, rec.Matched, "inactive faces are not matched")
}

func TestSubmitFaceAndListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitFace(ctx, nil, []byte{1})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.SubmitFace(ctx, f.user, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidMedia)

	face, err := f.svc.SubmitFace(ctx, f.user, []byte{2})
	require.NoError(t, err)
	assert.Equal(t, models.VerificationUnverified, face.VerificationStatus)
	_, linked := face.Owner()
	assert.False(t, linked)

	_, err = f.svc.SubmitFace(ctx, f.admin, []byte{3})
	require.NoError(t, err)

	mine, err := f.svc.ListFaces(ctx, f.user, models.FaceFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, face.ID, mine[0].ID)

	all, err := f.svc.ListFaces(ctx, f.admin, models.FaceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	img, err := f.svc.GetFaceImage(ctx, f.user, face.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, img)

	stranger := models.NewUser("stranger", models.RoleUser)
	_, err = f.svc.GetFace(ctx, stranger, face.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := NewService(store, storage.NewMemoryBlobStore(), Options{})

	admin, err := svc.BootstrapAdmin(ctx, "root")
	require.NoError(t, err)
	assert.True(t, admin.Capabilities.CanManageUsers)

	_, err = svc.BootstrapAdmin(ctx, "again")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	u, err := svc.CreateUser(ctx, admin, "vic", models.RoleUser)
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, u, "wes", models.RoleUser)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = svc.CreateUser(ctx, admin, "wes", "owner")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	// Authorization is decided before the payload is looked at.
	_, err = svc.ChangeRole(ctx, u, u.ID, "owner")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = svc.CreateUser(ctx, u, "wes", "owner")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = svc.ChangeRole(ctx, admin, u.ID, "owner")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	promoted, err := svc.ChangeRole(ctx, admin, u.ID, models.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultCapabilities(models.RoleManager), promoted.Capabilities)

	caps := models.Capabilities{CanVerifyFaces: true}
	overridden, err := svc.OverrideCapabilities(ctx, admin, u.ID, caps)
	require.NoError(t, err)
	assert.Equal(t, caps, overridden.Capabilities)

	got, err := svc.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleManager, got.Role)
	assert.Equal(t, caps, got.Capabilities)

	_, err = svc.GetUser(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	users, err := svc.ListUsers(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}
