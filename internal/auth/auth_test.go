package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type countingResolver struct {
	users map[uuid.UUID]*models.User
	calls atomic.Int32
}

func (r *countingResolver) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	r.calls.Add(1)
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, apperr.ErrNotFound
}

func serve(h gin.HandlerFunc, header, value string) *httptest.ResponseRecorder {
	r := gin.New()
	r.GET("/", h, func(c *gin.Context) {
		if u := Actor(c); u != nil {
			c.String(http.StatusOK, u.Username)
			return
		}
		c.String(http.StatusOK, "ok")
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if value != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestActorMiddleware(t *testing.T) {
	u := models.NewUser("xena", models.RoleUser)
	res := &countingResolver{users: map[uuid.UUID]*models.User{u.ID: u}}
	actors := NewActors(res, "", time.Minute)

	tests := map[string]struct {
		value string
		code  int
		body  string
	}{
		"missing":   {value: "", code: http.StatusUnauthorized},
		"malformed": {value: "nope", code: http.StatusBadRequest},
		"unknown":   {value: uuid.NewString(), code: http.StatusUnauthorized},
		"known":     {value: u.ID.String(), code: http.StatusOK, body: "xena"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			w := serve(actors.Middleware(), "X-User-ID", tt.value)
			assert.Equal(t, tt.code, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestActorCache(t *testing.T) {
	u := models.NewUser("yuri", models.RoleAdmin)
	res := &countingResolver{users: map[uuid.UUID]*models.User{u.ID: u}}
	actors := NewActors(res, "X-Actor", time.Minute)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(actors.Middleware(), "X-Actor", u.ID.String()).Code)
	}
	assert.Equal(t, int32(1), res.calls.Load())

	actors.Invalidate(u.ID)
	serve(actors.Middleware(), "X-Actor", u.ID.String())
	assert.Equal(t, int32(2), res.calls.Load())
}

func TestAPIKeyMiddleware(t *testing.T) {
	assert.Equal(t, http.StatusOK, serve(APIKeyMiddleware(""), headerName, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(APIKeyMiddleware("s3cret"), headerName, "").Code)
	assert.Equal(t, http.StatusForbidden, serve(APIKeyMiddleware("s3cret"), headerName, "wrong").Code)
	assert.Equal(t, http.StatusOK, serve(APIKeyMiddleware("s3cret"), headerName, "s3cret").Code)

	rotating := APIKeyMiddleware("new", "", "old")
	assert.Equal(t, http.StatusOK, serve(rotating, headerName, "new").Code)
	assert.Equal(t, http.StatusOK, serve(rotating, headerName, "old").Code)
	assert.Equal(t, http.StatusForbidden, serve(rotating, headerName, "stale").Code)
}
