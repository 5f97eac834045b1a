package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
)

const actorKey = "actor"

// UserResolver looks up the user behind a request.
type UserResolver interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Actors resolves the acting user from a request header. Lookups are
// cached for ttl, so role changes take up to ttl to apply.
type Actors struct {
	users  UserResolver
	header string
	cache  *cache.Cache
}

func NewActors(users UserResolver, header string, ttl time.Duration) *Actors {
	if header == "" {
		header = "X-User-ID"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Actors{
		users:  users,
		header: header,
		cache:  cache.New(ttl, 2*ttl),
	}
}

// Invalidate drops a cached user, e.g. after a role change.
func (a *Actors) Invalidate(id uuid.UUID) {
	a.cache.Delete(id.String())
}

func (a *Actors) resolve(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if cached, ok := a.cache.Get(id.String()); ok {
		return cached.(*models.User), nil
	}
	u, err := a.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	a.cache.SetDefault(id.String(), u)
	return u, nil
}

// Middleware rejects requests without a known user and stores the user
// on the context for handlers.
func (a *Actors) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(a.header)
		if raw == "" {
			abort(c, http.StatusUnauthorized, "missing "+a.header+" header", "Unauthenticated")
			return
		}

		id, err := uuid.Parse(raw)
		if err != nil {
			abort(c, http.StatusBadRequest, "invalid user id", "InvalidInput")
			return
		}

		u, err := a.resolve(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				abort(c, http.StatusUnauthorized, "unknown user", "Unauthenticated")
				return
			}
			slog.Error("resolve actor", "error", err)
			abort(c, http.StatusInternalServerError, "could not resolve user", "Internal")
			return
		}

		c.Set(actorKey, u)
		c.Next()
	}
}

// Actor returns the user stored by Middleware, or nil.
func Actor(c *gin.Context) *models.User {
	v, ok := c.Get(actorKey)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}
