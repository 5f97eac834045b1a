package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/your-org/facegate/internal/access"
	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/storage"
)

func (s *Service) CreateUser(ctx context.Context, actor *models.User, username string, role models.Role) (*models.User, error) {
	if err := access.Authorize(actor, access.Registry, access.ActionManageUsers); err != nil {
		return nil, err
	}
	return s.createUser(ctx, username, role)
}

func (s *Service) createUser(ctx context.Context, username string, role models.Role) (*models.User, error) {
	if username == "" {
		return nil, eris.Wrap(apperr.ErrInvalidInput, "username is required")
	}
	if !role.Valid() {
		return nil, eris.Wrapf(apperr.ErrInvalidInput, "unknown role %q", role)
	}
	u := models.NewUser(username, role)
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// BootstrapAdmin creates the first admin. It refuses once any user exists.
func (s *Service) BootstrapAdmin(ctx context.Context, username string) (*models.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if len(users) > 0 {
		return nil, eris.Wrap(apperr.ErrConflict, "users already exist")
	}
	return s.createUser(ctx, username, models.RoleAdmin)
}

// GetUser resolves an actor id. It performs no authorization.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return nil, eris.Wrapf(apperr.ErrNotFound, "user %s", id)
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, actor *models.User) ([]models.User, error) {
	if err := access.Authorize(actor, access.Registry, access.ActionManageUsers); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// ChangeRole assigns role and resets the capabilities to its defaults.
func (s *Service) ChangeRole(ctx context.Context, actor *models.User, id uuid.UUID, role models.Role) (*models.User, error) {
	if err := access.Authorize(actor, access.Registry, access.ActionManageUsers); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, eris.Wrapf(apperr.ErrInvalidInput, "unknown role %q", role)
	}
	return s.updateUser(ctx, actor, id, func(u *models.User) { u.AssignRole(role) })
}

// OverrideCapabilities stores caps as given, independent of the role.
func (s *Service) OverrideCapabilities(ctx context.Context, actor *models.User, id uuid.UUID, caps models.Capabilities) (*models.User, error) {
	return s.updateUser(ctx, actor, id, func(u *models.User) { u.Capabilities = caps })
}

func (s *Service) updateUser(ctx context.Context, actor *models.User, id uuid.UUID, mutate func(*models.User)) (*models.User, error) {
	if err := access.Authorize(actor, access.Registry, access.ActionManageUsers); err != nil {
		return nil, err
	}
	var out *models.User
	err := s.store.WithTx(ctx, func(tx storage.Repo) error {
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if u == nil {
			return eris.Wrapf(apperr.ErrNotFound, "user %s", id)
		}
		mutate(u)
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, apperr.Aborted(err, "update user")
	}
	return out, nil
}
