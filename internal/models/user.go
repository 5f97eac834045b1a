package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleUser:
		return true
	}
	return false
}

// Capabilities are fine-grained permission flags. They are derived from the
// role when a role is assigned and persisted; later overrides are stored as-is.
type Capabilities struct {
	CanVerifyFaces    bool `json:"can_verify_faces"`
	CanManageUsers    bool `json:"can_manage_users"`
	CanManageAllFaces bool `json:"can_manage_all_faces"`
	CanViewAllData    bool `json:"can_view_all_data"`
}

// DefaultCapabilities returns the capability set granted by a role.
func DefaultCapabilities(role Role) Capabilities {
	switch role {
	case RoleAdmin:
		return Capabilities{
			CanVerifyFaces:    true,
			CanManageUsers:    true,
			CanManageAllFaces: true,
			CanViewAllData:    true,
		}
	case RoleManager:
		return Capabilities{
			CanVerifyFaces:    true,
			CanManageAllFaces: true,
			CanViewAllData:    true,
		}
	default:
		return Capabilities{}
	}
}

type User struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	Username     string       `json:"username" db:"username"`
	Role         Role         `json:"role" db:"role"`
	Capabilities Capabilities `json:"capabilities"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

// NewUser builds a user with capabilities derived from role.
func NewUser(username string, role Role) *User {
	return &User{
		ID:           uuid.New(),
		Username:     username,
		Role:         role,
		Capabilities: DefaultCapabilities(role),
	}
}

// AssignRole changes the role and resets capabilities to the role defaults.
func (u *User) AssignRole(role Role) {
	u.Role = role
	u.Capabilities = DefaultCapabilities(role)
}

// Elevated reports whether the role alone grants cross-user access.
func (u *User) Elevated() bool {
	return u.Role == RoleAdmin || u.Role == RoleManager
}
