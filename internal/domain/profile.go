package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleMember     Role = "member"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

func (r Role) rank() int {
	switch r {
	case RoleSuperAdmin:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r.rank() > 0
}

// AtLeast reports whether r carries every capability of other.
func (r Role) AtLeast(other Role) bool {
	return r.Valid() && r.rank() >= other.rank()
}

type Profile struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// Actor is the authenticated caller of a core operation.
type Actor struct {
	ID          uuid.UUID `json:"id"`
	Role        Role      `json:"role"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
}

func (a Actor) IsAdmin() bool {
	return a.Role.AtLeast(RoleAdmin)
}

func ActorFromProfile(p *Profile) Actor {
	return Actor{
		ID:          p.ID,
		Role:        p.Role,
		Username:    p.Username,
		DisplayName: p.DisplayName,
	}
}
