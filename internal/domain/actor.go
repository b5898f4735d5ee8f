package domain

import "github.com/google/uuid"

type Role string

const (
	RoleClient       Role = "client"
	RoleDeveloper    Role = "developer"
	RoleCommissioner Role = "commissioner"
	RoleAdmin        Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleClient, RoleDeveloper, RoleCommissioner, RoleAdmin:
		return true
	}
	return false
}

// Actor identifies the authenticated caller of an engine operation. The role
// assertion comes from the identity provider and is trusted verbatim;
// eligibility is checked once at each operation boundary.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
