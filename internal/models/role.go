package models

import "fmt"

// Role is a user's role within one portfolio. The set is closed: adding a
// role needs a migration of the memberships and invitation_tokens checks.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"

	// NotAMember is the role reported for users without a membership.
	NotAMember Role = ""
)

// Roles lists the assignable roles, most privileged first.
var Roles = []Role{RoleOwner, RoleAdmin, RoleMember, RoleViewer}

// Valid reports whether r is an assignable role.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// ParseRole converts a role name into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return NotAMember, fmt.Errorf("invalid role %q (valid: owner, admin, member, viewer)", s)
	}
	return r, nil
}

func (r Role) String() string {
	if r == NotAMember {
		return "none"
	}
	return string(r)
}
