package auth

import "strings"

// Role is the permission tier of an account. The set is closed: only the
// constants below are valid.
type Role string

const (
	// RoleBuyer is the default role for self registered accounts
	RoleBuyer Role = "buyer"
	// RoleSeller can manage catalog entries
	RoleSeller Role = "seller"
	// RoleAdmin manages accounts
	RoleAdmin Role = "admin"
	// RoleSuperAdmin manages accounts and roles
	RoleSuperAdmin Role = "superadmin"
)

// DefaultRole is assigned when no (permitted) role is requested
const DefaultRole = RoleBuyer

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// IsPrivileged reports whether the role may act on other accounts
func (r Role) IsPrivileged() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// CanAssign reports whether an actor holding r may create or move an
// account into target. Superadmins may assign any role, admins only the
// non privileged ones.
func (r Role) CanAssign(target Role) bool {
	if !target.IsValid() {
		return false
	}
	switch r {
	case RoleSuperAdmin:
		return true
	case RoleAdmin:
		return !target.IsPrivileged()
	default:
		return false
	}
}

// GetAllRoles returns all predefined roles
func GetAllRoles() []Role {
	return []Role{
		RoleBuyer,
		RoleSeller,
		RoleAdmin,
		RoleSuperAdmin,
	}
}

// ParseRole safely parses a string into a Role
func ParseRole(roleStr string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(roleStr)))
	return role, role.IsValid()
}

// RoleSet is an explicit allow-list of roles for a route. There is no
// implicit hierarchy: a role is allowed only if it is listed.
type RoleSet map[Role]struct{}

// NewRoleSet builds an allow-list, ignoring invalid roles
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		if r.IsValid() {
			set[r] = struct{}{}
		}
	}
	return set
}

// Allows reports whether role is in the allow-list
func (s RoleSet) Allows(role Role) bool {
	_, ok := s[role]
	return ok
}

// Roles returns the allow-list members in canonical order
func (s RoleSet) Roles() []Role {
	out := make([]Role, 0, len(s))
	for _, r := range GetAllRoles() {
		if s.Allows(r) {
			out = append(out, r)
		}
	}
	return out
}
