package models

// Role is the actor role carried in the bearer token.
type Role string

const (
	RoleStudent   Role = "student"
	RoleWarden    Role = "warden"
	RolePrincipal Role = "principal"
	// RoleGate is the physical gate scanner.
	RoleGate Role = "gate"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleWarden, RolePrincipal, RoleGate:
		return true
	}
	return false
}

// Staff reports whether r may read other students' requests.
func (r Role) Staff() bool {
	return r == RoleWarden || r == RolePrincipal
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   uint
	Role Role
}
