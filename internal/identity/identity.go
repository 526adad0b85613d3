// Package identity carries the authenticated actor supplied by the external
// identity provider. The engine trusts this identity; authentication and
// role-based authorization of endpoints happen upstream.
package identity

import "fmt"

type Role string

const (
	RolePatient      Role = "patient"
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
	RoleAdmin        Role = "admin"
	RoleRadiologist  Role = "radiologist"
)

// Actor is the caller of an engine operation.
type Actor struct {
	ID   int64
	Role Role
}

func (a Actor) String() string {
	return fmt.Sprintf("%s:%d", a.Role, a.ID)
}

// ParseRole validates a role string from a trusted header.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePatient, RoleDoctor, RoleReceptionist, RoleAdmin, RoleRadiologist:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}
