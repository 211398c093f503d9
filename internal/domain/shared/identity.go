package shared

import "github.com/google/uuid"

// Role is the caller's role as asserted by the authenticating front
// proxy. This service does not authenticate; it only receives validated
// identity on each write.
type Role string

const (
	RoleTeacher   Role = "teacher"
	RoleAssistant Role = "assistant"
	RoleViewer    Role = "viewer"
)

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	switch r {
	case RoleTeacher, RoleAssistant, RoleViewer:
		return true
	}
	return false
}

// CanWrite reports whether the role may apply behavior actions at all;
// course ownership is checked separately per command.
func (r Role) CanWrite() bool {
	return r == RoleTeacher || r == RoleAssistant
}

// Identity is the validated caller identity attached to each operation.
type Identity struct {
	UserID uuid.UUID
	Role   Role
}
