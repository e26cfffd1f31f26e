package model

// Role represents a user's permission level. It is derived from User.IsAdmin
// and is never stored on its own.
type Role int

const (
	RoleUser  Role = iota // Can read its own mailbox and send messages
	RoleAdmin             // Full control: read any mailbox, manage accounts
)

// RoleFor maps the stored admin flag onto a Role.
func RoleFor(isAdmin bool) Role {
	if isAdmin {
		return RoleAdmin
	}
	return RoleUser
}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Valid returns true if the role is a recognised value.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}
