// Package model defines the core domain types for gomsg.
package model

// Permission represents a specific action that can be checked against a role.
type Permission int

const (
	PermReadOwnMail Permission = iota // INBOX/OUTBOX for the session's own username
	PermReadAnyMail                   // INBOX/OUTBOX for any username
	PermSendMail
	PermManageUsers // ADDUSER, UPDATEUSER, REMOVEUSER, LISTUSERS
)

func (p Permission) String() string {
	switch p {
	case PermReadOwnMail:
		return "read_own_mail"
	case PermReadAnyMail:
		return "read_any_mail"
	case PermSendMail:
		return "send_mail"
	case PermManageUsers:
		return "manage_users"
	default:
		return "unknown"
	}
}
