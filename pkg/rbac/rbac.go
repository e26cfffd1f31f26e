// Package rbac provides role-based access control checks and the
// per-verb authorization metadata consulted by the dispatcher.
package rbac

import (
	"github.com/NicolasHaas/gomsg/pkg/model"
	"github.com/NicolasHaas/gomsg/pkg/protocol"
)

// permissionMatrix maps roles to their allowed permissions.
var permissionMatrix = map[model.Role]map[model.Permission]bool{
	model.RoleAdmin: {
		model.PermReadOwnMail: true,
		model.PermReadAnyMail: true,
		model.PermSendMail:    true,
		model.PermManageUsers: true,
	},
	model.RoleUser: {
		model.PermReadOwnMail: true,
		model.PermSendMail:    true,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role model.Role, perm model.Permission) bool {
	perms, ok := permissionMatrix[role]
	if !ok {
		return false
	}
	return perms[perm]
}

// RequirePermission returns a denial reason if the role lacks the permission,
// or an empty string if allowed.
func RequirePermission(role model.Role, perm model.Permission) string {
	if HasPermission(role, perm) {
		return ""
	}
	return "permission denied: " + perm.String() + " requires " + minimumRole(perm).String()
}

func minimumRole(perm model.Permission) model.Role {
	if HasPermission(model.RoleUser, perm) {
		return model.RoleUser
	}
	return model.RoleAdmin
}

// Access is the session state a verb requires before it may run.
type Access int

const (
	AccessAnyone        Access = iota // LOGIN, LOGOUT, EXIT
	AccessAuthenticated               // any logged-in session
	AccessAdmin                       // logged-in session with the admin flag
)

// Rule is the static metadata for one verb.
type Rule struct {
	Access Access
	Perm   model.Permission // checked when Access > AccessAnyone
	Arity  int              // exact number of arguments
}

var rules = map[string]Rule{
	protocol.VerbLogin:      {Access: AccessAnyone, Arity: 2},
	protocol.VerbLogout:     {Access: AccessAnyone, Arity: 0},
	protocol.VerbExit:       {Access: AccessAnyone, Arity: 0},
	protocol.VerbInbox:      {Access: AccessAuthenticated, Perm: model.PermReadOwnMail, Arity: 1},
	protocol.VerbOutbox:     {Access: AccessAuthenticated, Perm: model.PermReadOwnMail, Arity: 1},
	protocol.VerbSendMsg:    {Access: AccessAuthenticated, Perm: model.PermSendMail, Arity: 3},
	protocol.VerbAddUser:    {Access: AccessAdmin, Perm: model.PermManageUsers, Arity: 8},
	protocol.VerbUpdateUser: {Access: AccessAdmin, Perm: model.PermManageUsers, Arity: 3},
	protocol.VerbRemoveUser: {Access: AccessAdmin, Perm: model.PermManageUsers, Arity: 1},
	protocol.VerbListUsers:  {Access: AccessAdmin, Perm: model.PermManageUsers, Arity: 0},
}

// Lookup returns the rule for a verb. Verbs are matched exactly as sent.
func Lookup(verb string) (Rule, bool) {
	r, ok := rules[verb]
	return r, ok
}

// RequiresSession reports whether the verb may only run on an authenticated
// session whose identity is still registered.
func (r Rule) RequiresSession() bool {
	return r.Access >= AccessAuthenticated
}

// Allows checks the rule's permission against a role.
func (r Rule) Allows(role model.Role) bool {
	if !r.RequiresSession() {
		return true
	}
	return HasPermission(role, r.Perm)
}
