package auth

import (
	"net/mail"
	"slices"
)

// Identity names the account an operation acts on: either a unique key
// (username or email) still to be looked up, or an already loaded user.
//
// The interface is sealed; use ByKey or ByUser.
type Identity interface {
	identity()
}

type keyIdentity string

func (keyIdentity) identity() {}

type userIdentity struct{ user *User }

func (userIdentity) identity() {}

// ByKey identifies an account by its email address or username.
// Keys that parse as a bare email address are matched against the email
// column, everything else against username.
func ByKey(key string) Identity {
	return keyIdentity(key)
}

// ByUser identifies an already loaded account.
func ByUser(u *User) Identity {
	return userIdentity{user: u}
}

// isEmailKey reports whether key should be looked up by email.
func isEmailKey(key string) bool {
	addr, err := mail.ParseAddress(key)
	return err == nil && addr.Address == key
}

// RoleQuery describes the roles a logged-in user must hold.
// A nil RoleQuery matches any logged-in user.
//
// The interface is sealed; use RoleNames, RoleName or Roles.
type RoleQuery interface {
	roleQuery()
}

type roleNames []string

func (roleNames) roleQuery() {}

type roleName string

func (roleName) roleQuery() {}

type resolvedRoles []Role

func (resolvedRoles) roleQuery() {}

// RoleNames requires every named role. Duplicate names are ignored and an
// empty set matches any logged-in user. A name with no matching role row
// never matches.
func RoleNames(names ...string) RoleQuery {
	uniq := slices.Clone(names)
	slices.Sort(uniq)
	return roleNames(slices.Compact(uniq))
}

// RoleName requires a single named role.
func RoleName(name string) RoleQuery {
	return roleName(name)
}

// Roles requires every one of the given, already loaded roles.
func Roles(roles ...Role) RoleQuery {
	return resolvedRoles(roles)
}
