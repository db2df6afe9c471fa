package application

import (
	"slices"
	"strings"

	"identity-service/internal/domain"
)

// Names the HTTP surface gates on.
const (
	RoleAdmin            = "ADMIN"
	PermissionUserManage = "USER:MANAGE"
)

// Requirement is a predicate over a user's role and permission snapshot.
type Requirement interface {
	SatisfiedBy(user domain.User) bool
	String() string
}

type anyRole struct {
	roles []string
}

// AnyRole is met when the user directly holds at least one of roles.
func AnyRole(roles ...string) Requirement {
	return anyRole{roles: slices.Clone(roles)}
}

func (r anyRole) SatisfiedBy(user domain.User) bool {
	return intersects(user.RoleNames(), r.roles)
}

func (r anyRole) String() string {
	return "any role of [" + strings.Join(r.roles, ",") + "]"
}

type hasPermission struct {
	code string
}

// HasPermission is met when any held role grants code.
func HasPermission(code string) Requirement {
	return hasPermission{code: code}
}

func (r hasPermission) SatisfiedBy(user domain.User) bool {
	return r.code != "" && slices.Contains(user.PermissionCodes(), r.code)
}

func (r hasPermission) String() string {
	return "permission " + r.code
}

func intersects(held, required []string) bool {
	for _, name := range required {
		if slices.Contains(held, name) {
			return true
		}
	}
	return false
}
