package tuple

import (
	"fmt"

	"github.com/and161185/authz-sync/internal/errs"
)

// Role is a membership role a user holds in an organization. The set is closed.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleStaff     Role = "staff"
	RoleViewer    Role = "viewer"
	RoleIssuer    Role = "issuer"
	RoleAppraiser Role = "appraiser"
)

// Roles lists every role. At most one of them may relate a user to an organization.
var Roles = []Role{RoleAdmin, RoleStaff, RoleViewer, RoleIssuer, RoleAppraiser}

var roleRelations = map[Role]string{
	RoleAdmin:     "admin",
	RoleStaff:     "staff",
	RoleViewer:    "viewer",
	RoleIssuer:    "issuer",
	RoleAppraiser: "appraiser",
}

// ParseRole validates an untrusted role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleRelations[r]; !ok {
		return "", fmt.Errorf("%w: %q", errs.ErrUnknownRole, s)
	}
	return r, nil
}

// RoleToRelation maps a role onto its organization relation.
// It panics on a role outside the closed set; use ParseRole on untrusted input.
func RoleToRelation(r Role) string {
	rel, ok := roleRelations[r]
	if !ok {
		panic(fmt.Sprintf("tuple: role %q is not in the role set", string(r)))
	}
	return rel
}

// RoleRelations returns the relation of every role, in Roles order.
func RoleRelations() []string {
	out := make([]string, 0, len(Roles))
	for _, r := range Roles {
		out = append(out, RoleToRelation(r))
	}
	return out
}

// RoleTuple is the membership tuple user --role--> organization.
func RoleTuple(userID, orgID string, r Role) Tuple {
	return New(User(userID), RoleToRelation(r), Organization(orgID))
}

// AllRoleTuples returns one tuple per role for (user, organization).
func AllRoleTuples(userID, orgID string) []Tuple {
	out := make([]Tuple, 0, len(Roles))
	for _, r := range Roles {
		out = append(out, RoleTuple(userID, orgID, r))
	}
	return out
}
