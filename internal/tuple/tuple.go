// Package tuple maps domain identifiers onto authorization-engine tuples.
//
// Everything here is pure: no I/O, no clocks, no randomness.
package tuple

import (
	"fmt"
	"strings"
)

// Object types known to the authorization model.
const (
	TypeUser                 = "user"
	TypeOrganization         = "organization"
	TypeArtwork              = "artwork"
	TypeAppraisal            = "appraisal"
	TypeNFCTag               = "nfc_tag"
	TypeOrganizationUsers    = "organization_users"
	TypeOrganizationSettings = "organization_settings"
	TypeSystem               = "system"
)

// Structural relations.
const (
	RelOrganization = "organization"
	RelCreator      = "creator"
	RelSuperUser    = "super_user"
)

// GlobalObject is the singleton that global-scope permissions are checked against.
const GlobalObject = TypeSystem + ":global"

// Tuple is a (subject, relation, object) relationship fact.
type Tuple struct {
	Subject  string
	Relation string
	Object   string
}

// New builds a tuple.
func New(subject, relation, object string) Tuple {
	return Tuple{Subject: subject, Relation: relation, Object: object}
}

// Key is the canonical "subject#relation@object" string used as a map key.
func (t Tuple) Key() string {
	return t.Subject + "#" + t.Relation + "@" + t.Object
}

func (t Tuple) String() string { return t.Key() }

// Format returns "kind:id".
func Format(kind, id string) string { return kind + ":" + id }

// User formats a user subject.
func User(id string) string { return Format(TypeUser, id) }

// Organization formats an organization subject/object.
func Organization(id string) string { return Format(TypeOrganization, id) }

// Artwork formats an artwork object.
func Artwork(id string) string { return Format(TypeArtwork, id) }

// Appraisal formats an appraisal object.
func Appraisal(id string) string { return Format(TypeAppraisal, id) }

// Tag formats an NFC tag object.
func Tag(id string) string { return Format(TypeNFCTag, id) }

// OrganizationUsers formats the user-management sub-resource of an organization.
func OrganizationUsers(orgID string) string { return Format(TypeOrganizationUsers, orgID) }

// OrganizationSettings formats the settings sub-resource of an organization.
func OrganizationSettings(orgID string) string { return Format(TypeOrganizationSettings, orgID) }

// Split parses "kind:id". Usersets ("kind:id#rel") keep the "#rel" part in id.
func Split(s string) (kind, id string, err error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || kind == "" || id == "" {
		return "", "", fmt.Errorf("tuple: malformed reference %q", s)
	}
	return kind, id, nil
}
