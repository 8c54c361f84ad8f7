package tuple

import (
	"fmt"
	"strings"

	"github.com/and161185/authz-sync/internal/errs"
)

// Permission is an application-level permission name.
type Permission string

// Scope decides how a permission check builds its object.
type Scope int

const (
	// ScopeResource checks against a single resource, or its organization when no resource id is known.
	ScopeResource Scope = iota + 1
	// ScopeOrganization checks against an organization-level object keyed by organization id.
	ScopeOrganization
	// ScopeGlobal checks against the system singleton.
	ScopeGlobal
)

const (
	PermViewArtworks   Permission = "view_artworks"
	PermCreateArtworks Permission = "create_artworks"
	PermUpdateArtworks Permission = "update_artworks"
	PermDeleteArtworks Permission = "delete_artworks"

	PermViewAppraisals   Permission = "view_appraisals"
	PermCreateAppraisals Permission = "create_appraisals"
	PermUpdateAppraisals Permission = "update_appraisals"
	PermDeleteAppraisals Permission = "delete_appraisals"

	PermViewTags   Permission = "view_nfc_tags"
	PermCreateTags Permission = "create_nfc_tags"
	PermUpdateTags Permission = "update_nfc_tags"
	PermDeleteTags Permission = "delete_nfc_tags"
	PermIssueTags  Permission = "issue_nfc_tags"

	PermViewUsers   Permission = "view_users"
	PermManageUsers Permission = "manage_users"

	PermViewSettings   Permission = "view_settings"
	PermManageSettings Permission = "manage_settings"

	PermViewOrganization   Permission = "view_organization"
	PermManageOrganization Permission = "manage_organization"

	PermSuperUser    Permission = "super_user"
	PermManageSystem Permission = "manage_system"
)

// Relations used by permission checks.
const (
	RelCanView   = "can_view"
	RelCanCreate = "can_create"
	RelCanUpdate = "can_update"
	RelCanDelete = "can_delete"
	RelCanIssue  = "can_issue"
	RelCanManage = "can_manage"
)

type permissionRule struct {
	relation string
	objType  string
	scope    Scope
}

var permissions = map[Permission]permissionRule{
	PermViewArtworks:   {RelCanView, TypeArtwork, ScopeResource},
	PermCreateArtworks: {RelCanCreate, TypeArtwork, ScopeResource},
	PermUpdateArtworks: {RelCanUpdate, TypeArtwork, ScopeResource},
	PermDeleteArtworks: {RelCanDelete, TypeArtwork, ScopeResource},

	PermViewAppraisals:   {RelCanView, TypeAppraisal, ScopeResource},
	PermCreateAppraisals: {RelCanCreate, TypeAppraisal, ScopeResource},
	PermUpdateAppraisals: {RelCanUpdate, TypeAppraisal, ScopeResource},
	PermDeleteAppraisals: {RelCanDelete, TypeAppraisal, ScopeResource},

	PermViewTags:   {RelCanView, TypeNFCTag, ScopeResource},
	PermCreateTags: {RelCanCreate, TypeNFCTag, ScopeResource},
	PermUpdateTags: {RelCanUpdate, TypeNFCTag, ScopeResource},
	PermDeleteTags: {RelCanDelete, TypeNFCTag, ScopeResource},
	PermIssueTags:  {RelCanIssue, TypeNFCTag, ScopeResource},

	PermViewUsers:   {RelCanView, TypeOrganizationUsers, ScopeOrganization},
	PermManageUsers: {RelCanManage, TypeOrganizationUsers, ScopeOrganization},

	PermViewSettings:   {RelCanView, TypeOrganizationSettings, ScopeOrganization},
	PermManageSettings: {RelCanManage, TypeOrganizationSettings, ScopeOrganization},

	PermViewOrganization:   {RelCanView, TypeOrganization, ScopeOrganization},
	PermManageOrganization: {RelCanManage, TypeOrganization, ScopeOrganization},

	PermSuperUser:    {RelSuperUser, TypeSystem, ScopeGlobal},
	PermManageSystem: {RelCanManage, TypeSystem, ScopeGlobal},
}

// Permissions returns every known permission.
func Permissions() []Permission {
	out := make([]Permission, 0, len(permissions))
	for p := range permissions {
		out = append(out, p)
	}
	return out
}

// Known reports whether p is in the permission table.
func (p Permission) Known() bool {
	_, ok := permissions[p]
	return ok
}

// PermissionToRelation returns the relation a permission is checked through.
// Names outside the table pass through unchanged: callers may hand in a
// relation name such as "admin" directly.
func PermissionToRelation(p Permission) string {
	if r, ok := permissions[p]; ok {
		return r.relation
	}
	return string(p)
}

// legacyTypeHints is the substring order the permission names were designed
// around. Only consulted for names missing from the table.
var legacyTypeHints = []struct {
	substr  string
	objType string
}{
	{"artwork", TypeArtwork},
	{"appraisal", TypeAppraisal},
	{"nfc_tag", TypeNFCTag},
	{"tag", TypeNFCTag},
	{"user", TypeOrganizationUsers},
	{"setting", TypeOrganizationSettings},
	{"organization", TypeOrganization},
	{"system", TypeSystem},
}

// ResourceTypeFromPermission returns the object type a permission targets.
func ResourceTypeFromPermission(p Permission) (string, bool) {
	if r, ok := permissions[p]; ok {
		return r.objType, true
	}
	name := strings.ToLower(string(p))
	for _, h := range legacyTypeHints {
		if strings.Contains(name, h.substr) {
			return h.objType, true
		}
	}
	return "", false
}

func scopeOf(p Permission, objType string) Scope {
	if r, ok := permissions[p]; ok {
		return r.scope
	}
	switch objType {
	case TypeArtwork, TypeAppraisal, TypeNFCTag:
		return ScopeResource
	case TypeSystem:
		return ScopeGlobal
	default:
		return ScopeOrganization
	}
}

// FormatPermissionCheck resolves a permission question into the tuple the
// engine is asked about. resourceID and orgID may be empty.
func FormatPermissionCheck(userID string, p Permission, resourceID, orgID string) (Tuple, error) {
	subject := User(userID)
	relation := PermissionToRelation(p)

	objType, ok := ResourceTypeFromPermission(p)
	if !ok {
		return passthroughCheck(subject, relation, resourceID, orgID)
	}

	switch scopeOf(p, objType) {
	case ScopeGlobal:
		return New(subject, relation, GlobalObject), nil
	case ScopeResource:
		if resourceID != "" {
			return New(subject, relation, Format(objType, resourceID)), nil
		}
		if orgID != "" {
			return New(subject, relation, Organization(orgID)), nil
		}
	case ScopeOrganization:
		if orgID == "" {
			orgID = resourceID
		}
		if orgID != "" {
			return New(subject, relation, Format(objType, orgID)), nil
		}
	}
	return Tuple{}, fmt.Errorf("permission %q: %w", p, errs.ErrMissingScope)
}

// passthroughCheck builds the object for a bare relation name. An org id wins.
// A typed resource reference ("artwork:a1") is used as is; a plain resource id
// is taken as an organization id, like organization-scoped permissions.
func passthroughCheck(subject, relation, resourceID, orgID string) (Tuple, error) {
	switch {
	case orgID != "":
		return New(subject, relation, Organization(orgID)), nil
	case resourceID == "":
		return Tuple{}, fmt.Errorf("relation %q: %w", relation, errs.ErrMissingScope)
	case strings.Contains(resourceID, ":"):
		kind, _, err := Split(resourceID)
		if err != nil {
			return Tuple{}, err
		}
		if !knownObjectType(kind) {
			return Tuple{}, fmt.Errorf("%w: %q", errs.ErrUnknownResourceType, kind)
		}
		return New(subject, relation, resourceID), nil
	default:
		return New(subject, relation, Organization(resourceID)), nil
	}
}

func knownObjectType(kind string) bool {
	switch kind {
	case TypeUser, TypeOrganization, TypeArtwork, TypeAppraisal, TypeNFCTag,
		TypeOrganizationUsers, TypeOrganizationSettings, TypeSystem:
		return true
	}
	return false
}
