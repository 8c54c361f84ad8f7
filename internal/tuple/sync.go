package tuple

import "fmt"

// ObjectTypeForResource maps an event resource type onto its object type.
func ObjectTypeForResource(resourceType string) (string, error) {
	switch resourceType {
	case TypeArtwork, TypeAppraisal, TypeNFCTag, TypeOrganization:
		return resourceType, nil
	}
	return "", fmt.Errorf("tuple: resource type %q has no object type", resourceType)
}

// OwnershipTuple binds a resource to its owning organization.
func OwnershipTuple(objType, resourceID, orgID string) Tuple {
	return New(Organization(orgID), RelOrganization, Format(objType, resourceID))
}

// CreatorTuple binds the creating user to a resource.
func CreatorTuple(objType, resourceID, userID string) Tuple {
	return New(User(userID), RelCreator, Format(objType, resourceID))
}

// SuperUserTuple grants global super-user access.
func SuperUserTuple(userID string) Tuple {
	return New(User(userID), RelSuperUser, GlobalObject)
}

// OrganizationStructureTuples let the organization's administrative
// sub-resources inherit checks through the organization.
func OrganizationStructureTuples(orgID string) []Tuple {
	org := Organization(orgID)
	return []Tuple{
		New(org, RelOrganization, OrganizationUsers(orgID)),
		New(org, RelOrganization, OrganizationSettings(orgID)),
	}
}

// CleanupRelations is the relation set enumerated when a resource is deleted.
var CleanupRelations = []string{RelCanView, RelCanCreate, RelCanUpdate, RelCanDelete, RelCreator, RelOrganization}

// CleanupSubjectTypes are the subject types enumerated per cleanup relation.
var CleanupSubjectTypes = []string{TypeUser, TypeOrganization}
