package processor

import (
	"context"
	"fmt"

	"github.com/and161185/authz-sync/internal/errs"
	"github.com/and161185/authz-sync/internal/model"
	"github.com/and161185/authz-sync/internal/tuple"
)

// dispatch routes an event to its recipe. Combinations without a recipe are
// errors so they end up failed rather than silently successful.
func (p *Processor) dispatch(ctx context.Context, ev model.SyncEvent) error {
	if ev.SyncDataErr != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidSyncData, ev.SyncDataErr)
	}
	switch ev.ResourceType {
	case model.ResourceOrganizationUser:
		return p.syncMembership(ctx, ev)
	case model.ResourceOrganization:
		return p.syncOrganization(ctx, ev)
	case model.ResourceArtwork, model.ResourceAppraisal, model.ResourceNFCTag:
		return p.syncResource(ctx, ev)
	}
	return unsupported(ev)
}

func (p *Processor) syncMembership(ctx context.Context, ev model.SyncEvent) error {
	d := ev.SyncData
	userID := first(ev.UserID, ev.ResourceID)
	orgID := first(ev.OrganizationID, str(d.OrganizationID))

	switch ev.EventType {
	case model.EventUserAdd, model.EventUserRoleUpdate:
		if userID == "" || orgID == "" {
			return invalid(ev, "user_id and organization_id are required")
		}
		if d.IsActive != nil && !*d.IsActive {
			return p.sync.SyncUserRemoval(ctx, userID, orgID)
		}
		name := first(str(d.Role), str(d.NewRole))
		if ev.EventType == model.EventUserRoleUpdate {
			name = first(str(d.NewRole), str(d.Role))
		}
		if name == "" {
			return invalid(ev, "role is required")
		}
		role, err := tuple.ParseRole(name)
		if err != nil {
			return err
		}
		return p.sync.SyncUserRole(ctx, userID, orgID, role)

	case model.EventUserRemove, model.EventDelete:
		if userID == "" || orgID == "" {
			return invalid(ev, "user_id and organization_id are required")
		}
		return p.sync.SyncUserRemoval(ctx, userID, orgID)

	case model.EventUpdate:
		if d.IsSuperUser == nil {
			return invalid(ev, "is_super_user is required")
		}
		if userID == "" {
			return invalid(ev, "user_id is required")
		}
		return p.sync.SyncSuperUser(ctx, userID, *d.IsSuperUser)
	}
	return unsupported(ev)
}

func (p *Processor) syncOrganization(ctx context.Context, ev model.SyncEvent) error {
	orgID := first(ev.ResourceID, ev.OrganizationID)
	if orgID == "" {
		return invalid(ev, "organization id is required")
	}
	switch ev.EventType {
	case model.EventCreate:
		return p.sync.SyncOrganizationAccess(ctx, orgID)
	case model.EventDelete:
		return p.sync.SyncResourceDeletion(ctx, tuple.TypeOrganization, orgID)
	}
	return unsupported(ev)
}

func (p *Processor) syncResource(ctx context.Context, ev model.SyncEvent) error {
	objType, err := tuple.ObjectTypeForResource(string(ev.ResourceType))
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrUnsupportedEvent, err)
	}
	if ev.ResourceID == "" {
		return invalid(ev, "resource_id is required")
	}
	d := ev.SyncData

	switch ev.EventType {
	case model.EventCreate:
		orgID := first(ev.OrganizationID, str(d.OrganizationID))
		if orgID == "" {
			return invalid(ev, "organization_id is required")
		}
		var creator string
		if ev.ResourceType == model.ResourceAppraisal {
			creator = first(ev.UserID, str(d.CreatedBy))
		}
		return p.sync.SyncResourceCreation(ctx, objType, ev.ResourceID, orgID, creator)

	case model.EventDelete:
		return p.sync.SyncResourceDeletion(ctx, objType, ev.ResourceID)

	case model.EventTransfer, model.EventUpdate:
		oldOrg, newOrg := str(d.OldOrganizationID), str(d.NewOrganizationID)
		if oldOrg == "" || newOrg == "" {
			return invalid(ev, "old_organization_id and new_organization_id are required")
		}
		return p.sync.SyncResourceTransfer(ctx, objType, ev.ResourceID, oldOrg, newOrg)
	}
	return unsupported(ev)
}

func unsupported(ev model.SyncEvent) error {
	return fmt.Errorf("%w: %s on %s", errs.ErrUnsupportedEvent, ev.EventType, ev.ResourceType)
}

func invalid(ev model.SyncEvent, reason string) error {
	return fmt.Errorf("%w: %s on %s: %s", errs.ErrInvalidSyncData, ev.EventType, ev.ResourceType, reason)
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
