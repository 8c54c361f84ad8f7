// Package service contains the reconciliation recipes that translate domain
// events into authorization tuples, and the monitoring service over the queue.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/authz-sync/internal/tuple"
)

// TupleStore is the part of the authorization client the recipes use.
// Write and Delete must be idempotent. ListUsersErr reports failed reads so a
// cleanup never mistakes an unreachable engine for an empty graph.
type TupleStore interface {
	Write(ctx context.Context, tuples []tuple.Tuple) error
	Delete(ctx context.Context, tuples []tuple.Tuple) error
	ListUsersErr(ctx context.Context, object, relation string, userType ...string) ([]string, error)
}

// SyncService reconciles one kind of domain mutation into the tuple graph.
// Every recipe is safe to replay.
type SyncService interface {
	// SyncUserRole makes role the only role the user holds in the organization.
	SyncUserRole(ctx context.Context, userID, orgID string, role tuple.Role) error
	// SyncUserRemoval revokes every role the user holds in the organization.
	SyncUserRemoval(ctx context.Context, userID, orgID string) error
	// SyncResourceCreation binds a new resource to its organization and, for
	// appraisals, to its creator.
	SyncResourceCreation(ctx context.Context, objType, resourceID, orgID, creatorID string) error
	// SyncResourceDeletion removes every tuple that points at the resource.
	SyncResourceDeletion(ctx context.Context, objType, resourceID string) error
	// SyncResourceTransfer moves a resource from one organization to another.
	SyncResourceTransfer(ctx context.Context, objType, resourceID, oldOrgID, newOrgID string) error
	// SyncSuperUser grants or revokes global super-user access.
	SyncSuperUser(ctx context.Context, userID string, enabled bool) error
	// SyncOrganizationAccess writes the structural tuples of a new organization.
	SyncOrganizationAccess(ctx context.Context, orgID string) error
}

type SyncServiceImpl struct {
	store TupleStore
	log   *zap.Logger
}

// NewSyncService constructs SyncService over a tuple store.
func NewSyncService(store TupleStore, log *zap.Logger) *SyncServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncServiceImpl{store: store, log: log.Named("sync")}
}

var _ SyncService = (*SyncServiceImpl)(nil)

// SyncUserRole revokes all roles before granting the new one, so a failure
// between the two calls leaves the user with no access rather than two roles.
func (s *SyncServiceImpl) SyncUserRole(ctx context.Context, userID, orgID string, role tuple.Role) error {
	if userID == "" || orgID == "" {
		return errors.New("validation: empty user/organization id")
	}
	if _, err := tuple.ParseRole(string(role)); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, tuple.AllRoleTuples(userID, orgID)); err != nil {
		return fmt.Errorf("revoke roles: %w", err)
	}
	if err := s.store.Write(ctx, []tuple.Tuple{tuple.RoleTuple(userID, orgID, role)}); err != nil {
		return fmt.Errorf("grant role %s: %w", role, err)
	}
	s.log.Debug("role synced", zap.String("user_id", userID), zap.String("org_id", orgID), zap.String("role", string(role)))
	return nil
}

// SyncUserRemoval deletes every role tuple between user and organization.
func (s *SyncServiceImpl) SyncUserRemoval(ctx context.Context, userID, orgID string) error {
	if userID == "" || orgID == "" {
		return errors.New("validation: empty user/organization id")
	}
	if err := s.store.Delete(ctx, tuple.AllRoleTuples(userID, orgID)); err != nil {
		return fmt.Errorf("revoke roles: %w", err)
	}
	return nil
}

func (s *SyncServiceImpl) SyncResourceCreation(ctx context.Context, objType, resourceID, orgID, creatorID string) error {
	if resourceID == "" || orgID == "" {
		return errors.New("validation: empty resource/organization id")
	}
	ts := []tuple.Tuple{tuple.OwnershipTuple(objType, resourceID, orgID)}
	if objType == tuple.TypeAppraisal && creatorID != "" {
		ts = append(ts, tuple.CreatorTuple(objType, resourceID, creatorID))
	}
	if err := s.store.Write(ctx, ts); err != nil {
		return fmt.Errorf("bind %s: %w", tuple.Format(objType, resourceID), err)
	}
	return nil
}

// SyncResourceDeletion enumerates the cleanup relations for both subject
// types and deletes whatever it finds. Organizations additionally lose
// their membership roles and structural tuples. A failed enumeration fails
// the recipe, so the event stays retryable.
func (s *SyncServiceImpl) SyncResourceDeletion(ctx context.Context, objType, resourceID string) error {
	if resourceID == "" {
		return errors.New("validation: empty resource id")
	}
	object := tuple.Format(objType, resourceID)

	relations := tuple.CleanupRelations
	if objType == tuple.TypeOrganization {
		relations = append(append([]string{}, relations...), tuple.RoleRelations()...)
	}

	seen := map[string]struct{}{}
	var doomed []tuple.Tuple
	add := func(t tuple.Tuple) {
		if _, ok := seen[t.Key()]; ok {
			return
		}
		seen[t.Key()] = struct{}{}
		doomed = append(doomed, t)
	}
	for _, rel := range relations {
		for _, typ := range tuple.CleanupSubjectTypes {
			subjects, err := s.store.ListUsersErr(ctx, object, rel, typ)
			if err != nil {
				return fmt.Errorf("enumerate %s#%s: %w", object, rel, err)
			}
			for _, subject := range subjects {
				add(tuple.New(subject, rel, object))
			}
		}
	}
	if objType == tuple.TypeOrganization {
		for _, t := range tuple.OrganizationStructureTuples(resourceID) {
			add(t)
		}
	}

	if len(doomed) == 0 {
		s.log.Debug("nothing to clean up", zap.String("object", object))
		return nil
	}
	if err := s.store.Delete(ctx, doomed); err != nil {
		return fmt.Errorf("clean up %s: %w", object, err)
	}
	s.log.Debug("resource cleaned up", zap.String("object", object), zap.Int("tuples", len(doomed)))
	return nil
}

// SyncResourceTransfer revokes the old ownership before granting the new one.
func (s *SyncServiceImpl) SyncResourceTransfer(ctx context.Context, objType, resourceID, oldOrgID, newOrgID string) error {
	if resourceID == "" || oldOrgID == "" || newOrgID == "" {
		return errors.New("validation: empty resource/organization id")
	}
	if oldOrgID != newOrgID {
		if err := s.store.Delete(ctx, []tuple.Tuple{tuple.OwnershipTuple(objType, resourceID, oldOrgID)}); err != nil {
			return fmt.Errorf("unbind from %s: %w", oldOrgID, err)
		}
	}
	if err := s.store.Write(ctx, []tuple.Tuple{tuple.OwnershipTuple(objType, resourceID, newOrgID)}); err != nil {
		return fmt.Errorf("bind to %s: %w", newOrgID, err)
	}
	return nil
}

func (s *SyncServiceImpl) SyncSuperUser(ctx context.Context, userID string, enabled bool) error {
	if userID == "" {
		return errors.New("validation: empty user id")
	}
	t := []tuple.Tuple{tuple.SuperUserTuple(userID)}
	if enabled {
		return s.store.Write(ctx, t)
	}
	return s.store.Delete(ctx, t)
}

func (s *SyncServiceImpl) SyncOrganizationAccess(ctx context.Context, orgID string) error {
	if orgID == "" {
		return errors.New("validation: empty organization id")
	}
	if err := s.store.Write(ctx, tuple.OrganizationStructureTuples(orgID)); err != nil {
		return fmt.Errorf("bootstrap organization %s: %w", orgID, err)
	}
	return nil
}
