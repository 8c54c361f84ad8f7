// Package model defines domain entities used by services, the processor and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// EventType is the kind of domain mutation a sync event describes.
type EventType string

const (
	EventCreate         EventType = "create"
	EventUpdate         EventType = "update"
	EventDelete         EventType = "delete"
	EventTransfer       EventType = "transfer"
	EventUserAdd        EventType = "user_add"
	EventUserRoleUpdate EventType = "user_role_update"
	EventUserRemove     EventType = "user_remove"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventCreate, EventUpdate, EventDelete, EventTransfer,
		EventUserAdd, EventUserRoleUpdate, EventUserRemove:
		return true
	}
	return false
}

// ResourceType is the kind of resource a sync event refers to.
type ResourceType string

const (
	ResourceArtwork          ResourceType = "artwork"
	ResourceAppraisal        ResourceType = "appraisal"
	ResourceNFCTag           ResourceType = "nfc_tag"
	ResourceOrganization     ResourceType = "organization"
	ResourceOrganizationUser ResourceType = "organization_user"
)

// Valid reports whether r is one of the known resource types.
func (r ResourceType) Valid() bool {
	switch r {
	case ResourceArtwork, ResourceAppraisal, ResourceNFCTag,
		ResourceOrganization, ResourceOrganizationUser:
		return true
	}
	return false
}

// Status is the processing state of a sync event.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// SyncData is the event-type specific payload. Absent fields stay nil so
// "not provided" and "false"/"" are distinguishable.
type SyncData struct {
	Role              *string `json:"role,omitempty"`
	NewRole           *string `json:"new_role,omitempty"`
	OldRole           *string `json:"old_role,omitempty"`
	IsActive          *bool   `json:"is_active,omitempty"`
	IsSuperUser       *bool   `json:"is_super_user,omitempty"`
	OrganizationID    *string `json:"organization_id,omitempty"`
	OldOrganizationID *string `json:"old_organization_id,omitempty"`
	NewOrganizationID *string `json:"new_organization_id,omitempty"`
	CreatedBy         *string `json:"created_by,omitempty"`
}

// SyncEvent is a durable record of one authorization-relevant mutation.
// Only Status, ErrorMessage and SyncedAt change after creation.
type SyncEvent struct {
	ID             uuid.UUID    // assigned at enqueue time
	EventType      EventType    //
	ResourceType   ResourceType //
	ResourceID     string       // resource id, or user id for membership events
	OrganizationID string       // empty if not provided
	UserID         string       // empty if not provided
	SyncData       SyncData     // stored as JSONB
	Status         Status       //
	ErrorMessage   string       // set only when Status == StatusFailed
	CreatedAt      time.Time    //
	SyncedAt       *time.Time   // set on transition out of pending

	SyncDataErr error // non-nil if the stored sync_data could not be decoded
}

// NewEvent is a producer's enqueue intent.
type NewEvent struct {
	EventType      EventType
	ResourceType   ResourceType
	ResourceID     string
	OrganizationID string
	UserID         string
	SyncData       SyncData
}

// StatusCounts aggregates events by status.
type StatusCounts struct {
	Pending int64 `json:"pending"`
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
}

// Total returns the number of events across all statuses.
func (c StatusCounts) Total() int64 { return c.Pending + c.Success + c.Failed }

// StringPtr returns a pointer to s. Handy for building SyncData literals.
func StringPtr(s string) *string { return &s }

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }
