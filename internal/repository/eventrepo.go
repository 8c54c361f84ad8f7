// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/authz-sync/internal/model"
	"github.com/gofrs/uuid/v5"
)

// EventRepository is the durable sync-event queue.
//
// FetchPending, MarkProcessed and ResetToPending are the only operations the
// sync pipeline requires; the rest serve producers and monitoring.
type EventRepository interface {
	// FetchPending returns up to limit pending events, oldest first.
	FetchPending(ctx context.Context, limit int) ([]model.SyncEvent, error)
	// MarkProcessed finalizes a pending event as success or failed and stamps synced_at.
	MarkProcessed(ctx context.Context, id uuid.UUID, status model.Status, errMsg string) error
	// ResetToPending moves a failed event back to pending, clearing error_message and synced_at.
	ResetToPending(ctx context.Context, id uuid.UUID) error

	// Enqueue inserts a new pending event and returns it.
	Enqueue(ctx context.Context, ev model.NewEvent) (model.SyncEvent, error)
	// Get loads a single event by id.
	Get(ctx context.Context, id uuid.UUID) (*model.SyncEvent, error)
	// CountByStatus aggregates event counts per status.
	CountByStatus(ctx context.Context) (model.StatusCounts, error)
	// ListFailed returns up to limit failed events, oldest first.
	ListFailed(ctx context.Context, limit int) ([]model.SyncEvent, error)
	// ResetAllFailed moves every failed event back to pending and returns how many moved.
	ResetAllFailed(ctx context.Context) (int64, error)
}
