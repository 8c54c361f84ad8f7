package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/authz-sync/internal/model"
	"github.com/and161185/authz-sync/internal/repository"
)

// MonitorService exposes queue health and the manual retry path.
type MonitorService interface {
	// Stats returns event counts per status.
	Stats(ctx context.Context) (model.StatusCounts, error)
	// ListFailed returns failed events with their error messages, oldest first.
	ListFailed(ctx context.Context, limit int) ([]model.SyncEvent, error)
	// Get returns a single event.
	Get(ctx context.Context, id uuid.UUID) (*model.SyncEvent, error)
	// Retry moves a failed event back to pending.
	Retry(ctx context.Context, id uuid.UUID) error
	// RetryAllFailed moves every failed event back to pending.
	RetryAllFailed(ctx context.Context) (int64, error)
	// Enqueue validates and inserts a producer event.
	Enqueue(ctx context.Context, ev model.NewEvent) (model.SyncEvent, error)
}

type MonitorServiceImpl struct {
	events   repository.EventRepository
	maxLimit int
}

// NewMonitorService constructs MonitorService; maxLimit caps listing sizes.
func NewMonitorService(events repository.EventRepository, maxLimit int) *MonitorServiceImpl {
	if maxLimit <= 0 {
		maxLimit = 500
	}
	return &MonitorServiceImpl{events: events, maxLimit: maxLimit}
}

var _ MonitorService = (*MonitorServiceImpl)(nil)

func (s *MonitorServiceImpl) Stats(ctx context.Context) (model.StatusCounts, error) {
	return s.events.CountByStatus(ctx)
}

// ListFailed clamps limit to (0, maxLimit].
func (s *MonitorServiceImpl) ListFailed(ctx context.Context, limit int) ([]model.SyncEvent, error) {
	if limit <= 0 || limit > s.maxLimit {
		limit = s.maxLimit
	}
	return s.events.ListFailed(ctx, limit)
}

func (s *MonitorServiceImpl) Get(ctx context.Context, id uuid.UUID) (*model.SyncEvent, error) {
	if id == uuid.Nil {
		return nil, errors.New("validation: empty event id")
	}
	return s.events.Get(ctx, id)
}

// Retry returns errs.ErrNotFound for unknown ids and errs.ErrNotRetryable for
// events that are not failed.
func (s *MonitorServiceImpl) Retry(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return errors.New("validation: empty event id")
	}
	return s.events.ResetToPending(ctx, id)
}

func (s *MonitorServiceImpl) RetryAllFailed(ctx context.Context) (int64, error) {
	return s.events.ResetAllFailed(ctx)
}

// Enqueue checks the event's discriminators and identifiers before inserting.
func (s *MonitorServiceImpl) Enqueue(ctx context.Context, ev model.NewEvent) (model.SyncEvent, error) {
	if !ev.EventType.Valid() {
		return model.SyncEvent{}, fmt.Errorf("validation: unknown event type %q", ev.EventType)
	}
	if !ev.ResourceType.Valid() {
		return model.SyncEvent{}, fmt.Errorf("validation: unknown resource type %q", ev.ResourceType)
	}
	if ev.ResourceID == "" {
		return model.SyncEvent{}, errors.New("validation: empty resource id")
	}
	return s.events.Enqueue(ctx, ev)
}
