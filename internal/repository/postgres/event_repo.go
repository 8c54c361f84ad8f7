package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/authz-sync/internal/errs"
	"github.com/and161185/authz-sync/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// EventRepo implements EventRepository using PostgreSQL.
type EventRepo struct{ db *DB }

// NewEventRepo constructs a sync event repository.
func NewEventRepo(db *DB) *EventRepo { return &EventRepo{db: db} }

const eventColumns = `id, event_type, resource_type, resource_id, organization_id, user_id,
sync_data, status, error_message, created_at, synced_at`

// FetchPending returns up to limit pending events ordered by created_at.
func (r *EventRepo) FetchPending(ctx context.Context, limit int) ([]model.SyncEvent, error) {
	q := `
SELECT ` + eventColumns + `
FROM sync_events
WHERE status='pending'
ORDER BY created_at ASC, id ASC
LIMIT $1`
	return r.queryEvents(ctx, q, limit)
}

// MarkProcessed moves a pending event to success or failed.
func (r *EventRepo) MarkProcessed(ctx context.Context, id uuid.UUID, status model.Status, errMsg string) error {
	switch status {
	case model.StatusSuccess:
		errMsg = ""
	case model.StatusFailed:
		if errMsg == "" {
			errMsg = "sync failed"
		}
	default:
		return fmt.Errorf("mark processed: invalid target status %q", status)
	}
	const q = `
UPDATE sync_events
SET status=$2, error_message=$3, synced_at=now()
WHERE id=$1 AND status='pending'`
	tag, err := r.db.Pool.Exec(ctx, q, id, string(status), nullable(errMsg))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pending event %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

// ResetToPending moves a failed event back to pending.
func (r *EventRepo) ResetToPending(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE sync_events
SET status='pending', error_message=NULL, synced_at=NULL
WHERE id=$1 AND status='failed'`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var st string
	const sel = `SELECT status FROM sync_events WHERE id=$1`
	if err := r.db.Pool.QueryRow(ctx, sel, id).Scan(&st); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}
	return fmt.Errorf("event %s is %s: %w", id, st, errs.ErrNotRetryable)
}

// ResetAllFailed moves every failed event back to pending.
func (r *EventRepo) ResetAllFailed(ctx context.Context) (int64, error) {
	const q = `
UPDATE sync_events
SET status='pending', error_message=NULL, synced_at=NULL
WHERE status='failed'`
	tag, err := r.db.Pool.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Enqueue inserts a pending event with a freshly generated id.
func (r *EventRepo) Enqueue(ctx context.Context, in model.NewEvent) (model.SyncEvent, error) {
	if !in.EventType.Valid() {
		return model.SyncEvent{}, fmt.Errorf("enqueue: %w: event_type %q", errs.ErrUnsupportedEvent, in.EventType)
	}
	if !in.ResourceType.Valid() {
		return model.SyncEvent{}, fmt.Errorf("enqueue: %w: resource_type %q", errs.ErrUnsupportedEvent, in.ResourceType)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.SyncEvent{}, err
	}
	data, err := json.Marshal(in.SyncData)
	if err != nil {
		return model.SyncEvent{}, fmt.Errorf("enqueue: encode sync_data: %w", err)
	}

	const q = `
INSERT INTO sync_events (id, event_type, resource_type, resource_id, organization_id, user_id, sync_data, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
RETURNING created_at`
	var created time.Time
	err = r.db.Pool.QueryRow(ctx, q,
		id, string(in.EventType), string(in.ResourceType), in.ResourceID,
		nullable(in.OrganizationID), nullable(in.UserID), data,
	).Scan(&created)
	if err != nil {
		return model.SyncEvent{}, err
	}
	return model.SyncEvent{
		ID:             id,
		EventType:      in.EventType,
		ResourceType:   in.ResourceType,
		ResourceID:     in.ResourceID,
		OrganizationID: in.OrganizationID,
		UserID:         in.UserID,
		SyncData:       in.SyncData,
		Status:         model.StatusPending,
		CreatedAt:      created,
	}, nil
}

// Get returns a single event by id.
func (r *EventRepo) Get(ctx context.Context, id uuid.UUID) (*model.SyncEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM sync_events WHERE id=$1`
	evs, err := r.queryEvents(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if len(evs) == 0 {
		return nil, errs.ErrNotFound
	}
	return &evs[0], nil
}

// CountByStatus returns the number of events in each status.
func (r *EventRepo) CountByStatus(ctx context.Context) (model.StatusCounts, error) {
	const q = `SELECT status, COUNT(*) FROM sync_events GROUP BY status`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return model.StatusCounts{}, err
	}
	defer rows.Close()

	var out model.StatusCounts
	for rows.Next() {
		var (
			st string
			n  int64
		)
		if err := rows.Scan(&st, &n); err != nil {
			return model.StatusCounts{}, err
		}
		switch model.Status(st) {
		case model.StatusPending:
			out.Pending = n
		case model.StatusSuccess:
			out.Success = n
		case model.StatusFailed:
			out.Failed = n
		}
	}
	return out, rows.Err()
}

// ListFailed returns up to limit failed events ordered by created_at.
func (r *EventRepo) ListFailed(ctx context.Context, limit int) ([]model.SyncEvent, error) {
	q := `
SELECT ` + eventColumns + `
FROM sync_events
WHERE status='failed'
ORDER BY created_at ASC, id ASC
LIMIT $1`
	return r.queryEvents(ctx, q, limit)
}

func (r *EventRepo) queryEvents(ctx context.Context, q string, args ...any) ([]model.SyncEvent, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SyncEvent
	for rows.Next() {
		var (
			ev              model.SyncEvent
			evType, resType string
			orgID, userID   *string
			data            []byte
			st              string
			errMsg          *string
			createdAt       time.Time
			syncedAt        *time.Time
		)
		if err := rows.Scan(&ev.ID, &evType, &resType, &ev.ResourceID, &orgID, &userID,
			&data, &st, &errMsg, &createdAt, &syncedAt); err != nil {
			return nil, err
		}
		ev.EventType = model.EventType(evType)
		ev.ResourceType = model.ResourceType(resType)
		ev.OrganizationID = deref(orgID)
		ev.UserID = deref(userID)
		ev.Status = model.Status(st)
		ev.ErrorMessage = deref(errMsg)
		ev.CreatedAt = createdAt
		ev.SyncedAt = syncedAt
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ev.SyncData); err != nil {
				ev.SyncData = model.SyncData{}
				ev.SyncDataErr = fmt.Errorf("decode sync_data: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
