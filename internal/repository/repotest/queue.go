// Package repotest provides an in-memory EventRepository for tests.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/authz-sync/internal/errs"
	"github.com/and161185/authz-sync/internal/model"
	"github.com/and161185/authz-sync/internal/repository"
)

// Queue is an in-memory EventRepository with the same state machine as the
// Postgres queue. Events enqueued later always sort later.
type Queue struct {
	mu     sync.Mutex
	events map[uuid.UUID]*model.SyncEvent
	seq    time.Time

	fetchErr error
	markErr  error
	fetches  int
}

var _ repository.EventRepository = (*Queue)(nil)

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{events: map[uuid.UUID]*model.SyncEvent{}, seq: time.Unix(1_700_000_000, 0)}
}

// FailFetch makes FetchPending return err; nil restores it.
func (q *Queue) FailFetch(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fetchErr = err
}

// FailMark makes MarkProcessed return err without changing state; nil restores it.
func (q *Queue) FailMark(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.markErr = err
}

// Fetches returns how many times FetchPending ran.
func (q *Queue) Fetches() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fetches
}

// Corrupt marks a stored event's sync_data as undecodable.
func (q *Queue) Corrupt(id uuid.UUID, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ev, ok := q.events[id]; ok {
		ev.SyncDataErr = err
	}
}

func (q *Queue) sorted(status model.Status) []model.SyncEvent {
	var out []model.SyncEvent
	for _, ev := range q.events {
		if ev.Status == status {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (q *Queue) FetchPending(_ context.Context, limit int) ([]model.SyncEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fetches++
	if q.fetchErr != nil {
		return nil, q.fetchErr
	}
	out := q.sorted(model.StatusPending)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *Queue) MarkProcessed(_ context.Context, id uuid.UUID, status model.Status, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.markErr != nil {
		return q.markErr
	}
	ev, ok := q.events[id]
	if !ok || ev.Status != model.StatusPending {
		return fmt.Errorf("pending event %s: %w", id, errs.ErrNotFound)
	}
	now := time.Now()
	ev.Status, ev.ErrorMessage, ev.SyncedAt = status, errMsg, &now
	return nil
}

func (q *Queue) ResetToPending(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	ev, ok := q.events[id]
	if !ok {
		return errs.ErrNotFound
	}
	if ev.Status != model.StatusFailed {
		return errs.ErrNotRetryable
	}
	ev.Status, ev.ErrorMessage, ev.SyncedAt = model.StatusPending, "", nil
	return nil
}

func (q *Queue) Enqueue(_ context.Context, in model.NewEvent) (model.SyncEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq = q.seq.Add(time.Second)
	ev := model.SyncEvent{
		ID:             uuid.Must(uuid.NewV4()),
		EventType:      in.EventType,
		ResourceType:   in.ResourceType,
		ResourceID:     in.ResourceID,
		OrganizationID: in.OrganizationID,
		UserID:         in.UserID,
		SyncData:       in.SyncData,
		Status:         model.StatusPending,
		CreatedAt:      q.seq,
	}
	q.events[ev.ID] = &ev
	return ev, nil
}

func (q *Queue) Get(_ context.Context, id uuid.UUID) (*model.SyncEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ev, ok := q.events[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (q *Queue) CountByStatus(context.Context) (model.StatusCounts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var c model.StatusCounts
	for _, ev := range q.events {
		switch ev.Status {
		case model.StatusPending:
			c.Pending++
		case model.StatusSuccess:
			c.Success++
		case model.StatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (q *Queue) ListFailed(_ context.Context, limit int) ([]model.SyncEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.sorted(model.StatusFailed)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *Queue) ResetAllFailed(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, ev := range q.events {
		if ev.Status == model.StatusFailed {
			ev.Status, ev.ErrorMessage, ev.SyncedAt = model.StatusPending, "", nil
			n++
		}
	}
	return n, nil
}
