package service

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/authz-sync/internal/errs"
	"github.com/and161185/authz-sync/internal/model"
	"github.com/and161185/authz-sync/internal/repository"
)

type fakeEventRepo struct {
	counts    model.StatusCounts
	failed    []model.SyncEvent
	listLimit int

	resetID  uuid.UUID
	resetErr error
	resetAll int64

	enqueued []model.NewEvent
}

var _ repository.EventRepository = (*fakeEventRepo)(nil)

func (f *fakeEventRepo) FetchPending(context.Context, int) ([]model.SyncEvent, error) {
	return nil, nil
}
func (f *fakeEventRepo) MarkProcessed(context.Context, uuid.UUID, model.Status, string) error {
	return nil
}
func (f *fakeEventRepo) ResetToPending(_ context.Context, id uuid.UUID) error {
	f.resetID = id
	return f.resetErr
}
func (f *fakeEventRepo) Enqueue(_ context.Context, ev model.NewEvent) (model.SyncEvent, error) {
	f.enqueued = append(f.enqueued, ev)
	return model.SyncEvent{ID: uuid.Must(uuid.NewV4()), EventType: ev.EventType, ResourceType: ev.ResourceType,
		ResourceID: ev.ResourceID, Status: model.StatusPending}, nil
}
func (f *fakeEventRepo) Get(_ context.Context, id uuid.UUID) (*model.SyncEvent, error) {
	for i := range f.failed {
		if f.failed[i].ID == id {
			return &f.failed[i], nil
		}
	}
	return nil, errs.ErrNotFound
}
func (f *fakeEventRepo) CountByStatus(context.Context) (model.StatusCounts, error) {
	return f.counts, nil
}
func (f *fakeEventRepo) ListFailed(_ context.Context, limit int) ([]model.SyncEvent, error) {
	f.listLimit = limit
	return f.failed, nil
}
func (f *fakeEventRepo) ResetAllFailed(context.Context) (int64, error) {
	return f.resetAll, nil
}

func TestMonitor_Stats(t *testing.T) {
	t.Parallel()
	repo := &fakeEventRepo{counts: model.StatusCounts{Pending: 2, Success: 5, Failed: 1}}
	s := NewMonitorService(repo, 0)

	got, err := s.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(8), got.Total())
	require.Equal(t, int64(1), got.Failed)
}

func TestMonitor_ListFailed_ClampsLimit(t *testing.T) {
	t.Parallel()
	repo := &fakeEventRepo{}
	s := NewMonitorService(repo, 50)
	ctx := context.Background()

	_, err := s.ListFailed(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 50, repo.listLimit)

	_, _ = s.ListFailed(ctx, 1000)
	require.Equal(t, 50, repo.listLimit)

	_, _ = s.ListFailed(ctx, 7)
	require.Equal(t, 7, repo.listLimit)
}

func TestMonitor_Retry(t *testing.T) {
	t.Parallel()
	repo := &fakeEventRepo{}
	s := NewMonitorService(repo, 0)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	require.NoError(t, s.Retry(ctx, id))
	require.Equal(t, id, repo.resetID)

	repo.resetErr = errs.ErrNotRetryable
	require.ErrorIs(t, s.Retry(ctx, id), errs.ErrNotRetryable)

	require.Error(t, s.Retry(ctx, uuid.Nil))
}

func TestMonitor_RetryAllFailed(t *testing.T) {
	t.Parallel()
	s := NewMonitorService(&fakeEventRepo{resetAll: 3}, 0)

	n, err := s.RetryAllFailed(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestMonitor_Get(t *testing.T) {
	t.Parallel()
	id := uuid.Must(uuid.NewV4())
	repo := &fakeEventRepo{failed: []model.SyncEvent{{ID: id, Status: model.StatusFailed, ErrorMessage: "boom"}}}
	s := NewMonitorService(repo, 0)
	ctx := context.Background()

	ev, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "boom", ev.ErrorMessage)

	_, err = s.Get(ctx, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMonitor_Enqueue_Validation(t *testing.T) {
	t.Parallel()
	repo := &fakeEventRepo{}
	s := NewMonitorService(repo, 0)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, model.NewEvent{EventType: "rename", ResourceType: model.ResourceArtwork, ResourceID: "a1"})
	require.Error(t, err)
	_, err = s.Enqueue(ctx, model.NewEvent{EventType: model.EventCreate, ResourceType: "gallery", ResourceID: "a1"})
	require.Error(t, err)
	_, err = s.Enqueue(ctx, model.NewEvent{EventType: model.EventCreate, ResourceType: model.ResourceArtwork})
	require.Error(t, err)
	require.Empty(t, repo.enqueued)

	ev, err := s.Enqueue(ctx, model.NewEvent{EventType: model.EventCreate, ResourceType: model.ResourceArtwork,
		ResourceID: "a1", OrganizationID: "org1"})
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, ev.Status)
	require.Len(t, repo.enqueued, 1)
}
