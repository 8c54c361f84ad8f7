package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/authz-sync/internal/model"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.EventProcessed(model.StatusSuccess)
	m.EventProcessed(model.StatusSuccess)
	m.EventProcessed(model.StatusFailed)
	m.PollSkipped()
	m.PollResult(nil)
	m.PollResult(errors.New("db down"))
	m.BatchDone(30 * time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.processed.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.processed.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.pollSkipped))
	require.Equal(t, 1.0, testutil.ToFloat64(m.pollErrors))
	require.Equal(t, 1, testutil.CollectAndCount(m.batchDuration))
}

type statsFunc func(context.Context) (model.StatusCounts, error)

func (f statsFunc) Stats(ctx context.Context) (model.StatusCounts, error) { return f(ctx) }

func TestQueueCollector(t *testing.T) {
	t.Parallel()
	c := NewQueueCollector(statsFunc(func(context.Context) (model.StatusCounts, error) {
		return model.StatusCounts{Pending: 3, Success: 10, Failed: 2}, nil
	}), 0, zaptest.NewLogger(t))

	want := `
# HELP authz_sync_events Sync events currently in the queue, by status.
# TYPE authz_sync_events gauge
authz_sync_events{status="failed"} 2
authz_sync_events{status="pending"} 3
authz_sync_events{status="success"} 10
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(want)))
}

func TestQueueCollector_StatsError(t *testing.T) {
	t.Parallel()
	c := NewQueueCollector(statsFunc(func(context.Context) (model.StatusCounts, error) {
		return model.StatusCounts{}, errors.New("db down")
	}), time.Second, zaptest.NewLogger(t))

	require.Zero(t, testutil.CollectAndCount(c))
}
