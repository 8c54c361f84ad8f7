// Package metrics holds the Prometheus collectors of the sync pipeline.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/and161185/authz-sync/internal/model"
)

const namespace = "authz_sync"

// Metrics records processor activity.
type Metrics struct {
	processed     *prometheus.CounterVec
	batchDuration prometheus.Histogram
	pollSkipped   prometheus.Counter
	pollErrors    prometheus.Counter
}

// New registers the processor collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		processed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Sync events finalized, by resulting status.",
		}, []string{"status"}),
		batchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one poll-and-drain pass.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		pollSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_skipped_total",
			Help:      "Timer ticks skipped because a pass was still running.",
		}),
		pollErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Polls that failed to read the event queue.",
		}),
	}
}

func (m *Metrics) EventProcessed(status model.Status) {
	m.processed.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) BatchDone(d time.Duration) { m.batchDuration.Observe(d.Seconds()) }

func (m *Metrics) PollSkipped() { m.pollSkipped.Inc() }

// PollResult counts failed polls; nil is a successful poll.
func (m *Metrics) PollResult(err error) {
	if err != nil {
		m.pollErrors.Inc()
	}
}

// StatsSource reports queue counts per status.
type StatsSource interface {
	Stats(ctx context.Context) (model.StatusCounts, error)
}

// QueueCollector exports the queue size per status at scrape time.
type QueueCollector struct {
	src     StatsSource
	timeout time.Duration
	log     *zap.Logger
	desc    *prometheus.Desc
}

// NewQueueCollector builds a collector; register it with reg.MustRegister.
func NewQueueCollector(src StatsSource, timeout time.Duration, log *zap.Logger) *QueueCollector {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &QueueCollector{
		src:     src,
		timeout: timeout,
		log:     log,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events"),
			"Sync events currently in the queue, by status.",
			[]string{"status"}, nil,
		),
	}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

// Collect emits nothing when the queue cannot be read.
func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	counts, err := c.src.Stats(ctx)
	if err != nil {
		c.log.Warn("queue stats unavailable", zap.Error(err))
		return
	}
	for status, v := range map[model.Status]int64{
		model.StatusPending: counts.Pending,
		model.StatusSuccess: counts.Success,
		model.StatusFailed:  counts.Failed,
	} {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(v), string(status))
	}
}
