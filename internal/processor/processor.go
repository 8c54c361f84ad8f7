// Package processor drains the sync event queue into the authorization engine.
//
// A Processor polls pending events on a fixed interval, dispatches each one
// to the matching reconciliation recipe and records the outcome. At most one
// pass runs at a time; a pass that is still running when the timer fires
// causes that tick to be skipped. Delivery is at-least-once: an event stays
// pending until its outcome is recorded.
package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/authz-sync/internal/model"
	"github.com/and161185/authz-sync/internal/repository"
	"github.com/and161185/authz-sync/internal/service"
)

// Defaults.
const (
	DefaultInterval  = 5 * time.Second
	DefaultBatchSize = 10
)

// ErrBusy is returned by RunOnce when another pass is in flight.
var ErrBusy = errors.New("processor: pass already running")

// Recorder receives processing telemetry. *metrics.Metrics implements it.
type Recorder interface {
	EventProcessed(status model.Status)
	BatchDone(d time.Duration)
	PollSkipped()
	PollResult(err error)
}

type nopRecorder struct{}

func (nopRecorder) EventProcessed(model.Status) {}
func (nopRecorder) BatchDone(time.Duration)     {}
func (nopRecorder) PollSkipped()                {}
func (nopRecorder) PollResult(error)            {}

// Config tunes the poll loop.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Option customizes a Processor.
type Option func(*Processor)

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(p *Processor) {
		if r != nil {
			p.rec = r
		}
	}
}

// WithPollHook registers fn to be called with the outcome of every poll.
func WithPollHook(fn func(error)) Option {
	return func(p *Processor) {
		if fn != nil {
			p.hooks = append(p.hooks, fn)
		}
	}
}

// Result summarizes one pass. Deferred counts events whose outcome could not
// be recorded; they stay pending and are not counted as succeeded or failed.
type Result struct {
	Fetched   int
	Succeeded int
	Failed    int
	Deferred  int
}

// Processor is the background worker. Construct it once per process.
type Processor struct {
	events repository.EventRepository
	sync   service.SyncService
	cfg    Config
	log    *zap.Logger
	rec    Recorder
	hooks  []func(error)

	busy atomic.Bool
	wg   sync.WaitGroup

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New constructs a Processor. Zero config values take the defaults.
func New(events repository.EventRepository, syncer service.SyncService, cfg Config, log *zap.Logger, opts ...Option) *Processor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Processor{
		events: events,
		sync:   syncer,
		cfg:    cfg,
		log:    log.Named("processor"),
		rec:    nopRecorder{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start launches the poll loop. Calling Start on a running processor is a no-op.
// The loop ends when ctx is done or Stop is called.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(ctx, p.stop, p.done)
	p.log.Info("started", zap.Duration("interval", p.cfg.Interval), zap.Int("batch_size", p.cfg.BatchSize))
}

// Stop ends the poll loop and waits for the pass in flight, if any, to finish.
// Calling Stop on a stopped processor is a no-op.
func (p *Processor) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()
	if stop == nil {
		// the loop may have ended with its context; its last pass can still run
		p.wg.Wait()
		return
	}
	close(stop)
	<-done
	p.wg.Wait()
	p.log.Info("stopped")
}

// Running reports whether the poll loop is active.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

func (p *Processor) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(p.cfg.Interval)
	defer t.Stop()

	p.fire(ctx)
	for {
		select {
		case <-ctx.Done():
			p.detach(stop)
			return
		case <-stop:
			return
		case <-t.C:
			p.fire(ctx)
		}
	}
}

// detach clears the loop handles after the context ended the loop, so Running
// reports false and a later Start launches a new loop. Handles already
// replaced or cleared by Stop are left alone.
func (p *Processor) detach(stop chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop == stop {
		p.stop, p.done = nil, nil
	}
}

// fire runs a pass in the background so a slow pass does not hold the timer.
func (p *Processor) fire(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.RunOnce(ctx); err != nil && !errors.Is(err, ErrBusy) {
			p.log.Error("poll failed", zap.Error(err))
		}
	}()
}

// RunOnce performs one poll-and-drain pass. It returns ErrBusy without doing
// anything if a pass is already running. Cancelling ctx does not interrupt a
// started pass.
func (p *Processor) RunOnce(ctx context.Context) (Result, error) {
	if !p.busy.CompareAndSwap(false, true) {
		p.rec.PollSkipped()
		p.log.Debug("pass in flight, skipping tick")
		return Result{}, ErrBusy
	}
	defer p.busy.Store(false)

	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	batch, err := p.events.FetchPending(ctx, p.cfg.BatchSize)
	p.pollDone(err)
	if err != nil {
		return Result{}, err
	}

	res := Result{Fetched: len(batch)}
	for _, ev := range batch {
		status, recorded := p.process(ctx, ev)
		switch {
		case !recorded:
			res.Deferred++
		case status == model.StatusSuccess:
			res.Succeeded++
		default:
			res.Failed++
		}
	}

	dur := time.Since(start)
	p.rec.BatchDone(dur)
	if res.Fetched > 0 {
		p.log.Info("batch processed",
			zap.Int("fetched", res.Fetched),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("failed", res.Failed),
			zap.Int("deferred", res.Deferred),
			zap.Duration("dur", dur),
		)
	}
	return res, nil
}

func (p *Processor) pollDone(err error) {
	p.rec.PollResult(err)
	for _, h := range p.hooks {
		h(err)
	}
}

// process dispatches one event and records its outcome. Events are handled
// in fetch order so per-resource ordering holds without locks. recorded is
// false when the outcome could not be stored.
func (p *Processor) process(ctx context.Context, ev model.SyncEvent) (status model.Status, recorded bool) {
	fields := []zap.Field{
		zap.String("event_id", ev.ID.String()),
		zap.String("event_type", string(ev.EventType)),
		zap.String("resource_type", string(ev.ResourceType)),
		zap.String("resource_id", ev.ResourceID),
	}

	status, msg := model.StatusSuccess, ""
	if err := p.dispatch(ctx, ev); err != nil {
		status, msg = model.StatusFailed, err.Error()
		p.log.Warn("sync failed", append(fields, zap.Error(err))...)
	}

	if err := p.events.MarkProcessed(ctx, ev.ID, status, msg); err != nil {
		// The event stays pending and is picked up again by a later poll.
		p.log.Error("mark processed", append(fields, zap.String("status", string(status)), zap.Error(err))...)
		return status, false
	}
	p.rec.EventProcessed(status)
	return status, true
}
