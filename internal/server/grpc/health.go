package grpcserver

import (
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name of the sync pipeline.
const ServiceName = "authz.sync"

// HealthReporter maps poll outcomes onto the health service: the pipeline is
// NOT_SERVING while the event queue cannot be read.
type HealthReporter struct {
	hs  *health.Server
	log *zap.Logger

	mu      sync.Mutex
	serving bool
}

// NewHealthReporter starts in NOT_SERVING until the first successful poll.
func NewHealthReporter(hs *health.Server, log *zap.Logger) *HealthReporter {
	if log == nil {
		log = zap.NewNop()
	}
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{hs: hs, log: log.Named("health")}
}

// PollResult records the outcome of a poll. It is meant as a processor poll hook.
func (h *HealthReporter) PollResult(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	serving := err == nil
	if serving == h.serving {
		return
	}
	h.serving = serving
	if serving {
		h.hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
		h.log.Info("event queue reachable")
		return
	}
	h.hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	h.log.Warn("event queue unreachable", zap.Error(err))
}

// Shutdown flips every service to NOT_SERVING ahead of a graceful stop.
func (h *HealthReporter) Shutdown() { h.hs.Shutdown() }

// New builds the operational gRPC server with the health service registered
// and returns it with its reporter. dev enables reflection.
func New(log *zap.Logger, dev bool, opts ...grpc.ServerOption) (*grpc.Server, *HealthReporter) {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)),
	)
	s := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if dev {
		reflection.Register(s)
	}
	return s, NewHealthReporter(hs, log)
}
