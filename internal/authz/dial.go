package authz

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	openfgav1 "github.com/openfga/api/proto/openfga/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// DialConfig describes how to reach the engine's gRPC endpoint.
type DialConfig struct {
	Addr     string // host:port
	APIToken string // OpenFGA preshared key, sent as a bearer token
	Insecure bool   // plaintext transport (local development)
	CAFile   string // PEM bundle; system roots when empty
}

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func transportCreds(dc DialConfig) (credentials.TransportCredentials, error) {
	if dc.Insecure {
		return insecure.NewCredentials(), nil
	}
	if dc.CAFile == "" {
		return credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}), nil
	}
	pem, err := os.ReadFile(dc.CAFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA bundle")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}), nil
}

// Dial opens a gRPC connection to the engine and wraps it in a Client.
// The returned client owns the connection; Close releases it.
func Dial(dc DialConfig, cfg Config, log *zap.Logger, extra ...grpc.DialOption) (*Client, error) {
	if dc.Addr == "" {
		return nil, errors.New("authz: empty engine address")
	}
	if cfg.StoreID == "" {
		return nil, errors.New("authz: empty store id")
	}
	if log == nil {
		log = zap.NewNop()
	}
	creds, err := transportCreds(dc)
	if err != nil {
		return nil, fmt.Errorf("authz: transport credentials: %w", err)
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithChainUnaryInterceptor(LoggingUnaryClient(log.Named("fga"))),
	}
	if dc.APIToken != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: dc.APIToken, secure: !dc.Insecure}))
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(dc.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("authz: dial %s: %w", dc.Addr, err)
	}
	c := New(openfgav1.NewOpenFGAServiceClient(conn), cfg, log)
	c.closeFn = conn.Close
	return c, nil
}

// LoggingUnaryClient logs every engine call at debug level; failures at warn.
func LoggingUnaryClient(log *zap.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		fields := []zap.Field{
			zap.String("method", method),
			zap.String("code", status.Code(err).String()),
			zap.Duration("dur", time.Since(start)),
		}
		if err != nil {
			log.Warn("fga call failed", append(fields, zap.Error(err))...)
			return err
		}
		log.Debug("fga call", fields...)
		return nil
	}
}
