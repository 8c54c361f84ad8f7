package authz

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	openfgav1 "github.com/openfga/api/proto/openfga/v1"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/authz-sync/internal/authz/authztest"
	"github.com/and161185/authz-sync/internal/tuple"
)

// fgaServer exposes an authztest.Engine over gRPC and records auth headers.
type fgaServer struct {
	openfgav1.UnimplementedOpenFGAServiceServer
	engine *authztest.Engine
	token  string

	mu   sync.Mutex
	seen []string
}

func (s *fgaServer) authorize(ctx context.Context) error {
	md, _ := metadata.FromIncomingContext(ctx)
	got := md.Get("authorization")
	s.mu.Lock()
	s.seen = append(s.seen, got...)
	s.mu.Unlock()
	if s.token != "" && (len(got) == 0 || got[0] != "Bearer "+s.token) {
		return status.Error(codes.Unauthenticated, "missing preshared key")
	}
	return nil
}

func (s *fgaServer) Check(ctx context.Context, in *openfgav1.CheckRequest) (*openfgav1.CheckResponse, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	return s.engine.Check(ctx, in)
}

func (s *fgaServer) Write(ctx context.Context, in *openfgav1.WriteRequest) (*openfgav1.WriteResponse, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	return s.engine.Write(ctx, in)
}

func (s *fgaServer) ListObjects(ctx context.Context, in *openfgav1.ListObjectsRequest) (*openfgav1.ListObjectsResponse, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	return s.engine.ListObjects(ctx, in)
}

func (s *fgaServer) ListUsers(ctx context.Context, in *openfgav1.ListUsersRequest) (*openfgav1.ListUsersResponse, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	return s.engine.ListUsers(ctx, in)
}

func startFGA(t *testing.T, srv *fgaServer) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	openfgav1.RegisterOpenFGAServiceServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)
	return lis
}

func dialBuf(t *testing.T, lis *bufconn.Listener, token string) *Client {
	t.Helper()
	c, err := Dial(
		DialConfig{Addr: "passthrough:///bufnet", APIToken: token, Insecure: true},
		Config{StoreID: "store1", Timeout: 2 * time.Second, RetryDelay: time.Millisecond},
		zaptest.NewLogger(t),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDial_RoundTrip(t *testing.T) {
	engine := authztest.NewEngine()
	srv := &fgaServer{engine: engine, token: "secret"}
	c := dialBuf(t, startFGA(t, srv), "secret")
	ctx := context.Background()

	owner := tuple.OwnershipTuple(tuple.TypeArtwork, "a1", "org1")
	require.NoError(t, c.Write(ctx, []tuple.Tuple{owner}))
	// second write hits the engine's duplicate rejection and is absorbed
	require.NoError(t, c.Write(ctx, []tuple.Tuple{owner}))
	require.True(t, c.CheckTuple(ctx, owner))
	require.Equal(t, []string{"organization:org1"}, c.ListUsers(ctx, "artwork:a1", tuple.RelOrganization, tuple.TypeOrganization))

	require.NoError(t, c.Delete(ctx, []tuple.Tuple{owner}))
	require.NoError(t, c.Delete(ctx, []tuple.Tuple{owner}))
	require.False(t, c.CheckTuple(ctx, owner))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.NotEmpty(t, srv.seen)
	for _, h := range srv.seen {
		require.Equal(t, "Bearer secret", h)
	}
}

func TestDial_WrongTokenDeniesReadsAndFailsWrites(t *testing.T) {
	engine := authztest.NewEngine(tuple.SuperUserTuple("u1"))
	c := dialBuf(t, startFGA(t, &fgaServer{engine: engine, token: "secret"}), "wrong")
	ctx := context.Background()

	require.False(t, c.CheckTuple(ctx, tuple.SuperUserTuple("u1")))
	err := c.Write(ctx, []tuple.Tuple{tuple.SuperUserTuple("u2")})
	require.Error(t, err)
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestDial_UnreachableFailsClosed(t *testing.T) {
	c, err := Dial(
		DialConfig{Addr: "127.0.0.1:1", Insecure: true},
		Config{StoreID: "s", Timeout: 200 * time.Millisecond, Attempts: 1},
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.False(t, c.Check(ctx, "user:u1", "admin", "organization:org1"))
	require.Empty(t, c.ListUsers(ctx, "artwork:a1", "can_view"))
	require.Empty(t, c.ListOrganizations(ctx, "u1"))
	require.Error(t, c.Write(ctx, []tuple.Tuple{tuple.SuperUserTuple("u1")}))
}

func TestDial_Validation(t *testing.T) {
	_, err := Dial(DialConfig{}, Config{StoreID: "s"}, nil)
	require.Error(t, err)

	_, err = Dial(DialConfig{Addr: "localhost:8081"}, Config{}, nil)
	require.Error(t, err)

	_, err = Dial(DialConfig{Addr: "localhost:8081", CAFile: "/nonexistent/ca.pem"}, Config{StoreID: "s"}, nil)
	require.Error(t, err)
}

func Test_transportCreds_Variants(t *testing.T) {
	t.Parallel()

	creds, err := transportCreds(DialConfig{Insecure: true})
	require.NoError(t, err)
	require.Equal(t, "insecure", creds.Info().SecurityProtocol)

	creds, err = transportCreds(DialConfig{})
	require.NoError(t, err)
	require.Equal(t, "tls", creds.Info().SecurityProtocol)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not pem"), 0o600))
	creds, err = transportCreds(DialConfig{CAFile: bad})
	require.Error(t, err)
	require.Nil(t, creds)
}

func Test_bearerCreds(t *testing.T) {
	t.Parallel()
	b := bearerCreds{token: "k", secure: true}
	md, err := b.GetRequestMetadata(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]string{"authorization": "Bearer k"}, md)
	require.True(t, b.RequireTransportSecurity())
	require.False(t, bearerCreds{}.RequireTransportSecurity())
}
