// Package authz is the transport wrapper around the OpenFGA authorization engine.
//
// Read operations (Check, BatchCheck, ListObjects, ListUsers) never return
// errors: on any failure they log a warning and fall back to the most
// restrictive answer. Write and Delete propagate failures, since a swallowed
// write is a lost permission change.
package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	openfgav1 "github.com/openfga/api/proto/openfga/v1"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/authz-sync/internal/tuple"
)

// EngineAPI is the subset of the OpenFGA service the client uses.
// It is implemented by openfgav1.OpenFGAServiceClient and by test doubles.
type EngineAPI interface {
	Check(ctx context.Context, in *openfgav1.CheckRequest, opts ...grpc.CallOption) (*openfgav1.CheckResponse, error)
	Write(ctx context.Context, in *openfgav1.WriteRequest, opts ...grpc.CallOption) (*openfgav1.WriteResponse, error)
	ListObjects(ctx context.Context, in *openfgav1.ListObjectsRequest, opts ...grpc.CallOption) (*openfgav1.ListObjectsResponse, error)
	ListUsers(ctx context.Context, in *openfgav1.ListUsersRequest, opts ...grpc.CallOption) (*openfgav1.ListUsersResponse, error)
}

// Config holds engine coordinates and client limits.
type Config struct {
	StoreID     string
	ModelID     string        // optional; latest model when empty
	MaxInFlight int           // BatchCheck fan-out cap (default 16)
	RPS         float64       // request throttle; 0 disables
	Timeout     time.Duration // per-call timeout; 0 disables
	Attempts    uint          // write attempts on transient errors (default 3)
	RetryDelay  time.Duration // base delay between write attempts (default 100ms)
}

// maxTuplesPerWrite is the engine's per-request tuple limit.
const maxTuplesPerWrite = 100

// Client talks to the authorization engine.
type Client struct {
	api     EngineAPI
	cfg     Config
	log     *zap.Logger
	limiter *rate.Limiter
	closeFn func() error
}

// New wraps an engine API with the given config.
func New(api EngineAPI, cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 16
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	c := &Client{api: api, cfg: cfg, log: log.Named("authz")}
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return c
}

// Close releases the underlying connection, if the client owns one.
func (c *Client) Close() error {
	if c == nil || c.closeFn == nil {
		return nil
	}
	return c.closeFn()
}

// Check evaluates a single permission. Any failure yields false.
func (c *Client) Check(ctx context.Context, subject, relation, object string) bool {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		c.readFailed("check", err, zap.String("subject", subject), zap.String("relation", relation), zap.String("object", object))
		return false
	}
	defer cancel()

	resp, err := c.api.Check(ctx, &openfgav1.CheckRequest{
		StoreId:              c.cfg.StoreID,
		AuthorizationModelId: c.cfg.ModelID,
		TupleKey: &openfgav1.CheckRequestTupleKey{
			User:     subject,
			Relation: relation,
			Object:   object,
		},
	})
	if err != nil {
		c.readFailed("check", err, zap.String("subject", subject), zap.String("relation", relation), zap.String("object", object))
		return false
	}
	return resp.GetAllowed()
}

// CheckTuple is Check over a tuple.
func (c *Client) CheckTuple(ctx context.Context, t tuple.Tuple) bool {
	return c.Check(ctx, t.Subject, t.Relation, t.Object)
}

// BatchCheck runs every check concurrently, at most MaxInFlight at a time.
// The result holds one entry per distinct tuple, keyed by tuple.Key.
func (c *Client) BatchCheck(ctx context.Context, checks []tuple.Tuple) map[string]bool {
	out := make(map[string]bool, len(checks))
	if len(checks) == 0 {
		return out
	}

	results := make([]bool, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxInFlight)
	for i, t := range checks {
		g.Go(func() error {
			results[i] = c.CheckTuple(gctx, t)
			return nil
		})
	}
	_ = g.Wait()

	for i, t := range checks {
		out[t.Key()] = results[i]
	}
	return out
}

// ListObjects returns the ids ("type:id") of objects of objType the subject
// has relation to. Any failure yields an empty list.
func (c *Client) ListObjects(ctx context.Context, subject, relation, objType string) []string {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		c.readFailed("list_objects", err, zap.String("subject", subject), zap.String("relation", relation), zap.String("type", objType))
		return []string{}
	}
	defer cancel()

	resp, err := c.api.ListObjects(ctx, &openfgav1.ListObjectsRequest{
		StoreId:              c.cfg.StoreID,
		AuthorizationModelId: c.cfg.ModelID,
		Type:                 objType,
		Relation:             relation,
		User:                 subject,
	})
	if err != nil {
		c.readFailed("list_objects", err, zap.String("subject", subject), zap.String("relation", relation), zap.String("type", objType))
		return []string{}
	}
	return append([]string{}, resp.GetObjects()...)
}

// ListUsers returns subjects holding relation on object. userType filters the
// subject type and defaults to "user". Any failure yields an empty list.
func (c *Client) ListUsers(ctx context.Context, object, relation string, userType ...string) []string {
	out, err := c.ListUsersErr(ctx, object, relation, userType...)
	if err != nil {
		c.readFailed("list_users", err, zap.String("object", object), zap.String("relation", relation))
		return []string{}
	}
	return out
}

// ListUsersErr is ListUsers for callers that must not mistake a failed read
// for an empty answer, such as deletion cleanup.
func (c *Client) ListUsersErr(ctx context.Context, object, relation string, userType ...string) ([]string, error) {
	filter := tuple.TypeUser
	if len(userType) > 0 && userType[0] != "" {
		filter = userType[0]
	}

	objType, objID, err := tuple.Split(object)
	if err != nil {
		return nil, err
	}

	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	resp, err := c.api.ListUsers(ctx, &openfgav1.ListUsersRequest{
		StoreId:              c.cfg.StoreID,
		AuthorizationModelId: c.cfg.ModelID,
		Object:               &openfgav1.Object{Type: objType, Id: objID},
		Relation:             relation,
		UserFilters:          []*openfgav1.UserTypeFilter{{Type: filter}},
	})
	if err != nil {
		return nil, fmt.Errorf("list %s users of %s#%s: %w", filter, object, relation, err)
	}

	out := make([]string, 0, len(resp.GetUsers()))
	for _, u := range resp.GetUsers() {
		switch {
		case u.GetObject() != nil:
			out = append(out, tuple.Format(u.GetObject().GetType(), u.GetObject().GetId()))
		case u.GetUserset() != nil:
			us := u.GetUserset()
			out = append(out, tuple.Format(us.GetType(), us.GetId())+"#"+us.GetRelation())
		case u.GetWildcard() != nil:
			out = append(out, tuple.Format(u.GetWildcard().GetType(), "*"))
		}
	}
	return out, nil
}

// ListOrganizations returns the organization ids the user holds any role in, sorted.
func (c *Client) ListOrganizations(ctx context.Context, userID string) []string {
	seen := map[string]struct{}{}
	for _, rel := range tuple.RoleRelations() {
		for _, obj := range c.ListObjects(ctx, tuple.User(userID), rel, tuple.TypeOrganization) {
			if _, id, err := tuple.Split(obj); err == nil {
				seen[id] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Write stores tuples. Tuples that already exist are treated as written.
func (c *Client) Write(ctx context.Context, tuples []tuple.Tuple) error {
	return c.mutate(ctx, "write", tuples, func(chunk []tuple.Tuple) *openfgav1.WriteRequest {
		keys := make([]*openfgav1.TupleKey, 0, len(chunk))
		for _, t := range chunk {
			keys = append(keys, &openfgav1.TupleKey{User: t.Subject, Relation: t.Relation, Object: t.Object})
		}
		return &openfgav1.WriteRequest{
			StoreId:              c.cfg.StoreID,
			AuthorizationModelId: c.cfg.ModelID,
			Writes:               &openfgav1.WriteRequestWrites{TupleKeys: keys},
		}
	})
}

// Delete removes tuples. Tuples that do not exist are treated as deleted.
func (c *Client) Delete(ctx context.Context, tuples []tuple.Tuple) error {
	return c.mutate(ctx, "delete", tuples, func(chunk []tuple.Tuple) *openfgav1.WriteRequest {
		keys := make([]*openfgav1.TupleKeyWithoutCondition, 0, len(chunk))
		for _, t := range chunk {
			keys = append(keys, &openfgav1.TupleKeyWithoutCondition{User: t.Subject, Relation: t.Relation, Object: t.Object})
		}
		return &openfgav1.WriteRequest{
			StoreId:              c.cfg.StoreID,
			AuthorizationModelId: c.cfg.ModelID,
			Deletes:              &openfgav1.WriteRequestDeletes{TupleKeys: keys},
		}
	})
}

func (c *Client) mutate(ctx context.Context, op string, tuples []tuple.Tuple, build func([]tuple.Tuple) *openfgav1.WriteRequest) error {
	for start := 0; start < len(tuples); start += maxTuplesPerWrite {
		end := min(start+maxTuplesPerWrite, len(tuples))
		chunk := tuples[start:end]

		err := c.send(ctx, build(chunk))
		if err == nil {
			continue
		}
		if !isIdempotentConflict(err) {
			return fmt.Errorf("authz %s: %w", op, err)
		}
		// The engine rejects the whole request when any tuple already
		// exists (write) or is missing (delete); replay one by one.
		for _, t := range chunk {
			if err := c.send(ctx, build([]tuple.Tuple{t})); err != nil && !isIdempotentConflict(err) {
				return fmt.Errorf("authz %s %s: %w", op, t, err)
			}
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, req *openfgav1.WriteRequest) error {
	return retry.Do(
		func() error {
			cctx, cancel, err := c.begin(ctx)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			defer cancel()
			_, err = c.api.Write(cctx, req)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(c.cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug("retrying engine write", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}

// begin applies the request throttle and per-call timeout.
func (c *Client) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return ctx, func() {}, err
		}
	}
	if c.cfg.Timeout > 0 {
		cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		return cctx, cancel, nil
	}
	return ctx, func() {}, nil
}

func (c *Client) readFailed(op string, err error, fields ...zap.Field) {
	c.log.Warn("engine read failed, denying", append(fields, zap.String("op", op), zap.Error(err))...)
}

// Rejections the engine returns for a write of an existing tuple or a delete
// of a missing one.
const (
	msgTupleExists  = "cannot write a tuple which already exists"
	msgTupleMissing = "cannot delete a tuple which does not exist"
)

// isIdempotentConflict reports the engine's duplicate-write / missing-delete
// rejection and nothing else.
func isIdempotentConflict(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.InvalidArgument, codes.AlreadyExists, codes.NotFound, codes.FailedPrecondition:
	default:
		return false
	}
	msg := strings.ToLower(st.Message())
	return strings.Contains(msg, msgTupleExists) || strings.Contains(msg, msgTupleMissing)
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}
