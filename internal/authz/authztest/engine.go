// Package authztest provides an in-memory stand-in for the OpenFGA service.
//
// It stores direct tuples only and mirrors the engine's write contract:
// a request fails as a whole if it writes an existing tuple or deletes a
// missing one.
package authztest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	openfgav1 "github.com/openfga/api/proto/openfga/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/authz-sync/internal/tuple"
)

// Engine is a concurrency-safe in-memory tuple store.
type Engine struct {
	mu     sync.Mutex
	tuples map[string]tuple.Tuple

	// Err, when set, is returned by every call.
	Err error
	// WriteErr, when set, is returned by Write only.
	WriteErr error
	// FailWrites makes the next N Write calls return WriteErr (or Unavailable).
	FailWrites int

	Calls map[string]int
	// Requests records every Write request in order.
	Requests []*openfgav1.WriteRequest
}

// NewEngine returns an engine seeded with the given tuples.
func NewEngine(seed ...tuple.Tuple) *Engine {
	e := &Engine{tuples: map[string]tuple.Tuple{}, Calls: map[string]int{}}
	for _, t := range seed {
		e.tuples[t.Key()] = t
	}
	return e
}

// Has reports whether a tuple is stored.
func (e *Engine) Has(t tuple.Tuple) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tuples[t.Key()]
	return ok
}

// Tuples returns all stored tuples sorted by key.
func (e *Engine) Tuples() []tuple.Tuple {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]tuple.Tuple, 0, len(e.tuples))
	for _, t := range e.tuples {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// CallCount returns how many times method was invoked.
func (e *Engine) CallCount(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Calls[method]
}

func (e *Engine) enter(method string) error {
	e.mu.Lock()
	e.Calls[method]++
	err := e.Err
	e.mu.Unlock()
	return err
}

// Check answers from direct tuples.
func (e *Engine) Check(_ context.Context, in *openfgav1.CheckRequest, _ ...grpc.CallOption) (*openfgav1.CheckResponse, error) {
	if err := e.enter("Check"); err != nil {
		return nil, err
	}
	k := in.GetTupleKey()
	return &openfgav1.CheckResponse{Allowed: e.Has(tuple.New(k.GetUser(), k.GetRelation(), k.GetObject()))}, nil
}

// Write applies deletes and writes atomically.
func (e *Engine) Write(_ context.Context, in *openfgav1.WriteRequest, _ ...grpc.CallOption) (*openfgav1.WriteResponse, error) {
	if err := e.enter("Write"); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.Requests = append(e.Requests, in)

	if e.FailWrites > 0 {
		e.FailWrites--
		if e.WriteErr != nil {
			return nil, e.WriteErr
		}
		return nil, status.Error(codes.Unavailable, "engine unavailable")
	}
	if e.WriteErr != nil {
		return nil, e.WriteErr
	}

	var writes, deletes []tuple.Tuple
	for _, k := range in.GetWrites().GetTupleKeys() {
		writes = append(writes, tuple.New(k.GetUser(), k.GetRelation(), k.GetObject()))
	}
	for _, k := range in.GetDeletes().GetTupleKeys() {
		deletes = append(deletes, tuple.New(k.GetUser(), k.GetRelation(), k.GetObject()))
	}
	if len(writes)+len(deletes) == 0 {
		return nil, status.Error(codes.InvalidArgument, "invalid WriteRequest: empty writes and deletes")
	}

	for _, t := range deletes {
		if _, ok := e.tuples[t.Key()]; !ok {
			return nil, status.Error(codes.InvalidArgument, fmt.Sprintf(
				"cannot delete a tuple which does not exist: user: '%s', relation: '%s', object: '%s'",
				t.Subject, t.Relation, t.Object))
		}
	}
	for _, t := range writes {
		if _, ok := e.tuples[t.Key()]; ok {
			return nil, status.Error(codes.InvalidArgument, fmt.Sprintf(
				"cannot write a tuple which already exists: user: '%s', relation: '%s', object: '%s'",
				t.Subject, t.Relation, t.Object))
		}
	}

	for _, t := range deletes {
		delete(e.tuples, t.Key())
	}
	for _, t := range writes {
		e.tuples[t.Key()] = t
	}
	return &openfgav1.WriteResponse{}, nil
}

// ListObjects returns objects of the requested type the user relates to directly.
func (e *Engine) ListObjects(_ context.Context, in *openfgav1.ListObjectsRequest, _ ...grpc.CallOption) (*openfgav1.ListObjectsResponse, error) {
	if err := e.enter("ListObjects"); err != nil {
		return nil, err
	}
	var objs []string
	for _, t := range e.Tuples() {
		if t.Subject == in.GetUser() && t.Relation == in.GetRelation() && strings.HasPrefix(t.Object, in.GetType()+":") {
			objs = append(objs, t.Object)
		}
	}
	return &openfgav1.ListObjectsResponse{Objects: objs}, nil
}

// ListUsers returns direct subjects of the filtered type for (object, relation).
func (e *Engine) ListUsers(_ context.Context, in *openfgav1.ListUsersRequest, _ ...grpc.CallOption) (*openfgav1.ListUsersResponse, error) {
	if err := e.enter("ListUsers"); err != nil {
		return nil, err
	}
	if len(in.GetUserFilters()) != 1 {
		return nil, status.Error(codes.InvalidArgument, "exactly one user filter is required")
	}
	filter := in.GetUserFilters()[0].GetType()
	object := tuple.Format(in.GetObject().GetType(), in.GetObject().GetId())

	var users []*openfgav1.User
	for _, t := range e.Tuples() {
		if t.Object != object || t.Relation != in.GetRelation() {
			continue
		}
		typ, id, err := tuple.Split(t.Subject)
		if err != nil || typ != filter {
			continue
		}
		switch {
		case id == "*":
			users = append(users, &openfgav1.User{User: &openfgav1.User_Wildcard{
				Wildcard: &openfgav1.TypedWildcard{Type: typ},
			}})
		case strings.Contains(id, "#"):
			objID, rel, _ := strings.Cut(id, "#")
			users = append(users, &openfgav1.User{User: &openfgav1.User_Userset{
				Userset: &openfgav1.UsersetUser{Type: typ, Id: objID, Relation: rel},
			}})
		default:
			users = append(users, &openfgav1.User{User: &openfgav1.User_Object{
				Object: &openfgav1.Object{Type: typ, Id: id},
			}})
		}
	}
	return &openfgav1.ListUsersResponse{Users: users}, nil
}
