package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/authz-sync/internal/authz"
	"github.com/and161185/authz-sync/internal/config"
	"github.com/and161185/authz-sync/internal/migrate"
	"github.com/and161185/authz-sync/internal/model"
	"github.com/and161185/authz-sync/internal/processor"
	"github.com/and161185/authz-sync/internal/repository"
	"github.com/and161185/authz-sync/internal/service"
	"github.com/and161185/authz-sync/internal/tuple"
)

// app carries the backends a command may use; unused ones stay nil.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	out     io.Writer
	events  repository.EventRepository
	monitor service.MonitorService
	fga     *authz.Client
	proc    *processor.Processor
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "status":
		return a.cmdStatus(ctx)
	case "failed":
		return a.cmdFailed(ctx, args)
	case "show":
		return a.cmdShow(ctx, args)
	case "retry":
		return a.cmdRetry(ctx, args)
	case "retry-all":
		return a.cmdRetryAll(ctx)
	case "enqueue":
		return a.cmdEnqueue(ctx, args)
	case "schema":
		return a.cmdSchema(ctx)
	case "check":
		return a.cmdCheck(ctx, args)
	case "batch-check":
		return a.cmdBatchCheck(ctx, args)
	case "orgs":
		return a.cmdOrgs(ctx, args)
	case "drain":
		return a.cmdDrain(ctx, args)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// eventView is the printed form of a sync event.
type eventView struct {
	ID             string         `json:"id"`
	EventType      string         `json:"event_type"`
	ResourceType   string         `json:"resource_type"`
	ResourceID     string         `json:"resource_id"`
	OrganizationID string         `json:"organization_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	SyncData       model.SyncData `json:"sync_data"`
	Status         string         `json:"status"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	CreatedAt      string         `json:"created_at"`
	SyncedAt       string         `json:"synced_at,omitempty"`
}

func toView(ev model.SyncEvent) eventView {
	v := eventView{
		ID:             ev.ID.String(),
		EventType:      string(ev.EventType),
		ResourceType:   string(ev.ResourceType),
		ResourceID:     ev.ResourceID,
		OrganizationID: ev.OrganizationID,
		UserID:         ev.UserID,
		SyncData:       ev.SyncData,
		Status:         string(ev.Status),
		ErrorMessage:   ev.ErrorMessage,
		CreatedAt:      ev.CreatedAt.UTC().Format(time.RFC3339),
	}
	if ev.SyncedAt != nil {
		v.SyncedAt = ev.SyncedAt.UTC().Format(time.RFC3339)
	}
	return v
}

func newFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func parseID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, errors.New("need -id")
	}
	id, err := uuid.FromString(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("bad -id: %w", err)
	}
	return id, nil
}

func (a *app) cmdStatus(ctx context.Context) error {
	c, err := a.monitor.Stats(ctx)
	if err != nil {
		return err
	}
	printJSON(a.out, map[string]int64{
		"pending": c.Pending,
		"success": c.Success,
		"failed":  c.Failed,
		"total":   c.Total(),
	})
	return nil
}

func (a *app) cmdFailed(ctx context.Context, args []string) error {
	fs := newFlags("failed")
	limit := fs.Int("limit", 50, "max events to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	evs, err := a.monitor.ListFailed(ctx, *limit)
	if err != nil {
		return err
	}
	out := make([]eventView, 0, len(evs))
	for _, ev := range evs {
		out = append(out, toView(ev))
	}
	printJSON(a.out, out)
	return nil
}

func (a *app) cmdShow(ctx context.Context, args []string) error {
	fs := newFlags("show")
	rawID := fs.String("id", "", "event id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := parseID(*rawID)
	if err != nil {
		return err
	}
	ev, err := a.monitor.Get(ctx, id)
	if err != nil {
		return err
	}
	printJSON(a.out, toView(*ev))
	return nil
}

func (a *app) cmdRetry(ctx context.Context, args []string) error {
	fs := newFlags("retry")
	rawID := fs.String("id", "", "event id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := parseID(*rawID)
	if err != nil {
		return err
	}
	if err := a.monitor.Retry(ctx, id); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "requeued", id)
	return nil
}

func (a *app) cmdRetryAll(ctx context.Context) error {
	n, err := a.monitor.RetryAllFailed(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "requeued %d\n", n)
	return nil
}

func (a *app) cmdEnqueue(ctx context.Context, args []string) error {
	fs := newFlags("enqueue")
	evType := fs.String("event", "", "event type")
	resType := fs.String("resource", "", "resource type")
	resID := fs.String("id", "", "resource id")
	org := fs.String("org", "", "organization id")
	user := fs.String("user", "", "user id")
	data := fs.String("data", "", "sync_data JSON")
	dataFile := fs.String("data-file", "", "sync_data JSON file (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	raw := []byte(*data)
	if *dataFile != "" {
		b, err := readAll(*dataFile)
		if err != nil {
			return err
		}
		raw = b
	}
	sd, err := parseSyncData(raw)
	if err != nil {
		return err
	}

	ev, err := a.monitor.Enqueue(ctx, model.NewEvent{
		EventType:      model.EventType(*evType),
		ResourceType:   model.ResourceType(*resType),
		ResourceID:     *resID,
		OrganizationID: *org,
		UserID:         *user,
		SyncData:       sd,
	})
	if err != nil {
		return err
	}
	printJSON(a.out, toView(ev))
	return nil
}

// parseSyncData decodes a sync_data object; empty input is an empty payload.
func parseSyncData(raw []byte) (model.SyncData, error) {
	var sd model.SyncData
	if len(raw) == 0 {
		return sd, nil
	}
	if err := json.Unmarshal(raw, &sd); err != nil {
		return sd, fmt.Errorf("bad sync data: %w", err)
	}
	return sd, nil
}

func (a *app) cmdSchema(ctx context.Context) error {
	v, err := migrate.Version(ctx, a.cfg.DSN)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, v)
	return nil
}

// checkTarget resolves check flags into a tuple: either a permission in the
// application vocabulary or a raw subject/relation/object triple.
func checkTarget(user, perm, resource, org, subject, relation, object string) (tuple.Tuple, error) {
	if perm != "" {
		if user == "" {
			return tuple.Tuple{}, errors.New("need -user with -perm")
		}
		return tuple.FormatPermissionCheck(user, tuple.Permission(perm), resource, org)
	}
	if subject == "" || relation == "" || object == "" {
		return tuple.Tuple{}, errors.New("need -user/-perm or -subject/-relation/-object")
	}
	return tuple.New(subject, relation, object), nil
}

func (a *app) cmdCheck(ctx context.Context, args []string) error {
	fs := newFlags("check")
	user := fs.String("user", "", "user id")
	perm := fs.String("perm", "", "permission name")
	resource := fs.String("resource", "", "resource id")
	org := fs.String("org", "", "organization id")
	subject := fs.String("subject", "", "raw subject (type:id)")
	relation := fs.String("relation", "", "raw relation")
	object := fs.String("object", "", "raw object (type:id)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	t, err := checkTarget(*user, *perm, *resource, *org, *subject, *relation, *object)
	if err != nil {
		return err
	}
	printJSON(a.out, map[string]any{"tuple": t.String(), "allowed": a.fga.CheckTuple(ctx, t)})
	return nil
}

type checkInput struct {
	Subject  string `json:"subject"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

func parseChecks(raw []byte) ([]tuple.Tuple, error) {
	var in []checkInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("bad checks: %w", err)
	}
	out := make([]tuple.Tuple, 0, len(in))
	for i, c := range in {
		if c.Subject == "" || c.Relation == "" || c.Object == "" {
			return nil, fmt.Errorf("check[%d]: subject, relation and object are required", i)
		}
		out = append(out, tuple.New(c.Subject, c.Relation, c.Object))
	}
	return out, nil
}

func (a *app) cmdBatchCheck(ctx context.Context, args []string) error {
	fs := newFlags("batch-check")
	file := fs.String("file", "-", "JSON checks (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	raw, err := readAll(*file)
	if err != nil {
		return err
	}
	checks, err := parseChecks(raw)
	if err != nil {
		return err
	}
	printJSON(a.out, a.fga.BatchCheck(ctx, checks))
	return nil
}

func (a *app) cmdOrgs(ctx context.Context, args []string) error {
	fs := newFlags("orgs")
	user := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("need -user")
	}
	printJSON(a.out, a.fga.ListOrganizations(ctx, *user))
	return nil
}

// cmdDrain runs passes until the queue has no pending events or max passes ran.
func (a *app) cmdDrain(ctx context.Context, args []string) error {
	fs := newFlags("drain")
	maxPasses := fs.Int("max", 100, "max passes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var total processor.Result
	for range *maxPasses {
		res, err := a.proc.RunOnce(ctx)
		if err != nil {
			return err
		}
		total.Fetched += res.Fetched
		total.Succeeded += res.Succeeded
		total.Failed += res.Failed
		total.Deferred += res.Deferred
		if res.Fetched == 0 {
			break
		}
	}
	printJSON(a.out, map[string]int{
		"processed": total.Fetched,
		"succeeded": total.Succeeded,
		"failed":    total.Failed,
		"deferred":  total.Deferred,
	})
	return nil
}
