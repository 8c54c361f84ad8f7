// Command authzctl inspects and operates the authorization sync queue.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"google.golang.org/grpc/status"

	"github.com/and161185/authz-sync/internal/authz"
	"github.com/and161185/authz-sync/internal/config"
	"github.com/and161185/authz-sync/internal/errs"
	"github.com/and161185/authz-sync/internal/processor"
	"github.com/and161185/authz-sync/internal/repository/postgres"
	"github.com/and161185/authz-sync/internal/service"
)

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `authzctl
Usage:
  authzctl [-config file] [-dsn DSN] [-fga-addr HOST:PORT -fga-store ID ...] <cmd> [args]

Queue commands (need -dsn):
  status                                          counts per status
  failed      [-limit N]                          failed events with errors
  show        -id <uuid>
  retry       -id <uuid>                          failed -> pending
  retry-all
  enqueue     -event <type> -resource <type> -id <resource id>
              [-org <id>] [-user <id>] [-data <json> | -data-file <file|->]
  schema                                          applied migration version

Engine commands (need -fga-addr and -fga-store):
  check       -user <id> -perm <permission> [-resource <id>] [-org <id>]
  check       -subject <type:id> -relation <rel> -object <type:id>
  batch-check -file <file|->                      JSON array of {subject,relation,object}
  orgs        -user <id>

Both:
  drain       [-max N]                            process pending events now
  version
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// needs lists which backends a command talks to.
var needs = map[string]struct{ db, fga bool }{
	"status":      {db: true},
	"failed":      {db: true},
	"show":        {db: true},
	"retry":       {db: true},
	"retry-all":   {db: true},
	"enqueue":     {db: true},
	"schema":      {db: true},
	"check":       {fga: true},
	"batch-check": {fga: true},
	"orgs":        {fga: true},
	"drain":       {db: true, fga: true},
}

// main resolves configuration, connects only the backends the command needs
// and dispatches.
func main() {
	flag.Usage = usage
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		usage()
	}
	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	if cmd == "version" {
		fmt.Printf("authzctl %s (%s)\n", version, buildDate)
		return
	}
	need, ok := needs[cmd]
	if !ok {
		usage()
	}
	if err := cfg.Require(need.db, need.fga); err != nil {
		fail(err)
	}

	logger := zap.NewNop()
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a := &app{cfg: cfg, log: logger, out: os.Stdout}
	if need.db {
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			fail(err)
		}
		defer pool.Close()
		a.events = postgres.NewEventRepo(&postgres.DB{Pool: pool})
		a.monitor = service.NewMonitorService(a.events, 0)
	}
	if need.fga {
		dc, ac := cfg.Authz()
		c, err := authz.Dial(dc, ac, logger)
		if err != nil {
			fail(err)
		}
		defer func() { _ = c.Close() }()
		a.fga = c
	}
	if need.db && need.fga {
		a.proc = processor.New(a.events, service.NewSyncService(a.fga, logger),
			processor.Config{BatchSize: cfg.Processor.BatchSize}, logger)
	}

	if err := a.run(ctx, cmd, args); err != nil {
		fail(err)
	}
}

// ---- helpers ----

func fail(err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		fmt.Fprintln(os.Stderr, "not found:", err)
	case errors.Is(err, errs.ErrNotRetryable):
		fmt.Fprintln(os.Stderr, "cannot retry:", err)
	default:
		if s, ok := status.FromError(err); ok {
			fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
			break
		}
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}
