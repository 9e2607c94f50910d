package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"transcode-fleet/internal/audit"
	"transcode-fleet/internal/config"
	"transcode-fleet/internal/fleet"
	"transcode-fleet/internal/lockfile"
	"transcode-fleet/internal/logging"
	"transcode-fleet/internal/state"
	"transcode-fleet/internal/storage"
)

const usage = `usage: statectl <command> [flags]

Commands:
  status        show processed and in-progress jobs
  clear-locks   release every in-progress claim (only when no worker is running)
  reset         clear both state files
  workers       list live workers from the heartbeat registry
  history <key> show recorded events for one job
`

type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  *state.Store
	out    io.Writer
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(errOut, usage)
		if len(args) == 0 {
			return 2
		}
		return 0
	}

	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	files, err := lockfile.ForMode(cfg.LockMode, logger)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	a := &app{
		cfg:    cfg,
		logger: logger,
		store: state.New(files, state.Options{
			Dir:            cfg.StateDir,
			ProcessedFile:  cfg.ProcessedFile,
			InProgressFile: cfg.InProgressFile,
		}, logger),
		out: out,
	}

	var cmd func(context.Context, []string) error
	switch args[0] {
	case "status":
		cmd = a.status
	case "clear-locks":
		cmd = a.clearLocks
	case "reset":
		cmd = a.reset
	case "workers":
		cmd = a.workers
	case "history":
		cmd = a.history
	default:
		fmt.Fprintf(errOut, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
	if err := cmd(ctx, args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(errOut, "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}

func (a *app) status(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
	bucket := flags.String("bucket", "", "input bucket, to also count available jobs")
	prefix := flags.String("prefix", "", "input prefix within --bucket")
	asJSON := flags.Bool("json", false, "print the snapshot as JSON")
	if err := flags.Parse(args); err != nil {
		return err
	}

	var backlog []string
	if *bucket != "" {
		client, err := storage.NewClient(ctx, storage.ClientOptions{
			Region:    a.cfg.AWSRegion,
			Endpoint:  a.cfg.S3Endpoint,
			PathStyle: a.cfg.S3PathStyle,
		})
		if err != nil {
			return err
		}
		backlog, err = storage.NewObjectStore(client, 1, a.logger).ListVideos(ctx, *bucket, *prefix)
		if err != nil {
			return err
		}
	}

	snap, err := a.store.Snapshot(backlog)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	fmt.Fprintf(a.out, "processed:   %d (%s)\n", len(snap.Processed), a.store.ProcessedPath())
	fmt.Fprintf(a.out, "in progress: %d (%s)\n", len(snap.InProgress), a.store.InProgressPath())
	for _, id := range snap.InProgress {
		fmt.Fprintf(a.out, "  %s\n", id)
	}
	if *bucket != "" {
		fmt.Fprintf(a.out, "backlog:     %d\n", len(backlog))
		fmt.Fprintf(a.out, "available:   %d\n", len(snap.Available))
	}
	return nil
}

func (a *app) clearLocks(_ context.Context, args []string) error {
	flags := pflag.NewFlagSet("clear-locks", pflag.ContinueOnError)
	if err := flags.Parse(args); err != nil {
		return err
	}
	cleared, err := a.store.ClearInProgress()
	if err != nil {
		return err
	}
	if len(cleared) == 0 {
		fmt.Fprintln(a.out, "no in-progress claims")
		return nil
	}
	fmt.Fprintf(a.out, "released %d claim(s):\n", len(cleared))
	for _, id := range cleared {
		fmt.Fprintf(a.out, "  %s\n", id)
	}
	return nil
}

func (a *app) reset(_ context.Context, args []string) error {
	flags := pflag.NewFlagSet("reset", pflag.ContinueOnError)
	yes := flags.BoolP("yes", "y", false, "confirm that all progress should be forgotten")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if !*yes {
		return errors.New("refusing to reset without --yes")
	}
	if err := a.store.ResetAll(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "state reset")
	return nil
}

func (a *app) workers(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("workers", pflag.ContinueOnError)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if a.cfg.RedisAddr == "" {
		return errors.New("REDIS_ADDR is not set")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	defer rdb.Close()

	list, err := fleet.NewRegistry(rdb, a.cfg.HeartbeatTTL).List(ctx)
	if err != nil {
		return err
	}
	return printWorkers(a.out, list)
}

func (a *app) history(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("history", pflag.ContinueOnError)
	limit := flags.Int("limit", 20, "maximum number of events")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("expected exactly one job key")
	}
	if a.cfg.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is not set")
	}
	events, err := audit.Open(ctx, a.cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer events.Close()

	list, err := events.History(ctx, flags.Arg(0), *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tWORKER\tEVENT\tDURATION\tDETAIL")
	for _, ev := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			ev.Recorded.Format(time.RFC3339), ev.WorkerID, ev.Event, ev.Duration, ev.Detail)
	}
	return tw.Flush()
}
