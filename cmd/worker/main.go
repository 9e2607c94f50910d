package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"transcode-fleet/internal/api"
	"transcode-fleet/internal/audit"
	"transcode-fleet/internal/config"
	"transcode-fleet/internal/fleet"
	"transcode-fleet/internal/lockfile"
	"transcode-fleet/internal/logging"
	"transcode-fleet/internal/recovery"
	"transcode-fleet/internal/retry"
	"transcode-fleet/internal/state"
	"transcode-fleet/internal/storage"
	"transcode-fleet/internal/transcode"
	workerproc "transcode-fleet/internal/worker"
)

const usage = `usage: worker [--force] <input-prefix> <input-bucket> <output-bucket> <output-prefix>

Claims videos under s3://<input-bucket>/<input-prefix> one at a time, transcodes
them to HLS and uploads the result to s3://<output-bucket>/<output-prefix>.
Any number of workers may share the same STATE_DIR.
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	force := flags.BoolP("force", "f", false, "clear processed and in-progress state before starting")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return workerproc.ExitOK
		}
		return workerproc.ExitFailures
	}
	if flags.NArg() != 4 {
		flags.Usage()
		return workerproc.ExitFailures
	}
	target := workerproc.Target{
		InputPrefix:  flags.Arg(0),
		InputBucket:  flags.Arg(1),
		OutputBucket: flags.Arg(2),
		OutputPrefix: flags.Arg(3),
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		return workerproc.ExitFailures
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return workerproc.ExitFailures
	}
	defer func() { _ = logger.Sync() }()

	workerID := resolveWorkerID(cfg.WorkerID)
	logger = logger.With(zap.String("worker_id", workerID))

	files, err := lockfile.ForMode(cfg.LockMode, logger)
	if err != nil {
		logger.Error("Invalid lock mode", zap.Error(err))
		return workerproc.ExitFailures
	}
	st := state.New(files, state.Options{
		Dir:            cfg.StateDir,
		ProcessedFile:  cfg.ProcessedFile,
		InProgressFile: cfg.InProgressFile,
		Policy: state.ClaimPolicy{
			MaxAttempts: cfg.ClaimMaxAttempts,
			Short:       retry.Window{Min: cfg.ClaimShortMin, Max: cfg.ClaimShortMax},
			Long:        retry.Window{Min: cfg.ClaimLongMin, Max: cfg.ClaimLongMax},
		},
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slot := &recovery.Slot{}
	handler := recovery.NewHandler(slot, st, logger)
	handler.OnRelease = func(os.Signal) { cancel() }
	stopSignals := recovery.Watch(ctx, handler)
	defer stopSignals()

	if *force {
		if err := st.ResetAll(); err != nil {
			logger.Error("Failed to reset state", zap.Error(err))
			return workerproc.ExitFailures
		}
		logger.Warn("State reset requested with --force",
			zap.String("processed", st.ProcessedPath()),
			zap.String("in_progress", st.InProgressPath()))
	}

	tr := transcode.New(transcode.Options{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		Settings: transcode.Settings{
			SegmentSeconds:  cfg.SegmentSeconds,
			GOPSeconds:      cfg.GOPSeconds,
			AudioBitrate:    transcode.DefaultSettings().AudioBitrate,
			AudioSampleRate: transcode.DefaultSettings().AudioSampleRate,
		},
		PosterWidth: cfg.PosterWidth,
	}, logger)
	if err := tr.CheckTools(ctx); err != nil {
		logger.Error("ffmpeg is not available", zap.String("ffmpeg", cfg.FFmpegPath), zap.Error(err))
		return workerproc.ExitFailures
	}

	client, err := storage.NewClient(ctx, storage.ClientOptions{
		Region:    cfg.AWSRegion,
		Endpoint:  cfg.S3Endpoint,
		PathStyle: cfg.S3PathStyle,
	})
	if err != nil {
		logger.Error("Failed to build S3 client", zap.Error(err))
		return workerproc.ExitFailures
	}

	deps := workerproc.Deps{
		Claims:     st,
		Objects:    storage.NewObjectStore(client, cfg.UploadConcurrency, logger),
		Transcoder: tr,
		Slot:       slot,
		Logger:     logger,
	}
	if cfg.PostgresDSN != "" {
		events, err := openAudit(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Warn("Job history disabled", zap.Error(err))
		} else {
			defer events.Close()
			deps.Events = events
		}
	}

	processor := workerproc.NewProcessor(target, deps, workerproc.Options{
		WorkerID:         workerID,
		ClaimMaxAttempts: cfg.ClaimMaxAttempts,
		WorkDir:          cfg.WorkDir,
	})

	var background sync.WaitGroup
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer func() {
		stopBackground()
		background.Wait()
	}()

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		registry := fleet.NewRegistry(rdb, cfg.HeartbeatTTL)
		background.Add(1)
		go func() {
			defer background.Done()
			processor.Heartbeat(bgCtx, registry, cfg.HeartbeatInterval)
		}()
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           api.New(processor, st).Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		background.Add(1)
		go func() {
			defer background.Done()
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("Status server stopped", zap.Error(err))
			}
		}()
		go func() {
			<-bgCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("Worker started",
		zap.String("input", "s3://"+target.InputBucket+"/"+target.InputPrefix),
		zap.String("output", "s3://"+target.OutputBucket+"/"+target.OutputPrefix),
		zap.String("state_dir", cfg.StateDir),
		zap.String("lock", files.Locker().Name()))

	sum, err := processor.Run(ctx)
	if err != nil {
		if handler.Fired() {
			return workerproc.ExitInterrupted
		}
		logger.Error("Worker stopped", zap.Error(err))
		return workerproc.ExitFailures
	}

	code := sum.ExitCode()
	if handler.Fired() {
		code = workerproc.ExitInterrupted
	}
	logger.Info("Summary",
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Strings("failed_jobs", sum.FailedJobs),
		zap.Bool("exhausted", sum.Exhausted),
		zap.Bool("interrupted", sum.Interrupted),
		zap.Int("exit_code", code))
	return code
}

func openAudit(ctx context.Context, dsn string) (*audit.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	events, err := audit.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := events.RunMigrations(ctx); err != nil {
		events.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return events, nil
}

// resolveWorkerID prefers WORKER_ID, then hostname-pid, then a random id.
func resolveWorkerID(configured string) string {
	if configured != "" {
		return configured
	}
	if hostname, err := os.Hostname(); err == nil && strings.TrimSpace(hostname) != "" {
		return fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}
	return "worker-" + uuid.NewString()[:8]
}
