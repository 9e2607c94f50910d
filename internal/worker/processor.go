package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"transcode-fleet/internal/models"
	"transcode-fleet/internal/recovery"
	"transcode-fleet/internal/state"
	"transcode-fleet/internal/storage"
	"transcode-fleet/internal/telemetry"
)

// Claimer is the shared job state.
type Claimer interface {
	AcquireNext(ctx context.Context, backlog []string, maxAttempts int) (state.Claim, error)
	MarkComplete(id string) error
	MarkFailed(id string) error
}

// Objects is the object store holding sources and receiving HLS output.
type Objects interface {
	ListVideos(ctx context.Context, bucket, prefix string) ([]string, error)
	Download(ctx context.Context, bucket, key, localPath string) error
	UploadDir(ctx context.Context, bucket, prefix, dir string) (int, error)
}

// Transcoder converts one local source file into an HLS directory.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath, outputDir string) error
}

// EventSink receives job lifecycle events.
type EventSink interface {
	Record(ctx context.Context, ev models.JobEvent) error
}

// Target names where sources are read from and where output goes.
type Target struct {
	InputPrefix  string
	InputBucket  string
	OutputBucket string
	OutputPrefix string
}

// Deps are the collaborators a Processor drives.
type Deps struct {
	Claims     Claimer
	Objects    Objects
	Transcoder Transcoder
	Slot       *recovery.Slot
	Events     EventSink
	Logger     *zap.Logger
}

// Options tune the loop.
type Options struct {
	WorkerID         string
	ClaimMaxAttempts int
	// WorkDir is the parent of per-job temp dirs; empty means os.TempDir.
	WorkDir string
}

// Processor drives the worker execution loop.
type Processor struct {
	target Target
	deps   Deps
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	job     string
	summary Summary
}

// NewProcessor wires a processor. A nil Slot gets a fresh one.
func NewProcessor(target Target, deps Deps, opts Options) *Processor {
	if deps.Slot == nil {
		deps.Slot = &recovery.Slot{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		target: target,
		deps:   deps,
		opts:   opts,
		logger: logger.With(zap.String("worker_id", opts.WorkerID)),
		state:  StateIdle,
	}
}

// Run enumerates the backlog and processes jobs until none are left.
func (p *Processor) Run(ctx context.Context) (Summary, error) {
	backlog, err := p.deps.Objects.ListVideos(ctx, p.target.InputBucket, p.target.InputPrefix)
	if err != nil {
		return Summary{}, fmt.Errorf("enumerate backlog: %w", err)
	}
	telemetry.BacklogGauge.Set(float64(len(backlog)))
	p.logger.Info("Backlog enumerated",
		zap.String("bucket", p.target.InputBucket),
		zap.String("prefix", p.target.InputPrefix),
		zap.Int("videos", len(backlog)))
	return p.Drain(ctx, backlog), nil
}

// Drain claims, processes and resolves one job per iteration until the
// backlog is exhausted, acquisition gives up or ctx ends. A job that fails here
// is released for other workers and is not retried by this Drain.
func (p *Processor) Drain(ctx context.Context, backlog []string) Summary {
	failedHere := state.NewSet()
	for {
		if ctx.Err() != nil {
			p.finish(StateInterrupted)
			break
		}

		p.setState(StateClaiming, "")
		claim, err := p.deps.Claims.AcquireNext(ctx, without(backlog, failedHere), p.opts.ClaimMaxAttempts)
		if err != nil {
			if ctx.Err() != nil {
				p.finish(StateInterrupted)
				break
			}
			p.logger.Error("Could not acquire a job", zap.Int("attempts", claim.Attempts), zap.Error(err))
			p.finish(StateExhausted)
			break
		}
		if !claim.OK {
			p.finish(StateDrained)
			break
		}

		if err := p.deps.Slot.Hold(claim.ID); err != nil {
			// Only reachable if a previous claim was never resolved.
			p.logger.Error("Refusing second claim", zap.String("job", claim.ID), zap.Error(err))
			if rerr := p.deps.Claims.MarkFailed(claim.ID); rerr != nil {
				p.logger.Error("Failed to release claim; clear it with `statectl clear-locks`", zap.String("job", claim.ID), zap.Error(rerr))
			}
			p.finish(StateExhausted)
			break
		}
		telemetry.InFlightGauge.Inc()
		p.record(claim.ID, models.EventClaimed, fmt.Sprintf("attempts=%d", claim.Attempts), 0)

		p.setState(StateProcessing, claim.ID)
		p.logger.Info("Processing job", zap.String("job", claim.ID), zap.Int("claim_attempts", claim.Attempts))
		start := time.Now()
		procErr := p.safeProcess(ctx, claim.ID)

		p.setState(StateResolving, claim.ID)
		if !p.resolve(claim.ID, procErr, time.Since(start)) {
			failedHere.Add(claim.ID)
		}

		s := p.Summary()
		p.logger.Info("Progress",
			zap.Int("attempted", s.Succeeded+s.Failed),
			zap.Int("backlog", len(backlog)),
			zap.Int("succeeded", s.Succeeded),
			zap.Int("failed", s.Failed))
		p.setState(StateIdle, "")
	}

	s := p.Summary()
	p.logger.Info("Worker finished",
		zap.String("state", s.State.String()),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed))
	return s
}

// resolve moves the claim to Processed or releases it. It returns true only
// when the job completed durably.
func (p *Processor) resolve(id string, procErr error, took time.Duration) bool {
	if _, held := p.deps.Slot.Take(); !held {
		// The termination handler already released it.
		p.logger.Warn("Claim released during processing", zap.String("job", id), zap.NamedError("cause", procErr))
		p.record(id, models.EventReleased, "termination signal", took)
		return false
	}
	defer telemetry.InFlightGauge.Dec()

	if procErr == nil {
		if err := p.deps.Claims.MarkComplete(id); err != nil {
			procErr = fmt.Errorf("record completion: %w", err)
		} else {
			telemetry.JobsCompleted.Inc()
			telemetry.JobDuration.WithLabelValues("completed").Observe(took.Seconds())
			p.mu.Lock()
			p.summary.Succeeded++
			p.summary.Completed = append(p.summary.Completed, id)
			p.mu.Unlock()
			p.logger.Info("Job completed", zap.String("job", id), zap.Duration("took", took))
			p.record(id, models.EventCompleted, "", took)
			return true
		}
	}

	telemetry.JobsFailed.Inc()
	telemetry.JobDuration.WithLabelValues("failed").Observe(took.Seconds())
	p.mu.Lock()
	p.summary.Failed++
	p.summary.FailedJobs = append(p.summary.FailedJobs, id)
	p.mu.Unlock()
	p.logger.Error("Job failed, releasing claim", zap.String("job", id), zap.Error(procErr))
	if err := p.deps.Claims.MarkFailed(id); err != nil {
		p.logger.Error("Failed to release claim; clear it with `statectl clear-locks`", zap.String("job", id), zap.Error(err))
	}
	p.record(id, models.EventFailed, procErr.Error(), took)
	return false
}

func (p *Processor) safeProcess(ctx context.Context, key string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing: %v", r)
		}
	}()
	return p.process(ctx, key)
}

// process downloads, transcodes and uploads a single video.
func (p *Processor) process(ctx context.Context, key string) error {
	dir, err := os.MkdirTemp(p.opts.WorkDir, "transcode_")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			p.logger.Warn("Failed to clean work dir", zap.String("dir", dir), zap.Error(err))
		}
	}()

	input := filepath.Join(dir, "input"+path.Ext(key))
	if err := p.deps.Objects.Download(ctx, p.target.InputBucket, key, input); err != nil {
		return fmt.Errorf("download: %w", err)
	}

	output := filepath.Join(dir, "output")
	if err := p.deps.Transcoder.Transcode(ctx, input, output); err != nil {
		return fmt.Errorf("transcode: %w", err)
	}

	dest := storage.OutputPrefix(key, p.target.InputPrefix, p.target.OutputPrefix)
	n, err := p.deps.Objects.UploadDir(ctx, p.target.OutputBucket, dest, output)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	p.logger.Info("Output uploaded",
		zap.String("job", key),
		zap.String("destination", fmt.Sprintf("s3://%s/%s", p.target.OutputBucket, dest)),
		zap.Int("files", n))
	return nil
}

func (p *Processor) record(key, event, detail string, took time.Duration) {
	if p.deps.Events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.deps.Events.Record(ctx, models.JobEvent{
		JobKey:   key,
		WorkerID: p.opts.WorkerID,
		Event:    event,
		Detail:   detail,
		Duration: took,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn("Failed to record job event", zap.String("job", key), zap.String("event", event), zap.Error(err))
	}
}

func (p *Processor) setState(s State, job string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state, p.job = s, job
}

func (p *Processor) finish(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state, p.job = s, ""
	p.summary.State = s
	p.summary.Exhausted = s == StateExhausted
	p.summary.Interrupted = s == StateInterrupted
}

// Summary returns the counters so far.
func (p *Processor) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.summary
	s.Completed = append([]string(nil), p.summary.Completed...)
	s.FailedJobs = append([]string(nil), p.summary.FailedJobs...)
	if s.State == 0 {
		s.State = p.state
	}
	return s
}

// Status is a heartbeat-ready view of the processor.
func (p *Processor) Status() models.WorkerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	host, _ := os.Hostname()
	return models.WorkerStatus{
		WorkerID:  p.opts.WorkerID,
		Hostname:  host,
		PID:       os.Getpid(),
		State:     p.state.String(),
		Job:       p.job,
		Succeeded: p.summary.Succeeded,
		Failed:    p.summary.Failed,
		UpdatedAt: time.Now(),
	}
}

func without(backlog []string, skip *state.Set) []string {
	if skip.Len() == 0 {
		return backlog
	}
	out := make([]string, 0, len(backlog))
	for _, id := range backlog {
		if !skip.Has(id) {
			out = append(out, id)
		}
	}
	return out
}
