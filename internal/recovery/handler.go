package recovery

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"transcode-fleet/internal/telemetry"
)

// Releaser gives a claimed job back to the pool.
type Releaser interface {
	MarkFailed(id string) error
}

// Handler releases the held claim when the process is asked to terminate.
type Handler struct {
	slot     *Slot
	releaser Releaser
	logger   *zap.Logger
	// OnRelease runs after the release attempt, e.g. to cancel the worker context.
	OnRelease func(sig os.Signal)

	once  sync.Once
	fired atomic.Bool
}

// NewHandler builds a handler bound to slot.
func NewHandler(slot *Slot, releaser Releaser, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{slot: slot, releaser: releaser, logger: logger}
}

// Release gives back the held claim, if any. It reports the released identifier.
// A failed release leaves the job marked in progress until an operator clears it.
func (h *Handler) Release() (string, bool, error) {
	id, held := h.slot.Take()
	if !held {
		return "", false, nil
	}
	if err := h.releaser.MarkFailed(id); err != nil {
		h.logger.Error("Failed to release claim on termination; clear it with `statectl clear-locks`",
			zap.String("job", id), zap.Error(err))
		return id, false, err
	}
	telemetry.SignalReleases.Inc()
	telemetry.InFlightGauge.Dec()
	h.logger.Warn("Released claim on termination", zap.String("job", id))
	return id, true, nil
}

// Handle reacts to a single termination signal. Later calls are ignored.
func (h *Handler) Handle(sig os.Signal) {
	h.once.Do(func() {
		h.fired.Store(true)
		h.logger.Warn("Termination signal received", zap.String("signal", sig.String()))
		_, _, _ = h.Release()
		if h.OnRelease != nil {
			h.OnRelease(sig)
		}
	})
}

// Fired reports whether a signal has been handled.
func (h *Handler) Fired() bool {
	return h.fired.Load()
}

// Run waits for the first value on signals or for ctx to end.
func (h *Handler) Run(ctx context.Context, signals <-chan os.Signal) {
	select {
	case <-ctx.Done():
	case sig, ok := <-signals:
		if ok {
			h.Handle(sig)
		}
	}
}

// Watch subscribes to SIGINT and SIGTERM and runs the handler in the background.
// After the first signal is handled the default behaviour is restored, so a
// second signal terminates the process. The returned function unsubscribes.
func Watch(ctx context.Context, h *Handler) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx, ch)
		signal.Stop(ch)
	}()
	return func() {
		signal.Stop(ch)
		cancel()
		<-done
	}
}
