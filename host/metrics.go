package host

import (
	"context"
	"errors"

	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
	"go.uber.org/zap"
)

// scheduleFlush arranges for buffered metrics to be flushed after the metrics timeout.
// Only one flush is pending at a time. Must be called with the slot held.
func (r *Runtime) scheduleFlush() {
	if r.flushPending {
		return
	}
	live := r.live
	r.flushPending = true
	r.flushTimer = r.caps.Timers.SetTimeout(func() {
		r.flushFromTimer(live)
	}, r.config.MetricsTimeout)
}

func (r *Runtime) cancelFlush() {
	if !r.flushPending {
		return
	}
	r.caps.Timers.ClearTimeout(r.flushTimer)
	r.flushPending = false
}

func (r *Runtime) flushFromTimer(live *liveInstance) {
	r.slot <- struct{}{}
	defer r.release()

	if r.live != live || !r.flushPending {
		return
	}
	r.flushPending = false
	_ = r.flushLocked(context.Background())
}

// flushLocked moves metrics from the core to persistence. A core that fails to
// hand its metrics over is poisoned and the returned error says so. Persistence
// failures are logged only.
func (r *Runtime) flushLocked(ctx context.Context) error {
	live := r.live
	if live == nil {
		return nil
	}
	events, err := live.instance.TakeMetrics(ctx)
	if err != nil {
		r.logger.Warn("failed to take core metrics", zap.Error(err))
		r.poison(ctx, live)
		return &domainerrors.UnexpectedError{Message: "core failed while reporting metrics", Err: err, Poisoned: true}
	}
	if len(events) == 0 {
		return nil
	}

	if r.caps.Persistence == nil {
		r.logger.Debug("core metrics", zap.Strings("events", events))
		return nil
	}
	if err := r.caps.Persistence.PersistMetrics(ctx, events); err != nil {
		r.logger.Warn("failed to persist core metrics", zap.Int("events", len(events)), zap.Error(err))
	}
	return nil
}

func (r *Runtime) persistDeveloperDump(ctx context.Context, dump []string) {
	if r.caps.Persistence == nil {
		r.logger.Warn("core developer dump", zap.Strings("events", dump))
		return
	}
	if err := r.caps.Persistence.PersistDeveloperDump(ctx, dump); err != nil {
		r.logger.Warn("failed to persist developer dump", zap.Error(err))
	}
}

func asUnexpected(err error, target **domainerrors.UnexpectedError) bool {
	return err != nil && errors.As(err, target)
}
