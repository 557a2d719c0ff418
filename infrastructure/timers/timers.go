// Package timers implements the Timers capability on time.AfterFunc.
package timers

import (
	"fmt"
	"time"

	"github.com/oneclient-dev/oneclient-host/domain/ports"
	"github.com/oneclient-dev/oneclient-host/internal/handles"
	"go.uber.org/zap"
)

// Option configures Timers.
type Option func(*Timers)

// WithLogger sets the logger that receives callback panics.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Timers) {
		t.logger = logger
	}
}

// Timers runs callbacks after a delay. Each callback runs on its own goroutine.
type Timers struct {
	logger  *zap.Logger
	pending *handles.Table[*time.Timer]
}

var _ ports.Timers = (*Timers)(nil)

// New creates Timers.
func New(opts ...Option) *Timers {
	t := &Timers{logger: zap.NewNop(), pending: handles.NewTable[*time.Timer]()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetTimeout schedules callback after delay.
func (t *Timers) SetTimeout(callback func(), delay time.Duration) ports.TimerHandle {
	var handle handles.Handle
	registered := make(chan struct{})

	timer := time.AfterFunc(delay, func() {
		<-registered
		if _, err := t.pending.Remove(handle); err != nil {
			// Cleared while firing.
			return
		}
		t.run(handle, callback)
	})
	handle = t.pending.Insert(timer)
	close(registered)

	return ports.TimerHandle(handle)
}

// ClearTimeout cancels a pending callback. Unknown or fired handles are ignored.
func (t *Timers) ClearTimeout(handle ports.TimerHandle) {
	timer, err := t.pending.Remove(handles.Handle(handle))
	if err != nil {
		return
	}
	timer.Stop()
}

// Pending returns the number of scheduled callbacks.
func (t *Timers) Pending() int {
	return t.pending.Len()
}

// Stop cancels every pending callback.
func (t *Timers) Stop() {
	for _, timer := range t.pending.Drain() {
		timer.Stop()
	}
}

func (t *Timers) run(handle handles.Handle, callback func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("timer callback panicked",
				zap.Uint32("handle", handle),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	callback()
}
