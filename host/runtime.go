package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/oneclient-dev/oneclient-host/bytebuf"
	"github.com/oneclient-dev/oneclient-host/domain/entities"
	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
	"github.com/oneclient-dev/oneclient-host/domain/ports"
	hostlog "github.com/oneclient-dev/oneclient-host/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// liveInstance is an instantiated core together with the bridge serving it.
type liveInstance struct {
	instance ports.CoreInstance
	bridge   *bridge
}

// Runtime hosts one core. Its methods are safe for concurrent use: performs are
// queued and run one at a time in arrival order.
type Runtime struct {
	sandbox ports.Sandbox
	caps    Capabilities
	config  runtimeConfig
	logger  *zap.Logger

	// slot is held by whichever operation currently uses the core.
	slot chan struct{}

	// Guarded by slot.
	core         ports.CompiledCore
	live         *liveInstance
	flushTimer   ports.TimerHandle
	flushPending bool
	closed       bool

	mu    sync.Mutex
	state State
}

// NewRuntime creates a Runtime that compiles cores with sandbox and serves them caps.
func NewRuntime(sandbox ports.Sandbox, caps Capabilities, opts ...Option) (*Runtime, error) {
	if sandbox == nil {
		return nil, fmt.Errorf("sandbox is required")
	}

	cfg := defaultRuntimeConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Runtime{
		sandbox: sandbox,
		caps:    caps.withDefaults(cfg.logger),
		config:  cfg,
		logger:  cfg.logger,
		slot:    make(chan struct{}, 1),
		state:   StateUnloaded,
	}, nil
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

// acquire waits for the core. Waiters are served in arrival order.
func (r *Runtime) acquire(ctx context.Context) error {
	select {
	case r.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if r.closed {
		r.release()
		return domainerrors.ErrRuntimeClosed
	}
	return nil
}

func (r *Runtime) release() {
	<-r.slot
}

// LoadCore compiles a core image. On failure the previous core stays loaded.
// On success any live instance of the previous core is discarded.
func (r *Runtime) LoadCore(ctx context.Context, image []byte) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	defer r.release()

	compiled, err := r.sandbox.Compile(ctx, image)
	if err != nil {
		return &domainerrors.LoadError{Err: err}
	}

	if r.live != nil {
		if err := r.destroyLocked(ctx); err != nil {
			r.logger.Warn("failed to destroy previous core instance", zap.Error(err))
		}
	}
	if r.core != nil {
		if err := r.core.Close(ctx); err != nil {
			r.logger.Warn("failed to close previous core", zap.Error(err))
		}
	}

	r.core = compiled
	r.setState(StateCoreLoaded)
	r.logger.Debug("core loaded", zap.Int("size", len(image)))
	return nil
}

// LoadCoreFile reads a core image through the FileSystem capability and loads it.
func (r *Runtime) LoadCoreFile(ctx context.Context, path string) error {
	fs := r.caps.FileSystem
	if fs == nil {
		return &domainerrors.LoadError{Err: &domainerrors.CapabilityError{Required: "filesystem"}}
	}

	handle, err := fs.Open(ctx, path, entities.FileOpenOptions{Read: true})
	if err != nil {
		return &domainerrors.LoadError{Err: err}
	}
	image, err := bytebuf.ReadToEnd(bytebuf.NewHandleStream(handle, fileSource{fs: fs}))
	if err != nil {
		return &domainerrors.LoadError{Err: fmt.Errorf("read %s: %w", path, err)}
	}
	return r.LoadCore(ctx, image.Data())
}

// Init instantiates the loaded core with sys and runs its setup.
// A previous instance is torn down first.
func (r *Runtime) Init(ctx context.Context, sys entities.SystemInterface) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	defer r.release()
	return r.initLocked(ctx, sys)
}

func (r *Runtime) initLocked(ctx context.Context, sys entities.SystemInterface) error {
	if r.core == nil {
		return domainerrors.ErrCoreNotLoaded
	}
	if r.live != nil {
		if err := r.destroyLocked(ctx); err != nil {
			r.logger.Warn("failed to destroy previous core instance", zap.Error(err))
		}
	}

	b, err := newBridge(r.caps, r.config)
	if err != nil {
		return err
	}

	instance, err := r.core.Instantiate(ctx, sys, b)
	if err != nil {
		_ = b.close()
		r.setState(StateCoreLoaded)
		return &domainerrors.UnexpectedError{Message: "failed to instantiate core", Err: err}
	}

	if err := instance.Setup(ctx); err != nil {
		if cerr := closeAll(ctx, b, instance); cerr != nil {
			r.logger.Debug("failed to close core after setup failure", zap.Error(cerr))
		}
		r.setState(StateCoreLoaded)
		return &domainerrors.UnexpectedError{Message: "core setup failed", Err: err}
	}

	r.live = &liveInstance{instance: instance, bridge: b}
	r.setState(StateReady)
	return nil
}

// Perform runs one use case on the core, initializing it first when needed.
// It returns the map result, or one of *errors.PerformError, *errors.ValidationError
// and *errors.UnexpectedError.
func (r *Runtime) Perform(ctx context.Context, req entities.PerformRequest) (any, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid perform request: %w", err)
	}

	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	if r.live == nil {
		sys := r.config.defaultSystemInterface(hostlog.NewGuestWriter(r.logger))
		if err := r.initLocked(ctx, sys); err != nil {
			return nil, err
		}
	}

	live := r.live
	r.setState(StatePerforming)
	live.bridge.begin(req)
	trap := live.instance.Perform(ctx)
	state, violation := live.bridge.end()

	result, err := r.outcome(state, trap, violation)
	var unexpected *domainerrors.UnexpectedError
	if asUnexpected(err, &unexpected) && unexpected.Poisoned {
		r.poison(ctx, live)
		return nil, err
	}

	r.setState(StateReady)
	r.scheduleFlush()
	return result, err
}

// outcome maps what the core delivered to the result of Perform.
func (r *Runtime) outcome(state *entities.PerformState, trap, violation error) (any, error) {
	switch {
	case violation != nil:
		return nil, &domainerrors.UnexpectedError{Message: "core violated the message protocol", Err: violation, Poisoned: true}
	case trap != nil:
		return nil, &domainerrors.UnexpectedError{Message: "core trapped", Err: trap, Poisoned: true}
	case state == nil || !state.Finished():
		return nil, &domainerrors.UnexpectedError{Message: "core finished without producing output", Poisoned: true}
	}

	switch state.Outcome {
	case entities.OutcomeResult:
		return state.Result, nil
	case entities.OutcomeMapError:
		return nil, &domainerrors.PerformError{ErrorResult: state.MapError}
	default:
		exc := state.Exception
		if exc.ErrorCode == entities.ExceptionInputValidation {
			return nil, &domainerrors.ValidationError{Message: exc.Message}
		}
		return nil, &domainerrors.UnexpectedError{Message: fmt.Sprintf("%s: %s", exc.ErrorCode, exc.Message)}
	}
}

// poison discards a broken instance after saving its developer dump.
func (r *Runtime) poison(ctx context.Context, live *liveInstance) {
	ctx = context.WithoutCancel(ctx)
	r.cancelFlush()

	dump, err := live.instance.DeveloperDump(ctx)
	switch {
	case err != nil:
		r.logger.Warn("failed to take developer dump", zap.Error(err))
	case len(dump) > 0:
		r.persistDeveloperDump(ctx, dump)
	}

	if err := closeAll(ctx, live.bridge, live.instance); err != nil {
		r.logger.Debug("failed to close poisoned core instance", zap.Error(err))
	}
	r.live = nil
	r.setState(StateCoreLoaded)
	r.logger.Warn("core instance poisoned; it will be re-initialized on the next perform")
}

// Destroy flushes metrics, tears down the live instance and releases its resources.
// It is idempotent. Init or Perform may start a new instance afterwards.
func (r *Runtime) Destroy(ctx context.Context) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	defer r.release()
	return r.destroyLocked(ctx)
}

func (r *Runtime) destroyLocked(ctx context.Context) error {
	if r.live == nil {
		if r.core != nil {
			r.setState(StateDestroyed)
		}
		return nil
	}

	live := r.live
	r.cancelFlush()
	if err := r.flushLocked(ctx); err != nil {
		r.setState(StateDestroyed)
		return err
	}

	var errs error
	if err := live.instance.Teardown(ctx); err != nil {
		errs = multierr.Append(errs, &domainerrors.UnexpectedError{Message: "core teardown failed", Err: err})
	}
	errs = multierr.Append(errs, closeAll(ctx, live.bridge, live.instance))

	r.live = nil
	r.setState(StateDestroyed)
	return errs
}

// Close destroys the live instance and releases the core and the sandbox.
// The runtime cannot be used afterwards. Closing twice is a no-op.
func (r *Runtime) Close(ctx context.Context) error {
	select {
	case r.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer r.release()
	if r.closed {
		return nil
	}

	errs := r.destroyLocked(ctx)
	if r.core != nil {
		errs = multierr.Append(errs, r.core.Close(ctx))
		r.core = nil
	}
	errs = multierr.Append(errs, r.sandbox.Close(ctx))
	r.closed = true
	r.setState(StateDestroyed)
	return errs
}

// fileSource reads a FileSystem handle as a bytebuf stream source.
type fileSource struct {
	fs ports.FileSystem
}

func (s fileSource) StreamRead(handle uint32, p []byte) (int, error) {
	return s.fs.Read(handle, p)
}

func (s fileSource) StreamClose(handle uint32) error {
	return s.fs.Close(handle)
}
