package wazero

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"github.com/oneclient-dev/oneclient-host/domain/entities"
	"github.com/oneclient-dev/oneclient-host/domain/ports"
	"github.com/oneclient-dev/oneclient-host/hostfuncs"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

// Core exports.
const (
	ExportSetup         = "oneclient_core_setup"
	ExportTeardown      = "oneclient_core_teardown"
	ExportPerform       = "oneclient_core_perform"
	ExportGetMetrics    = "oneclient_core_get_metrics"
	ExportClearMetrics  = "oneclient_core_clear_metrics"
	ExportDeveloperDump = "oneclient_core_get_developer_dump"
	exportInitialize    = "_initialize"
)

var requiredExports = []string{ExportSetup, ExportPerform, ExportTeardown}

// Engine is a wazero runtime with WASI and the host module instantiated.
type Engine struct {
	runtime wazero.Runtime
	config  AdapterConfig
	seq     atomic.Uint64
}

var (
	_ ports.Sandbox      = (*Engine)(nil)
	_ ports.CompiledCore = (*CompiledCore)(nil)
	_ ports.CoreInstance = (*Instance)(nil)
)

// NewEngine creates the runtime and registers the host module.
func NewEngine(ctx context.Context, opts ...AdapterOption) (*Engine, error) {
	cfg := defaultAdapterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rc)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}
	if err := registerHostModule(ctx, rt, cfg); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}

	return &Engine{runtime: rt, config: cfg}, nil
}

// Compile validates a core image and checks it exports the lifecycle functions.
func (e *Engine) Compile(ctx context.Context, image []byte) (ports.CompiledCore, error) {
	compiled, err := e.runtime.CompileModule(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("failed to compile core: %w", err)
	}

	exports := compiled.ExportedFunctions()
	for _, name := range requiredExports {
		if _, ok := exports[name]; !ok {
			_ = compiled.Close(ctx)
			return nil, fmt.Errorf("core does not export %q", name)
		}
	}

	e.config.Logger.Debug("core compiled", zap.Int("size", len(image)), zap.Int("exports", len(exports)))
	return &CompiledCore{engine: e, module: compiled}, nil
}

// Close releases the runtime and every instance created from it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// CompiledCore is a compiled core image.
type CompiledCore struct {
	engine *Engine
	module wazero.CompiledModule
}

// Instantiate creates a new instance whose host calls are answered by bridge.
// The reactor entry point _initialize runs if the core exports it.
func (c *CompiledCore) Instantiate(ctx context.Context, sys entities.SystemInterface, bridge ports.CoreBridge) (ports.CoreInstance, error) {
	cfg := c.engine.config
	state := newCallState(bridge, cfg.MaxMessageSize)
	stderr := hostfuncs.NewBoundedBuffer(cfg.MaxStderrSize)

	var errOut io.Writer = stderr
	if sys.Stderr != nil {
		errOut = io.MultiWriter(stderr, sys.Stderr)
	}

	name := fmt.Sprintf("oneclient-core-%d", c.engine.seq.Add(1))
	mc := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions(exportInitialize).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader).
		WithStderr(errOut)
	if sys.Stdin != nil {
		mc = mc.WithStdin(sys.Stdin)
	}
	if sys.Stdout != nil {
		mc = mc.WithStdout(sys.Stdout)
	}
	if len(sys.Args) > 0 {
		mc = mc.WithArgs(sys.Args...)
	}
	keys := make([]string, 0, len(sys.Env))
	for k := range sys.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		mc = mc.WithEnv(k, sys.Env[k])
	}

	mod, err := c.engine.runtime.InstantiateModule(withCallState(ctx, state), c.module, mc)
	if err != nil {
		return nil, &TrapError{Export: exportInitialize, Stderr: stderr.String(), Err: err}
	}

	cfg.Logger.Debug("core instantiated", zap.String("module", name))
	return &Instance{
		module: mod,
		state:  state,
		stderr: stderr,
		logger: cfg.Logger.With(zap.String("module", name)),
	}, nil
}

// Close releases the compiled image.
func (c *CompiledCore) Close(ctx context.Context) error {
	return c.module.Close(ctx)
}
