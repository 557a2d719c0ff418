package host

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oneclient-dev/oneclient-host/domain/entities"
	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
	"github.com/oneclient-dev/oneclient-host/domain/ports"
	"github.com/oneclient-dev/oneclient-host/hostfuncs"
	"github.com/oneclient-dev/oneclient-host/infrastructure/filesystem"
	"github.com/oneclient-dev/oneclient-host/infrastructure/persistence"
	"github.com/oneclient-dev/oneclient-host/internal/coretest"
	hostlog "github.com/oneclient-dev/oneclient-host/log"
	"github.com/oneclient-dev/oneclient-host/wireformat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// manualTimers fires callbacks only when told to.
type manualTimers struct {
	mu        sync.Mutex
	next      ports.TimerHandle
	callbacks map[ports.TimerHandle]func()
	delays    []time.Duration
}

func newManualTimers() *manualTimers {
	return &manualTimers{callbacks: map[ports.TimerHandle]func(){}}
}

func (m *manualTimers) SetTimeout(callback func(), delay time.Duration) ports.TimerHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.callbacks[m.next] = callback
	m.delays = append(m.delays, delay)
	return m.next
}

func (m *manualTimers) ClearTimeout(handle ports.TimerHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.callbacks, handle)
}

func (m *manualTimers) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.callbacks)
}

func (m *manualTimers) Fire() {
	m.mu.Lock()
	callbacks := m.callbacks
	m.callbacks = map[ports.TimerHandle]func(){}
	m.mu.Unlock()
	for _, cb := range callbacks {
		cb()
	}
}

func request(usecase string, input any) entities.PerformRequest {
	return entities.PerformRequest{
		ProfileURL:  "file:///profile.supr",
		ProviderURL: "file:///provider.json",
		MapURL:      "file:///profile.provider.suma.js",
		Usecase:     usecase,
		Input:       input,
	}
}

type RuntimeSuite struct {
	suite.Suite
	ctx     context.Context
	core    *coretest.Core
	sandbox *coretest.Sandbox
	store   *persistence.MemoryStore
	timers  *manualTimers
	logs    *observer.ObservedLogs
	runtime *Runtime
}

func (s *RuntimeSuite) SetupTest() {
	s.ctx = context.Background()
	s.core = &coretest.Core{Perform: coretest.Result(true)}
	s.sandbox = coretest.NewSandbox(s.core)
	s.store = persistence.NewMemoryStore()
	s.timers = newManualTimers()

	obs, logs := observer.New(zapcore.DebugLevel)
	s.logs = logs

	rt, err := NewRuntime(s.sandbox, Capabilities{
		Timers:      s.timers,
		Persistence: s.store,
	}, WithLogger(zap.New(obs)), WithMetricsTimeout(50*time.Millisecond))
	s.Require().NoError(err)
	s.runtime = rt
}

func (s *RuntimeSuite) load() {
	s.Require().NoError(s.runtime.LoadCore(s.ctx, []byte("core")))
}

func (s *RuntimeSuite) TestLoadCore_Failure() {
	err := s.runtime.LoadCore(s.ctx, nil)

	var loadErr *domainerrors.LoadError
	s.Require().ErrorAs(err, &loadErr)
	s.Equal(StateUnloaded, s.runtime.State())
}

func (s *RuntimeSuite) TestLoadCore_FailureKeepsPreviousCore() {
	s.load()
	s.Error(s.runtime.LoadCore(s.ctx, nil))
	s.Equal(StateCoreLoaded, s.runtime.State())

	result, err := s.runtime.Perform(s.ctx, request("Test", nil))
	s.Require().NoError(err)
	s.Equal(true, result)
}

func (s *RuntimeSuite) TestNotLoaded() {
	_, err := s.runtime.Perform(s.ctx, request("Test", nil))
	s.ErrorIs(err, domainerrors.ErrCoreNotLoaded)

	s.ErrorIs(s.runtime.Init(s.ctx, entities.SystemInterface{}), domainerrors.ErrCoreNotLoaded)
}

func (s *RuntimeSuite) TestPerform_InvalidRequest() {
	s.load()
	_, err := s.runtime.Perform(s.ctx, entities.PerformRequest{Usecase: "Test"})
	s.Error(err)
	s.Empty(s.sandbox.Instances())
}

func (s *RuntimeSuite) TestPerform_Result() {
	s.load()

	result, err := s.runtime.Perform(s.ctx, request("Test", nil))
	s.Require().NoError(err)
	s.Equal(true, result)
	s.Equal(StateReady, s.runtime.State())

	inst := s.sandbox.Last()
	setups, performs, _ := inst.Counts()
	s.Equal(1, setups)
	s.Equal(1, performs)
	s.IsType(&hostlog.GuestWriter{}, inst.Sys.Stderr)
}

func (s *RuntimeSuite) TestPerform_InputRoundTrip() {
	s.core.Perform = coretest.Echo()
	s.load()

	input := map[string]any{"name": "x", "blob": []byte("hi"), "n": 1.5}
	result, err := s.runtime.Perform(s.ctx, request("Echo", input))
	s.Require().NoError(err)
	s.Equal(map[string]any{"name": "x", "blob": wireformat.Buffer("hi"), "n": 1.5}, result)
}

func (s *RuntimeSuite) TestPerform_MapError() {
	s.core.Perform = coretest.MapError(map[string]any{"title": "NotFound"})
	s.load()

	_, err := s.runtime.Perform(s.ctx, request("Test", nil))
	var perr *domainerrors.PerformError
	s.Require().ErrorAs(err, &perr)
	s.Equal(map[string]any{"title": "NotFound"}, perr.ErrorResult)

	_, err = s.runtime.Perform(s.ctx, request("Test", nil))
	s.Error(err)
	s.Len(s.sandbox.Instances(), 1)
	s.Equal(StateReady, s.runtime.State())
}

func (s *RuntimeSuite) TestPerform_ValidationError() {
	s.core.Perform = coretest.Exception(entities.ExceptionInputValidation, "Test validation error")
	s.load()

	_, err := s.runtime.Perform(s.ctx, request("Test", nil))
	var verr *domainerrors.ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Equal("Test validation error", verr.Message)
	s.False(s.sandbox.Last().Closed())
	s.Equal(StateReady, s.runtime.State())

	s.core.Perform = coretest.Result(true)
	result, err := s.runtime.Perform(s.ctx, request("Test", nil))
	s.Require().NoError(err)
	s.Equal(true, result)
	s.Len(s.sandbox.Instances(), 1)
	s.Empty(s.store.DeveloperDumps())
}

func (s *RuntimeSuite) TestPerform_ExceptionKeepsInstance() {
	s.core.Perform = coretest.Exception("UnexpectedError", "core failed")
	s.load()

	_, err := s.runtime.Perform(s.ctx, request("Test", nil))
	var uerr *domainerrors.UnexpectedError
	s.Require().ErrorAs(err, &uerr)
	s.False(uerr.Poisoned)
	s.Equal("unexpected error: UnexpectedError: core failed", err.Error())
	s.False(s.sandbox.Last().Closed())
	s.Empty(s.store.DeveloperDumps())
}

func (s *RuntimeSuite) TestPerform_TrapPoisons() {
	s.core.Perform = coretest.Trap()
	s.core.DeveloperDump = []string{"dump line"}
	s.load()

	_, err := s.runtime.Perform(s.ctx, request("Test", nil))
	var uerr *domainerrors.UnexpectedError
	s.Require().ErrorAs(err, &uerr)
	s.True(uerr.Poisoned)
	s.ErrorIs(err, coretest.ErrTrap)
	s.Equal("unexpected error: core trapped", err.Error())

	s.True(s.sandbox.Last().Closed())
	s.Equal(StateCoreLoaded, s.runtime.State())
	s.Equal([][]string{{"dump line"}}, s.store.DeveloperDumps())

	s.core.Perform = coretest.Result("recovered")
	result, err := s.runtime.Perform(s.ctx, request("Test", nil))
	s.Require().NoError(err)
	s.Equal("recovered", result)
	s.Len(s.sandbox.Instances(), 2)
}

func (s *RuntimeSuite) TestPerform_DumpPersistFailureIsLogged() {
	s.core.Perform = coretest.Trap()
	s.core.DeveloperDump = []string{"dump line"}
	s.store.FailWith(errors.New("disk full"))
	s.load()

	_, err := s.runtime.Perform(s.ctx, request("Test", nil))
	s.Require().Error(err)
	s.Equal(1, s.logs.FilterMessage("failed to persist developer dump").Len())
}

func (s *RuntimeSuite) TestPerform_NoOutputPoisons() {
	s.core.Perform = coretest.NoOutput()
	s.load()

	_, err := s.runtime.Perform(s.ctx, request("Test", nil))
	var uerr *domainerrors.UnexpectedError
	s.Require().ErrorAs(err, &uerr)
	s.True(uerr.Poisoned)
	s.True(s.sandbox.Last().Closed())
}

func (s *RuntimeSuite) TestPerform_ProtocolViolations() {
	tests := []struct {
		name    string
		perform coretest.CallFunc
		wantErr error
	}{
		{
			name:    "unknown kind",
			perform: coretest.Send(`{"kind":"perform-input"}`, `{"kind":"bogus"}`),
			wantErr: wireformat.ErrUnknownKind,
		},
		{
			name:    "malformed document",
			perform: coretest.Send(`{"kind":`),
			wantErr: wireformat.ErrMalformedMessage,
		},
		{
			name:    "missing kind",
			perform: coretest.Send(`{"result":true}`),
			wantErr: wireformat.ErrMissingKind,
		},
		{
			name:    "output before input",
			perform: coretest.Send(`{"kind":"perform-output-result","result":true}`),
			wantErr: errOutputBeforeIn,
		},
		{
			name: "output twice",
			perform: coretest.Send(
				`{"kind":"perform-input"}`,
				`{"kind":"perform-output-result","result":true}`,
				`{"kind":"perform-output-result","result":false}`),
			wantErr: errOutputTwice,
		},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.core.Perform = tt.perform
			s.load()

			_, err := s.runtime.Perform(s.ctx, request("Test", nil))
			var uerr *domainerrors.UnexpectedError
			s.Require().ErrorAs(err, &uerr)
			s.True(uerr.Poisoned)
			s.ErrorIs(err, tt.wantErr)
			s.Equal(StateCoreLoaded, s.runtime.State())
		})
	}
}

func (s *RuntimeSuite) TestPerform_ExchangeOutsidePerform() {
	s.core.Setup = coretest.Send(`{"kind":"perform-input"}`)
	s.load()

	err := s.runtime.Init(s.ctx, entities.SystemInterface{})
	var uerr *domainerrors.UnexpectedError
	s.Require().ErrorAs(err, &uerr)
	s.ErrorIs(err, errNoPerform)
}

func (s *RuntimeSuite) TestPerform_MissingCapability() {
	var answer map[string]any
	s.core.Perform = func(ctx context.Context, inst *coretest.Instance) error {
		if _, err := coretest.Input(ctx, inst); err != nil {
			return err
		}
		resp, err := inst.Exchange(ctx, map[string]any{"kind": "file-open", "path": "/etc/hosts", "read": true})
		if err != nil {
			return err
		}
		answer = resp
		_, err = inst.Exchange(ctx, map[string]any{"kind": "perform-output-result", "result": nil})
		return err
	}
	s.load()

	_, err := s.runtime.Perform(s.ctx, request("Test", nil))
	s.Require().NoError(err)
	s.Equal("err", answer["kind"])
	s.Equal("capability:filesystem", answer["error_code"])
}

func (s *RuntimeSuite) TestInit() {
	s.load()
	sys := entities.SystemInterface{Env: map[string]string{"ONECLIENT_ENV": "test"}}

	s.Require().NoError(s.runtime.Init(s.ctx, sys))
	s.Equal(StateReady, s.runtime.State())
	first := s.sandbox.Last()
	s.Equal("test", first.Sys.Env["ONECLIENT_ENV"])

	s.Require().NoError(s.runtime.Init(s.ctx, sys))
	_, _, teardowns := first.Counts()
	s.Equal(1, teardowns)
	s.True(first.Closed())
	s.Len(s.sandbox.Instances(), 2)
}

func (s *RuntimeSuite) TestInit_SetupTrap() {
	s.core.Setup = func(context.Context, *coretest.Instance) error { return coretest.ErrTrap }
	s.load()

	err := s.runtime.Init(s.ctx, entities.SystemInterface{})
	var uerr *domainerrors.UnexpectedError
	s.Require().ErrorAs(err, &uerr)
	s.Equal(StateCoreLoaded, s.runtime.State())
	s.True(s.sandbox.Last().Closed())
}

func (s *RuntimeSuite) TestInit_InstantiateFailure() {
	s.core.InstantiateErr = errors.New("out of memory")
	s.load()

	_, err := s.runtime.Perform(s.ctx, request("Test", nil))
	var uerr *domainerrors.UnexpectedError
	s.Require().ErrorAs(err, &uerr)
	s.Equal("unexpected error: failed to instantiate core", err.Error())
	s.Equal(StateCoreLoaded, s.runtime.State())
}

func (s *RuntimeSuite) TestMetricsFlush() {
	s.load()

	_, err := s.runtime.Perform(s.ctx, request("Test", nil))
	s.Require().NoError(err)
	_, err = s.runtime.Perform(s.ctx, request("Test", nil))
	s.Require().NoError(err)

	s.Equal(1, s.timers.Pending())
	s.Equal([]time.Duration{50 * time.Millisecond}, s.timers.delays)
	s.Empty(s.store.Metrics())

	s.timers.Fire()
	s.Equal([]string{"perform", "perform"}, s.store.Metrics())

	_, err = s.runtime.Perform(s.ctx, request("Test", nil))
	s.Require().NoError(err)
	s.Equal(1, s.timers.Pending())
}

func (s *RuntimeSuite) TestMetricsFlush_TrapPoisons() {
	s.core.MetricsErr = coretest.ErrTrap
	s.core.DeveloperDump = []string{"metrics export trapped"}
	s.load()

	result, err := s.runtime.Perform(s.ctx, request("Test", nil))
	s.Require().NoError(err)
	s.Equal(true, result)
	first := s.sandbox.Last()

	s.timers.Fire()
	s.Equal(1, s.logs.FilterMessage("failed to take core metrics").Len())
	s.True(first.Closed())
	s.Equal(StateCoreLoaded, s.runtime.State())
	s.Equal([][]string{{"metrics export trapped"}}, s.store.DeveloperDumps())

	s.core.MetricsErr = nil
	result, err = s.runtime.Perform(s.ctx, request("Test", nil))
	s.Require().NoError(err)
	s.Equal(true, result)
	s.Len(s.sandbox.Instances(), 2)
}

func (s *RuntimeSuite) TestDestroy_MetricsTrapPoisons() {
	s.core.MetricsErr = coretest.ErrTrap
	s.load()

	_, err := s.runtime.Perform(s.ctx, request("Test", nil))
	s.Require().NoError(err)
	inst := s.sandbox.Last()

	err = s.runtime.Destroy(s.ctx)
	var uerr *domainerrors.UnexpectedError
	s.Require().ErrorAs(err, &uerr)
	s.True(uerr.Poisoned)
	s.ErrorIs(err, coretest.ErrTrap)
	s.True(inst.Closed())
	_, _, teardowns := inst.Counts()
	s.Equal(0, teardowns)
	s.Equal(StateDestroyed, s.runtime.State())
	s.Equal(0, s.timers.Pending())
}

func (s *RuntimeSuite) TestDestroy() {
	s.load()
	_, err := s.runtime.Perform(s.ctx, request("Test", nil))
	s.Require().NoError(err)
	inst := s.sandbox.Last()

	s.Require().NoError(s.runtime.Destroy(s.ctx))
	s.Equal(StateDestroyed, s.runtime.State())
	s.Equal([]string{"perform"}, s.store.Metrics())
	s.Equal(0, s.timers.Pending())
	_, _, teardowns := inst.Counts()
	s.Equal(1, teardowns)
	s.True(inst.Closed())

	s.Require().NoError(s.runtime.Destroy(s.ctx))
	_, _, teardowns = inst.Counts()
	s.Equal(1, teardowns)

	_, err = s.runtime.Perform(s.ctx, request("Test", nil))
	s.Require().NoError(err)
	s.Len(s.sandbox.Instances(), 2)
}

func (s *RuntimeSuite) TestDestroy_TeardownTrap() {
	s.core.Teardown = func(context.Context, *coretest.Instance) error { return coretest.ErrTrap }
	s.load()
	s.Require().NoError(s.runtime.Init(s.ctx, entities.SystemInterface{}))

	err := s.runtime.Destroy(s.ctx)
	s.ErrorIs(err, coretest.ErrTrap)
	s.True(s.sandbox.Last().Closed())
	s.Equal(StateDestroyed, s.runtime.State())
}

func (s *RuntimeSuite) TestLoadCore_DiscardsInstance() {
	s.load()
	s.Require().NoError(s.runtime.Init(s.ctx, entities.SystemInterface{}))
	first := s.sandbox.Last()

	s.Require().NoError(s.runtime.LoadCore(s.ctx, []byte("core v2")))
	s.True(first.Closed())
	s.Equal(StateCoreLoaded, s.runtime.State())

	_, err := s.runtime.Perform(s.ctx, request("Test", nil))
	s.Require().NoError(err)
	s.Equal("core v2", s.sandbox.Last().Image)
}

func (s *RuntimeSuite) TestClose() {
	s.load()
	s.Require().NoError(s.runtime.Init(s.ctx, entities.SystemInterface{}))

	s.Require().NoError(s.runtime.Close(s.ctx))
	s.True(s.sandbox.Closed())
	s.True(s.sandbox.Last().Closed())

	_, err := s.runtime.Perform(s.ctx, request("Test", nil))
	s.ErrorIs(err, domainerrors.ErrRuntimeClosed)
	s.ErrorIs(s.runtime.LoadCore(s.ctx, []byte("core")), domainerrors.ErrRuntimeClosed)
	s.NoError(s.runtime.Close(s.ctx))
}

func (s *RuntimeSuite) TestPerform_Queued() {
	var inflight, maxInflight atomic.Int32
	s.core.Perform = func(ctx context.Context, inst *coretest.Instance) error {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		if n > maxInflight.Load() {
			maxInflight.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		return coretest.Result(true)(ctx, inst)
	}
	s.load()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.runtime.Perform(s.ctx, request("Test", nil))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		s.NoError(err)
	}
	s.Equal(int32(1), maxInflight.Load())
	_, performs, _ := s.sandbox.Last().Counts()
	s.Equal(8, performs)
}

func (s *RuntimeSuite) TestPerform_WaiterCancelled() {
	started := make(chan struct{})
	unblock := make(chan struct{})
	s.core.Perform = func(ctx context.Context, inst *coretest.Instance) error {
		close(started)
		<-unblock
		return coretest.Result(true)(ctx, inst)
	}
	s.load()

	done := make(chan error, 1)
	go func() {
		_, err := s.runtime.Perform(s.ctx, request("Test", nil))
		done <- err
	}()
	<-started
	s.Equal(StatePerforming, s.runtime.State())

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Millisecond)
	defer cancel()
	_, err := s.runtime.Perform(ctx, request("Test", nil))
	s.ErrorIs(err, context.DeadlineExceeded)

	close(unblock)
	s.NoError(<-done)
	_, performs, _ := s.sandbox.Last().Counts()
	s.Equal(1, performs)
}

func (s *RuntimeSuite) TestMiddleware() {
	var seen []wireformat.Kind
	counting := func(next hostfuncs.ByteHandler) hostfuncs.ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if hc, ok := ctx.(hostfuncs.HostContext); ok {
				seen = append(seen, hc.MessageKind())
			}
			return next(ctx, payload)
		}
	}
	rt, err := NewRuntime(s.sandbox, Capabilities{Timers: s.timers}, WithMiddleware(counting))
	s.Require().NoError(err)
	s.Require().NoError(rt.LoadCore(s.ctx, []byte("core")))

	_, err = rt.Perform(s.ctx, request("Test", nil))
	s.Require().NoError(err)
	s.Equal([]wireformat.Kind{wireformat.KindPerformInput, wireformat.KindPerformOutputResult}, seen)
}

func (s *RuntimeSuite) TestWithSystemInterface() {
	rt, err := NewRuntime(s.sandbox, Capabilities{Timers: s.timers},
		WithSystemInterface(entities.SystemInterface{Args: []string{"core"}}))
	s.Require().NoError(err)
	s.Require().NoError(rt.LoadCore(s.ctx, []byte("core")))

	_, err = rt.Perform(s.ctx, request("Test", nil))
	s.Require().NoError(err)
	s.Equal([]string{"core"}, s.sandbox.Last().Sys.Args)
}

func TestRuntimeSuite(t *testing.T) {
	suite.Run(t, new(RuntimeSuite))
}

func TestNewRuntime_Options(t *testing.T) {
	sandbox := coretest.NewSandbox(&coretest.Core{})

	_, err := NewRuntime(nil, Capabilities{})
	assert.Error(t, err)

	_, err = NewRuntime(sandbox, Capabilities{}, WithMetricsTimeout(0))
	assert.ErrorContains(t, err, "MetricsTimeout")

	_, err = NewRuntime(sandbox, Capabilities{}, WithMaxMessageSize(10))
	assert.ErrorContains(t, err, "MaxMessageSize")

	_, err = NewRuntime(sandbox, Capabilities{}, WithLogger(nil))
	assert.Error(t, err)

	rt, err := NewRuntime(sandbox, Capabilities{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMetricsTimeout, rt.config.MetricsTimeout)
	assert.NotNil(t, rt.caps.Timers)
	assert.NotNil(t, rt.caps.TextCoder)
	assert.Equal(t, StateUnloaded, rt.State())
}

func TestLoadCoreFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "core.wasm"), []byte("core image"), 0o600))

	fs, err := filesystem.New(filesystem.WithRoot(dir), filesystem.WithReadOnly())
	require.NoError(t, err)
	sandbox := coretest.NewSandbox(&coretest.Core{Perform: coretest.Result(1.0)})

	rt, err := NewRuntime(sandbox, Capabilities{FileSystem: fs})
	require.NoError(t, err)

	require.NoError(t, rt.LoadCoreFile(ctx, "core.wasm"))
	require.NoError(t, rt.Init(ctx, entities.SystemInterface{}))
	assert.Equal(t, "core image", sandbox.Last().Image)

	var loadErr *domainerrors.LoadError
	assert.ErrorAs(t, rt.LoadCoreFile(ctx, "missing.wasm"), &loadErr)

	noFS, err := NewRuntime(sandbox, Capabilities{})
	require.NoError(t, err)
	assert.ErrorAs(t, noFS.LoadCoreFile(ctx, "core.wasm"), &loadErr)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unloaded", StateUnloaded.String())
	assert.Equal(t, "core_loaded", StateCoreLoaded.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "performing", StatePerforming.String())
	assert.Equal(t, "destroyed", StateDestroyed.String())
	assert.Equal(t, "unknown", State(42).String())
}
