package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oneclient-dev/oneclient-host/domain/entities"
	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
	"github.com/oneclient-dev/oneclient-host/domain/ports"
	"github.com/oneclient-dev/oneclient-host/hostfuncs"
	"github.com/oneclient-dev/oneclient-host/wireformat"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	errNoPerform       = errors.New("no perform is running")
	errOutputTwice     = errors.New("perform output already delivered")
	errOutputBeforeIn  = errors.New("perform output sent before perform input")
	errMessageTooLarge = errors.New("message too large")
)

// bridge answers one core instance. It owns the instance's streams and pending
// HTTP calls, and records the exchange of the running perform.
type bridge struct {
	registry *hostfuncs.HandlerRegistry
	streams  *hostfuncs.StreamTable
	bundle   *hostfuncs.CapabilityBundle
	coder    ports.TextCoder
	logger   *zap.Logger
	maxSize  int

	mu        sync.Mutex
	perform   *entities.PerformState
	violation error
}

var _ ports.CoreBridge = (*bridge)(nil)

func newBridge(caps Capabilities, cfg runtimeConfig) (*bridge, error) {
	streams := hostfuncs.NewStreamTable()
	b := &bridge{
		streams: streams,
		bundle: hostfuncs.NewCapabilityBundle(streams,
			hostfuncs.WithNetwork(caps.Network),
			hostfuncs.WithFileSystem(caps.FileSystem)),
		coder:   caps.TextCoder,
		logger:  cfg.logger,
		maxSize: cfg.MaxMessageSize,
	}

	middleware := append([]hostfuncs.Middleware{
		hostfuncs.PanicRecoveryMiddleware(),
		hostfuncs.LoggingMiddleware(cfg.logger),
	}, cfg.middleware...)

	registry, err := hostfuncs.NewRegistry(
		hostfuncs.WithMiddleware(middleware...),
		hostfuncs.WithBundle(b.bundle),
		hostfuncs.WithHandler(wireformat.KindPerformInput, b.performInput),
		hostfuncs.WithHandler(wireformat.KindPerformOutputResult, b.performOutputResult),
		hostfuncs.WithHandler(wireformat.KindPerformOutputError, b.performOutputError),
		hostfuncs.WithHandler(wireformat.KindPerformOutputException, b.performOutputException),
	)
	if err != nil {
		b.bundle.Close()
		return nil, fmt.Errorf("failed to create handler registry: %w", err)
	}
	b.registry = registry
	return b, nil
}

// begin starts recording a perform exchange.
func (b *bridge) begin(req entities.PerformRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.perform = entities.NewPerformState(req)
	b.violation = nil
}

// end stops recording and returns what the core delivered and the first protocol
// violation, if any.
func (b *bridge) end() (*entities.PerformState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, violation := b.perform, b.violation
	b.perform, b.violation = nil, nil
	return state, violation
}

// Exchange implements ports.CoreBridge.
func (b *bridge) Exchange(ctx context.Context, message []byte) ([]byte, error) {
	if len(message) > b.maxSize {
		return nil, b.violate(&domainerrors.ProtocolError{
			Err: fmt.Errorf("%w: %d bytes exceeds %d", errMessageTooLarge, len(message), b.maxSize),
		})
	}

	doc := []byte(b.coder.DecodeUTF8(message))
	msg, err := wireformat.Decode(doc)
	if err != nil {
		return nil, b.violate(&domainerrors.ProtocolError{Err: err})
	}

	resp, err := b.registry.Invoke(ctx, msg.MessageKind(), doc)
	if err != nil {
		return nil, b.violate(err)
	}
	return b.coder.EncodeUTF8(string(resp)), nil
}

// StreamRead implements ports.CoreBridge.
func (b *bridge) StreamRead(_ context.Context, handle uint32, p []byte) (int, error) {
	return b.streams.Read(handle, p)
}

// StreamWrite implements ports.CoreBridge.
func (b *bridge) StreamWrite(_ context.Context, handle uint32, p []byte) (int, error) {
	return b.streams.Write(handle, p)
}

// StreamClose implements ports.CoreBridge.
func (b *bridge) StreamClose(_ context.Context, handle uint32) error {
	return b.streams.Close(handle)
}

// close cancels pending HTTP calls and closes every stream the core left open.
func (b *bridge) close() error {
	b.bundle.Close()
	return b.streams.CloseAll()
}

func (b *bridge) violate(err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.violation == nil {
		b.violation = err
	}
	b.logger.Debug("protocol violation", zap.Error(err))
	return err
}

// output checks that the running perform may receive an output and returns its state.
func (b *bridge) output(kind wireformat.Kind) (*entities.PerformState, error) {
	switch {
	case b.perform == nil:
		return nil, &domainerrors.ProtocolError{Kind: string(kind), Err: errNoPerform}
	case !b.perform.InputDelivered:
		return nil, &domainerrors.ProtocolError{Kind: string(kind), Err: errOutputBeforeIn}
	case b.perform.Finished():
		return nil, &domainerrors.ProtocolError{Kind: string(kind), Err: errOutputTwice}
	}
	return b.perform, nil
}

func (b *bridge) performInput(_ context.Context, _ wireformat.PerformInput) (wireformat.PerformInputOk, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.perform == nil {
		return wireformat.PerformInputOk{}, &domainerrors.ProtocolError{Kind: string(wireformat.KindPerformInput), Err: errNoPerform}
	}
	b.perform.InputDelivered = true

	req := b.perform.Request
	parameters, security := req.Parameters, req.Security
	if parameters == nil {
		parameters = map[string]any{}
	}
	if security == nil {
		security = map[string]any{}
	}
	return wireformat.PerformInputOk{
		Kind:          wireformat.ResponseOk,
		ProfileURL:    req.ProfileURL,
		ProviderURL:   req.ProviderURL,
		MapURL:        req.MapURL,
		Usecase:       req.Usecase,
		MapInput:      wireformat.Replace(req.Input),
		MapParameters: wireformat.Replace(parameters),
		MapSecurity:   wireformat.Replace(security),
	}, nil
}

func (b *bridge) performOutputResult(_ context.Context, msg wireformat.PerformOutputResult) (wireformat.OkResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.output(wireformat.KindPerformOutputResult)
	if err != nil {
		return wireformat.OkResponse{}, err
	}
	state.Outcome = entities.OutcomeResult
	state.Result = wireformat.Revive(msg.Result)
	return wireformat.Ok(), nil
}

func (b *bridge) performOutputError(_ context.Context, msg wireformat.PerformOutputError) (wireformat.OkResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.output(wireformat.KindPerformOutputError)
	if err != nil {
		return wireformat.OkResponse{}, err
	}
	state.Outcome = entities.OutcomeMapError
	state.MapError = wireformat.Revive(msg.Error)
	return wireformat.Ok(), nil
}

func (b *bridge) performOutputException(_ context.Context, msg wireformat.PerformOutputException) (wireformat.OkResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.output(wireformat.KindPerformOutputException)
	if err != nil {
		return wireformat.OkResponse{}, err
	}
	exception := msg.Exception
	state.Outcome = entities.OutcomeException
	state.Exception = &exception
	return wireformat.Ok(), nil
}

// closeAll closes the bridge and the instance it serves.
func closeAll(ctx context.Context, b *bridge, instance ports.CoreInstance) error {
	var errs error
	if b != nil {
		errs = multierr.Append(errs, b.close())
	}
	if instance != nil {
		errs = multierr.Append(errs, instance.Close(ctx))
	}
	return errs
}
