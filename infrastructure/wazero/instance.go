package wazero

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oneclient-dev/oneclient-host/hostfuncs"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// TrapError reports a call into the core that aborted.
type TrapError struct {
	Err    error
	Export string
	// Stderr is what the core wrote to stderr before the trap, possibly truncated.
	Stderr string
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("core trapped in %s: %v", e.Export, e.Err)
}

func (e *TrapError) Unwrap() error {
	return e.Err
}

// Instance is a live core module.
type Instance struct {
	module api.Module
	state  *callState
	stderr *hostfuncs.BoundedBuffer
	logger *zap.Logger
}

// Setup calls the core's setup export.
func (i *Instance) Setup(ctx context.Context) error {
	_, err := i.call(ctx, ExportSetup)
	return err
}

// Perform calls the core's perform export. The outcome arrives through the bridge.
func (i *Instance) Perform(ctx context.Context) error {
	_, err := i.call(ctx, ExportPerform)
	return err
}

// Teardown calls the core's teardown export.
func (i *Instance) Teardown(ctx context.Context) error {
	_, err := i.call(ctx, ExportTeardown)
	return err
}

// TakeMetrics returns buffered metric events and clears them inside the core.
// A core without metric exports has no metrics.
func (i *Instance) TakeMetrics(ctx context.Context) ([]string, error) {
	events, err := i.readEvents(ctx, ExportGetMetrics)
	if err != nil || len(events) == 0 {
		return events, err
	}
	if i.module.ExportedFunction(ExportClearMetrics) != nil {
		if _, err := i.call(ctx, ExportClearMetrics); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// DeveloperDump returns the core's recent diagnostic events.
func (i *Instance) DeveloperDump(ctx context.Context) ([]string, error) {
	return i.readEvents(ctx, ExportDeveloperDump)
}

// Stderr returns what the core has written to stderr so far.
func (i *Instance) Stderr() string {
	return i.stderr.String()
}

// Close releases the module and any responses the core never retrieved.
func (i *Instance) Close(ctx context.Context) error {
	i.state.pending.Drain()
	return i.module.Close(ctx)
}

func (i *Instance) call(ctx context.Context, name string) ([]uint64, error) {
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("core does not export %q", name)
	}

	results, err := fn.Call(withCallState(ctx, i.state))
	if err != nil {
		trap := &TrapError{Export: name, Stderr: i.stderr.String(), Err: err}
		i.logger.Debug("core call trapped",
			zap.String("export", name),
			zap.String("stderr", trap.Stderr),
			zap.Error(err))
		return nil, trap
	}
	return results, nil
}

// readEvents calls an export returning a packed pointer to a JSON array of strings.
func (i *Instance) readEvents(ctx context.Context, export string) ([]string, error) {
	if i.module.ExportedFunction(export) == nil {
		return nil, nil
	}

	results, err := i.call(ctx, export)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || results[0] == 0 {
		return nil, nil
	}

	mem := i.module.Memory()
	if mem == nil {
		return nil, fmt.Errorf("%s: core has no memory", export)
	}
	ptr, length := unpackPtrLen(results[0])
	data, ok := mem.Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("%s: events at %d+%d are out of bounds", export, ptr, length)
	}

	var events []string
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("%s: decode events: %w", export, err)
	}
	return events, nil
}
