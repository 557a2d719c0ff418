package coretest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/oneclient-dev/oneclient-host/domain/entities"
	"github.com/oneclient-dev/oneclient-host/domain/ports"
)

// ErrTrap is returned by fake instances to simulate a core trap.
var ErrTrap = errors.New("unreachable executed")

// CallFunc scripts one export of a fake core.
type CallFunc func(ctx context.Context, inst *Instance) error

// Core scripts the behavior of every instance compiled from a fake image.
// Nil functions succeed without doing anything.
type Core struct {
	Setup          CallFunc
	Perform        CallFunc
	Teardown       CallFunc
	DeveloperDump  []string
	InstantiateErr error
	MetricsErr     error
}

// Sandbox is an in-process ports.Sandbox running scripted cores.
// An empty image fails to compile.
type Sandbox struct {
	core *Core

	mu        sync.Mutex
	instances []*Instance
	compiled  int
	closed    bool
}

var _ ports.Sandbox = (*Sandbox)(nil)

// NewSandbox creates a Sandbox whose images all behave like core.
func NewSandbox(core *Core) *Sandbox {
	return &Sandbox{core: core}
}

// Compile implements ports.Sandbox.
func (s *Sandbox) Compile(_ context.Context, image []byte) (ports.CompiledCore, error) {
	if len(image) == 0 {
		return nil, errors.New("empty core image")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compiled++
	return &compiledCore{sandbox: s, image: string(image)}, nil
}

// Close implements ports.Sandbox.
func (s *Sandbox) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Compiled returns how many images were compiled.
func (s *Sandbox) Compiled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compiled
}

// Closed reports whether Close was called.
func (s *Sandbox) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Instances returns every instance created so far, oldest first.
func (s *Sandbox) Instances() []*Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Instance(nil), s.instances...)
}

// Last returns the newest instance or nil.
func (s *Sandbox) Last() *Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.instances) == 0 {
		return nil
	}
	return s.instances[len(s.instances)-1]
}

type compiledCore struct {
	sandbox *Sandbox
	image   string
}

func (c *compiledCore) Instantiate(_ context.Context, sys entities.SystemInterface, bridge ports.CoreBridge) (ports.CoreInstance, error) {
	if c.sandbox.core.InstantiateErr != nil {
		return nil, c.sandbox.core.InstantiateErr
	}
	inst := &Instance{core: c.sandbox.core, Image: c.image, Sys: sys, Bridge: bridge}

	c.sandbox.mu.Lock()
	defer c.sandbox.mu.Unlock()
	c.sandbox.instances = append(c.sandbox.instances, inst)
	return inst, nil
}

func (c *compiledCore) Close(context.Context) error {
	return nil
}

// Instance is a live fake core.
type Instance struct {
	core   *Core
	Bridge ports.CoreBridge
	Sys    entities.SystemInterface
	Image  string

	mu        sync.Mutex
	metrics   []string
	setups    int
	performs  int
	teardowns int
	closed    bool
}

var _ ports.CoreInstance = (*Instance)(nil)

// Setup implements ports.CoreInstance.
func (i *Instance) Setup(ctx context.Context) error {
	i.count(&i.setups)
	return i.run(ctx, i.core.Setup)
}

// Perform implements ports.CoreInstance.
func (i *Instance) Perform(ctx context.Context) error {
	i.count(&i.performs)
	return i.run(ctx, i.core.Perform)
}

// Teardown implements ports.CoreInstance.
func (i *Instance) Teardown(ctx context.Context) error {
	i.count(&i.teardowns)
	return i.run(ctx, i.core.Teardown)
}

// TakeMetrics implements ports.CoreInstance.
func (i *Instance) TakeMetrics(context.Context) ([]string, error) {
	if i.core.MetricsErr != nil {
		return nil, i.core.MetricsErr
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	events := i.metrics
	i.metrics = nil
	return events, nil
}

// DeveloperDump implements ports.CoreInstance.
func (i *Instance) DeveloperDump(context.Context) ([]string, error) {
	return i.core.DeveloperDump, nil
}

// Close implements ports.CoreInstance.
func (i *Instance) Close(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	return nil
}

// RecordMetric buffers a metric event inside the core.
func (i *Instance) RecordMetric(event string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.metrics = append(i.metrics, event)
}

// Exchange sends msg to the host and decodes the response.
// A bridge error is returned as is; the caller decides whether to trap.
func (i *Instance) Exchange(ctx context.Context, msg any) (map[string]any, error) {
	doc, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return i.ExchangeRaw(ctx, doc)
}

// ExchangeRaw sends a raw document to the host and decodes the response.
func (i *Instance) ExchangeRaw(ctx context.Context, doc []byte) (map[string]any, error) {
	resp, err := i.Bridge.Exchange(ctx, doc)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// Counts returns how often setup, perform and teardown ran.
func (i *Instance) Counts() (setups, performs, teardowns int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.setups, i.performs, i.teardowns
}

// Closed reports whether Close was called.
func (i *Instance) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

func (i *Instance) count(n *int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	*n++
}

func (i *Instance) run(ctx context.Context, fn CallFunc) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, i)
}
