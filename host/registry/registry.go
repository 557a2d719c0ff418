// Package registry holds the JSON schemas of the messages a core may send.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/oneclient-dev/oneclient-host/wireformat"
)

// registryConfig holds configuration for the Registry.
type registryConfig struct {
	strictMode bool // Fail on duplicate registrations
}

func defaultRegistryConfig() registryConfig {
	return registryConfig{
		strictMode: true, // Secure default: prevent accidental overwrites
	}
}

// RegistryOption configures a Registry instance.
type RegistryOption func(*registryConfig)

// WithStrictMode enables/disables strict mode for duplicate registrations.
// Default is true (fail on duplicates). Disable only for testing.
func WithStrictMode(enabled bool) RegistryOption {
	return func(c *registryConfig) {
		c.strictMode = enabled
	}
}

// Registry maps message kinds to JSON schemas.
type Registry struct {
	config  registryConfig
	mu      sync.RWMutex
	schemas map[wireformat.Kind]*jsonschema.Schema
}

// NewRegistry creates an empty Registry with the given options.
func NewRegistry(opts ...RegistryOption) *Registry {
	cfg := defaultRegistryConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{config: cfg, schemas: make(map[wireformat.Kind]*jsonschema.Schema)}
}

// NewMessageRegistry creates a Registry holding every message kind of the protocol.
func NewMessageRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, kind := range wireformat.Kinds() {
		msg, err := wireformat.New(kind)
		if err != nil {
			return nil, err
		}
		if err := r.Register(kind, msg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a schema generated from a Go value. The kind property is pinned to kind.
func (r *Registry) Register(kind wireformat.Kind, model any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.config.strictMode {
		if _, exists := r.schemas[kind]; exists {
			return fmt.Errorf("message kind %q already registered", kind)
		}
	}

	reflector := jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	s := reflector.Reflect(model)
	s.Title = string(kind)
	if s.Properties != nil {
		if prop, ok := s.Properties.Get("kind"); ok {
			prop.Const = string(kind)
		}
	}
	r.schemas[kind] = s
	return nil
}

// GetSchema returns the JSON schema of a message kind.
func (r *Registry) GetSchema(kind wireformat.Kind) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[kind]
	if !ok {
		return "", false
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// List returns all registered kinds, sorted.
func (r *Registry) List() []wireformat.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedKinds()
}

// Document returns a single schema accepting any registered message.
func (r *Registry) Document() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc := &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "OneClient core messages",
		Description: "Messages a core sends through message_exchange",
	}
	for _, kind := range r.sortedKinds() {
		doc.OneOf = append(doc.OneOf, r.schemas[kind])
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message schema: %w", err)
	}
	return data, nil
}

func (r *Registry) sortedKinds() []wireformat.Kind {
	kinds := make([]wireformat.Kind, 0, len(r.schemas))
	for kind := range r.schemas {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
