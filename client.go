package oneclient

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/oneclient-dev/oneclient-host/application/config"
	"github.com/oneclient-dev/oneclient-host/domain/entities"
	"github.com/oneclient-dev/oneclient-host/domain/ports"
	"github.com/oneclient-dev/oneclient-host/host"
	"github.com/oneclient-dev/oneclient-host/infrastructure/filesystem"
	"github.com/oneclient-dev/oneclient-host/infrastructure/network"
	"github.com/oneclient-dev/oneclient-host/infrastructure/persistence"
	"github.com/oneclient-dev/oneclient-host/infrastructure/textcoder"
	"github.com/oneclient-dev/oneclient-host/infrastructure/timers"
	coreengine "github.com/oneclient-dev/oneclient-host/infrastructure/wazero"
	hostlog "github.com/oneclient-dev/oneclient-host/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// PerformOptions select the provider and carry its parameters and credentials.
type PerformOptions struct {
	Parameters map[string]any
	Security   map[string]any
	Provider   string `validate:"required"`
}

// clientConfig holds configuration for the Client.
type clientConfig struct {
	logger      *zap.Logger
	sandbox     ports.Sandbox
	network     ports.Network
	persistence ports.Persistence
	coreImage   []byte
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithLogger sets the logger of the client and everything it builds.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithSandbox replaces the wazero sandbox.
func WithSandbox(sandbox ports.Sandbox) ClientOption {
	return func(c *clientConfig) {
		c.sandbox = sandbox
	}
}

// WithNetwork replaces the network capability built from the configuration.
func WithNetwork(n ports.Network) ClientOption {
	return func(c *clientConfig) {
		c.network = n
	}
}

// WithPersistence replaces the telemetry store built from the configuration.
func WithPersistence(p ports.Persistence) ClientOption {
	return func(c *clientConfig) {
		c.persistence = p
	}
}

// WithCoreImage uses image instead of reading the configured core file.
func WithCoreImage(image []byte) ClientOption {
	return func(c *clientConfig) {
		c.coreImage = image
	}
}

// Client performs use cases. It is safe for concurrent use.
type Client struct {
	runtime *host.Runtime
	config  config.Config
	image   []byte
	logger  *zap.Logger
	timers  *timers.Timers
	fs      *filesystem.FileSystem
	stderr  *hostlog.GuestWriter

	loadMu sync.Mutex
	loaded bool
}

// NewClient builds a client and its capabilities from cfg.
func NewClient(ctx context.Context, cfg config.Config, opts ...ClientOption) (*Client, error) {
	cc := clientConfig{logger: hostlog.Logger()}
	for _, opt := range opts {
		opt(&cc)
	}
	if cc.coreImage != nil && cfg.Core == "" {
		cfg.Core = "<embedded>"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config: cfg,
		image:  cc.coreImage,
		logger: cc.logger,
		timers: timers.New(timers.WithLogger(cc.logger)),
		stderr: hostlog.NewGuestWriter(cc.logger),
	}

	caps := host.Capabilities{
		Network:     cc.network,
		Timers:      c.timers,
		TextCoder:   textcoder.New(),
		Persistence: cc.persistence,
	}
	if caps.Network == nil && cfg.Network.Enabled {
		caps.Network = newNetwork(cfg.Network, cc.logger)
	}
	if cfg.FileSystem.Enabled {
		fs, err := newFileSystem(cfg.FileSystem, cc.logger)
		if err != nil {
			return nil, err
		}
		c.fs = fs
		caps.FileSystem = fs
	}
	if caps.Persistence == nil {
		caps.Persistence = newPersistence(cfg.Telemetry, cc.logger)
	}

	sandbox := cc.sandbox
	if sandbox == nil {
		engine, err := coreengine.NewEngine(ctx,
			coreengine.WithLogger(cc.logger),
			coreengine.WithMaxMessageSize(uint32(cfg.Runtime.MaxMessageSize)))
		if err != nil {
			return nil, fmt.Errorf("failed to create sandbox: %w", err)
		}
		sandbox = engine
	}

	rt, err := host.NewRuntime(sandbox, caps,
		host.WithLogger(cc.logger),
		host.WithMetricsTimeout(cfg.Runtime.MetricsTimeout.Std()),
		host.WithMaxMessageSize(cfg.Runtime.MaxMessageSize),
		host.WithSystemInterface(entities.SystemInterface{
			Env:    cfg.Runtime.Env,
			Stderr: c.stderr,
		}))
	if err != nil {
		return nil, multierr.Append(err, sandbox.Close(ctx))
	}
	c.runtime = rt
	return c, nil
}

func newNetwork(cfg config.NetworkConfig, logger *zap.Logger) *network.Client {
	opts := []network.Option{
		network.WithLogger(logger),
		network.WithTimeout(cfg.Timeout.Std()),
		network.WithMaxBodySize(cfg.MaxBodySize),
		network.WithAllowedHosts(cfg.AllowedHosts...),
	}
	if cfg.AllowPrivate {
		opts = append(opts, network.WithEgressFilter(
			network.WithBlockPrivate(false),
			network.WithBlockLocalhost(false),
			network.WithBlocklist(cfg.BlockedHosts...)))
	} else {
		opts = append(opts, network.WithEgressFilter(network.WithBlocklist(cfg.BlockedHosts...)))
	}
	return network.NewClient(opts...)
}

func newFileSystem(cfg config.FileSystemConfig, logger *zap.Logger) (*filesystem.FileSystem, error) {
	opts := []filesystem.Option{filesystem.WithLogger(logger)}
	if cfg.Root != "" {
		opts = append(opts, filesystem.WithRoot(cfg.Root))
	}
	if cfg.ReadOnly {
		opts = append(opts, filesystem.WithReadOnly())
	}
	fs, err := filesystem.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem capability: %w", err)
	}
	return fs, nil
}

func newPersistence(cfg config.TelemetryConfig, logger *zap.Logger) ports.Persistence {
	switch cfg.Store {
	case "file":
		return persistence.NewFileStore(persistence.WithDir(cfg.Dir))
	case "memory":
		return persistence.NewMemoryStore()
	case "none":
		return nil
	default:
		return persistence.NewLogStore(logger)
	}
}

// Runtime returns the underlying runtime.
func (c *Client) Runtime() *host.Runtime {
	return c.runtime
}

// Perform runs usecase of profile with the given provider.
func (c *Client) Perform(ctx context.Context, profile, usecase string, input any, opts PerformOptions) (any, error) {
	if profile == "" || usecase == "" {
		return nil, fmt.Errorf("profile and use case are required")
	}
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid perform options: %w", err)
	}
	if err := ValidateInput(input); err != nil {
		return nil, err
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	req := entities.PerformRequest{
		ProfileURL:  c.assetURL(profile + ".supr"),
		ProviderURL: c.assetURL(opts.Provider + ".provider.json"),
		MapURL:      c.assetURL(profile + "." + opts.Provider + ".suma.js"),
		Usecase:     usecase,
		Input:       input,
		Parameters:  opts.Parameters,
		Security:    opts.Security,
	}
	return c.runtime.Perform(ctx, req)
}

func (c *Client) ensureLoaded(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if c.loaded {
		return nil
	}

	image := c.image
	if image == nil {
		data, err := os.ReadFile(c.config.Core)
		if err != nil {
			return fmt.Errorf("failed to read core: %w", err)
		}
		image = data
	}
	if err := c.runtime.LoadCore(ctx, image); err != nil {
		return err
	}
	c.loaded = true
	return nil
}

// assetURL returns the file URL of an asset.
func (c *Client) assetURL(name string) string {
	path := filepath.Join(c.config.Assets, filepath.FromSlash(name))
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// Close shuts the runtime down and releases every capability.
func (c *Client) Close(ctx context.Context) error {
	errs := c.runtime.Close(ctx)
	c.timers.Stop()
	c.stderr.Flush()
	if c.fs != nil {
		errs = multierr.Append(errs, c.fs.CloseAll())
	}
	return errs
}

// Profile returns a handle for the use cases of a profile.
func (c *Client) Profile(name string) *Profile {
	return &Profile{client: c, name: name}
}

// Profile is a named profile of a Client.
type Profile struct {
	client *Client
	name   string
}

// UseCase returns a handle for one use case of the profile.
func (p *Profile) UseCase(name string) *UseCase {
	return &UseCase{profile: p, name: name}
}

// UseCase is a use case of a profile.
type UseCase struct {
	profile *Profile
	name    string
}

// Perform runs the use case.
func (u *UseCase) Perform(ctx context.Context, input any, opts PerformOptions) (any, error) {
	return u.profile.client.Perform(ctx, u.profile.name, u.name, input, opts)
}
