package host

import (
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oneclient-dev/oneclient-host/domain/entities"
	"github.com/oneclient-dev/oneclient-host/hostfuncs"
	"go.uber.org/zap"
)

// DefaultMetricsTimeout is how long after a perform buffered metrics are flushed.
const DefaultMetricsTimeout = time.Second

// runtimeConfig holds configuration for the Runtime.
type runtimeConfig struct {
	logger          *zap.Logger
	systemInterface *entities.SystemInterface
	middleware      []hostfuncs.Middleware
	MetricsTimeout  time.Duration `validate:"gt=0"`
	MaxMessageSize  int           `validate:"gte=1024"`
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		logger:         zap.NewNop(),
		MetricsTimeout: DefaultMetricsTimeout,
		MaxMessageSize: hostfuncs.DefaultMaxMessageSize,
	}
}

// Option configures a Runtime.
type Option func(*runtimeConfig)

// WithLogger sets the runtime logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *runtimeConfig) {
		c.logger = logger
	}
}

// WithMetricsTimeout sets the delay between a perform and the flush of its metrics.
func WithMetricsTimeout(d time.Duration) Option {
	return func(c *runtimeConfig) {
		c.MetricsTimeout = d
	}
}

// WithSystemInterface sets the process environment used when Perform initializes the
// core lazily. By default the core gets no args, no env, and stderr goes to the logger.
func WithSystemInterface(sys entities.SystemInterface) Option {
	return func(c *runtimeConfig) {
		c.systemInterface = &sys
	}
}

// WithMiddleware wraps every message handler. Middleware runs inside the built-in
// panic recovery and logging middleware, in the order given.
func WithMiddleware(mw ...hostfuncs.Middleware) Option {
	return func(c *runtimeConfig) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithMaxMessageSize limits the size of a single message sent by the core.
func WithMaxMessageSize(n int) Option {
	return func(c *runtimeConfig) {
		c.MaxMessageSize = n
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c runtimeConfig) validate() error {
	if c.logger == nil {
		return fmt.Errorf("invalid runtime options: logger is required")
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid runtime options: %w", err)
	}
	return nil
}

func (c runtimeConfig) defaultSystemInterface(stderr io.Writer) entities.SystemInterface {
	if c.systemInterface != nil {
		return *c.systemInterface
	}
	return entities.SystemInterface{Stderr: stderr}
}
