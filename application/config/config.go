// Package config loads the host configuration from TOML, YAML or JSON files.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/oneclient-dev/oneclient-host/application/schema"
	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string such as "1s" or "250ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// JSONSchema describes Duration as a string.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Description: "Go duration such as 1s or 250ms",
		Examples:    []any{"1s", "250ms"},
	}
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete host configuration.
type Config struct {
	// Core is the path of the core image.
	Core       string           `json:"core" yaml:"core" toml:"core" validate:"required"`
	Assets     string           `json:"assets,omitempty" yaml:"assets" toml:"assets"`
	Log        LogConfig        `json:"log" yaml:"log" toml:"log"`
	Runtime    RuntimeConfig    `json:"runtime" yaml:"runtime" toml:"runtime"`
	Network    NetworkConfig    `json:"network" yaml:"network" toml:"network"`
	FileSystem FileSystemConfig `json:"filesystem" yaml:"filesystem" toml:"filesystem"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry" toml:"telemetry"`
}

// LogConfig configures the host logger.
type LogConfig struct {
	Level       string `json:"level" yaml:"level" toml:"level" validate:"oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Development bool   `json:"development" yaml:"development" toml:"development"`
}

// RuntimeConfig configures the core runtime.
type RuntimeConfig struct {
	MetricsTimeout Duration          `json:"metrics_timeout" yaml:"metrics_timeout" toml:"metrics_timeout" validate:"gt=0"`
	MaxMessageSize int               `json:"max_message_size" yaml:"max_message_size" toml:"max_message_size" validate:"gte=1024"`
	Env            map[string]string `json:"env,omitempty" yaml:"env" toml:"env"`
}

// NetworkConfig configures the network capability.
type NetworkConfig struct {
	AllowedHosts []string `json:"allowed_hosts,omitempty" yaml:"allowed_hosts" toml:"allowed_hosts" validate:"dive,required"`
	BlockedHosts []string `json:"blocked_hosts,omitempty" yaml:"blocked_hosts" toml:"blocked_hosts" validate:"dive,required"`
	Timeout      Duration `json:"timeout" yaml:"timeout" toml:"timeout" validate:"gt=0"`
	MaxBodySize  int64    `json:"max_body_size" yaml:"max_body_size" toml:"max_body_size" validate:"gt=0"`
	Enabled      bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	// AllowPrivate lets the core reach loopback and private addresses.
	AllowPrivate bool `json:"allow_private" yaml:"allow_private" toml:"allow_private"`
}

// FileSystemConfig configures the filesystem capability.
type FileSystemConfig struct {
	Root     string `json:"root,omitempty" yaml:"root" toml:"root"`
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	ReadOnly bool   `json:"read_only" yaml:"read_only" toml:"read_only"`
}

// TelemetryConfig selects where metrics and developer dumps go.
type TelemetryConfig struct {
	Store string `json:"store" yaml:"store" toml:"store" validate:"oneof=file log memory none" jsonschema:"enum=file,enum=log,enum=memory,enum=none"`
	Dir   string `json:"dir,omitempty" yaml:"dir" toml:"dir" validate:"required_if=Store file"`
}

// Default returns the configuration used for keys a file does not set.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Runtime: RuntimeConfig{
			MetricsTimeout: Duration(time.Second),
			MaxMessageSize: 4 * 1024 * 1024,
		},
		Network: NetworkConfig{
			Enabled:     true,
			Timeout:     Duration(30 * time.Second),
			MaxBodySize: 10 * 1024 * 1024,
		},
		Telemetry: TelemetryConfig{Store: "log"},
	}
}

// Format is a configuration file syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
}

// Load reads, decodes and validates a configuration file.
// Relative core, assets, root and telemetry paths are resolved against the file's directory.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that override keys before validating.
func Read(path string) (Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := decode(data, format)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes and validates configuration data on top of Default.
func Parse(data []byte, format Format) (Config, error) {
	cfg, err := decode(data, format)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, format Format) (Config, error) {
	cfg := Default()

	var err error
	switch format {
	case FormatTOML:
		_, err = toml.Decode(string(data), &cfg)
	case FormatYAML:
		err = yaml.Unmarshal(data, &cfg)
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&cfg)
	default:
		err = fmt.Errorf("unsupported config format %q", format)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration. The first failing field is reported as a *errors.ConfigError.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &domainerrors.ConfigError{
			Field: fe.Namespace(),
			Err:   fmt.Errorf("failed on %q rule (value: %v)", fe.Tag(), fe.Value()),
		}
	}
	return &domainerrors.ConfigError{Err: err}
}

func (c *Config) resolvePaths(base string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	resolve(&c.Core)
	resolve(&c.Assets)
	resolve(&c.FileSystem.Root)
	resolve(&c.Telemetry.Dir)
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	return schema.GenerateSchema(Config{})
}

// CompactSchema returns Schema on one line, with every definition inlined.
func CompactSchema() ([]byte, error) {
	return schema.GenerateCompactSchema(Config{})
}
