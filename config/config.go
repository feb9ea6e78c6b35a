// Package config loads endpoint and route configuration from HCL files and
// applies it to an endpoint registry.
//
//	endpoint "orders" {
//	  direction  = "outbound"
//	  connection = "Endpoint=amqp://${env.RABBIT_HOST}:5672/;EntityPath=orders"
//	}
//
//	route "Sales.PlaceOrder" {
//	  endpoint = "orders"
//	}
//
//	default_publish_endpoint = "events"
//	default_reply_endpoint   = "replies"
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/glimte/mmate-router/routing"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// EndpointBlock is an endpoint "<name>" block
type EndpointBlock struct {
	Name       string `hcl:"name,label"`
	Direction  string `hcl:"direction,optional"`
	Connection string `hcl:"connection"`
	Transport  string `hcl:"transport,optional"`
}

// RouteBlock is a route "<message type identifier>" block
type RouteBlock struct {
	MessageType string `hcl:"message_type,label"`
	Endpoint    string `hcl:"endpoint"`
}

// Config is a decoded configuration file
type Config struct {
	Endpoints              []*EndpointBlock `hcl:"endpoint,block"`
	Routes                 []*RouteBlock    `hcl:"route,block"`
	DefaultPublishEndpoint string           `hcl:"default_publish_endpoint,optional"`
	DefaultReplyEndpoint   string           `hcl:"default_reply_endpoint,optional"`
}

type loader struct {
	env    map[string]string
	logger *slog.Logger
}

// Option configures loading
type Option func(*loader)

// WithEnv replaces the process environment exposed as env.* in expressions
func WithEnv(env map[string]string) Option {
	return func(l *loader) {
		l.env = env
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *loader) {
		l.logger = logger
	}
}

func newLoader(options []Option) *loader {
	l := &loader{logger: slog.Default()}
	for _, opt := range options {
		opt(l)
	}
	if l.env == nil {
		l.env = processEnv()
	}
	return l
}

// Load parses and decodes the HCL file at path
func Load(path string, options ...Option) (*Config, error) {
	l := newLoader(options)

	file, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}
	return l.decode(file, path)
}

// Parse parses and decodes HCL source; filename is used in diagnostics
func Parse(src []byte, filename string, options ...Option) (*Config, error) {
	l := newLoader(options)

	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config %s: %w", filename, diags)
	}
	return l.decode(file, filename)
}

func (l *loader) decode(file *hcl.File, filename string) (*Config, error) {
	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, l.evalContext(), &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode config %s: %w", filename, diags)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	l.logger.Debug("loaded configuration",
		"file", filename,
		"endpoints", len(cfg.Endpoints),
		"routes", len(cfg.Routes),
	)
	return &cfg, nil
}

func (l *loader) evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(l.env))
	for k, v := range l.env {
		vars[k] = cty.StringVal(v)
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
	}
}

func processEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}
	return env
}

// Validate checks the blocks of one file without touching a registry.
// Endpoint references of routes and defaults are resolved when applied, so
// they may name endpoints declared in another file or registered in code.
func (c *Config) Validate() error {
	names := make(map[string]struct{}, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		if strings.TrimSpace(ep.Name) == "" {
			return fmt.Errorf("%w: endpoint with empty name", ErrInvalidConfig)
		}
		if _, dup := names[ep.Name]; dup {
			return fmt.Errorf("%w: endpoint %q declared twice", ErrInvalidConfig, ep.Name)
		}
		names[ep.Name] = struct{}{}
		if _, err := routing.ParseDirection(ep.Direction); err != nil {
			return fmt.Errorf("%w: endpoint %q: %v", ErrInvalidConfig, ep.Name, err)
		}
	}

	routes := make(map[string]struct{}, len(c.Routes))
	for _, r := range c.Routes {
		if strings.TrimSpace(r.MessageType) == "" {
			return fmt.Errorf("%w: route with empty message type", ErrInvalidConfig)
		}
		if _, dup := routes[r.MessageType]; dup {
			return fmt.Errorf("%w: route %q declared twice", ErrInvalidConfig, r.MessageType)
		}
		routes[r.MessageType] = struct{}{}
		if strings.TrimSpace(r.Endpoint) == "" {
			return fmt.Errorf("%w: route %q has no endpoint", ErrInvalidConfig, r.MessageType)
		}
	}
	return nil
}

// Apply registers the endpoints of c, then its routes and defaults
func (c *Config) Apply(registry *routing.EndpointRegistry) error {
	return ApplyAll(registry, c)
}

// ApplyAll registers the endpoints of every config before any route or
// default, so references may cross files
func ApplyAll(registry *routing.EndpointRegistry, configs ...*Config) error {
	for _, c := range configs {
		if err := c.ApplyEndpoints(registry); err != nil {
			return err
		}
	}
	for _, c := range configs {
		if err := c.ApplyRoutes(registry); err != nil {
			return err
		}
	}
	return nil
}

// ApplyEndpoints registers the configured endpoints
func (c *Config) ApplyEndpoints(registry *routing.EndpointRegistry) error {
	if err := c.Validate(); err != nil {
		return err
	}

	for _, block := range c.Endpoints {
		direction, _ := routing.ParseDirection(block.Direction)
		var opts []routing.EndpointOption
		if block.Transport != "" {
			opts = append(opts, routing.WithTransport(block.Transport))
		}
		ep, err := routing.NewEndpoint(block.Name, direction, block.Connection, opts...)
		if err != nil {
			return err
		}
		if err := registry.AddEndpoint(ep); err != nil {
			return err
		}
	}
	return nil
}

// ApplyRoutes registers the configured routes and defaults against endpoints
// already in registry
func (c *Config) ApplyRoutes(registry *routing.EndpointRegistry) error {
	if err := c.Validate(); err != nil {
		return err
	}

	for _, r := range c.Routes {
		ep, err := registry.FindEndpointByName(r.Endpoint)
		if err != nil {
			return fmt.Errorf("%w: route %q: %w", ErrInvalidConfig, r.MessageType, err)
		}
		if err := registry.AddEndpointRoute(r.MessageType, ep); err != nil {
			return err
		}
	}

	if c.DefaultPublishEndpoint != "" {
		ep, err := registry.FindEndpointByName(c.DefaultPublishEndpoint)
		if err != nil {
			return fmt.Errorf("%w: default_publish_endpoint: %w", ErrInvalidConfig, err)
		}
		registry.SetDefaultPublishEndpoint(ep)
	}
	if c.DefaultReplyEndpoint != "" {
		ep, err := registry.FindEndpointByName(c.DefaultReplyEndpoint)
		if err != nil {
			return fmt.Errorf("%w: default_reply_endpoint: %w", ErrInvalidConfig, err)
		}
		registry.SetDefaultReplyEndpoint(ep)
	}
	return nil
}
