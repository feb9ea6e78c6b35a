// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mmate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/glimte/mmate-router/config"
	"github.com/glimte/mmate-router/contracts"
	"github.com/glimte/mmate-router/health"
	"github.com/glimte/mmate-router/interceptors"
	"github.com/glimte/mmate-router/messaging"
	"github.com/glimte/mmate-router/routing"
	rabbitmqTransport "github.com/glimte/mmate-router/transports/rabbitmq"
)

var (
	ErrNotBuilt     = errors.New("mmate: client is not built")
	ErrAlreadyBuilt = errors.New("mmate: client is already built")
	ErrNoHandler    = errors.New("mmate: no inbound handler configured")
	ErrNoTransport  = errors.New("mmate: no transport registered")
)

// TransportFactory creates a transport bound to the client's reply-to
// resolver
type TransportFactory func(resolver *routing.ReplyToResolver, logger *slog.Logger) messaging.Transport

// Client is the routing core entry point. Build populates the registries
// once; afterwards Publish, Send, Reply and Start may be called concurrently.
type Client struct {
	types      *messaging.TypeRegistry
	sagas      *messaging.SagaRegistry
	endpoints  *routing.EndpointRegistry
	resolver   *routing.ReplyToResolver
	transports map[string]messaging.Transport
	cfg        *clientConfig
	logger     *slog.Logger
	built      bool
	mu         sync.RWMutex
}

// NewClient creates an unbuilt client. The RabbitMQ transport is registered
// unless another transport claims its name.
func NewClient(options ...ClientOption) *Client {
	cfg := &clientConfig{
		logger:     slog.Default(),
		transports: make(map[string]TransportFactory),
	}

	for _, opt := range options {
		opt(cfg)
	}

	if _, ok := cfg.transports[rabbitmqTransport.Name]; !ok {
		cfg.transports[rabbitmqTransport.Name] = func(resolver *routing.ReplyToResolver, logger *slog.Logger) messaging.Transport {
			return rabbitmqTransport.NewTransport(resolver, rabbitmqTransport.WithLogger(logger))
		}
	}

	c := &Client{
		transports: make(map[string]messaging.Transport),
		cfg:        cfg,
		logger:     cfg.logger,
	}
	c.types, c.sagas, c.endpoints, c.resolver = c.newRegistries()
	return c
}

func (c *Client) newRegistries() (*messaging.TypeRegistry, *messaging.SagaRegistry, *routing.EndpointRegistry, *routing.ReplyToResolver) {
	types := messaging.NewTypeRegistry(messaging.WithTypeRegistryLogger(c.logger))
	endpoints := routing.NewEndpointRegistry(
		routing.WithRegistryLogger(c.logger),
		routing.WithIdentifierResolver(types),
	)
	return types,
		messaging.NewSagaRegistry(types, messaging.WithSagaRegistryLogger(c.logger)),
		endpoints,
		routing.NewReplyToResolver(endpoints, routing.WithResolverLogger(c.logger))
}

// Build runs type discovery, applies the endpoint configuration and creates
// the transports. Endpoints from every configuration and WithEndpoints are
// registered before any route or default is resolved. The registries are
// replaced only when the whole build succeeds, so a failed Build may be
// retried; a successful one may not.
func (c *Client) Build() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.built {
		return ErrAlreadyBuilt
	}

	types, sagas, endpoints, resolver := c.newRegistries()
	result, err := messaging.NewDiscovery(types, sagas, messaging.WithDiscoveryLogger(c.logger)).Discover(c.cfg.candidates)
	if err != nil {
		return fmt.Errorf("failed to discover types: %w", err)
	}

	configs := make([]*config.Config, 0, len(c.cfg.configs)+len(c.cfg.configFiles))
	configs = append(configs, c.cfg.configs...)
	for _, path := range c.cfg.configFiles {
		loaded, err := config.Load(path, config.WithLogger(c.logger))
		if err != nil {
			return err
		}
		configs = append(configs, loaded)
	}
	for _, cfg := range configs {
		if err := cfg.ApplyEndpoints(endpoints); err != nil {
			return fmt.Errorf("failed to apply configuration: %w", err)
		}
	}
	for _, ep := range c.cfg.endpoints {
		if err := endpoints.AddEndpoint(ep); err != nil {
			return err
		}
	}
	for _, cfg := range configs {
		if err := cfg.ApplyRoutes(endpoints); err != nil {
			return fmt.Errorf("failed to apply configuration: %w", err)
		}
	}

	for _, ep := range endpoints.Endpoints() {
		if _, ok := c.cfg.transports[ep.Transport]; !ok {
			return fmt.Errorf("%w: endpoint %s uses transport %q", ErrNoTransport, ep.Name, ep.Transport)
		}
	}

	c.types, c.sagas, c.endpoints, c.resolver = types, sagas, endpoints, resolver
	for name, factory := range c.cfg.transports {
		c.transports[name] = factory(resolver, c.logger)
	}
	c.built = true
	c.logger.Info("client built",
		"messageTypes", len(result.MessageTypes),
		"sagas", len(result.Sagas),
		"endpoints", len(endpoints.Endpoints()),
		"routes", len(endpoints.Routes()),
	)
	return nil
}

func (c *Client) checkBuilt() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.built {
		return ErrNotBuilt
	}
	return nil
}

func (c *Client) transportFor(ep *routing.Endpoint) (messaging.Transport, error) {
	t, ok := c.transports[ep.Transport]
	if !ok {
		return nil, fmt.Errorf("%w: endpoint %s uses transport %q", ErrNoTransport, ep.Name, ep.Transport)
	}
	return t, nil
}

// identify returns the wire identifier of msg
func (c *Client) identify(msg interface{}) (string, error) {
	if identified, ok := msg.(contracts.Identified); ok {
		if id := identified.MessageTypeID(); id != "" {
			return id, nil
		}
	}
	if id, ok := c.types.IdentifierOf(msg); ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: %T", messaging.ErrNotAMessage, msg)
}

func outboundMetadata(msg interface{}, md *contracts.Metadata) *contracts.Metadata {
	if md == nil {
		md = contracts.NewMetadata()
	}
	if m, ok := msg.(contracts.Message); ok {
		if md.MessageID == "" {
			md.MessageID = m.GetID()
		}
		if md.CorrelationID == "" {
			md.CorrelationID = m.GetCorrelationID()
		}
	}
	return md
}

// Publish dispatches an event to its route, falling back to the default
// publish endpoint
func (c *Client) Publish(ctx context.Context, evt interface{}, payload []byte, md *contracts.Metadata) error {
	if err := c.checkBuilt(); err != nil {
		return err
	}
	typeID, err := c.identify(evt)
	if err != nil {
		return err
	}
	ep, err := c.endpoints.FindEndpointForMessage(evt)
	if err != nil {
		return err
	}
	return c.dispatch(ctx, typeID, payload, ep, outboundMetadata(evt, md))
}

// Send dispatches a command to its configured route. When a default reply
// endpoint is set it is advertised as the reply path; a command that expects
// a reply fails without one.
func (c *Client) Send(ctx context.Context, cmd interface{}, payload []byte, md *contracts.Metadata) error {
	if err := c.checkBuilt(); err != nil {
		return err
	}
	typeID, err := c.identify(cmd)
	if err != nil {
		return err
	}
	ep, err := c.endpoints.FindEndpointForMessage(cmd)
	if err != nil {
		return err
	}
	transport, err := c.transportFor(ep)
	if err != nil {
		return err
	}
	md = outboundMetadata(cmd, md)

	if replyEp, ok := c.endpoints.DefaultReplyEndpoint(); ok {
		if err := transport.SetReplyToForCommand(replyEp, cmd, md); err != nil {
			return fmt.Errorf("failed to set reply-to for %s: %w", typeID, err)
		}
	}
	if contracts.ExpectsReply(cmd) && md.ReplyTo == "" {
		return &messaging.MissingReplyRouteError{MessageType: typeID, Reason: "no default reply endpoint configured"}
	}

	return c.dispatch(ctx, typeID, payload, ep, md)
}

// Reply dispatches a reply to the reply-to of an inbound message
func (c *Client) Reply(ctx context.Context, inbound *messaging.MessageContext, reply interface{}, payload []byte, md *contracts.Metadata) error {
	if err := c.checkBuilt(); err != nil {
		return err
	}
	typeID, err := c.identify(reply)
	if err != nil {
		return err
	}

	transport, err := c.replyTransport(inbound)
	if err != nil {
		return err
	}
	ep, err := transport.FindEndpointForReply(inbound)
	if err != nil {
		return err
	}

	md = outboundMetadata(reply, md)
	if inbound.Metadata != nil && md.CorrelationID == "" {
		md.CorrelationID = inbound.Metadata.CorrelationID
		if md.CorrelationID == "" {
			md.CorrelationID = inbound.Metadata.MessageID
		}
	}
	return c.dispatch(ctx, typeID, payload, ep, md)
}

func (c *Client) replyTransport(inbound *messaging.MessageContext) (messaging.Transport, error) {
	if inbound != nil && inbound.Endpoint != nil {
		return c.transportFor(inbound.Endpoint)
	}
	t, ok := c.transports[routing.DefaultTransport]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoTransport, routing.DefaultTransport)
	}
	return t, nil
}

func (c *Client) dispatch(ctx context.Context, typeID string, payload []byte, ep *routing.Endpoint, md *contracts.Metadata) error {
	transport, err := c.transportFor(ep)
	if err != nil {
		return err
	}
	return transport.Dispatch(ctx, typeID, payload, ep, md)
}

// Start starts every receiving endpoint on its transport
func (c *Client) Start(ctx context.Context) error {
	if err := c.checkBuilt(); err != nil {
		return err
	}
	if c.cfg.handler == nil {
		return ErrNoHandler
	}

	chain := interceptors.NewChain(c.logger)
	for _, i := range c.cfg.interceptors {
		chain.Add(i)
	}
	handler := chain.Then(c.cfg.handler)

	for _, ep := range c.endpoints.Endpoints() {
		if !ep.Direction.CanReceive() || ep.Connection.IsWildcard() {
			continue
		}
		transport, err := c.transportFor(ep)
		if err != nil {
			return err
		}
		if err := transport.Start(ctx, ep, handler); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every transport created by Build
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	for name, t := range c.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("transport %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Health checks the routing table and every transport that reports its own
// health
func (c *Client) Health(ctx context.Context) health.Report {
	c.mu.RLock()
	defer c.mu.RUnlock()

	checks := health.NewRegistry()
	checks.Register(health.NewRoutingChecker(c.endpoints))
	for _, t := range c.transports {
		if checker, ok := t.(health.Checker); ok {
			checks.Register(checker)
		}
	}
	return checks.Check(ctx)
}

// Types returns the message type registry
func (c *Client) Types() *messaging.TypeRegistry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.types
}

// Sagas returns the saga registry
func (c *Client) Sagas() *messaging.SagaRegistry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sagas
}

// Endpoints returns the endpoint registry
func (c *Client) Endpoints() *routing.EndpointRegistry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoints
}

// Resolver returns the reply-to resolver
func (c *Client) Resolver() *routing.ReplyToResolver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolver
}

// clientConfig holds client configuration
type clientConfig struct {
	logger       *slog.Logger
	candidates   []reflect.Type
	configFiles  []string
	configs      []*config.Config
	endpoints    []*routing.Endpoint
	transports   map[string]TransportFactory
	handler      messaging.InboundHandler
	interceptors []interceptors.Interceptor
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithTypes adds the types of values to the discovery candidates
func WithTypes(values ...interface{}) ClientOption {
	return func(c *clientConfig) {
		c.candidates = append(c.candidates, messaging.TypesOf(values...)...)
	}
}

// WithCandidateTypes adds types to the discovery candidates
func WithCandidateTypes(types ...reflect.Type) ClientOption {
	return func(c *clientConfig) {
		c.candidates = append(c.candidates, types...)
	}
}

// WithConfigFile loads endpoints and routes from an HCL file during Build
func WithConfigFile(path string) ClientOption {
	return func(c *clientConfig) {
		c.configFiles = append(c.configFiles, path)
	}
}

// WithConfig applies an already loaded configuration during Build
func WithConfig(cfg *config.Config) ClientOption {
	return func(c *clientConfig) {
		c.configs = append(c.configs, cfg)
	}
}

// WithEndpoints registers endpoints during Build
func WithEndpoints(endpoints ...*routing.Endpoint) ClientOption {
	return func(c *clientConfig) {
		c.endpoints = append(c.endpoints, endpoints...)
	}
}

// WithTransport registers a transport under name
func WithTransport(name string, factory TransportFactory) ClientOption {
	return func(c *clientConfig) {
		c.transports[name] = factory
	}
}

// WithInboundHandler sets the handler receiving messages from started
// endpoints
func WithInboundHandler(handler messaging.InboundHandler) ClientOption {
	return func(c *clientConfig) {
		c.handler = handler
	}
}

// WithInterceptors wraps the inbound handler; the first interceptor runs
// outermost
func WithInterceptors(i ...interceptors.Interceptor) ClientOption {
	return func(c *clientConfig) {
		c.interceptors = append(c.interceptors, i...)
	}
}
