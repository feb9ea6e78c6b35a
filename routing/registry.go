package routing

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/glimte/mmate-router/contracts"
)

// IdentifierResolver returns the wire identifier of a message value. The
// messaging type registry implements it.
type IdentifierResolver interface {
	IdentifierOf(msg interface{}) (string, bool)
}

// Route is a snapshot entry of the route table
type Route struct {
	MessageTypeID string
	Endpoint      *Endpoint
	// Default is set on routes cached from the default publish endpoint.
	Default bool
}

type route struct {
	endpoint  *Endpoint
	defaulted bool
}

// EndpointRegistry holds named endpoints, the route table and the default
// publish and reply endpoints.
type EndpointRegistry struct {
	endpoints      map[string]*Endpoint
	identities     map[connectionKey]*Endpoint
	routes         map[string]route
	defaultPublish *Endpoint
	defaultReply   *Endpoint
	types          IdentifierResolver
	logger         *slog.Logger
	mu             sync.RWMutex
}

// RegistryOption configures the EndpointRegistry
type RegistryOption func(*EndpointRegistry)

// WithRegistryLogger sets the logger
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *EndpointRegistry) {
		r.logger = logger
	}
}

// WithIdentifierResolver sets the fallback used to identify messages that do
// not declare their own identifier
func WithIdentifierResolver(types IdentifierResolver) RegistryOption {
	return func(r *EndpointRegistry) {
		r.types = types
	}
}

// NewEndpointRegistry creates an empty registry
func NewEndpointRegistry(options ...RegistryOption) *EndpointRegistry {
	r := &EndpointRegistry{
		endpoints:  make(map[string]*Endpoint),
		identities: make(map[connectionKey]*Endpoint),
		routes:     make(map[string]route),
		logger:     slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// AddEndpoint registers an endpoint under its name
func (r *EndpointRegistry) AddEndpoint(ep *Endpoint) error {
	if ep == nil {
		return fmt.Errorf("%w: endpoint cannot be nil", ErrInvalidEndpoint)
	}
	if ep.Name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidEndpoint)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.addLocked(ep)
}

func (r *EndpointRegistry) addLocked(ep *Endpoint) error {
	if _, exists := r.endpoints[ep.Name]; exists {
		return &DuplicateRegistrationError{Kind: "endpoint", Key: ep.Name}
	}
	key := ep.Connection.identity()
	if existing, exists := r.identities[key]; exists {
		return &DuplicateRegistrationError{
			Kind: "connection",
			Key:  fmt.Sprintf("%s (claimed by %s)", ep.Connection.String(), existing.Name),
		}
	}

	r.endpoints[ep.Name] = ep
	r.identities[key] = ep

	r.logger.Debug("registered endpoint",
		"endpoint", ep.Name,
		"direction", ep.Direction.String(),
		"host", ep.Connection.Host,
		"entityPath", ep.Connection.EntityPath,
		"computed", ep.Computed,
	)
	return nil
}

// getOrAddComputed registers a computed endpoint unless an endpoint with the
// same connection identity already exists, in which case that one is returned.
func (r *EndpointRegistry) getOrAddComputed(ep *Endpoint) (*Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.identities[ep.Connection.identity()]; exists {
		return existing, nil
	}
	if err := r.addLocked(ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// AddEndpointRoute routes a message type identifier to an endpoint
func (r *EndpointRegistry) AddEndpointRoute(messageTypeID string, ep *Endpoint) error {
	if messageTypeID == "" {
		return fmt.Errorf("%w: message type identifier cannot be empty", ErrInvalidEndpoint)
	}
	if ep == nil {
		return fmt.Errorf("%w: endpoint cannot be nil", ErrInvalidEndpoint)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.routes[messageTypeID]; exists {
		return &DuplicateRegistrationError{Kind: "route", Key: messageTypeID}
	}
	r.routes[messageTypeID] = route{endpoint: ep}

	r.logger.Debug("registered route", "messageType", messageTypeID, "endpoint", ep.Name)
	return nil
}

// FindEndpointByName returns the endpoint registered under name
func (r *EndpointRegistry) FindEndpointByName(name string) (*Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, exists := r.endpoints[name]
	if !exists {
		return nil, &EndpointNotFoundError{By: "name", Key: name}
	}
	return ep, nil
}

// FindEndpoint returns the endpoint routed for a message type identifier
func (r *EndpointRegistry) FindEndpoint(messageTypeID string) (*Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rt, exists := r.routes[messageTypeID]
	if !exists {
		return nil, &EndpointNotFoundError{By: "message type", Key: messageTypeID}
	}
	return rt.endpoint, nil
}

// FindEndpointForMessage returns the endpoint routed for msg. Events without
// an explicit route fall back to the default publish endpoint; that route is
// cached on first use.
func (r *EndpointRegistry) FindEndpointForMessage(msg interface{}) (*Endpoint, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: message cannot be nil", ErrInvalidEndpoint)
	}

	messageTypeID, ok := r.identify(msg)
	if !ok {
		return nil, &EndpointNotFoundError{By: "message type", Key: fmt.Sprintf("%T", msg)}
	}

	ep, err := r.FindEndpoint(messageTypeID)
	if err == nil || !contracts.IsEvent(msg) {
		return ep, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rt, exists := r.routes[messageTypeID]; exists {
		return rt.endpoint, nil
	}
	if r.defaultPublish == nil {
		return nil, &EndpointNotFoundError{By: "message type", Key: messageTypeID}
	}

	r.routes[messageTypeID] = route{endpoint: r.defaultPublish, defaulted: true}
	r.logger.Debug("cached default event route",
		"messageType", messageTypeID,
		"endpoint", r.defaultPublish.Name,
	)
	return r.defaultPublish, nil
}

func (r *EndpointRegistry) identify(msg interface{}) (string, bool) {
	if identified, ok := msg.(contracts.Identified); ok {
		if id := identified.MessageTypeID(); id != "" {
			return id, true
		}
	}
	if r.types != nil {
		return r.types.IdentifierOf(msg)
	}
	return "", false
}

// FindByConnection returns the endpoint claiming a connection identity.
// An empty entityPath looks up the wildcard endpoint for host.
func (r *EndpointRegistry) FindByConnection(host, entityPath string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, exists := r.identities[identityOf(host, entityPath)]
	return ep, exists
}

// SetDefaultPublishEndpoint sets the fallback endpoint for events
func (r *EndpointRegistry) SetDefaultPublishEndpoint(ep *Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultPublish = ep
}

// SetDefaultReplyEndpoint sets the endpoint replies are sent back to
func (r *EndpointRegistry) SetDefaultReplyEndpoint(ep *Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultReply = ep
}

// DefaultPublishEndpoint returns the default publish endpoint if set
func (r *EndpointRegistry) DefaultPublishEndpoint() (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultPublish, r.defaultPublish != nil
}

// DefaultReplyEndpoint returns the default reply endpoint if set
func (r *EndpointRegistry) DefaultReplyEndpoint() (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultReply, r.defaultReply != nil
}

// Endpoints returns all endpoints sorted by name
func (r *EndpointRegistry) Endpoints() []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	endpoints := make([]*Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		endpoints = append(endpoints, ep)
	}
	sort.Slice(endpoints, func(i, j int) bool {
		return endpoints[i].Name < endpoints[j].Name
	})
	return endpoints
}

// Routes returns the route table sorted by message type identifier
func (r *EndpointRegistry) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make([]Route, 0, len(r.routes))
	for id, rt := range r.routes {
		routes = append(routes, Route{MessageTypeID: id, Endpoint: rt.endpoint, Default: rt.defaulted})
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].MessageTypeID < routes[j].MessageTypeID
	})
	return routes
}
