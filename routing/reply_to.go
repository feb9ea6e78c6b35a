package routing

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/glimte/mmate-router/contracts"
	"golang.org/x/sync/singleflight"
)

// ComputedEndpointPrefix prefixes the names of computed endpoints
const ComputedEndpointPrefix = "computed-"

// ReplyDescriptor is the parsed form of Endpoint=<host>;EntityPath=<entity>
type ReplyDescriptor struct {
	Host       string
	EntityPath string
}

// String renders the canonical descriptor
func (d ReplyDescriptor) String() string {
	return FormatReplyDescriptor(d.Host, d.EntityPath)
}

// FormatReplyDescriptor renders a canonical reply descriptor
func FormatReplyDescriptor(host, entityPath string) string {
	return "Endpoint=" + host + ";EntityPath=" + entityPath
}

// ParseReplyDescriptor parses a reply descriptor. Segments are trimmed, empty
// segments skipped and unknown keys ignored. Keys and the host are
// lower-cased; the entity path keeps its case since it names a queue.
func ParseReplyDescriptor(descriptor string) (ReplyDescriptor, error) {
	var (
		parsed   ReplyDescriptor
		segments int
	)
	for _, segment := range strings.Split(descriptor, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		segments++

		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "endpoint":
			parsed.Host = hostOf(strings.TrimSpace(value))
		case "entitypath":
			parsed.EntityPath = strings.TrimSpace(value)
		}
	}

	switch {
	case segments < 2:
		return ReplyDescriptor{}, &InvalidReplyDescriptorError{Descriptor: descriptor, Reason: "expected at least two segments"}
	case parsed.Host == "":
		return ReplyDescriptor{}, &InvalidReplyDescriptorError{Descriptor: descriptor, Reason: "missing endpoint"}
	case parsed.EntityPath == "":
		return ReplyDescriptor{}, &InvalidReplyDescriptorError{Descriptor: descriptor, Reason: "missing entity path"}
	}
	return parsed, nil
}

// ReplyToResolver resolves reply descriptors to endpoints and computes the
// reply descriptor advertised for an endpoint.
type ReplyToResolver struct {
	endpoints *EndpointRegistry
	resolved  sync.Map // descriptor -> *Endpoint
	replyTo   sync.Map // endpoint name -> descriptor
	inflight  singleflight.Group
	logger    *slog.Logger
}

// ResolverOption configures the ReplyToResolver
type ResolverOption func(*ReplyToResolver)

// WithResolverLogger sets the logger
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *ReplyToResolver) {
		r.logger = logger
	}
}

// NewReplyToResolver creates a resolver over an endpoint registry
func NewReplyToResolver(endpoints *EndpointRegistry, options ...ResolverOption) *ReplyToResolver {
	r := &ReplyToResolver{
		endpoints: endpoints,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Resolve returns the endpoint a reply descriptor points at. An exact
// connection match wins; otherwise a wildcard endpoint for the host is cloned
// into a computed endpoint, registered once and cached.
func (r *ReplyToResolver) Resolve(descriptor string) (*Endpoint, error) {
	if ep, ok := r.resolved.Load(descriptor); ok {
		return ep.(*Endpoint), nil
	}

	v, err, _ := r.inflight.Do(descriptor, func() (interface{}, error) {
		if ep, ok := r.resolved.Load(descriptor); ok {
			return ep, nil
		}
		ep, err := r.resolve(descriptor)
		if err != nil {
			return nil, err
		}
		actual, _ := r.resolved.LoadOrStore(descriptor, ep)
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Endpoint), nil
}

func (r *ReplyToResolver) resolve(descriptor string) (*Endpoint, error) {
	parsed, err := ParseReplyDescriptor(descriptor)
	if err != nil {
		return nil, err
	}

	if ep, ok := r.endpoints.FindByConnection(parsed.Host, parsed.EntityPath); ok {
		return ep, nil
	}

	wildcard, ok := r.endpoints.FindByConnection(parsed.Host, "")
	if !ok {
		return nil, &EndpointNotFoundError{By: "reply descriptor", Key: descriptor}
	}

	computed, err := r.endpoints.getOrAddComputed(computedFrom(wildcard, parsed.EntityPath, false))
	if IsDuplicate(err) {
		// another host already owns computed-<entity>
		computed, err = r.endpoints.getOrAddComputed(computedFrom(wildcard, parsed.EntityPath, true))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to register computed endpoint: %w", err)
	}

	r.logger.Info("computed reply endpoint",
		"endpoint", computed.Name,
		"host", computed.Connection.Host,
		"entityPath", computed.Connection.EntityPath,
		"wildcard", wildcard.Name,
	)
	return computed, nil
}

func computedFrom(wildcard *Endpoint, entityPath string, qualified bool) *Endpoint {
	name := ComputedEndpointPrefix + entityPath
	if qualified {
		name = ComputedEndpointPrefix + wildcard.Connection.Host + "-" + entityPath
	}
	return &Endpoint{
		Name:       name,
		Direction:  Outbound,
		Connection: wildcard.Connection.WithEntityPath(entityPath),
		Transport:  wildcard.Transport,
		Computed:   true,
	}
}

// ReplyDescriptorFor returns the canonical reply descriptor of an endpoint,
// computing and caching it on first use
func (r *ReplyToResolver) ReplyDescriptorFor(ep *Endpoint) (string, error) {
	if ep == nil {
		return "", fmt.Errorf("%w: endpoint cannot be nil", ErrInvalidEndpoint)
	}
	if cached, ok := r.replyTo.Load(ep.Name); ok {
		return cached.(string), nil
	}
	if ep.Connection.IsWildcard() {
		return "", &InvalidReplyDescriptorError{Descriptor: ep.Name, Reason: "endpoint has no entity path"}
	}

	descriptor := FormatReplyDescriptor(ep.Connection.Host, ep.Connection.EntityPath)
	actual, _ := r.replyTo.LoadOrStore(ep.Name, descriptor)
	return actual.(string), nil
}

// SetReplyTo writes the reply descriptor of ep into the outbound metadata
func (r *ReplyToResolver) SetReplyTo(ep *Endpoint, md *contracts.Metadata) error {
	if md == nil {
		return fmt.Errorf("metadata cannot be nil")
	}
	descriptor, err := r.ReplyDescriptorFor(ep)
	if err != nil {
		return err
	}
	md.ReplyTo = descriptor
	return nil
}
