package messaging

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/glimte/mmate-router/contracts"
	"github.com/glimte/mmate-router/routing"
)

var (
	identifiedType = reflect.TypeOf((*contracts.Identified)(nil)).Elem()
	extractorType  = reflect.TypeOf((*contracts.PayloadExtractor)(nil)).Elem()
)

// MessageTypeDescriptor describes a registered message type
type MessageTypeDescriptor struct {
	Type               reflect.Type
	Identifier         string
	HasCustomExtractor bool
	// SagaType is the saga handling this message type, or nil.
	SagaType reflect.Type
}

// HandledBySaga reports whether a saga back-reference is attached
func (d MessageTypeDescriptor) HandledBySaga() bool {
	return d.SagaType != nil
}

// TypeRegistry maps message types to wire identifiers and back. Lookups of
// unknown types report absence rather than failing.
type TypeRegistry struct {
	byType map[reflect.Type]*MessageTypeDescriptor
	byID   map[string]*MessageTypeDescriptor
	// claims records which saga handles a message type, including types that
	// are not registered yet.
	claims map[reflect.Type]reflect.Type
	logger *slog.Logger
	mu     sync.RWMutex
}

// TypeRegistryOption configures the TypeRegistry
type TypeRegistryOption func(*TypeRegistry)

// WithTypeRegistryLogger sets the logger
func WithTypeRegistryLogger(logger *slog.Logger) TypeRegistryOption {
	return func(r *TypeRegistry) {
		r.logger = logger
	}
}

// NewTypeRegistry creates a new type registry
func NewTypeRegistry(options ...TypeRegistryOption) *TypeRegistry {
	r := &TypeRegistry{
		byType: make(map[reflect.Type]*MessageTypeDescriptor),
		byID:   make(map[string]*MessageTypeDescriptor),
		claims: make(map[reflect.Type]reflect.Type),
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// canonicalType strips pointers so T and *T register as the same type
func canonicalType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// IsMessageType reports whether t declares a message type identifier
func IsMessageType(t reflect.Type) bool {
	t = canonicalType(t)
	if t == nil || t.Kind() == reflect.Interface {
		return false
	}
	return reflect.PointerTo(t).Implements(identifiedType)
}

func describe(t reflect.Type) (*MessageTypeDescriptor, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: type cannot be nil", ErrInvalidType)
	}
	if !IsMessageType(t) {
		return nil, fmt.Errorf("%w: %v", ErrNotAMessage, t)
	}

	ptr := reflect.PointerTo(t)
	id := reflect.New(t).Interface().(contracts.Identified).MessageTypeID()
	if id == "" {
		return nil, fmt.Errorf("%w: %v declares an empty identifier", ErrInvalidType, t)
	}

	return &MessageTypeDescriptor{
		Type:               t,
		Identifier:         id,
		HasCustomExtractor: ptr.Implements(extractorType),
	}, nil
}

// RegisterMessageType registers a message type. Registering the same type
// twice, or two types with the same identifier, fails.
func (r *TypeRegistry) RegisterMessageType(t reflect.Type) (MessageTypeDescriptor, error) {
	t = canonicalType(t)
	desc, err := describe(t)
	if err != nil {
		return MessageTypeDescriptor{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byType[t]; exists {
		return MessageTypeDescriptor{}, &routing.DuplicateRegistrationError{Kind: "message type", Key: t.String()}
	}
	return r.insertLocked(desc)
}

// RegisterIfAbsent registers t unless it is already registered, in which case
// the existing descriptor is returned
func (r *TypeRegistry) RegisterIfAbsent(t reflect.Type) (MessageTypeDescriptor, error) {
	t = canonicalType(t)
	desc, err := describe(t)
	if err != nil {
		return MessageTypeDescriptor{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.byType[t]; exists {
		return *existing, nil
	}
	return r.insertLocked(desc)
}

func (r *TypeRegistry) insertLocked(desc *MessageTypeDescriptor) (MessageTypeDescriptor, error) {
	if existing, exists := r.byID[desc.Identifier]; exists {
		return MessageTypeDescriptor{}, &routing.DuplicateRegistrationError{
			Kind: "message type identifier",
			Key:  fmt.Sprintf("%s (claimed by %v)", desc.Identifier, existing.Type),
		}
	}

	if saga, claimed := r.claims[desc.Type]; claimed {
		desc.SagaType = saga
	}
	r.byType[desc.Type] = desc
	r.byID[desc.Identifier] = desc

	r.logger.Debug("registered message type",
		"messageType", desc.Identifier,
		"type", desc.Type.String(),
		"customExtractor", desc.HasCustomExtractor,
		"saga", typeName(desc.SagaType),
	)
	return *desc, nil
}

// attachSaga records that sagaType handles messageTypes and stamps every
// descriptor already registered. Later registrations pick up the claim.
func (r *TypeRegistry) attachSaga(sagaType reflect.Type, messageTypes []reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, mt := range messageTypes {
		if previous, claimed := r.claims[mt]; claimed && previous != sagaType {
			r.logger.Warn("message type handled by more than one saga, last registration wins",
				"type", mt.String(),
				"previous", previous.String(),
				"saga", sagaType.String(),
			)
		}
		r.claims[mt] = sagaType
		if desc, exists := r.byType[mt]; exists {
			desc.SagaType = sagaType
		}
	}
}

// LookupByIdentifier returns the descriptor registered for a wire identifier
func (r *TypeRegistry) LookupByIdentifier(id string) (MessageTypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, exists := r.byID[id]
	if !exists {
		return MessageTypeDescriptor{}, false
	}
	return *desc, true
}

// LookupByType returns the descriptor registered for t (or *t)
func (r *TypeRegistry) LookupByType(t reflect.Type) (MessageTypeDescriptor, bool) {
	t = canonicalType(t)

	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, exists := r.byType[t]
	if !exists {
		return MessageTypeDescriptor{}, false
	}
	return *desc, true
}

// IdentifierOf returns the wire identifier of a registered message value
func (r *TypeRegistry) IdentifierOf(msg interface{}) (string, bool) {
	if msg == nil {
		return "", false
	}
	desc, ok := r.LookupByType(reflect.TypeOf(msg))
	if !ok {
		return "", false
	}
	return desc.Identifier, true
}

// NewInstance creates a new *T for the type registered under id
func (r *TypeRegistry) NewInstance(id string) (interface{}, bool) {
	desc, ok := r.LookupByIdentifier(id)
	if !ok {
		return nil, false
	}
	return reflect.New(desc.Type).Interface(), true
}

// Descriptors returns all descriptors sorted by identifier
func (r *TypeRegistry) Descriptors() []MessageTypeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]MessageTypeDescriptor, 0, len(r.byID))
	for _, desc := range r.byID {
		descriptors = append(descriptors, *desc)
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Identifier < descriptors[j].Identifier
	})
	return descriptors
}

func typeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	return t.String()
}
