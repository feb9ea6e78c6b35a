package messaging

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/glimte/mmate-router/routing"
)

// SagaDescriptor describes a registered saga
type SagaDescriptor struct {
	SagaType     reflect.Type
	KeyType      reflect.Type
	StateType    reflect.Type
	Store        StoreContract
	MessageTypes []reflect.Type
}

// Handles reports whether the saga handles message type t
func (d SagaDescriptor) Handles(t reflect.Type) bool {
	t = canonicalType(t)
	for _, mt := range d.MessageTypes {
		if mt == t {
			return true
		}
	}
	return false
}

// SagaRegistry holds saga descriptors and links them to message types in the
// type registry
type SagaRegistry struct {
	sagas  map[reflect.Type]*SagaDescriptor
	types  *TypeRegistry
	logger *slog.Logger
	mu     sync.RWMutex
}

// SagaRegistryOption configures the SagaRegistry
type SagaRegistryOption func(*SagaRegistry)

// WithSagaRegistryLogger sets the logger
func WithSagaRegistryLogger(logger *slog.Logger) SagaRegistryOption {
	return func(r *SagaRegistry) {
		r.logger = logger
	}
}

// NewSagaRegistry creates a saga registry linked to types
func NewSagaRegistry(types *TypeRegistry, options ...SagaRegistryOption) *SagaRegistry {
	r := &SagaRegistry{
		sagas:  make(map[reflect.Type]*SagaDescriptor),
		types:  types,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// RegisterSaga registers a saga with its key and state types and the message
// types it handles. Message types need not be registered yet.
func (r *SagaRegistry) RegisterSaga(sagaType, keyType, stateType reflect.Type, handled []reflect.Type) (SagaDescriptor, error) {
	sagaType = canonicalType(sagaType)
	if sagaType == nil || keyType == nil || stateType == nil {
		return SagaDescriptor{}, fmt.Errorf("%w: saga, key and state types are required", ErrInvalidType)
	}
	if !keyType.Comparable() {
		return SagaDescriptor{}, fmt.Errorf("%w: saga key %v is not comparable", ErrInvalidType, keyType)
	}

	messageTypes := dedupeTypes(handled)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sagas[sagaType]; exists {
		return SagaDescriptor{}, &routing.DuplicateRegistrationError{Kind: "saga", Key: sagaType.String()}
	}

	desc := &SagaDescriptor{
		SagaType:     sagaType,
		KeyType:      keyType,
		StateType:    stateType,
		Store:        StoreContract{StateType: stateType, KeyType: keyType},
		MessageTypes: messageTypes,
	}
	r.sagas[sagaType] = desc

	if r.types != nil {
		r.types.attachSaga(sagaType, messageTypes)
	}

	r.logger.Debug("registered saga",
		"saga", sagaType.String(),
		"store", desc.Store.String(),
		"messageTypes", len(messageTypes),
	)
	return copySaga(desc), nil
}

// GetSagaDescriptor returns the descriptor registered for sagaType
func (r *SagaRegistry) GetSagaDescriptor(sagaType reflect.Type) (SagaDescriptor, bool) {
	sagaType = canonicalType(sagaType)

	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, exists := r.sagas[sagaType]
	if !exists {
		return SagaDescriptor{}, false
	}
	return copySaga(desc), true
}

// Sagas returns all saga descriptors sorted by type name
func (r *SagaRegistry) Sagas() []SagaDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sagas := make([]SagaDescriptor, 0, len(r.sagas))
	for _, desc := range r.sagas {
		sagas = append(sagas, copySaga(desc))
	}
	sort.Slice(sagas, func(i, j int) bool {
		return sagas[i].SagaType.String() < sagas[j].SagaType.String()
	})
	return sagas
}

func copySaga(desc *SagaDescriptor) SagaDescriptor {
	c := *desc
	c.MessageTypes = append([]reflect.Type(nil), desc.MessageTypes...)
	return c
}

func dedupeTypes(types []reflect.Type) []reflect.Type {
	seen := make(map[reflect.Type]struct{}, len(types))
	out := make([]reflect.Type, 0, len(types))
	for _, t := range types {
		t = canonicalType(t)
		if t == nil {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
