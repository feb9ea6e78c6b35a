package messaging

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	sagaCapabilityType = reflect.TypeOf((*SagaCapability)(nil)).Elem()
	contextType        = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType          = reflect.TypeOf((*error)(nil)).Elem()
)

// ErrSagaNotFound is returned by saga stores when no state exists for a key
var ErrSagaNotFound = errors.New("messaging: saga state not found")

// SagaCapability is implemented by long-running workflow types. Embed
// SagaBase to implement it.
type SagaCapability interface {
	SagaStateType() reflect.Type
	SagaKeyType() reflect.Type
}

// SagaBase declares the state and correlation key types of a saga
//
//	type OrderSaga struct {
//		messaging.SagaBase[OrderState, string]
//	}
type SagaBase[TState any, TKey comparable] struct{}

// SagaStateType returns the saga state type
func (SagaBase[TState, TKey]) SagaStateType() reflect.Type {
	return reflect.TypeOf((*TState)(nil)).Elem()
}

// SagaKeyType returns the saga key type
func (SagaBase[TState, TKey]) SagaKeyType() reflect.Type {
	return reflect.TypeOf((*TKey)(nil)).Elem()
}

// SagaStore persists saga state by key
type SagaStore[TState any, TKey comparable] interface {
	Load(ctx context.Context, key TKey) (TState, error)
	Save(ctx context.Context, key TKey, state TState) error
	Delete(ctx context.Context, key TKey) error
}

// InMemorySagaStore is a SagaStore backed by a map
type InMemorySagaStore[TState any, TKey comparable] struct {
	states map[TKey]TState
	mu     sync.RWMutex
}

// NewInMemorySagaStore creates an empty in-memory saga store
func NewInMemorySagaStore[TState any, TKey comparable]() *InMemorySagaStore[TState, TKey] {
	return &InMemorySagaStore[TState, TKey]{
		states: make(map[TKey]TState),
	}
}

// Load returns the state stored for key or ErrSagaNotFound
func (s *InMemorySagaStore[TState, TKey]) Load(ctx context.Context, key TKey) (TState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.states[key]
	if !exists {
		var zero TState
		return zero, fmt.Errorf("%w: %v", ErrSagaNotFound, key)
	}
	return state, nil
}

// Save stores state for key
func (s *InMemorySagaStore[TState, TKey]) Save(ctx context.Context, key TKey, state TState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[key] = state
	return nil
}

// Delete removes the state stored for key
func (s *InMemorySagaStore[TState, TKey]) Delete(ctx context.Context, key TKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, key)
	return nil
}

// StoreContract names the SagaStore instantiation a saga persists through.
// It describes the contract, not an implementation.
type StoreContract struct {
	StateType reflect.Type
	KeyType   reflect.Type
}

// String renders the contract as SagaStore[State, Key]
func (c StoreContract) String() string {
	return fmt.Sprintf("SagaStore[%s, %s]", typeName(c.StateType), typeName(c.KeyType))
}

// methods returns the expected Load, Save and Delete signatures without
// receiver
func (c StoreContract) methods() map[string]reflect.Type {
	return map[string]reflect.Type{
		"Load":   reflect.FuncOf([]reflect.Type{contextType, c.KeyType}, []reflect.Type{c.StateType, errorType}, false),
		"Save":   reflect.FuncOf([]reflect.Type{contextType, c.KeyType, c.StateType}, []reflect.Type{errorType}, false),
		"Delete": reflect.FuncOf([]reflect.Type{contextType, c.KeyType}, []reflect.Type{errorType}, false),
	}
}

// Implements reports whether storeType satisfies the contract
func (c StoreContract) Implements(storeType reflect.Type) bool {
	if storeType == nil || c.StateType == nil || c.KeyType == nil {
		return false
	}

	for name, want := range c.methods() {
		m, ok := storeType.MethodByName(name)
		if !ok {
			return false
		}
		got := m.Type
		if storeType.Kind() != reflect.Interface {
			got = withoutReceiver(got)
		}
		if got != want {
			return false
		}
	}
	return true
}

func withoutReceiver(fn reflect.Type) reflect.Type {
	in := make([]reflect.Type, 0, fn.NumIn()-1)
	for i := 1; i < fn.NumIn(); i++ {
		in = append(in, fn.In(i))
	}
	out := make([]reflect.Type, 0, fn.NumOut())
	for i := 0; i < fn.NumOut(); i++ {
		out = append(out, fn.Out(i))
	}
	return reflect.FuncOf(in, out, fn.IsVariadic())
}
