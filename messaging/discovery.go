package messaging

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
)

// DiscoveryResult summarizes one discovery pass
type DiscoveryResult struct {
	MessageTypes []MessageTypeDescriptor
	Sagas        []SagaDescriptor
	// Handlers lists handler types that are not sagas. They are not registered.
	Handlers []reflect.Type
	Skipped  int
}

// Discovery scans a candidate type universe once and populates the type and
// saga registries
type Discovery struct {
	types  *TypeRegistry
	sagas  *SagaRegistry
	logger *slog.Logger
}

// DiscoveryOption configures Discovery
type DiscoveryOption func(*Discovery)

// WithDiscoveryLogger sets the logger
func WithDiscoveryLogger(logger *slog.Logger) DiscoveryOption {
	return func(d *Discovery) {
		d.logger = logger
	}
}

// NewDiscovery creates a discovery pass over the given registries
func NewDiscovery(types *TypeRegistry, sagas *SagaRegistry, options ...DiscoveryOption) *Discovery {
	d := &Discovery{
		types:  types,
		sagas:  sagas,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// TypesOf returns the dynamic types of values, for building a candidate list
func TypesOf(values ...interface{}) []reflect.Type {
	types := make([]reflect.Type, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		types = append(types, reflect.TypeOf(v))
	}
	return types
}

// Discover classifies every candidate: message types are registered, saga
// handlers are registered with the message types they handle and plain
// handlers are skipped. The first registration error aborts the pass.
func (d *Discovery) Discover(candidates []reflect.Type) (*DiscoveryResult, error) {
	result := &DiscoveryResult{}
	seen := make(map[reflect.Type]struct{}, len(candidates))

	for _, candidate := range candidates {
		t := canonicalType(candidate)
		if t == nil || t.Kind() == reflect.Interface || t.Name() == "" {
			result.Skipped++
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}

		if IsMessageType(t) {
			desc, err := d.types.RegisterMessageType(t)
			if err != nil {
				return result, fmt.Errorf("discovery of %v failed: %w", t, err)
			}
			result.MessageTypes = append(result.MessageTypes, desc)
			continue
		}

		handled := HandledMessageTypes(t)
		if len(handled) == 0 {
			result.Skipped++
			continue
		}

		saga, ok := reflect.New(t).Interface().(SagaCapability)
		if !ok {
			d.logger.Debug("skipping handler without saga capability",
				"type", t.String(),
				"messageTypes", len(handled),
			)
			result.Handlers = append(result.Handlers, t)
			continue
		}

		desc, err := d.sagas.RegisterSaga(t, saga.SagaKeyType(), saga.SagaStateType(), handled)
		if err != nil {
			return result, fmt.Errorf("discovery of %v failed: %w", t, err)
		}
		result.Sagas = append(result.Sagas, desc)
	}

	d.logger.Info("type discovery completed",
		"messageTypes", len(result.MessageTypes),
		"sagas", len(result.Sagas),
		"handlers", len(result.Handlers),
		"skipped", result.Skipped,
	)
	return result, nil
}

// HandledMessageTypes returns the message types t handles through methods
// named Handle* with signature func(context.Context, M) error, in method order
func HandledMessageTypes(t reflect.Type) []reflect.Type {
	t = canonicalType(t)
	if t == nil || t.Kind() == reflect.Interface {
		return nil
	}

	ptr := reflect.PointerTo(t)
	var handled []reflect.Type
	for i := 0; i < ptr.NumMethod(); i++ {
		m := ptr.Method(i)
		if !strings.HasPrefix(m.Name, "Handle") {
			continue
		}
		fn := m.Type
		// receiver, context, message
		if fn.NumIn() != 3 || fn.NumOut() != 1 {
			continue
		}
		if fn.In(1) != contextType || fn.Out(0) != errorType {
			continue
		}
		if !IsMessageType(fn.In(2)) {
			continue
		}
		handled = append(handled, canonicalType(fn.In(2)))
	}
	return dedupeTypes(handled)
}
