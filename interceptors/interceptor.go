package interceptors

import (
	"context"
	"log/slog"
	"time"

	"github.com/glimte/mmate-router/messaging"
)

// Interceptor processes an inbound message before it reaches the handler
type Interceptor interface {
	// Intercept handles the message and calls next to continue the chain
	Intercept(ctx context.Context, mc *messaging.MessageContext, payload []byte, next messaging.InboundHandler) error

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, mc *messaging.MessageContext, payload []byte, next messaging.InboundHandler) error
}

// NewInterceptorFunc creates a function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, mc *messaging.MessageContext, payload []byte, next messaging.InboundHandler) error) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, mc *messaging.MessageContext, payload []byte, next messaging.InboundHandler) error {
	return i.fn(ctx, mc, payload, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// Chain is an ordered list of interceptors
type Chain struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewChain creates an empty chain
func NewChain(logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{logger: logger}
}

// Add appends an interceptor
func (c *Chain) Add(interceptor Interceptor) *Chain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Len returns the number of interceptors
func (c *Chain) Len() int {
	return len(c.interceptors)
}

// Then returns final wrapped by every interceptor, the first added running
// outermost
func (c *Chain) Then(final messaging.InboundHandler) messaging.InboundHandler {
	handler := final
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor, next := c.interceptors[i], handler
		handler = messaging.InboundHandlerFunc(func(ctx context.Context, mc *messaging.MessageContext, payload []byte) error {
			return interceptor.Intercept(ctx, mc, payload, next)
		})
	}
	return handler
}

func messageIDOf(mc *messaging.MessageContext) string {
	if mc.Metadata == nil {
		return ""
	}
	return mc.Metadata.MessageID
}

func endpointOf(mc *messaging.MessageContext) string {
	if mc.Endpoint == nil {
		return ""
	}
	return mc.Endpoint.Name
}

// LoggingInterceptor logs message processing
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, mc *messaging.MessageContext, payload []byte, next messaging.InboundHandler) error {
	start := time.Now()

	i.logger.Debug("processing message",
		"messageId", messageIDOf(mc),
		"messageType", mc.MessageTypeID,
		"endpoint", endpointOf(mc),
	)

	err := next.Handle(ctx, mc, payload)
	duration := time.Since(start)

	if err != nil {
		i.logger.Error("message processing failed",
			"messageId", messageIDOf(mc),
			"messageType", mc.MessageTypeID,
			"duration", duration,
			"error", err,
		)
	} else {
		i.logger.Info("message processed",
			"messageId", messageIDOf(mc),
			"messageType", mc.MessageTypeID,
			"duration", duration,
		)
	}

	return err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// KnownTypesInterceptor drops messages whose type identifier the type
// registry does not know. Dropped messages are acknowledged.
type KnownTypesInterceptor struct {
	types  *messaging.TypeRegistry
	logger *slog.Logger
}

// NewKnownTypesInterceptor creates a filter over types
func NewKnownTypesInterceptor(types *messaging.TypeRegistry, logger *slog.Logger) *KnownTypesInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &KnownTypesInterceptor{types: types, logger: logger}
}

// Intercept implements Interceptor
func (i *KnownTypesInterceptor) Intercept(ctx context.Context, mc *messaging.MessageContext, payload []byte, next messaging.InboundHandler) error {
	if _, ok := i.types.LookupByIdentifier(mc.MessageTypeID); !ok {
		i.logger.Warn("dropping message of unknown type",
			"messageId", messageIDOf(mc),
			"messageType", mc.MessageTypeID,
			"endpoint", endpointOf(mc),
		)
		return nil
	}
	return next.Handle(ctx, mc, payload)
}

// Name implements Interceptor
func (i *KnownTypesInterceptor) Name() string {
	return "KnownTypesInterceptor"
}

// TimeoutInterceptor cancels the handler context after a timeout
type TimeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a timeout interceptor
func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

// Intercept implements Interceptor
func (i *TimeoutInterceptor) Intercept(ctx context.Context, mc *messaging.MessageContext, payload []byte, next messaging.InboundHandler) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	return next.Handle(ctx, mc, payload)
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}
