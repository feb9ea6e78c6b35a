package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-router/contracts"
	"github.com/glimte/mmate-router/routing"
)

// MessageContext describes an inbound message as handed to an InboundHandler
type MessageContext struct {
	Endpoint      *routing.Endpoint
	MessageTypeID string
	Metadata      *contracts.Metadata
	ReceivedAt    time.Time
}

// InboundHandler receives payloads from a started endpoint
type InboundHandler interface {
	Handle(ctx context.Context, mc *MessageContext, payload []byte) error
}

// InboundHandlerFunc is a function adapter for InboundHandler
type InboundHandlerFunc func(ctx context.Context, mc *MessageContext, payload []byte) error

// Handle implements InboundHandler
func (f InboundHandlerFunc) Handle(ctx context.Context, mc *MessageContext, payload []byte) error {
	return f(ctx, mc, payload)
}

// Transport moves payloads to and from endpoints
type Transport interface {
	// Start begins receiving on ep and hands every message to handler
	Start(ctx context.Context, ep *routing.Endpoint, handler InboundHandler) error

	// Dispatch sends payload to ep, immediately or scheduled depending on md
	Dispatch(ctx context.Context, messageTypeID string, payload []byte, ep *routing.Endpoint, md *contracts.Metadata) error

	// FindEndpointForReply returns the endpoint replies to mc are sent to
	FindEndpointForReply(mc *MessageContext) (*routing.Endpoint, error)

	// SetReplyToForCommand advertises ep as the reply path of cmd
	SetReplyToForCommand(ep *routing.Endpoint, cmd interface{}, md *contracts.Metadata) error

	// Close releases transport resources
	Close() error
}

// ReplyRouting implements the reply half of Transport on top of a reply-to
// resolver. Transports embed it.
type ReplyRouting struct {
	Resolver *routing.ReplyToResolver
	Logger   *slog.Logger
}

// FindEndpointForReply resolves the reply-to of the inbound metadata
func (r ReplyRouting) FindEndpointForReply(mc *MessageContext) (*routing.Endpoint, error) {
	if mc == nil || mc.Metadata == nil || mc.Metadata.ReplyTo == "" {
		messageType := ""
		if mc != nil {
			messageType = mc.MessageTypeID
		}
		return nil, &MissingReplyRouteError{MessageType: messageType, Reason: "inbound message carries no reply-to"}
	}

	ep, err := r.Resolver.Resolve(mc.Metadata.ReplyTo)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve reply-to of %s: %w", mc.MessageTypeID, err)
	}
	return ep, nil
}

// SetReplyToForCommand writes the reply descriptor of ep into md and
// correlates the reply with cmd when no correlation ID is set
func (r ReplyRouting) SetReplyToForCommand(ep *routing.Endpoint, cmd interface{}, md *contracts.Metadata) error {
	if err := r.Resolver.SetReplyTo(ep, md); err != nil {
		return err
	}
	if msg, ok := cmd.(contracts.Message); ok && md.CorrelationID == "" {
		md.CorrelationID = msg.GetID()
	}

	if r.Logger != nil {
		r.Logger.Debug("reply-to set for command",
			"endpoint", ep.Name,
			"replyTo", md.ReplyTo,
		)
	}
	return nil
}
