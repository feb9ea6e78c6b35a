package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/mmate-router/contracts"
	"github.com/glimte/mmate-router/health"
	"github.com/glimte/mmate-router/internal/rabbitmq"
	"github.com/glimte/mmate-router/internal/reliability"
	"github.com/glimte/mmate-router/messaging"
	"github.com/glimte/mmate-router/routing"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tidwall/gjson"
)

const (
	// Name is the transport name endpoints refer to
	Name = routing.DefaultTransport

	DefaultDelayedExchange = "mmate.delayed"

	HeaderMessageType = "x-mmate-type"
	HeaderReplyTo     = "x-mmate-reply-to"
	HeaderCreatedAt   = "x-mmate-created-at"
)

// Transport implements messaging.Transport for RabbitMQ endpoints. Every
// endpoint entity path is a queue; immediate dispatch goes through the
// default exchange and scheduled dispatch through the delayed exchange.
// Dispatch to each broker URL is guarded by its own circuit breaker.
type Transport struct {
	messaging.ReplyRouting

	cfg     *transportConfig
	brokers map[string]*brokerEntry
	now     func() time.Time
	closed  bool
	mu      sync.Mutex
}

// NewTransport creates a transport. Broker connections are opened per
// broker URL on first use.
func NewTransport(resolver *routing.ReplyToResolver, options ...TransportOption) *Transport {
	cfg := &transportConfig{
		logger:          slog.Default(),
		delayedExchange: DefaultDelayedExchange,
	}

	for _, opt := range options {
		opt(cfg)
	}

	if cfg.newBroker == nil {
		cfg.newBroker = func(ctx context.Context, url string) (Broker, error) {
			return newAMQPBroker(ctx, url, cfg)
		}
	}

	return &Transport{
		ReplyRouting: messaging.ReplyRouting{Resolver: resolver, Logger: cfg.logger},
		cfg:          cfg,
		brokers:      make(map[string]*brokerEntry),
		now:          time.Now,
	}
}

var errTransportClosed = errors.New("rabbitmq transport: closed")

type brokerEntry struct {
	Broker
	breaker *reliability.CircuitBreaker
}

// broker returns the entry for the endpoint's broker URL, dialing it on
// first use. The dial runs without t.mu; when two callers race the first
// stored entry wins and the other connection is closed.
func (t *Transport) broker(ctx context.Context, ep *routing.Endpoint) (*brokerEntry, error) {
	url := ep.Connection.URL
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errTransportClosed
	}
	if b, ok := t.brokers[url]; ok {
		t.mu.Unlock()
		return b, nil
	}
	t.mu.Unlock()

	b, err := t.cfg.newBroker(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open broker for endpoint %s: %w", ep.Name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		t.closeLoser(url, b)
		return nil, errTransportClosed
	}
	if existing, ok := t.brokers[url]; ok {
		t.closeLoser(url, b)
		return existing, nil
	}

	breakerOptions := append([]reliability.CircuitBreakerOption{
		reliability.WithName(rabbitmq.SanitizeURL(url)),
		reliability.WithBreakerLogger(t.cfg.logger),
	}, t.cfg.breakerOptions...)
	entry := &brokerEntry{Broker: b, breaker: reliability.NewCircuitBreaker(breakerOptions...)}
	t.brokers[url] = entry
	return entry, nil
}

func (t *Transport) closeLoser(url string, b Broker) {
	if err := b.Close(); err != nil {
		t.cfg.logger.Warn("failed to close redundant broker",
			"url", rabbitmq.SanitizeURL(url),
			"error", err,
		)
	}
}

func queueOf(ep *routing.Endpoint, canUse func(routing.Direction) bool, use string) (string, error) {
	if ep == nil {
		return "", fmt.Errorf("%w: endpoint cannot be nil", routing.ErrInvalidEndpoint)
	}
	if !canUse(ep.Direction) {
		return "", fmt.Errorf("%w: endpoint %s (%s) cannot %s", routing.ErrInvalidEndpoint, ep.Name, ep.Direction, use)
	}
	if ep.Connection.IsWildcard() {
		return "", fmt.Errorf("%w: endpoint %s has no entity path", routing.ErrInvalidEndpoint, ep.Name)
	}
	return ep.Connection.EntityPath, nil
}

// Dispatch publishes payload to the endpoint queue, through the delayed
// exchange when the dispatch delay is still ahead
func (t *Transport) Dispatch(ctx context.Context, messageTypeID string, payload []byte, ep *routing.Endpoint, md *contracts.Metadata) error {
	queue, err := queueOf(ep, routing.Direction.CanSend, "send")
	if err != nil {
		return err
	}
	if md == nil {
		md = &contracts.Metadata{}
	}

	b, err := t.broker(ctx, ep)
	if err != nil {
		return err
	}

	msg := publishingFor(messageTypeID, payload, md)
	schedule := messaging.DispatchSchedule(md, t.now())
	err = b.breaker.Execute(ctx, func() error {
		if schedule.Scheduled {
			return b.PublishDelayed(ctx, t.cfg.delayedExchange, queue, msg, schedule.Delay)
		}
		return b.Publish(ctx, "", queue, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to dispatch %s to %s: %w", messageTypeID, ep.Name, err)
	}

	t.cfg.logger.Debug("dispatched message",
		"messageType", messageTypeID,
		"endpoint", ep.Name,
		"queue", queue,
		"scheduled", schedule.Scheduled,
		"delay", schedule.Delay,
	)
	return nil
}

func publishingFor(messageTypeID string, payload []byte, md *contracts.Metadata) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range md.Headers {
		headers[k] = v
	}
	headers[HeaderMessageType] = messageTypeID
	if md.ReplyTo != "" {
		headers[HeaderReplyTo] = md.ReplyTo
	}
	if md.HasCreatedAt() {
		headers[HeaderCreatedAt] = md.CreatedAtUTC.UTC().Format(time.RFC3339Nano)
	}

	return amqp.Publishing{
		Headers:       headers,
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: md.CorrelationID,
		ReplyTo:       md.ReplyTo,
		MessageId:     md.MessageID,
		Timestamp:     md.CreatedAtUTC,
		Type:          messageTypeID,
		Body:          payload,
	}
}

// Start declares the endpoint queue and consumes it until ctx ends
func (t *Transport) Start(ctx context.Context, ep *routing.Endpoint, handler messaging.InboundHandler) error {
	queue, err := queueOf(ep, routing.Direction.CanReceive, "receive")
	if err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	b, err := t.broker(ctx, ep)
	if err != nil {
		return err
	}
	if err := b.EnsureQueue(ctx, queue); err != nil {
		return fmt.Errorf("failed to prepare endpoint %s: %w", ep.Name, err)
	}

	err = b.Subscribe(ctx, queue, func(ctx context.Context, d amqp.Delivery) error {
		mc := t.messageContext(ep, d)
		if mc.MessageTypeID == "" {
			t.cfg.logger.Warn("received message without type identifier",
				"endpoint", ep.Name,
				"messageId", d.MessageId,
			)
		}
		return handler.Handle(ctx, mc, d.Body)
	})
	if err != nil {
		return fmt.Errorf("failed to start endpoint %s: %w", ep.Name, err)
	}

	t.cfg.logger.Info("endpoint started", "endpoint", ep.Name, "queue", queue)
	return nil
}

func (t *Transport) messageContext(ep *routing.Endpoint, d amqp.Delivery) *messaging.MessageContext {
	md := &contracts.Metadata{
		MessageID:     d.MessageId,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		CreatedAtUTC:  d.Timestamp,
		Headers:       make(map[string]interface{}, len(d.Headers)),
	}
	for k, v := range d.Headers {
		switch k {
		case HeaderMessageType, rabbitmq.DelayHeader:
		case HeaderReplyTo:
			if s, ok := v.(string); ok && md.ReplyTo == "" {
				md.ReplyTo = s
			}
		case HeaderCreatedAt:
			if s, ok := v.(string); ok {
				if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
					md.CreatedAtUTC = ts
				}
			}
		default:
			md.Headers[k] = v
		}
	}
	if !md.CreatedAtUTC.IsZero() {
		md.CreatedAtUTC = md.CreatedAtUTC.UTC()
	}

	return &messaging.MessageContext{
		Endpoint:      ep,
		MessageTypeID: messageTypeOf(d),
		Metadata:      md,
		ReceivedAt:    t.now(),
	}
}

// messageTypeOf reads the AMQP type property, then the type header, then a
// top-level "type" field of a JSON body
func messageTypeOf(d amqp.Delivery) string {
	if d.Type != "" {
		return d.Type
	}
	if s, ok := d.Headers[HeaderMessageType].(string); ok && s != "" {
		return s
	}
	if !gjson.ValidBytes(d.Body) {
		return ""
	}
	r := gjson.GetBytes(d.Body, "type")
	if r.Type != gjson.String {
		return ""
	}
	return r.String()
}

// Close closes every broker connection
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	for url, b := range t.brokers {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rabbitmq.SanitizeURL(url), err))
		}
	}
	t.brokers = nil
	return errors.Join(errs...)
}

// Name identifies the transport health check
func (t *Transport) Name() string {
	return "transport." + Name
}

// Check reports the dispatch circuit of every broker. An open circuit is
// unhealthy and a half-open one degraded.
func (t *Transport) Check(ctx context.Context) health.CheckResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := health.CheckResult{Status: health.StatusHealthy, Message: "brokers available"}
	if t.closed {
		result.Status = health.StatusUnhealthy
		result.Message = "transport closed"
		return result
	}

	circuits := make(map[string]interface{}, len(t.brokers))
	for url, b := range t.brokers {
		state := b.breaker.State()
		circuits[rabbitmq.SanitizeURL(url)] = state.String()
		switch state {
		case reliability.StateOpen:
			result.Status = health.StatusUnhealthy
			result.Message = "broker circuit open"
		case reliability.StateHalfOpen:
			if result.Status == health.StatusHealthy {
				result.Status = health.StatusDegraded
				result.Message = "broker circuit half-open"
			}
		}
	}
	result.Details = map[string]interface{}{"circuits": circuits}
	return result
}

var (
	_ messaging.Transport = (*Transport)(nil)
	_ health.Checker      = (*Transport)(nil)
)
