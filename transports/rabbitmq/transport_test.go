package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glimte/mmate-router/contracts"
	"github.com/glimte/mmate-router/health"
	"github.com/glimte/mmate-router/internal/rabbitmq"
	"github.com/glimte/mmate-router/internal/reliability"
	"github.com/glimte/mmate-router/messaging"
	"github.com/glimte/mmate-router/routing"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	args := m.Called(ctx, exchange, routingKey, msg)
	return args.Error(0)
}

func (m *MockBroker) PublishDelayed(ctx context.Context, exchange, routingKey string, msg amqp.Publishing, delay time.Duration) error {
	args := m.Called(ctx, exchange, routingKey, msg, delay)
	return args.Error(0)
}

func (m *MockBroker) EnsureQueue(ctx context.Context, queue string) error {
	args := m.Called(ctx, queue)
	return args.Error(0)
}

func (m *MockBroker) Subscribe(ctx context.Context, queue string, handler rabbitmq.DeliveryHandler) error {
	args := m.Called(ctx, queue, handler)
	return args.Error(0)
}

func (m *MockBroker) Close() error {
	args := m.Called()
	return args.Error(0)
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	transport *Transport
	broker    *MockBroker
	endpoints *routing.EndpointRegistry
	dials     []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{broker: &MockBroker{}, endpoints: routing.NewEndpointRegistry()}
	f.transport = NewTransport(routing.NewReplyToResolver(f.endpoints),
		WithBrokerFactory(func(ctx context.Context, url string) (Broker, error) {
			f.dials = append(f.dials, url)
			return f.broker, nil
		}),
	)
	f.transport.now = func() time.Time { return fixedNow }
	return f
}

func endpoint(t *testing.T, name string, direction routing.Direction, conn string) *routing.Endpoint {
	t.Helper()
	ep, err := routing.NewEndpoint(name, direction, conn)
	require.NoError(t, err)
	return ep
}

func TestTransport_Dispatch(t *testing.T) {
	t.Run("immediate dispatch uses the default exchange", func(t *testing.T) {
		f := newFixture(t)
		orders := endpoint(t, "orders", routing.Outbound, "Endpoint=amqp://rabbit:5672/;EntityPath=orders")
		md := &contracts.Metadata{
			MessageID:     "msg-1",
			CorrelationID: "corr-1",
			ReplyTo:       "Endpoint=rabbit;EntityPath=replies",
			CreatedAtUTC:  fixedNow,
			DispatchDelay: 100 * time.Millisecond,
			Headers:       map[string]interface{}{"tenant": "acme"},
		}

		f.broker.On("Publish", mock.Anything, "", "orders", mock.Anything).
			Run(func(args mock.Arguments) {
				msg := args.Get(3).(amqp.Publishing)
				assert.Equal(t, "Sales.PlaceOrder", msg.Type)
				assert.Equal(t, "msg-1", msg.MessageId)
				assert.Equal(t, "corr-1", msg.CorrelationId)
				assert.Equal(t, md.ReplyTo, msg.ReplyTo)
				assert.Equal(t, []byte(`{"id":1}`), msg.Body)
				assert.Equal(t, "Sales.PlaceOrder", msg.Headers[HeaderMessageType])
				assert.Equal(t, md.ReplyTo, msg.Headers[HeaderReplyTo])
				assert.Equal(t, fixedNow.Format(time.RFC3339Nano), msg.Headers[HeaderCreatedAt])
				assert.Equal(t, "acme", msg.Headers["tenant"])
			}).Return(nil)

		err := f.transport.Dispatch(context.Background(), "Sales.PlaceOrder", []byte(`{"id":1}`), orders, md)

		require.NoError(t, err)
		f.broker.AssertExpectations(t)
		f.broker.AssertNotCalled(t, "PublishDelayed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("delay beyond the threshold is scheduled", func(t *testing.T) {
		f := newFixture(t)
		orders := endpoint(t, "orders", routing.Outbound, "Endpoint=amqp://rabbit:5672/;EntityPath=orders")
		md := &contracts.Metadata{CreatedAtUTC: fixedNow, DispatchDelay: 30 * time.Second}

		f.broker.On("PublishDelayed", mock.Anything, DefaultDelayedExchange, "orders", mock.Anything, 30*time.Second).Return(nil)

		err := f.transport.Dispatch(context.Background(), "Sales.PlaceOrder", nil, orders, md)

		require.NoError(t, err)
		f.broker.AssertExpectations(t)
	})

	t.Run("one broker per url", func(t *testing.T) {
		f := newFixture(t)
		a := endpoint(t, "a", routing.Outbound, "Endpoint=amqp://rabbit:5672/;EntityPath=a")
		b := endpoint(t, "b", routing.Outbound, "Endpoint=amqp://rabbit:5672/;EntityPath=b")
		f.broker.On("Publish", mock.Anything, "", mock.Anything, mock.Anything).Return(nil)

		require.NoError(t, f.transport.Dispatch(context.Background(), "X", nil, a, nil))
		require.NoError(t, f.transport.Dispatch(context.Background(), "X", nil, b, nil))

		assert.Equal(t, []string{"amqp://rabbit:5672/"}, f.dials)
	})

	t.Run("broker failures are wrapped", func(t *testing.T) {
		f := newFixture(t)
		orders := endpoint(t, "orders", routing.Outbound, "Endpoint=amqp://rabbit/;EntityPath=orders")
		f.broker.On("Publish", mock.Anything, "", "orders", mock.Anything).Return(rabbitmq.ErrPublishNacked)

		err := f.transport.Dispatch(context.Background(), "Sales.PlaceOrder", nil, orders, nil)

		assert.ErrorIs(t, err, rabbitmq.ErrPublishNacked)
		assert.Contains(t, err.Error(), "orders")
	})

	t.Run("failing broker opens the circuit", func(t *testing.T) {
		f := &fixture{broker: &MockBroker{}, endpoints: routing.NewEndpointRegistry()}
		f.transport = NewTransport(routing.NewReplyToResolver(f.endpoints),
			WithBrokerFactory(func(ctx context.Context, url string) (Broker, error) { return f.broker, nil }),
			WithCircuitBreaker(reliability.WithFailureThreshold(2), reliability.WithTimeout(time.Hour)),
		)
		orders := endpoint(t, "orders", routing.Outbound, "Endpoint=amqp://rabbit/;EntityPath=orders")
		f.broker.On("Publish", mock.Anything, "", "orders", mock.Anything).Return(rabbitmq.ErrPublishTimeout).Twice()

		for i := 0; i < 2; i++ {
			assert.ErrorIs(t, f.transport.Dispatch(context.Background(), "Sales.PlaceOrder", nil, orders, nil), rabbitmq.ErrPublishTimeout)
		}
		err := f.transport.Dispatch(context.Background(), "Sales.PlaceOrder", nil, orders, nil)

		assert.ErrorIs(t, err, reliability.ErrCircuitOpen)
		f.broker.AssertNumberOfCalls(t, "Publish", 2)

		check := f.transport.Check(context.Background())
		assert.Equal(t, health.StatusUnhealthy, check.Status)
		assert.Equal(t, map[string]interface{}{"amqp://rabbit/": "open"}, check.Details["circuits"])
	})

	t.Run("slow dial does not block other brokers", func(t *testing.T) {
		fast, slow := &MockBroker{}, &MockBroker{}
		dialing, release := make(chan struct{}), make(chan struct{})
		transport := NewTransport(routing.NewReplyToResolver(routing.NewEndpointRegistry()),
			WithBrokerFactory(func(ctx context.Context, url string) (Broker, error) {
				if url == "amqp://slow:5672/" {
					close(dialing)
					<-release
					return slow, nil
				}
				return fast, nil
			}),
		)
		fastOrders := endpoint(t, "fast", routing.Outbound, "Endpoint=amqp://fast:5672/;EntityPath=orders")
		slowOrders := endpoint(t, "slow", routing.Outbound, "Endpoint=amqp://slow:5672/;EntityPath=orders")
		fast.On("Publish", mock.Anything, "", "orders", mock.Anything).Return(nil)
		slow.On("Publish", mock.Anything, "", "orders", mock.Anything).Return(nil)
		require.NoError(t, transport.Dispatch(context.Background(), "X", nil, fastOrders, nil))

		slowDone := make(chan error, 1)
		go func() {
			slowDone <- transport.Dispatch(context.Background(), "X", nil, slowOrders, nil)
		}()
		<-dialing

		fastDone := make(chan error, 1)
		go func() {
			fastDone <- transport.Dispatch(context.Background(), "X", nil, fastOrders, nil)
		}()
		select {
		case err := <-fastDone:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("dispatch to an open broker waited on another dial")
		}
		assert.Equal(t, health.StatusHealthy, transport.Check(context.Background()).Status)

		close(release)
		assert.NoError(t, <-slowDone)
		fast.AssertNumberOfCalls(t, "Publish", 2)
		slow.AssertNumberOfCalls(t, "Publish", 1)
	})

	t.Run("racing dials keep the first broker", func(t *testing.T) {
		first, second := &MockBroker{}, &MockBroker{}
		dials := 0
		var transport *Transport
		orders := endpoint(t, "orders", routing.Outbound, "Endpoint=amqp://rabbit/;EntityPath=orders")
		transport = NewTransport(routing.NewReplyToResolver(routing.NewEndpointRegistry()),
			WithBrokerFactory(func(ctx context.Context, url string) (Broker, error) {
				dials++
				if dials == 1 {
					// a concurrent caller stores its broker while this dial is in flight
					require.NoError(t, transport.Dispatch(ctx, "X", nil, orders, nil))
					return second, nil
				}
				return first, nil
			}),
		)
		first.On("Publish", mock.Anything, "", "orders", mock.Anything).Return(nil)
		second.On("Close").Return(nil)

		require.NoError(t, transport.Dispatch(context.Background(), "X", nil, orders, nil))

		assert.Equal(t, 2, dials)
		first.AssertNumberOfCalls(t, "Publish", 2)
		second.AssertCalled(t, "Close")
		second.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejects endpoints that cannot send", func(t *testing.T) {
		f := newFixture(t)
		inbound := endpoint(t, "in", routing.Inbound, "Endpoint=amqp://rabbit/;EntityPath=in")
		wildcard := endpoint(t, "any", routing.Outbound, "Endpoint=amqp://rabbit/")

		assert.ErrorIs(t, f.transport.Dispatch(context.Background(), "X", nil, inbound, nil), routing.ErrInvalidEndpoint)
		assert.ErrorIs(t, f.transport.Dispatch(context.Background(), "X", nil, wildcard, nil), routing.ErrInvalidEndpoint)
		assert.ErrorIs(t, f.transport.Dispatch(context.Background(), "X", nil, nil, nil), routing.ErrInvalidEndpoint)
		assert.Empty(t, f.dials)
	})
}

func TestTransport_Start(t *testing.T) {
	t.Run("hands deliveries to the inbound handler", func(t *testing.T) {
		f := newFixture(t)
		inbox := endpoint(t, "inbox", routing.Both, "Endpoint=amqp://rabbit/;EntityPath=inbox")

		var deliver rabbitmq.DeliveryHandler
		f.broker.On("EnsureQueue", mock.Anything, "inbox").Return(nil)
		f.broker.On("Subscribe", mock.Anything, "inbox", mock.Anything).
			Run(func(args mock.Arguments) {
				deliver = args.Get(2).(rabbitmq.DeliveryHandler)
			}).Return(nil)

		var received []*messaging.MessageContext
		handler := messaging.InboundHandlerFunc(func(ctx context.Context, mc *messaging.MessageContext, payload []byte) error {
			received = append(received, mc)
			return nil
		})

		require.NoError(t, f.transport.Start(context.Background(), inbox, handler))
		require.NotNil(t, deliver)

		created := fixedNow.Add(-time.Minute)
		require.NoError(t, deliver(context.Background(), amqp.Delivery{
			Type:          "Sales.PlaceOrder",
			MessageId:     "msg-1",
			CorrelationId: "corr-1",
			Headers: amqp.Table{
				HeaderReplyTo:        "Endpoint=rabbit;EntityPath=replies",
				HeaderCreatedAt:      created.Format(time.RFC3339Nano),
				rabbitmq.DelayHeader: int64(30000),
				"tenant":             "acme",
			},
			Body: []byte(`{}`),
		}))
		require.NoError(t, deliver(context.Background(), amqp.Delivery{
			Body: []byte(`{"type":"Billing.Invoice","amount":3}`),
		}))

		require.Len(t, received, 2)
		first := received[0]
		assert.Same(t, inbox, first.Endpoint)
		assert.Equal(t, "Sales.PlaceOrder", first.MessageTypeID)
		assert.Equal(t, "msg-1", first.Metadata.MessageID)
		assert.Equal(t, "corr-1", first.Metadata.CorrelationID)
		assert.Equal(t, "Endpoint=rabbit;EntityPath=replies", first.Metadata.ReplyTo)
		assert.True(t, created.Equal(first.Metadata.CreatedAtUTC))
		assert.Equal(t, map[string]interface{}{"tenant": "acme"}, first.Metadata.Headers)
		assert.Equal(t, fixedNow, first.ReceivedAt)

		assert.Equal(t, "Billing.Invoice", received[1].MessageTypeID)
		f.broker.AssertExpectations(t)
	})

	t.Run("outbound endpoints cannot be started", func(t *testing.T) {
		f := newFixture(t)
		out := endpoint(t, "out", routing.Outbound, "Endpoint=amqp://rabbit/;EntityPath=out")
		noop := messaging.InboundHandlerFunc(func(context.Context, *messaging.MessageContext, []byte) error { return nil })

		err := f.transport.Start(context.Background(), out, noop)

		assert.ErrorIs(t, err, routing.ErrInvalidEndpoint)
	})

	t.Run("queue declaration failure aborts", func(t *testing.T) {
		f := newFixture(t)
		inbox := endpoint(t, "inbox", routing.Inbound, "Endpoint=amqp://rabbit/;EntityPath=inbox")
		f.broker.On("EnsureQueue", mock.Anything, "inbox").Return(errors.New("access refused"))
		noop := messaging.InboundHandlerFunc(func(context.Context, *messaging.MessageContext, []byte) error { return nil })

		err := f.transport.Start(context.Background(), inbox, noop)

		assert.ErrorContains(t, err, "access refused")
		f.broker.AssertNotCalled(t, "Subscribe", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestMessageTypeOf(t *testing.T) {
	tests := []struct {
		name     string
		delivery amqp.Delivery
		want     string
	}{
		{"type property", amqp.Delivery{Type: "A", Body: []byte(`{"type":"B"}`)}, "A"},
		{"type header", amqp.Delivery{Headers: amqp.Table{HeaderMessageType: "C"}}, "C"},
		{"json body", amqp.Delivery{Body: []byte(`{"type":"D"}`)}, "D"},
		{"non-string json type", amqp.Delivery{Body: []byte(`{"type":3}`)}, ""},
		{"invalid json", amqp.Delivery{Body: []byte(`not json`)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, messageTypeOf(tt.delivery))
		})
	}
}

func TestTransport_Replies(t *testing.T) {
	f := newFixture(t)
	replies := endpoint(t, "replies", routing.Both, "Endpoint=amqp://rabbit/;EntityPath=replies")
	require.NoError(t, f.endpoints.AddEndpoint(replies))

	md := contracts.NewMetadata()
	require.NoError(t, f.transport.SetReplyToForCommand(replies, nil, md))
	assert.Equal(t, "Endpoint=rabbit;EntityPath=replies", md.ReplyTo)

	found, err := f.transport.FindEndpointForReply(&messaging.MessageContext{Metadata: md})
	require.NoError(t, err)
	assert.Same(t, replies, found)

	_, err = f.transport.FindEndpointForReply(&messaging.MessageContext{Metadata: &contracts.Metadata{}})
	assert.ErrorIs(t, err, messaging.ErrMissingReplyRoute)
}

func TestTransport_Close(t *testing.T) {
	f := newFixture(t)
	orders := endpoint(t, "orders", routing.Outbound, "Endpoint=amqp://rabbit/;EntityPath=orders")
	f.broker.On("Publish", mock.Anything, "", "orders", mock.Anything).Return(nil)
	f.broker.On("Close").Return(nil).Once()

	require.NoError(t, f.transport.Dispatch(context.Background(), "X", nil, orders, nil))
	assert.Equal(t, health.StatusHealthy, f.transport.Check(context.Background()).Status)
	require.NoError(t, f.transport.Close())
	require.NoError(t, f.transport.Close())

	err := f.transport.Dispatch(context.Background(), "X", nil, orders, nil)
	assert.ErrorIs(t, err, errTransportClosed)
	assert.Equal(t, health.StatusUnhealthy, f.transport.Check(context.Background()).Status)
	f.broker.AssertExpectations(t)
}
