package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ChannelPool hands out AMQP channels opened on one managed connection
type ChannelPool struct {
	manager     *ConnectionManager
	channels    chan *PooledChannel
	maxSize     int
	waitTimeout time.Duration
	open        int
	closed      bool
	mu          sync.Mutex
}

// PooledChannel wraps an AMQP channel with its pool identity
type PooledChannel struct {
	*amqp.Channel
	ID string
}

// ChannelPoolOption configures the channel pool
type ChannelPoolOption func(*ChannelPool)

// WithMaxChannels sets the maximum number of open channels
func WithMaxChannels(size int) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.maxSize = size
	}
}

// WithWaitTimeout bounds how long Get waits for a free channel
func WithWaitTimeout(timeout time.Duration) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.waitTimeout = timeout
	}
}

// NewChannelPool creates an empty pool; channels are opened on demand
func NewChannelPool(manager *ConnectionManager, options ...ChannelPoolOption) (*ChannelPool, error) {
	if manager == nil {
		return nil, fmt.Errorf("%w: connection manager is required", ErrInvalidConfiguration)
	}

	cp := &ChannelPool{
		manager:     manager,
		maxSize:     10,
		waitTimeout: 5 * time.Second,
	}

	for _, opt := range options {
		opt(cp)
	}

	if cp.maxSize < 1 {
		return nil, fmt.Errorf("%w: max channels must be at least 1", ErrInvalidConfiguration)
	}
	cp.channels = make(chan *PooledChannel, cp.maxSize)
	return cp, nil
}

// Get returns an idle channel, opens a new one under the limit, or waits
func (cp *ChannelPool) Get(ctx context.Context) (*PooledChannel, error) {
	for {
		cp.mu.Lock()
		if cp.closed {
			cp.mu.Unlock()
			return nil, ErrChannelPoolClosed
		}
		select {
		case ch := <-cp.channels:
			cp.mu.Unlock()
			if ch.IsClosed() {
				cp.release()
				continue
			}
			return ch, nil
		default:
		}
		if cp.open < cp.maxSize {
			cp.open++
			cp.mu.Unlock()
			return cp.openChannel()
		}
		cp.mu.Unlock()

		select {
		case ch, ok := <-cp.channels:
			if !ok {
				return nil, ErrChannelPoolClosed
			}
			if ch.IsClosed() {
				cp.release()
				continue
			}
			return ch, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cp.waitTimeout):
			return nil, ErrChannelPoolExhausted
		}
	}
}

func (cp *ChannelPool) openChannel() (*PooledChannel, error) {
	conn, err := cp.manager.Connection()
	if err != nil {
		cp.release()
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		cp.release()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return &PooledChannel{Channel: ch, ID: uuid.New().String()}, nil
}

func (cp *ChannelPool) release() {
	cp.mu.Lock()
	cp.open--
	cp.mu.Unlock()
}

// Put returns a channel to the pool; closed channels are dropped
func (cp *ChannelPool) Put(ch *PooledChannel) {
	if ch == nil {
		return
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.closed || ch.IsClosed() {
		ch.Close()
		cp.open--
		return
	}
	select {
	case cp.channels <- ch:
	default:
		ch.Close()
		cp.open--
	}
}

// Execute runs fn with a pooled channel
func (cp *ChannelPool) Execute(ctx context.Context, fn func(*amqp.Channel) error) error {
	ch, err := cp.Get(ctx)
	if err != nil {
		return err
	}
	defer cp.Put(ch)

	return fn(ch.Channel)
}

// Close closes every idle channel; channels in use are closed on Put
func (cp *ChannelPool) Close() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.closed {
		return nil
	}
	cp.closed = true
	close(cp.channels)
	for ch := range cp.channels {
		ch.Close()
		cp.open--
	}
	return nil
}
