package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Dialer opens an AMQP connection
type Dialer func(url string) (*amqp.Connection, error)

// ConnectionManager owns the connection to one broker URL and re-dials it
// after the broker closes it
type ConnectionManager struct {
	url            string
	dial           Dialer
	conn           *amqp.Connection
	connected      bool
	reconnectDelay time.Duration
	maxDelay       time.Duration
	dialTimeout    time.Duration
	logger         *slog.Logger
	done           chan struct{}
	mu             sync.RWMutex
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithConnectionLogger sets the logger
func WithConnectionLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithReconnectDelay sets the base reconnection delay
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.reconnectDelay = delay
	}
}

// WithDialer replaces amqp.Dial
func WithDialer(dial Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dial = dial
	}
}

// NewConnectionManager creates a connection manager for url. Nothing is
// dialed until Connect.
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		dial:           amqp.Dial,
		reconnectDelay: time.Second,
		maxDelay:       time.Minute,
		dialTimeout:    30 * time.Second,
		logger:         slog.Default(),
		done:           make(chan struct{}),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// URL returns the sanitized broker URL
func (cm *ConnectionManager) URL() string {
	return SanitizeURL(cm.url)
}

// Connect dials the broker unless already connected
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.connected {
		return nil
	}

	conn, err := cm.dialWithTimeout(ctx)
	if err != nil {
		return &ConnectionError{Op: "connect", URL: cm.URL(), Err: err, Timestamp: time.Now(), Attempts: 1}
	}
	cm.setConnectionLocked(conn)

	cm.logger.Info("connected to RabbitMQ", "url", cm.URL())
	return nil
}

func (cm *ConnectionManager) dialWithTimeout(ctx context.Context) (*amqp.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, cm.dialTimeout)
	defer cancel()

	type result struct {
		conn *amqp.Connection
		err  error
	}
	dialed := make(chan result, 1)
	go func() {
		conn, err := cm.dial(cm.url)
		dialed <- result{conn, err}
	}()

	select {
	case r := <-dialed:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			// close a connection that arrives after we gave up
			if r := <-dialed; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ErrConnectionTimeout
	}
}

func (cm *ConnectionManager) setConnectionLocked(conn *amqp.Connection) {
	cm.conn = conn
	cm.connected = true
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go cm.watch(closed)
}

// watch re-dials after an unexpected close
func (cm *ConnectionManager) watch(closed <-chan *amqp.Error) {
	select {
	case <-cm.done:
		return
	case amqpErr, ok := <-closed:
		if ok && amqpErr != nil {
			cm.logger.Error("connection closed", "url", cm.URL(), "error", amqpErr)
		}
	}

	cm.mu.Lock()
	cm.connected = false
	cm.conn = nil
	cm.mu.Unlock()

	for attempt := 0; ; attempt++ {
		select {
		case <-cm.done:
			return
		case <-time.After(cm.backoff(attempt)):
		}

		conn, err := cm.dialWithTimeout(context.Background())
		if err != nil {
			cm.logger.Warn("reconnection failed", "url", cm.URL(), "attempt", attempt+1, "error", err)
			continue
		}

		cm.mu.Lock()
		select {
		case <-cm.done:
			cm.mu.Unlock()
			conn.Close()
			return
		default:
		}
		cm.setConnectionLocked(conn)
		cm.mu.Unlock()

		cm.logger.Info("reconnected to RabbitMQ", "url", cm.URL(), "attempts", attempt+1)
		return
	}
}

// backoff doubles the base delay per attempt up to maxDelay
func (cm *ConnectionManager) backoff(attempt int) time.Duration {
	delay := cm.reconnectDelay
	for i := 0; i < attempt && delay < cm.maxDelay; i++ {
		delay *= 2
	}
	if delay > cm.maxDelay {
		delay = cm.maxDelay
	}
	return delay
}

// Connection returns the live connection
func (cm *ConnectionManager) Connection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.connected || cm.conn == nil {
		return nil, ErrConnectionNotReady
	}
	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}
	return cm.conn, nil
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connected
}

// Close stops reconnection and closes the connection
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	select {
	case <-cm.done:
		return nil
	default:
		close(cm.done)
	}

	cm.connected = false
	if cm.conn == nil {
		return nil
	}
	err := cm.conn.Close()
	cm.conn = nil
	return err
}
