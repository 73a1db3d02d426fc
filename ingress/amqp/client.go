package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/canvasbridge/bridge"
	"github.com/glimte/canvasbridge/contracts"
	"github.com/glimte/canvasbridge/internal/reliability"
)

// DefaultClientTimeout leaves room for the bridge's own command timeout
const DefaultClientTimeout = 35 * time.Second

// Client sends commands to a remote bridge through the broker
type Client struct {
	ch         Channel
	queue      string
	replyQueue string
	timeout    time.Duration
	breaker    *reliability.CircuitBreaker
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]chan Reply
	closed  bool

	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
}

var _ bridge.Sender = (*Client)(nil)

// ClientOption configures the client
type ClientOption func(*Client)

// WithRequestQueue sets the queue requests are published to
func WithRequestQueue(queue string) ClientOption {
	return func(c *Client) {
		c.queue = queue
	}
}

// WithTimeout bounds how long Send waits for a reply
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithCircuitBreaker guards request publishing with cb
func WithCircuitBreaker(cb *reliability.CircuitBreaker) ClientOption {
	return func(c *Client) {
		c.breaker = cb
	}
}

// WithClientLogger sets the logger
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient declares an exclusive reply queue on ch and starts consuming it.
// The caller keeps ownership of ch.
func NewClient(ch Channel, opts ...ClientOption) (*Client, error) {
	if ch == nil {
		return nil, fmt.Errorf("channel cannot be nil")
	}

	c := &Client{
		ch:       ch,
		queue:    DefaultQueue,
		timeout:  DefaultClientTimeout,
		logger:   slog.Default(),
		pending:  make(map[string]chan Reply),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", c.timeout)
	}
	if c.breaker == nil {
		c.breaker = reliability.NewCircuitBreaker(
			reliability.WithName("amqp-publish"),
			reliability.WithFailureThreshold(5),
			reliability.WithTimeout(30*time.Second),
		)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare reply queue: %w", err)
	}
	replies, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume reply queue %s: %w", q.Name, err)
	}
	c.replyQueue = q.Name

	go c.run(replies)
	return c, nil
}

// ReplyQueue returns the name of the exclusive reply queue
func (c *Client) ReplyQueue() string {
	return c.replyQueue
}

// Send publishes a request and waits for its reply. Failures reported by the
// remote bridge come back as *RemoteError.
func (c *Client) Send(ctx context.Context, commandType string, params any) (json.RawMessage, error) {
	raw, err := contracts.MarshalParams(params)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(Request{Type: commandType, Params: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	id := uuid.NewString()
	replyCh := make(chan Reply, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.pending[id] = replyCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.ch.PublishWithContext(ctx, "", c.queue, false, false, amqp091.Publishing{
			ContentType:   "application/json",
			CorrelationId: id,
			ReplyTo:       c.replyQueue,
			Timestamp:     time.Now(),
			Body:          body,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to publish %s request: %w", commandType, err)
	}

	c.logger.Debug("published request",
		"type", commandType,
		"correlationId", id,
	)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		if err := reply.Err(commandType); err != nil {
			return nil, err
		}
		return reply.Result, nil
	case <-timer.C:
		return nil, &contracts.TimeoutError{Type: commandType, ID: id, Timeout: c.timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClientClosed
	}
}

// Close stops consuming replies and fails every pending send with
// ErrClientClosed. It does not close the channel.
func (c *Client) Close() error {
	c.stop()
	<-c.loopDone
	return nil
}

func (c *Client) stop() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Client) run(replies <-chan amqp091.Delivery) {
	defer close(c.loopDone)

	for {
		select {
		case <-c.done:
			return
		case d, ok := <-replies:
			if !ok {
				c.logger.Warn("reply queue consumer closed", "queue", c.replyQueue)
				c.stop()
				return
			}
			c.dispatch(d)
		}
	}
}

func (c *Client) dispatch(d amqp091.Delivery) {
	var reply Reply
	if err := json.Unmarshal(d.Body, &reply); err != nil {
		c.logger.Warn("dropping undecodable reply",
			"correlationId", d.CorrelationId,
			"error", err,
		)
		return
	}

	c.mu.Lock()
	replyCh, ok := c.pending[d.CorrelationId]
	delete(c.pending, d.CorrelationId)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping reply for unknown request", "correlationId", d.CorrelationId)
		return
	}
	replyCh <- reply
}
