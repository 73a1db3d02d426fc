package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/canvasbridge/bridge"
	"github.com/glimte/canvasbridge/contracts"
)

const replyPublishTimeout = 5 * time.Second

// Server forwards broker requests to a bridge
type Server struct {
	sender      bridge.Sender
	queue       string
	prefetch    int
	consumerTag string
	logger      *slog.Logger
}

// ServerOption configures the server
type ServerOption func(*Server)

// WithQueue sets the request queue
func WithQueue(queue string) ServerOption {
	return func(s *Server) {
		s.queue = queue
	}
}

// WithPrefetch bounds the number of requests handled concurrently
func WithPrefetch(count int) ServerOption {
	return func(s *Server) {
		s.prefetch = count
	}
}

// WithConsumerTag sets the consumer tag
func WithConsumerTag(tag string) ServerOption {
	return func(s *Server) {
		s.consumerTag = tag
	}
}

// WithServerLogger sets the logger
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server for sender
func NewServer(sender bridge.Sender, opts ...ServerOption) (*Server, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}

	s := &Server{
		sender:   sender,
		queue:    DefaultQueue,
		prefetch: 16,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.queue == "" {
		return nil, fmt.Errorf("queue cannot be empty")
	}
	if s.prefetch <= 0 {
		return nil, fmt.Errorf("prefetch must be positive, got %d", s.prefetch)
	}
	return s, nil
}

// Queue returns the request queue name
func (s *Server) Queue() string {
	return s.queue
}

// Serve declares the request queue and handles deliveries on ch until ctx
// ends or the broker closes the consumer. Requests in flight finish before
// Serve returns.
func (s *Server) Serve(ctx context.Context, ch Channel) error {
	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", s.queue, err)
	}
	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := ch.Consume(s.queue, s.consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", s.queue, err)
	}

	s.logger.Info("serving commands from queue",
		"queue", s.queue,
		"prefetch", s.prefetch,
	)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case d, ok := <-deliveries:
			if !ok {
				s.logger.Warn("delivery channel closed", "queue", s.queue)
				return ErrDeliveriesClosed
			}

			wg.Add(1)
			go func(d amqp091.Delivery) {
				defer wg.Done()
				s.handle(ctx, ch, d)
			}(d)
		}
	}
}

// handle answers one delivery and always acks it. Requests are never
// requeued since the plugin may already have run the command.
func (s *Server) handle(ctx context.Context, ch Channel, d amqp091.Delivery) {
	logger := s.logger.With("correlationId", d.CorrelationId)
	defer func() {
		if err := d.Ack(false); err != nil {
			logger.Error("failed to ack request", "error", err)
		}
	}()

	if d.ReplyTo == "" {
		logger.Warn("dropping request without reply_to")
		return
	}

	var reply Reply
	if d.CorrelationId == "" {
		reply = Reply{Error: "missing correlation_id", ErrorKind: contracts.KindMalformed}
	} else if req, err := DecodeRequest(d.Body); err != nil {
		reply = Reply{ID: d.CorrelationId, Error: err.Error(), ErrorKind: contracts.KindMalformed}
	} else {
		logger.Debug("forwarding request", "type", req.Type)
		result, err := s.sender.Send(ctx, req.Type, req.Params)
		reply = NewReply(d.CorrelationId, result, err)
	}

	if !reply.Success {
		logger.Info("request failed",
			"errorKind", reply.ErrorKind,
			"error", reply.Error,
		)
	}

	if err := s.publish(ctx, ch, d, reply); err != nil {
		logger.Error("failed to publish reply",
			"replyTo", d.ReplyTo,
			"error", err,
		)
	}
}

func (s *Server) publish(ctx context.Context, ch Channel, d amqp091.Delivery, reply Reply) error {
	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}

	// shutdown must not cancel replies for commands that already ran
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyPublishTimeout)
	defer cancel()

	return ch.PublishWithContext(pubCtx, "", d.ReplyTo, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		CorrelationId: d.CorrelationId,
		Timestamp:     time.Now(),
		Body:          body,
	})
}
