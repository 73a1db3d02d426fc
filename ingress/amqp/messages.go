package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/canvasbridge/contracts"
)

// DefaultQueue is the durable queue the server consumes requests from
const DefaultQueue = "canvasbridge.commands"

var (
	// ErrDeliveriesClosed is returned by Serve when the broker closes the consumer
	ErrDeliveriesClosed = errors.New("amqp: delivery channel closed")

	// ErrClientClosed is returned for sends on, or pending in, a closed client
	ErrClientClosed = errors.New("amqp: client closed")
)

// Channel is the part of *amqp091.Channel the ingress uses
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

var _ Channel = (*amqp091.Channel)(nil)

// Request asks the bridge to send one command
type Request struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// DecodeRequest parses a request body
func DecodeRequest(body []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if strings.TrimSpace(req.Type) == "" {
		return nil, fmt.Errorf("invalid request body: missing type")
	}
	return &req, nil
}

// Reply reports the outcome of a request
type Reply struct {
	ID        string          `json:"id"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"errorKind,omitempty"`
}

// NewReply builds the reply for a send outcome
func NewReply(id string, result json.RawMessage, err error) Reply {
	if err != nil {
		return Reply{ID: id, Error: err.Error(), ErrorKind: contracts.ErrorKind(err)}
	}
	return Reply{ID: id, Success: true, Result: result}
}

// Err returns nil for a successful reply and a *RemoteError otherwise
func (r Reply) Err(commandType string) error {
	if r.Success {
		return nil
	}
	return &RemoteError{Type: commandType, Kind: r.ErrorKind, Message: r.Error}
}

// RemoteError is a failure reported by a remote bridge
type RemoteError struct {
	Type    string
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed (%s): %s", e.Type, e.Kind, e.Message)
}

// Unwrap maps a stopped bridge back to contracts.ErrBridgeStopped
func (e *RemoteError) Unwrap() error {
	if e.Kind == contracts.KindStopped {
		return contracts.ErrBridgeStopped
	}
	return nil
}

// IsRetryable reports true only when the remote bridge had no plugin attached
func (e *RemoteError) IsRetryable() bool {
	return e.Kind == contracts.KindNotConnected
}
