package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/canvasbridge/contracts"
)

// DefaultCommandTimeout is the fixed window a peer has to answer a command
const DefaultCommandTimeout = 30 * time.Second

const tracerName = "github.com/glimte/canvasbridge/bridge"

// State is the bridge lifecycle state
type State int

const (
	StateStopped State = iota
	StateStarting
	StateListening
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	default:
		return "unknown"
	}
}

// ParamsValidator checks command params before they are sent
type ParamsValidator interface {
	Validate(commandType string, params json.RawMessage) error
}

// Observer receives command lifecycle notifications
type Observer interface {
	CommandSent(commandType string)
	CommandSettled(commandType string, outcome string, latency time.Duration)
	FrameDropped(reason string)
}

// Outcomes reported to an Observer besides the contracts error kinds
const (
	OutcomeResolved = "resolved"

	DropMalformed = "malformed"
	DropUnmatched = "unmatched"
)

type noopObserver struct{}

func (noopObserver) CommandSent(string)                          {}
func (noopObserver) CommandSettled(string, string, time.Duration) {}
func (noopObserver) FrameDropped(string)                         {}

// Sender is the collaborator-facing send contract
type Sender interface {
	Send(ctx context.Context, commandType string, params any) (json.RawMessage, error)
}

// Option configures the bridge
type Option func(*Config)

// Config holds configuration for the bridge
type Config struct {
	Logger         *slog.Logger
	Clock          Clock
	CommandTimeout time.Duration
	Validator      ParamsValidator
	Observer       Observer
	Tracer         trace.Tracer
	Listeners      []ConnectionListener
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithClock sets the clock used for timestamps and timeouts
func WithClock(clock Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithCommandTimeout overrides the command timeout. Production code keeps
// DefaultCommandTimeout; tests shrink it.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.CommandTimeout = timeout
	}
}

// WithValidator validates params of every command before it is sent
func WithValidator(validator ParamsValidator) Option {
	return func(c *Config) {
		c.Validator = validator
	}
}

// WithObserver reports command outcomes to observer
func WithObserver(observer Observer) Option {
	return func(c *Config) {
		c.Observer = observer
	}
}

// WithTracer sets the tracer used for send spans
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Config) {
		c.Tracer = tracer
	}
}

// WithConnectionListener adds a peer attach/detach listener
func WithConnectionListener(listener ConnectionListener) Option {
	return func(c *Config) {
		c.Listeners = append(c.Listeners, listener)
	}
}

// Bridge correlates commands sent to the plugin with the responses it returns
type Bridge struct {
	listener  Listener
	registry  *ConnectionRegistry
	pending   *PendingTable
	logger    *slog.Logger
	clock     Clock
	timeout   time.Duration
	validator ParamsValidator
	observer  Observer
	tracer    trace.Tracer

	mu       sync.RWMutex
	state    State
	loopDone chan struct{}
}

// New creates a stopped bridge that accepts peers through listener
func New(listener Listener, opts ...Option) (*Bridge, error) {
	if listener == nil {
		return nil, fmt.Errorf("listener cannot be nil")
	}

	config := &Config{
		Logger:         slog.Default(),
		Clock:          SystemClock(),
		CommandTimeout: DefaultCommandTimeout,
		Observer:       noopObserver{},
	}

	for _, opt := range opts {
		opt(config)
	}

	if config.CommandTimeout <= 0 {
		return nil, fmt.Errorf("command timeout must be positive")
	}
	if config.Tracer == nil {
		config.Tracer = otel.Tracer(tracerName)
	}
	if config.Observer == nil {
		config.Observer = noopObserver{}
	}

	registry := NewConnectionRegistry(config.Logger)
	for _, l := range config.Listeners {
		registry.AddListener(l)
	}

	return &Bridge{
		listener:  listener,
		registry:  registry,
		pending:   NewPendingTable(config.Clock, config.Logger),
		logger:    config.Logger,
		clock:     config.Clock,
		timeout:   config.CommandTimeout,
		validator: config.Validator,
		observer:  config.Observer,
		tracer:    config.Tracer,
	}, nil
}

// Start binds addr and begins accepting peers. A bind failure is returned as
// *contracts.TransportFatalError and leaves the bridge stopped.
func (b *Bridge) Start(ctx context.Context, addr string) error {
	b.mu.Lock()
	if b.state != StateStopped {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("bridge is already %s", state)
	}
	b.state = StateStarting
	b.mu.Unlock()

	events, err := b.listener.Listen(ctx, addr)
	if err != nil {
		b.mu.Lock()
		b.state = StateStopped
		b.mu.Unlock()

		var fatal *contracts.TransportFatalError
		if !errors.As(err, &fatal) {
			err = &contracts.TransportFatalError{Addr: addr, Err: err}
		}
		b.logger.Error("bridge failed to start", "addr", addr, "error", err)
		return err
	}

	done := make(chan struct{})
	b.mu.Lock()
	if b.state != StateStarting {
		// Stop ran while Listen was binding
		b.mu.Unlock()
		b.abandon(events)
		b.logger.Info("bridge stopped before it started listening", "addr", addr)
		return contracts.ErrBridgeStopped
	}
	b.state = StateListening
	b.loopDone = done
	b.mu.Unlock()

	go b.run(events, done)

	b.logger.Info("bridge listening", "addr", b.listener.Addr())
	return nil
}

// abandon closes a listener bound after Stop and closes any peer it accepted
func (b *Bridge) abandon(events <-chan Event) {
	if err := b.listener.Close(); err != nil {
		b.logger.Debug("closing listener failed", "error", err)
	}
	for ev := range events {
		if ev.Kind == EventConnected && ev.Peer != nil {
			_ = ev.Peer.Close()
		}
	}
}

// Stop closes the listener and the active peer, then rejects every pending
// command with contracts.ErrBridgeStopped. Calling Stop again is a no-op.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if b.state == StateStopped {
		b.mu.Unlock()
		return nil
	}
	b.state = StateStopped
	done := b.loopDone
	b.loopDone = nil
	b.mu.Unlock()

	err := b.listener.Close()
	if done != nil {
		<-done
	}
	if closeErr := b.registry.Close(); closeErr != nil {
		b.logger.Debug("closing active peer failed", "error", closeErr)
	}

	drained := b.pending.Drain(contracts.ErrBridgeStopped)
	b.logger.Info("bridge stopped", "drained", drained)

	if err != nil {
		return fmt.Errorf("failed to close listener: %w", err)
	}
	return nil
}

// IsConnected reports whether a peer is attached and open
func (b *Bridge) IsConnected() bool {
	return b.registry.IsConnected()
}

// State returns the lifecycle state
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Addr returns the listening address, or "" when stopped
func (b *Bridge) Addr() string {
	if b.State() != StateListening {
		return ""
	}
	return b.listener.Addr()
}

// PendingCount returns the number of in-flight commands
func (b *Bridge) PendingCount() int {
	return b.pending.Len()
}

// Registry returns the connection registry
func (b *Bridge) Registry() *ConnectionRegistry {
	return b.registry
}

type outcome struct {
	result json.RawMessage
	err    error
}

// Send issues a command to the active peer and waits for its outcome.
//
// Send fails immediately with *contracts.NotConnectedError when no peer is
// attached; nothing is queued. Otherwise it returns the peer's result, a
// *contracts.PeerError, a *contracts.TimeoutError or contracts.ErrBridgeStopped.
// If ctx ends first Send returns ctx.Err(), but the command stays pending until
// its response or timeout.
func (b *Bridge) Send(ctx context.Context, commandType string, params any) (json.RawMessage, error) {
	ctx, span := b.tracer.Start(ctx, "canvasbridge.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("command.type", commandType)))
	defer span.End()

	result, err := b.send(ctx, span, commandType, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, contracts.ErrorKind(err))
	}
	return result, err
}

func (b *Bridge) send(ctx context.Context, span trace.Span, commandType string, params any) (json.RawMessage, error) {
	cmd, err := contracts.NewCommand(commandType, params, b.clock.Now())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("command.id", cmd.ID))

	if b.validator != nil {
		if err := b.validator.Validate(cmd.Type, cmd.Params); err != nil {
			return nil, err
		}
	}

	data, err := cmd.Encode()
	if err != nil {
		return nil, err
	}

	done := make(chan outcome, 1)
	sentAt := b.clock.Now()
	resolve := func(result json.RawMessage) {
		b.observer.CommandSettled(cmd.Type, OutcomeResolved, b.clock.Now().Sub(sentAt))
		done <- outcome{result: result}
	}
	reject := func(err error) {
		b.observer.CommandSettled(cmd.Type, contracts.ErrorKind(err), b.clock.Now().Sub(sentAt))
		done <- outcome{err: err}
	}

	// Holding the read lock keeps Stop from draining between the state check
	// and the registration.
	b.mu.RLock()
	if b.state != StateListening {
		b.mu.RUnlock()
		return nil, contracts.ErrBridgeStopped
	}
	peer := b.registry.Active()
	if peer == nil || !peer.IsOpen() {
		b.mu.RUnlock()
		b.logger.Warn("command not sent, plugin not connected", "type", cmd.Type, "id", cmd.ID)
		return nil, &contracts.NotConnectedError{Type: cmd.Type}
	}
	err = b.pending.Register(cmd.ID, cmd.Type, resolve, reject, b.timeout)
	b.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	b.logger.Info("sending command", "type", cmd.Type, "id", cmd.ID, "peer", peer.ID())
	b.observer.CommandSent(cmd.Type)

	if err := peer.Send(data); err != nil {
		b.logger.Error("failed to write command", "type", cmd.Type, "id", cmd.ID, "error", err)
		b.pending.Reject(cmd.ID, &contracts.NotConnectedError{Type: cmd.Type, Cause: err})
	}

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run consumes transport events until the listener closes the channel
func (b *Bridge) run(events <-chan Event, done chan struct{}) {
	defer close(done)

	for ev := range events {
		b.handleEvent(ev)
	}
}

func (b *Bridge) handleEvent(ev Event) {
	switch ev.Kind {
	case EventConnected:
		b.registry.Attach(ev.Peer)
	case EventDisconnected:
		if ev.Err != nil {
			b.logger.Warn("plugin connection lost", "peer", peerID(ev.Peer), "error", ev.Err)
		}
		b.registry.Detach(ev.Peer)
	case EventFrame:
		b.handleFrame(ev.Peer, ev.Data)
	default:
		b.logger.Warn("ignoring unknown transport event", "kind", ev.Kind)
	}
}

// handleFrame settles the pending command a response refers to. Malformed and
// unmatched frames are logged and dropped.
func (b *Bridge) handleFrame(peer Peer, data []byte) {
	resp, err := contracts.DecodeResponse(data)
	if err != nil {
		var malformed *contracts.MalformedFrameError
		if errors.As(err, &malformed) {
			b.logger.Warn("dropping malformed frame", "peer", peerID(peer), "reason", malformed.Reason, "frame", malformed.Raw)
		} else {
			b.logger.Warn("dropping malformed frame", "peer", peerID(peer), "error", err)
		}
		b.observer.FrameDropped(DropMalformed)
		return
	}

	var settled bool
	if resp.Success {
		settled = b.pending.Resolve(resp.ID, resp.Result)
	} else {
		cmdType, _ := b.pending.CommandType(resp.ID)
		settled = b.pending.Reject(resp.ID, &contracts.PeerError{
			Type:    cmdType,
			ID:      resp.ID,
			Message: resp.Error,
		})
	}

	if !settled {
		b.observer.FrameDropped(DropUnmatched)
		return
	}
	b.logger.Debug("command settled", "id", resp.ID, "success", resp.Success)
}

func peerID(peer Peer) string {
	if peer == nil {
		return ""
	}
	return peer.ID()
}
