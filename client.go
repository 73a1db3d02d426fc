// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package canvasbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/glimte/canvasbridge/bridge"
	"github.com/glimte/canvasbridge/health"
	amqpingress "github.com/glimte/canvasbridge/ingress/amqp"
	mcpingress "github.com/glimte/canvasbridge/ingress/mcp"
	"github.com/glimte/canvasbridge/internal/config"
	"github.com/glimte/canvasbridge/internal/rabbitmq"
	"github.com/glimte/canvasbridge/internal/reliability"
	"github.com/glimte/canvasbridge/monitor"
	"github.com/glimte/canvasbridge/schema"
	"github.com/glimte/canvasbridge/transports/websocket"
)

const healthCheckTimeout = 5 * time.Second

// Client assembles the bridge with its WebSocket listener, schema
// validation, metrics, health endpoints and optional broker ingress.
// Construct one per process and hand it to the ingress adapters.
type Client struct {
	cfg     config.Config
	logger  *slog.Logger
	version string

	bridge    *bridge.Bridge
	validator *schema.Validator
	metrics   *monitor.BridgeMetrics
	health    *health.Registry

	conn       *rabbitmq.ConnectionManager
	amqpServer *amqpingress.Server
	reconnect  *reliability.ExponentialBackoff

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	healthSrv  *http.Server
	healthAddr string
}

// NewClient builds a stopped client from cfg
func NewClient(cfg config.Config, options ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := &clientConfig{
		logger:  slog.Default(),
		version: "dev",
	}
	for _, opt := range options {
		opt(opts)
	}

	c := &Client{
		cfg:       cfg,
		logger:    opts.logger,
		version:   opts.version,
		metrics:   monitor.NewBridgeMetrics(),
		health:    health.NewRegistry(),
		reconnect: reliability.NewExponentialBackoff(time.Second, 30*time.Second, 2.0, 0),
	}

	bridgeOpts := []bridge.Option{
		bridge.WithLogger(c.logger),
		bridge.WithObserver(c.metrics),
	}
	if cfg.SchemaValidation {
		validator, err := schema.NewCatalogueValidator()
		if err != nil {
			return nil, fmt.Errorf("failed to build schema validator: %w", err)
		}
		c.validator = validator
		bridgeOpts = append(bridgeOpts, bridge.WithValidator(validator))
	}
	bridgeOpts = append(bridgeOpts, opts.bridgeOptions...)

	listener := opts.listener
	if listener == nil {
		listener = websocket.NewListener(websocket.WithLogger(c.logger))
	}

	b, err := bridge.New(listener, bridgeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge: %w", err)
	}
	c.bridge = b

	c.health.SetMetadata("version", c.version)
	c.health.Register(health.NewBridgeChecker(b))
	c.health.Register(health.NewMemoryChecker(1000, 10000))

	if cfg.AMQPEnabled() {
		connOpts := []rabbitmq.ConnectionOption{rabbitmq.WithLogger(c.logger)}
		if opts.dialer != nil {
			connOpts = append(connOpts, rabbitmq.WithDialer(opts.dialer))
		}
		c.conn = rabbitmq.NewConnectionManager(cfg.AMQPURL, connOpts...)

		c.amqpServer, err = amqpingress.NewServer(b,
			amqpingress.WithQueue(cfg.AMQPQueue),
			amqpingress.WithPrefetch(cfg.AMQPPrefetch),
			amqpingress.WithServerLogger(c.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create amqp server: %w", err)
		}
		c.health.Register(health.NewRabbitMQChecker(c.conn, cfg.AMQPQueue))
	}

	return c, nil
}

// Start binds the WebSocket listener, then the health endpoint and the
// broker ingress when configured. On failure everything already started is
// stopped again.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("client already started")
	}

	if err := c.bridge.Start(ctx, c.cfg.ListenAddr()); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if c.cfg.HealthAddr != "" {
		if err := c.startHealth(); err != nil {
			cancel()
			_ = c.bridge.Stop()
			return err
		}
	}

	if c.conn != nil {
		if err := c.conn.Connect(ctx); err != nil {
			cancel()
			c.stopHealth()
			_ = c.bridge.Stop()
			return fmt.Errorf("failed to connect to broker: %w", err)
		}
		c.wg.Add(1)
		go c.serveAMQP(runCtx)
	}

	c.running = true
	c.logger.Info("canvasbridge started",
		"addr", c.bridge.Addr(),
		"health", c.healthAddr,
		"amqp", c.conn != nil,
		"version", c.version,
	)
	return nil
}

// Stop shuts down the ingress, then the bridge. Pending commands are
// rejected with contracts.ErrBridgeStopped.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	c.cancel()
	c.wg.Wait()

	var errs []error
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close broker connection: %w", err))
		}
	}
	if err := c.bridge.Stop(); err != nil {
		errs = append(errs, err)
	}
	c.stopHealth()

	c.logger.Info("canvasbridge stopped")
	return errors.Join(errs...)
}

// Bridge returns the command bridge
func (c *Client) Bridge() *bridge.Bridge {
	return c.bridge
}

// Sender returns the bridge as a bridge.Sender
func (c *Client) Sender() bridge.Sender {
	return c.bridge
}

// Metrics returns the command metrics collector
func (c *Client) Metrics() *monitor.BridgeMetrics {
	return c.metrics
}

// Health returns the health check registry
func (c *Client) Health() *health.Registry {
	return c.health
}

// Validator returns the schema validator, nil when validation is disabled
func (c *Client) Validator() *schema.Validator {
	return c.validator
}

// Addr returns the WebSocket listen address, "" when stopped
func (c *Client) Addr() string {
	return c.bridge.Addr()
}

// HealthAddr returns the bound health address, "" when not serving
func (c *Client) HealthAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthAddr
}

// NewMCPServer exposes the bridge as MCP tools
func (c *Client) NewMCPServer() (*mcpingress.Server, error) {
	return mcpingress.NewServer(c.bridge,
		mcpingress.WithStatus(c.bridge),
		mcpingress.WithLogger(c.logger),
		mcpingress.WithVersion(c.version),
	)
}

func (c *Client) startHealth() error {
	ln, err := net.Listen("tcp", c.cfg.HealthAddr)
	if err != nil {
		return fmt.Errorf("failed to bind health address %s: %w", c.cfg.HealthAddr, err)
	}

	mux := health.Mux(c.health, healthCheckTimeout)
	mux.Handle("/metrics", c.metrics.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	c.healthSrv = srv
	c.healthAddr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("health server failed", "error", err)
		}
	}()
	return nil
}

func (c *Client) stopHealth() {
	if c.healthSrv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.healthSrv.Shutdown(ctx); err != nil {
		c.logger.Warn("health server shutdown failed", "error", err)
	}
	c.healthSrv = nil
	c.healthAddr = ""
}

// serveAMQP keeps the broker ingress consuming across channel and
// connection failures until ctx ends
func (c *Client) serveAMQP(ctx context.Context) {
	defer c.wg.Done()

	for attempt := 0; ; attempt++ {
		err := c.serveAMQPOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, amqpingress.ErrDeliveriesClosed) {
			attempt = 0
		}

		delay := c.reconnect.NextDelay(attempt)
		c.logger.Warn("amqp ingress interrupted",
			"error", err,
			"retryIn", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) serveAMQPOnce(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return c.amqpServer.Serve(ctx, ch)
}

// clientConfig holds client configuration
type clientConfig struct {
	logger        *slog.Logger
	version       string
	listener      bridge.Listener
	dialer        rabbitmq.Dialer
	bridgeOptions []bridge.Option
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithVersion sets the version reported by health and MCP
func WithVersion(version string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.version = version
	}
}

// WithListener replaces the WebSocket listener
func WithListener(listener bridge.Listener) ClientOption {
	return func(cfg *clientConfig) {
		cfg.listener = listener
	}
}

// WithDialer replaces the broker dialer
func WithDialer(dial rabbitmq.Dialer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.dialer = dial
	}
}

// WithBridgeOptions appends options applied to the bridge
func WithBridgeOptions(opts ...bridge.Option) ClientOption {
	return func(cfg *clientConfig) {
		cfg.bridgeOptions = append(cfg.bridgeOptions, opts...)
	}
}
