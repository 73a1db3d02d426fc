package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/canvasbridge/bridge"
)

// BridgeStatus is the bridge state a BridgeChecker reads
type BridgeStatus interface {
	State() bridge.State
	IsConnected() bool
	PendingCount() int
}

// BridgeChecker reports healthy with a plugin attached, degraded while
// listening without one and unhealthy when the bridge is not listening
type BridgeChecker struct {
	bridge BridgeStatus
}

// NewBridgeChecker creates a bridge checker
func NewBridgeChecker(b BridgeStatus) *BridgeChecker {
	return &BridgeChecker{bridge: b}
}

func (c *BridgeChecker) Name() string {
	return "bridge"
}

func (c *BridgeChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	state := c.bridge.State()
	connected := c.bridge.IsConnected()

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]any{
			"state":            state.String(),
			"plugin_connected": connected,
			"pending":          c.bridge.PendingCount(),
		},
	}

	switch {
	case state != bridge.StateListening:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("bridge is %s", state)
	case !connected:
		result.Status = StatusDegraded
		result.Message = "listening, plugin not connected"
	default:
		result.Status = StatusHealthy
		result.Message = "plugin connected"
	}

	result.Duration = time.Since(start)
	return result
}

// BrokerConnection is the broker state a RabbitMQChecker reads
type BrokerConnection interface {
	GetConnection() (*amqp.Connection, error)
}

// RabbitMQChecker checks the broker connection by opening a channel and
// passively declaring the command queue
type RabbitMQChecker struct {
	conn  BrokerConnection
	queue string
}

// NewRabbitMQChecker creates a broker checker. An empty queue skips the
// passive declare.
func NewRabbitMQChecker(conn BrokerConnection, queue string) *RabbitMQChecker {
	return &RabbitMQChecker{conn: conn, queue: queue}
}

func (c *RabbitMQChecker) Name() string {
	return "rabbitmq"
}

func (c *RabbitMQChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}
	done := func(status Status, message string, err error) CheckResult {
		result.Status = status
		result.Message = message
		if err != nil {
			result.Error = err.Error()
		}
		result.Duration = time.Since(start)
		return result
	}

	conn, err := c.conn.GetConnection()
	if err != nil {
		return done(StatusUnhealthy, "no broker connection", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return done(StatusUnhealthy, "failed to open channel", err)
	}
	defer ch.Close()

	if c.queue != "" {
		q, err := ch.QueueDeclarePassive(c.queue, true, false, false, false, nil)
		if err != nil {
			return done(StatusDegraded, fmt.Sprintf("queue %s not accessible", c.queue), err)
		}
		result.Details["queue"] = q.Name
		result.Details["messages"] = q.Messages
		result.Details["consumers"] = q.Consumers
	}

	return done(StatusHealthy, "broker connection is healthy", nil)
}

// MemoryChecker flags runaway goroutine counts
type MemoryChecker struct {
	warnGoroutines     int
	criticalGoroutines int
}

// NewMemoryChecker creates a memory checker with goroutine thresholds
func NewMemoryChecker(warnGoroutines, criticalGoroutines int) *MemoryChecker {
	return &MemoryChecker{
		warnGoroutines:     warnGoroutines,
		criticalGoroutines: criticalGoroutines,
	}
}

func (c *MemoryChecker) Name() string {
	return "memory"
}

func (c *MemoryChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]any{
			"heap_alloc_mb": float64(m.HeapAlloc) / 1024 / 1024,
			"sys_mb":        float64(m.Sys) / 1024 / 1024,
			"gc_runs":       m.NumGC,
			"goroutines":    goroutines,
		},
	}

	switch {
	case goroutines > c.criticalGoroutines:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("too many goroutines: %d", goroutines)
	case goroutines > c.warnGoroutines:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("high goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "memory usage is normal"
	}

	result.Duration = time.Since(start)
	return result
}
