package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/canvasbridge/bridge"
)

func static(name string, status Status) Checker {
	return NewCheckerFunc(name, func(context.Context) CheckResult {
		return CheckResult{Name: name, Status: status}
	})
}

func TestRegistryCheck(t *testing.T) {
	t.Run("empty registry is healthy", func(t *testing.T) {
		health := NewRegistry().Check(context.Background())
		assert.Equal(t, StatusHealthy, health.Status)
		assert.Empty(t, health.Checks)
	})

	t.Run("worst status wins", func(t *testing.T) {
		tests := []struct {
			name     string
			statuses []Status
			want     Status
		}{
			{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
			{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
			{"unhealthy beats degraded", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				r := NewRegistry()
				for i, s := range tt.statuses {
					r.Register(static(string(rune('a'+i)), s))
				}
				health := r.Check(context.Background())
				assert.Equal(t, tt.want, health.Status)
				assert.Len(t, health.Checks, len(tt.statuses))
			})
		}
	})

	t.Run("slow checks time out unhealthy", func(t *testing.T) {
		r := NewRegistry()
		r.Register(static("fast", StatusHealthy))
		r.Register(NewCheckerFunc("slow", func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return CheckResult{Name: "slow", Status: StatusHealthy}
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		health := r.Check(ctx)
		assert.Equal(t, StatusUnhealthy, health.Status)
		assert.Equal(t, "check timed out", health.Checks["slow"].Message)
	})

	t.Run("metadata and names", func(t *testing.T) {
		r := NewRegistry()
		r.Register(static("b", StatusHealthy))
		r.Register(static("a", StatusHealthy))
		r.SetMetadata("version", "1.0.0")
		assert.Equal(t, []string{"a", "b"}, r.Names())

		r.Unregister("b")
		health := r.Check(context.Background())
		assert.Equal(t, "1.0.0", health.Metadata["version"])
		assert.Len(t, health.Checks, 1)
	})
}

func TestHandlers(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		path     string
		wantCode int
		wantBody string
	}{
		{"healthz healthy", StatusHealthy, "/healthz", http.StatusOK, ""},
		{"healthz degraded", StatusDegraded, "/healthz", http.StatusOK, ""},
		{"healthz unhealthy", StatusUnhealthy, "/healthz", http.StatusServiceUnavailable, ""},
		{"readyz degraded", StatusDegraded, "/readyz", http.StatusOK, "ready"},
		{"readyz unhealthy", StatusUnhealthy, "/readyz", http.StatusServiceUnavailable, "not ready"},
		{"livez unhealthy", StatusUnhealthy, "/livez", http.StatusOK, "alive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.Register(static("bridge", tt.status))
			mux := Mux(r, time.Second)

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
				return
			}
			var health OverallHealth
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
			assert.Equal(t, tt.status, health.Status)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}

	t.Run("healthz rejects POST", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHandler(NewRegistry(), time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

type stubBridge struct {
	state     bridge.State
	connected bool
	pending   int
}

func (s stubBridge) State() bridge.State { return s.state }
func (s stubBridge) IsConnected() bool   { return s.connected }
func (s stubBridge) PendingCount() int   { return s.pending }

func TestBridgeChecker(t *testing.T) {
	tests := []struct {
		name   string
		bridge stubBridge
		want   Status
	}{
		{"attached", stubBridge{state: bridge.StateListening, connected: true, pending: 2}, StatusHealthy},
		{"no peer", stubBridge{state: bridge.StateListening}, StatusDegraded},
		{"stopped", stubBridge{state: bridge.StateStopped}, StatusUnhealthy},
		{"starting", stubBridge{state: bridge.StateStarting}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewBridgeChecker(tt.bridge)
			result := checker.Check(context.Background())

			assert.Equal(t, "bridge", result.Name)
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, tt.bridge.state.String(), result.Details["state"])
			assert.Equal(t, tt.bridge.pending, result.Details["pending"])
		})
	}
}

type stubBroker struct {
	err error
}

func (s stubBroker) GetConnection() (*amqp.Connection, error) {
	return nil, s.err
}

func TestRabbitMQChecker(t *testing.T) {
	checker := NewRabbitMQChecker(stubBroker{err: errors.New("rabbitmq: connection not ready")}, "canvasbridge.commands")
	result := checker.Check(context.Background())

	assert.Equal(t, "rabbitmq", checker.Name())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "rabbitmq: connection not ready", result.Error)
}

func TestMemoryChecker(t *testing.T) {
	t.Run("healthy under thresholds", func(t *testing.T) {
		result := NewMemoryChecker(100000, 200000).Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Contains(t, result.Details, "goroutines")
	})

	t.Run("unhealthy over critical", func(t *testing.T) {
		result := NewMemoryChecker(0, 0).Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
	})

	t.Run("degraded over warning", func(t *testing.T) {
		result := NewMemoryChecker(0, 100000).Check(context.Background())
		assert.Equal(t, StatusDegraded, result.Status)
	})
}
