package reliability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualTime struct {
	mu  sync.Mutex
	now time.Time
}

func (m *manualTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

type stateRecorder struct {
	mu    sync.Mutex
	moves []string
}

func (r *stateRecorder) OnStateChange(name string, from, to State, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves = append(r.moves, from.String()+"->"+to.String())
}

func (r *stateRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.moves...)
}

var errBroker = errors.New("broker unavailable")

func failing(context.Context) error { return errBroker }
func succeeding(context.Context) error { return nil }

func TestCircuitBreaker(t *testing.T) {
	t.Run("starts closed", func(t *testing.T) {
		cb := NewCircuitBreaker()
		assert.Equal(t, StateClosed, cb.State())
		assert.NoError(t, cb.Execute(context.Background(), succeeding))
	})

	t.Run("opens after threshold and fails fast", func(t *testing.T) {
		clock := &manualTime{now: time.Unix(0, 0)}
		cb := NewCircuitBreaker(WithName("amqp"), WithFailureThreshold(3), withNow(clock.Now))

		for i := 0; i < 3; i++ {
			assert.ErrorIs(t, cb.Execute(context.Background(), failing), errBroker)
		}
		assert.Equal(t, StateOpen, cb.State())

		called := false
		err := cb.Execute(context.Background(), func(context.Context) error {
			called = true
			return nil
		})
		var cbErr *CircuitBreakerError
		require.ErrorAs(t, err, &cbErr)
		assert.Equal(t, StateOpen, cbErr.State)
		assert.Equal(t, "amqp", cbErr.Name)
		assert.False(t, called)
	})

	t.Run("success in closed state resets failures", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(2))
		_ = cb.Execute(context.Background(), failing)
		_ = cb.Execute(context.Background(), succeeding)
		_ = cb.Execute(context.Background(), failing)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("half-open probe closes the circuit", func(t *testing.T) {
		clock := &manualTime{now: time.Unix(0, 0)}
		rec := &stateRecorder{}
		cb := NewCircuitBreaker(
			WithFailureThreshold(1),
			WithSuccessThreshold(1),
			WithTimeout(time.Minute),
			WithStateListener(rec),
			withNow(clock.Now),
		)

		_ = cb.Execute(context.Background(), failing)
		require.Equal(t, StateOpen, cb.State())

		clock.Advance(time.Minute)
		require.NoError(t, cb.Execute(context.Background(), succeeding))
		assert.Equal(t, StateClosed, cb.State())

		require.Eventually(t, func() bool { return len(rec.all()) == 3 }, time.Second, time.Millisecond)
		assert.ElementsMatch(t, []string{"closed->open", "open->half-open", "half-open->closed"}, rec.all())
	})

	t.Run("failed probe reopens", func(t *testing.T) {
		clock := &manualTime{now: time.Unix(0, 0)}
		cb := NewCircuitBreaker(WithFailureThreshold(1), WithTimeout(time.Second), withNow(clock.Now))

		_ = cb.Execute(context.Background(), failing)
		clock.Advance(time.Second)
		_ = cb.Execute(context.Background(), failing)
		assert.Equal(t, StateOpen, cb.State())
	})

	t.Run("half-open limits concurrent probes", func(t *testing.T) {
		clock := &manualTime{now: time.Unix(0, 0)}
		cb := NewCircuitBreaker(WithFailureThreshold(1), WithTimeout(time.Second), WithHalfOpenRequests(1), withNow(clock.Now))
		_ = cb.Execute(context.Background(), failing)
		clock.Advance(time.Second)

		probing := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- cb.Execute(context.Background(), func(context.Context) error {
				close(probing)
				<-release
				return nil
			})
		}()
		<-probing

		err := cb.Execute(context.Background(), succeeding)
		var cbErr *CircuitBreakerError
		require.ErrorAs(t, err, &cbErr)
		assert.Equal(t, StateHalfOpen, cbErr.State)

		close(release)
		assert.NoError(t, <-done)
	})

	t.Run("classifier ignores caller errors", func(t *testing.T) {
		callerErr := errors.New("peer said no")
		cb := NewCircuitBreaker(
			WithFailureThreshold(1),
			WithFailureClassifier(func(err error) bool { return errors.Is(err, errBroker) }),
		)

		assert.ErrorIs(t, cb.Execute(context.Background(), func(context.Context) error { return callerErr }), callerErr)
		assert.Equal(t, StateClosed, cb.State())

		_ = cb.Execute(context.Background(), failing)
		assert.Equal(t, StateOpen, cb.State())
	})

	t.Run("Reset closes", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(1))
		_ = cb.Execute(context.Background(), failing)
		cb.Reset()
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("cancelled context is not a failure", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(1))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, cb.Execute(ctx, failing), context.Canceled)
		assert.Equal(t, StateClosed, cb.State())
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
