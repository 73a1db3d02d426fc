// Package reliability provides caller-side retry and circuit breaking.
//
// The bridge itself never retries: a command that reached the plugin may have
// run. Callers opt in per error. NotConnected failures mark themselves
// retryable, so a controller can wait for the plugin to reconnect:
//
//	policy := reliability.NewExponentialBackoff(200*time.Millisecond, 5*time.Second, 2.0, 10)
//	err := reliability.Retry(ctx, "send", policy, func(ctx context.Context) error {
//	    result, err = b.Send(ctx, contracts.GetSelection, nil)
//	    return err
//	})
//
// The circuit breaker guards broker calls made by remote controllers.
package reliability
