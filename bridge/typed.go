package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/glimte/canvasbridge/contracts"
)

// SendTyped sends a command and decodes its result into R
func SendTyped[R any](ctx context.Context, s Sender, commandType string, params any) (R, error) {
	var result R

	raw, err := s.Send(ctx, commandType, params)
	if err != nil {
		return result, err
	}

	if len(raw) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("failed to decode %s result: %w", commandType, err)
	}
	return result, nil
}

// Invoke sends params under the command type registered for their Go type
func Invoke[R any](ctx context.Context, s Sender, params any) (R, error) {
	commandType, ok := contracts.TypeOf(params)
	if !ok {
		var zero R
		return zero, fmt.Errorf("no command type registered for %T", params)
	}
	return SendTyped[R](ctx, s, commandType, params)
}
