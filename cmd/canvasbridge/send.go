package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"

	"github.com/glimte/canvasbridge"
	"github.com/glimte/canvasbridge/contracts"
	amqpingress "github.com/glimte/canvasbridge/ingress/amqp"
	"github.com/glimte/canvasbridge/internal/config"
	"github.com/glimte/canvasbridge/internal/reliability"
)

const pluginPollInterval = 250 * time.Millisecond

func newSendCmd() *cobra.Command {
	var (
		wait    time.Duration
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send TYPE [PARAMS_JSON]",
		Short: "Send one command and print its result",
		Long: `Send one command and print the JSON result on stdout.

Without an AMQP URL a bridge is started locally and the command is sent once
the plugin connects, waiting up to --wait. With --amqp-url the command goes
through a running "canvasbridge serve" via the broker.`,
		Example: `  canvasbridge send GET_SELECTION
  canvasbridge send CREATE_FRAME '{"width":100,"height":100}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			commandType := strings.ToUpper(args[0])
			var params json.RawMessage
			if len(args) == 2 {
				params, err = contracts.MarshalParams(json.RawMessage(args[1]))
				if err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var result json.RawMessage
			if cfg.AMQPEnabled() {
				result, err = sendViaBroker(ctx, cfg, commandType, params, timeout)
			} else {
				result, err = sendLocal(ctx, cfg, commandType, params, wait)
			}
			if err != nil {
				return err
			}

			if len(result) == 0 {
				result = json.RawMessage(`null`)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(result))
			return err
		},
	}

	flags := cmd.Flags()
	flags.Int("port", 9001, "WebSocket port (env CANVASBRIDGE_PORT)")
	flags.String("host", "", "WebSocket host (env CANVASBRIDGE_HOST)")
	flags.String("amqp-url", "", "Send through the broker instead of a local bridge (env CANVASBRIDGE_AMQP_URL)")
	flags.String("amqp-queue", "", "RabbitMQ request queue (env CANVASBRIDGE_AMQP_QUEUE)")
	flags.DurationVar(&wait, "wait", 30*time.Second, "How long to wait for the plugin to connect")
	flags.DurationVar(&timeout, "timeout", amqpingress.DefaultClientTimeout, "How long to wait for a broker reply")
	return cmd
}

func sendLocal(ctx context.Context, cfg config.Config, commandType string, params json.RawMessage, wait time.Duration) (json.RawMessage, error) {
	cfg.HealthAddr = ""
	cfg.AMQPURL = ""

	client, err := canvasbridge.NewClient(cfg, canvasbridge.WithLogger(newLogger(cfg)), canvasbridge.WithVersion(version))
	if err != nil {
		return nil, err
	}
	if err := client.Start(ctx); err != nil {
		return nil, err
	}
	defer client.Stop()

	// only NotConnectedError is retryable
	policy := reliability.NewFixedDelay(pluginPollInterval, int(wait/pluginPollInterval))

	var result json.RawMessage
	err = reliability.Retry(ctx, "send "+commandType, policy, func(ctx context.Context) error {
		var sendErr error
		result, sendErr = client.Sender().Send(ctx, commandType, params)
		return sendErr
	})
	return result, err
}

func sendViaBroker(ctx context.Context, cfg config.Config, commandType string, params json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	client, err := amqpingress.NewClient(ch,
		amqpingress.WithRequestQueue(cfg.AMQPQueue),
		amqpingress.WithTimeout(timeout),
		amqpingress.WithClientLogger(newLogger(cfg)),
	)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	return client.Send(ctx, commandType, params)
}
