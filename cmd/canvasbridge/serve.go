package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/glimte/canvasbridge"
	"github.com/glimte/canvasbridge/internal/otel"
)

func newServeCmd() *cobra.Command {
	var withMCP bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for the plugin and serve commands",
		Long: `Listen for the design tool plugin on the WebSocket port. With --mcp the
command catalogue is served as MCP tools over stdio. With an AMQP URL, requests
are also consumed from the broker.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := otel.Setup(ctx, "canvasbridge", cfg.OTelEndpoint)
			if err != nil {
				return fmt.Errorf("failed to set up tracing: %w", err)
			}
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.Warn("tracing shutdown failed", "error", err)
				}
			}()

			client, err := canvasbridge.NewClient(cfg,
				canvasbridge.WithLogger(logger),
				canvasbridge.WithVersion(version),
			)
			if err != nil {
				return err
			}
			if err := client.Start(ctx); err != nil {
				return err
			}
			defer client.Stop()

			if !withMCP {
				<-ctx.Done()
				logger.Info("shutting down")
				return nil
			}

			server, err := client.NewMCPServer()
			if err != nil {
				return err
			}
			if err := server.RunStdio(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Int("port", 9001, "WebSocket port (env CANVASBRIDGE_PORT)")
	flags.String("host", "", "WebSocket host (env CANVASBRIDGE_HOST)")
	flags.String("health-addr", "", "Health and metrics address, e.g. :8080 (env CANVASBRIDGE_HEALTH_ADDR)")
	flags.String("amqp-url", "", "RabbitMQ URL enabling the broker ingress (env CANVASBRIDGE_AMQP_URL)")
	flags.String("amqp-queue", "", "RabbitMQ request queue (env CANVASBRIDGE_AMQP_QUEUE)")
	flags.BoolVar(&withMCP, "mcp", false, "Serve MCP tools over stdio")
	return cmd
}
