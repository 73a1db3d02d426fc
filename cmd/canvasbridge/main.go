package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/glimte/canvasbridge/contracts"
	"github.com/glimte/canvasbridge/internal/config"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "canvasbridge",
		Short: "Bridge controllers to a design tool plugin over WebSocket",
		Long: `canvasbridge accepts a WebSocket connection from a design tool plugin and
relays structured commands to it, matching each response to its command by id.
Commands can come from MCP clients over stdio, from RabbitMQ, or from the CLI.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error (env CANVASBRIDGE_LOG_LEVEL)")

	rootCmd.AddCommand(newServeCmd(), newSendCmd(), newTypesCmd(), newVersionCmd())
	return rootCmd
}

// loadConfig reads the environment, then applies flags the user set
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Lookup("port") != nil && flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Lookup("host") != nil && flags.Changed("host") {
		cfg.Host, _ = flags.GetString("host")
	}
	if flags.Lookup("health-addr") != nil && flags.Changed("health-addr") {
		cfg.HealthAddr, _ = flags.GetString("health-addr")
	}
	if flags.Lookup("amqp-url") != nil && flags.Changed("amqp-url") {
		cfg.AMQPURL, _ = flags.GetString("amqp-url")
	}
	if flags.Lookup("amqp-queue") != nil && flags.Changed("amqp-queue") {
		cfg.AMQPQueue, _ = flags.GetString("amqp-queue")
	}

	return cfg, cfg.Validate()
}

// newLogger logs to stderr; stdout carries MCP traffic and command output
func newLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
}

func newTypesCmd() *cobra.Command {
	var showSchema bool

	cmd := &cobra.Command{
		Use:   "types",
		Short: "List the known command types",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if showSchema {
				schemas := make(map[string]json.RawMessage)
				for _, spec := range contracts.Catalogue() {
					schemas[spec.Type] = json.RawMessage(spec.Schema)
				}
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(schemas)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tDESCRIPTION")
			for _, spec := range contracts.Catalogue() {
				fmt.Fprintf(w, "%s\t%s\n", spec.Type, spec.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&showSchema, "schema", false, "Print the params JSON Schema of every type")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "canvasbridge %s (commit: %s, built: %s)\n", version, gitCommit, buildTime)
		},
	}
}
