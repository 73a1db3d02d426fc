// Package mcp exposes the command catalogue as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/glimte/canvasbridge/bridge"
	"github.com/glimte/canvasbridge/contracts"
)

const (
	serverName     = "canvasbridge"
	statusToolName = "bridge_status"
)

// Status is the bridge state reported by the bridge_status tool
type Status interface {
	State() bridge.State
	IsConnected() bool
	PendingCount() int
}

// StatusInput takes no arguments
type StatusInput struct{}

// StatusResult describes the bridge
type StatusResult struct {
	State           string `json:"state" jsonschema:"bridge lifecycle state"`
	PluginConnected bool   `json:"pluginConnected" jsonschema:"true when a plugin is attached"`
	Pending         int    `json:"pending" jsonschema:"commands awaiting a plugin response"`
}

// Server serves one tool per catalogue type
type Server struct {
	server  *mcp.Server
	sender  bridge.Sender
	status  Status
	logger  *slog.Logger
	version string
	tools   []string
}

// Option configures the server
type Option func(*Server)

// WithStatus enables the bridge_status tool
func WithStatus(status Status) Option {
	return func(s *Server) {
		s.status = status
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version advertised to MCP clients
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// NewServer registers the catalogue tools against sender
func NewServer(sender bridge.Sender, opts ...Option) (*Server, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}

	s := &Server{
		sender:  sender,
		logger:  slog.Default(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = mcp.NewServer(&mcp.Implementation{Name: serverName, Version: s.version}, nil)

	addCommandTool[contracts.CreateFrameParams, contracts.NodeResult](s, contracts.CreateFrame)
	addCommandTool[contracts.CreateRectangleParams, contracts.NodeResult](s, contracts.CreateRectangle)
	addCommandTool[contracts.CreateTextParams, contracts.NodeResult](s, contracts.CreateText)
	addCommandTool[contracts.DeleteNodeParams, contracts.DeleteResult](s, contracts.DeleteNode)
	addCommandTool[contracts.MoveNodeParams, contracts.NodeResult](s, contracts.MoveNode)
	addCommandTool[contracts.ResizeNodeParams, contracts.NodeResult](s, contracts.ResizeNode)
	addCommandTool[contracts.SetFillParams, contracts.NodeResult](s, contracts.SetFill)
	addCommandTool[contracts.GetSelectionParams, contracts.SelectionResult](s, contracts.GetSelection)
	addCommandTool[contracts.GetDocumentInfoParams, contracts.DocumentInfoResult](s, contracts.GetDocumentInfo)

	if s.status != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        statusToolName,
			Description: "Reports whether the design tool plugin is connected and how many commands are pending",
		}, s.handleStatus)
		s.tools = append(s.tools, statusToolName)
	}

	return s, nil
}

// ToolName returns the tool name for a command type
func ToolName(commandType string) string {
	return strings.ToLower(commandType)
}

// Tools returns the registered tool names in registration order
func (s *Server) Tools() []string {
	return append([]string(nil), s.tools...)
}

// MCPServer returns the underlying MCP server
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

// Run serves the tools on t until ctx ends or the client disconnects
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	s.logger.Info("serving MCP tools", "tools", len(s.tools))
	return s.server.Run(ctx, t)
}

// RunStdio serves the tools over stdin and stdout
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

func addCommandTool[P, R any](s *Server, commandType string) {
	spec, ok := contracts.Lookup(commandType)
	if !ok {
		panic(fmt.Sprintf("mcp: %s is not in the command catalogue", commandType))
	}

	name := ToolName(commandType)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        name,
		Description: spec.Description,
	}, commandHandler[P, R](s, name, commandType))
	s.tools = append(s.tools, name)
}

func commandHandler[P, R any](s *Server, tool, commandType string) mcp.ToolHandlerFor[P, R] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, params P) (*mcp.CallToolResult, R, error) {
		result, err := bridge.SendTyped[R](ctx, s.sender, commandType, params)
		if err != nil {
			s.logger.Warn("tool call failed",
				"tool", tool,
				"error", err,
			)
			var zero R
			return nil, zero, fmt.Errorf("%s: %w", contracts.ErrorKind(err), err)
		}
		return nil, result, nil
	}
}

func (s *Server) handleStatus(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, StatusResult, error) {
	return nil, StatusResult{
		State:           s.status.State().String(),
		PluginConnected: s.status.IsConnected(),
		Pending:         s.status.PendingCount(),
	}, nil
}
