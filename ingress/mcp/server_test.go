package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/canvasbridge/bridge"
	"github.com/glimte/canvasbridge/contracts"
)

type call struct {
	commandType string
	params      json.RawMessage
}

type fakeSender struct {
	calls  chan call
	result json.RawMessage
	err    error
}

func newFakeSender(result string, err error) *fakeSender {
	return &fakeSender{calls: make(chan call, 4), result: json.RawMessage(result), err: err}
}

func (f *fakeSender) Send(_ context.Context, commandType string, params any) (json.RawMessage, error) {
	raw, err := contracts.MarshalParams(params)
	if err != nil {
		return nil, err
	}
	f.calls <- call{commandType: commandType, params: raw}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeStatus struct{}

func (fakeStatus) State() bridge.State { return bridge.StateListening }
func (fakeStatus) IsConnected() bool   { return true }
func (fakeStatus) PendingCount() int   { return 3 }

func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := s.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = session.Close()
		_ = serverSession.Wait()
	})
	return session
}

func decode[T any](t *testing.T, content any) T {
	t.Helper()
	data, err := json.Marshal(content)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil)
	assert.Error(t, err)

	s, err := NewServer(newFakeSender(`{}`, nil))
	require.NoError(t, err)
	assert.Len(t, s.Tools(), len(contracts.Catalogue()))
	assert.NotContains(t, s.Tools(), statusToolName)

	s, err = NewServer(newFakeSender(`{}`, nil), WithStatus(fakeStatus{}))
	require.NoError(t, err)
	assert.Contains(t, s.Tools(), statusToolName)
}

func TestListTools(t *testing.T) {
	s, err := NewServer(newFakeSender(`{}`, nil), WithStatus(fakeStatus{}))
	require.NoError(t, err)
	session := connect(t, s)

	result, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description, tool.Name)
	}
	for _, spec := range contracts.Catalogue() {
		assert.Contains(t, names, ToolName(spec.Type))
	}
	assert.Contains(t, names, "create_frame")
	assert.Contains(t, names, statusToolName)
}

func TestCallCommandTool(t *testing.T) {
	sender := newFakeSender(`{"nodeId":"1:23"}`, nil)
	s, err := NewServer(sender)
	require.NoError(t, err)
	session := connect(t, s)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "create_frame",
		Arguments: map[string]any{"width": 100, "height": 100},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	out := decode[contracts.NodeResult](t, result.StructuredContent)
	assert.Equal(t, "1:23", out.NodeID)

	got := <-sender.calls
	assert.Equal(t, contracts.CreateFrame, got.commandType)
	assert.JSONEq(t, `{"width":100,"height":100}`, string(got.params))
}

func TestCallToolReportsBridgeErrors(t *testing.T) {
	sender := newFakeSender("", &contracts.NotConnectedError{Type: contracts.GetSelection})
	s, err := NewServer(sender)
	require.NoError(t, err)
	session := connect(t, s)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "get_selection",
		Arguments: map[string]any{},
	})
	require.NoError(t, err)
	require.True(t, result.IsError)
	require.NotEmpty(t, result.Content)

	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, contracts.KindNotConnected)
	assert.Contains(t, text.Text, "plugin not connected")
}

func TestBridgeStatusTool(t *testing.T) {
	s, err := NewServer(newFakeSender(`{}`, nil), WithStatus(fakeStatus{}))
	require.NoError(t, err)
	session := connect(t, s)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      statusToolName,
		Arguments: map[string]any{},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	status := decode[StatusResult](t, result.StructuredContent)
	assert.Equal(t, "listening", status.State)
	assert.True(t, status.PluginConnected)
	assert.Equal(t, 3, status.Pending)
}

func TestToolName(t *testing.T) {
	assert.Equal(t, "get_document_info", ToolName(contracts.GetDocumentInfo))
}
