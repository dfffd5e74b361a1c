package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightwell-labs/companymcp/companyinfo"
	"github.com/brightwell-labs/companymcp/internal/jsonrpc"
	"github.com/brightwell-labs/companymcp/mcp"
	"github.com/brightwell-labs/companymcp/sessions"
)

func newTestEngine(t *testing.T) (*Engine, *sessions.Session) {
	t.Helper()
	eng := New(companyinfo.Default(), WithServerInfo(mcp.ImplementationInfo{
		Name:    "test-server",
		Version: "0.0.1",
	}))
	return eng, sessions.New("tok-test", nil)
}

func decodeResult[T any](t *testing.T, res *jsonrpc.Response) T {
	t.Helper()
	require.Nil(t, res.Error, "expected a result response, got error: %+v", res.Error)
	var out T
	require.NoError(t, json.Unmarshal(res.Result, &out))
	return out
}

func TestInitializeSessionEchoesSupportedVersion(t *testing.T) {
	t.Parallel()

	eng, sess := newTestEngine(t)
	res, err := eng.InitializeSession(context.Background(), sess, &mcp.InitializeRequest{
		ProtocolVersion: "2025-03-26",
		ClientInfo:      mcp.ImplementationInfo{Name: "test-client", Version: "1.0"},
	})
	require.NoError(t, err)

	assert.Equal(t, "2025-03-26", res.ProtocolVersion)
	assert.Equal(t, "2025-03-26", sess.ProtocolVersion())
	assert.Equal(t, "test-server", res.ServerInfo.Name)
	require.NotNil(t, res.Capabilities.Tools)
}

func TestInitializeSessionFallsBackToLatest(t *testing.T) {
	t.Parallel()

	eng, sess := newTestEngine(t)
	res, err := eng.InitializeSession(context.Background(), sess, &mcp.InitializeRequest{
		ProtocolVersion: "1999-01-01",
	})
	require.NoError(t, err)
	assert.Equal(t, mcp.LatestProtocolVersion, res.ProtocolVersion)
}

func TestHandleRequestPing(t *testing.T) {
	t.Parallel()

	eng, sess := newTestEngine(t)
	res, err := eng.HandleRequest(context.Background(), sess, &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.PingMethod),
		ID:             jsonrpc.NewRequestID(1),
	})
	require.NoError(t, err)
	assert.Nil(t, res.Error)
	assert.JSONEq(t, `{}`, string(res.Result))
	assert.Equal(t, "1", res.ID.String())
}

func TestHandleRequestMethodNotFound(t *testing.T) {
	t.Parallel()

	eng, sess := newTestEngine(t)
	res, err := eng.HandleRequest(context.Background(), sess, &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         "resources/list",
		ID:             jsonrpc.NewRequestID(2),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, jsonrpc.ErrorCodeMethodNotFound, res.Error.Code)
	assert.Contains(t, res.Error.Message, "resources/list")
}

func TestHandleRequestToolsList(t *testing.T) {
	t.Parallel()

	eng, sess := newTestEngine(t)
	res, err := eng.HandleRequest(context.Background(), sess, &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.ToolsListMethod),
		ID:             jsonrpc.NewRequestID(3),
	})
	require.NoError(t, err)

	list := decodeResult[mcp.ListToolsResult](t, res)
	require.Len(t, list.Tools, 1)

	tool := list.Tools[0]
	assert.Equal(t, ToolName, tool.Name)
	assert.Equal(t, "object", tool.InputSchema.Type)

	prop, ok := tool.InputSchema.Properties["category"]
	require.True(t, ok, "schema must describe the category property")
	assert.Equal(t, "string", prop.Type)
	assert.Len(t, prop.Enum, 5)
	assert.Contains(t, prop.Enum, "all")
	assert.Contains(t, prop.Enum, "investment")
}

func TestHandleRequestToolCall(t *testing.T) {
	t.Parallel()

	eng, sess := newTestEngine(t)
	profile := companyinfo.Default()

	cases := []struct {
		name     string
		args     string
		wantText string
	}{
		{"contact", `{"category":"contact"}`, profile.Render(companyinfo.CategoryContact)},
		{"overview", `{"category":"overview"}`, profile.Render(companyinfo.CategoryOverview)},
		{"unrecognized maps to all", `{"category":"finances"}`, profile.Render(companyinfo.CategoryAll)},
		{"missing args default to all", ``, profile.Render(companyinfo.CategoryAll)},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := fmt.Sprintf(`{"name":%q}`, ToolName)
			if tc.args != "" {
				params = fmt.Sprintf(`{"name":%q,"arguments":%s}`, ToolName, tc.args)
			}

			res, err := eng.HandleRequest(context.Background(), sess, &jsonrpc.Request{
				JSONRPCVersion: jsonrpc.ProtocolVersion,
				Method:         string(mcp.ToolsCallMethod),
				Params:         json.RawMessage(params),
				ID:             jsonrpc.NewRequestID(i),
			})
			require.NoError(t, err)

			result := decodeResult[mcp.CallToolResult](t, res)
			assert.False(t, result.IsError)
			require.Len(t, result.Content, 1)
			assert.Equal(t, "text", result.Content[0].Type)
			assert.Equal(t, tc.wantText, result.Content[0].Text)
		})
	}
}

func TestHandleRequestToolCallUnknownTool(t *testing.T) {
	t.Parallel()

	eng, sess := newTestEngine(t)
	res, err := eng.HandleRequest(context.Background(), sess, &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.ToolsCallMethod),
		Params:         json.RawMessage(`{"name":"weather_report","arguments":{}}`),
		ID:             jsonrpc.NewRequestID(9),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, jsonrpc.ErrorCodeInvalidParams, res.Error.Code)
	assert.Contains(t, res.Error.Message, "weather_report")
}

func TestHandleRequestToolCallBadArguments(t *testing.T) {
	t.Parallel()

	eng, sess := newTestEngine(t)
	res, err := eng.HandleRequest(context.Background(), sess, &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.ToolsCallMethod),
		Params:         json.RawMessage(fmt.Sprintf(`{"name":%q,"arguments":{"category":17}}`, ToolName)),
		ID:             jsonrpc.NewRequestID(10),
	})
	require.NoError(t, err)

	// Argument decode failures are reported in-band as tool errors.
	result := decodeResult[mcp.CallToolResult](t, res)
	assert.True(t, result.IsError)
	require.NotEmpty(t, result.Content)
	assert.Contains(t, result.Content[0].Text, "invalid arguments")
}

func TestHandleNotificationInitialized(t *testing.T) {
	t.Parallel()

	eng, sess := newTestEngine(t)
	require.False(t, sess.Initialized())

	err := eng.HandleNotification(context.Background(), sess, &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.InitializedNotificationMethod),
	})
	require.NoError(t, err)
	assert.True(t, sess.Initialized())
}

func TestHandleNotificationUnknownIsDropped(t *testing.T) {
	t.Parallel()

	eng, sess := newTestEngine(t)
	err := eng.HandleNotification(context.Background(), sess, &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         "notifications/progress",
	})
	assert.NoError(t, err)
}
