package streaminghttp

import (
	"net/http/httptest"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/brightwell-labs/companymcp/companyinfo"
	"github.com/brightwell-labs/companymcp/internal/engine"
	"github.com/brightwell-labs/companymcp/mcp"
	"github.com/brightwell-labs/companymcp/sessions"
)

// TestConformance_SDKClient drives the handler with the reference MCP client
// to check the transport against an independent implementation of the
// protocol, not just our own wire expectations.
func TestConformance_SDKClient(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	registry := sessions.NewRegistry()
	eng := engine.New(companyinfo.Default(),
		engine.WithServerInfo(mcp.ImplementationInfo{Name: "conformance", Version: "0.0.1"}),
	)
	h, err := New(registry, eng)
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}

	srv := httptest.NewServer(h)
	defer srv.Close()

	client := sdk.NewClient(&sdk.Implementation{Name: "e2e", Version: "0.0.0"}, &sdk.ClientOptions{})
	transport := &sdk.StreamableClientTransport{Endpoint: srv.URL + "/mcp"}

	cs, err := client.Connect(ctx, transport, &sdk.ClientSessionOptions{})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer cs.Close()

	lt, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(lt.Tools) != 1 || lt.Tools[0].Name != engine.ToolName {
		t.Fatalf("unexpected tools: %+v", lt.Tools)
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name: engine.ToolName,
		Arguments: map[string]any{
			"category": "contact",
		},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	if len(res.Content) == 0 {
		t.Fatalf("unexpected empty call result: %+v", res)
	}
}
