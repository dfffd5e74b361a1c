// Package engine interprets decoded JSON-RPC envelopes for the server. It is
// stateless per call: all session state lives on the sessions.Session handle
// the router binds each exchange to, and the engine performs no I/O of its
// own. Malformed input is reported as error envelopes, never raised.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brightwell-labs/companymcp/companyinfo"
	"github.com/brightwell-labs/companymcp/internal/jsonrpc"
	"github.com/brightwell-labs/companymcp/mcp"
	"github.com/brightwell-labs/companymcp/sessions"
)

// ToolName is the single tool this server exposes.
const ToolName = "company_info"

// Engine dispatches requests for one server identity and profile.
type Engine struct {
	log        *slog.Logger
	profile    *companyinfo.Profile
	serverInfo mcp.ImplementationInfo
	tool       mcp.Tool
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithServerInfo sets the implementation identity advertised on initialize.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(e *Engine) { e.serverInfo = info }
}

// New constructs an Engine serving the given profile. The tool descriptor,
// including the category enum schema, is reflected once here.
func New(profile *companyinfo.Profile, opts ...Option) *Engine {
	e := &Engine{
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		profile: profile,
		serverInfo: mcp.ImplementationInfo{
			Name:    "companymcp",
			Version: "0.1.0",
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	e.tool = mcp.Tool{
		Name:        ToolName,
		Description: "Returns information about " + profile.Name + " by category.",
		InputSchema: reflectInputSchema[companyinfo.Args](),
	}

	return e
}

// InitializeSession negotiates the protocol version, records it on the
// session, and assembles the initialize result. The session must already be
// registered by the caller: the token has to be discoverable by the time the
// client observes this result.
func (e *Engine) InitializeSession(ctx context.Context, sess *sessions.Session, req *mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if req == nil {
		return nil, fmt.Errorf("initialize request required")
	}

	version := req.ProtocolVersion
	if !mcp.IsSupportedProtocolVersion(version) {
		version = mcp.LatestProtocolVersion
	}
	sess.SetProtocolVersion(version)

	res := &mcp.InitializeResult{
		ProtocolVersion: version,
		ServerInfo:      e.serverInfo,
	}
	res.Capabilities.Tools = &struct {
		ListChanged bool `json:"listChanged"`
	}{}

	e.log.InfoContext(ctx, "engine.initialize.ok",
		slog.String("protocol_version", version),
		slog.String("client", req.ClientInfo.Name))

	return res, nil
}

// HandleRequest dispatches a request envelope and produces its response
// envelope. Unknown methods yield a method-not-found error response; only
// infrastructure failures (result marshaling) surface as Go errors.
func (e *Engine) HandleRequest(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	switch mcp.Method(req.Method) {
	case mcp.PingMethod:
		return jsonrpc.NewResultResponse(req.ID, struct{}{})
	case mcp.ToolsListMethod:
		return e.handleToolsList(ctx, sess, req)
	case mcp.ToolsCallMethod:
		return e.handleToolCall(ctx, sess, req)
	}

	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil), nil
}

// HandleNotification consumes a notification envelope. Unknown notifications
// are dropped without error.
func (e *Engine) HandleNotification(ctx context.Context, sess *sessions.Session, note *jsonrpc.Request) error {
	switch mcp.Method(note.Method) {
	case mcp.InitializedNotificationMethod:
		sess.MarkInitialized()
		e.log.InfoContext(ctx, "engine.handshake.complete")
	case mcp.CancelledNotificationMethod:
		// Requests here are short-lived and uncancellable; acknowledged and dropped.
	default:
		e.log.DebugContext(ctx, "engine.notification.ignored", slog.String("method", note.Method))
	}
	return nil
}

func (e *Engine) handleToolsList(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.ListToolsRequest
	if len(req.Params) > 0 {
		// Cursor is accepted but irrelevant: the tool set always fits one page.
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tools/list params", nil), nil
		}
	}

	return jsonrpc.NewResultResponse(req.ID, &mcp.ListToolsResult{Tools: []mcp.Tool{e.tool}})
}

func (e *Engine) handleToolCall(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()

	var call mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &call); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tools/call params", nil), nil
	}
	if call.Name != ToolName {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("unknown tool: %s", call.Name), nil), nil
	}

	var args companyinfo.Args
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return jsonrpc.NewResultResponse(req.ID, &mcp.CallToolResult{
				Content: []mcp.ContentBlock{{Type: "text", Text: fmt.Sprintf("invalid arguments: %v", err)}},
				IsError: true,
			})
		}
	}

	// Unrecognized selectors fall through to the default branch by contract.
	category := companyinfo.ParseCategory(args.Category)
	text := e.profile.Render(category)

	e.log.InfoContext(ctx, "engine.tool_call.ok",
		slog.String("tool", call.Name),
		slog.String("category", category.String()),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()))

	return jsonrpc.NewResultResponse(req.ID, &mcp.CallToolResult{
		Content: []mcp.ContentBlock{{Type: "text", Text: text}},
	})
}
