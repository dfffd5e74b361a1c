package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/brightwell-labs/companymcp/internal/engine"
	"github.com/brightwell-labs/companymcp/internal/jsonrpc"
	"github.com/brightwell-labs/companymcp/internal/logctx"
	"github.com/brightwell-labs/companymcp/mcp"
	"github.com/brightwell-labs/companymcp/sessions"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// Go matches headers case-insensitively; canonical names for clarity.
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"

	defaultEndpointPath = "/mcp"
)

// Handler is the request router over the single multiplexed endpoint.
type Handler struct {
	mux        *http.ServeMux
	log        *slog.Logger
	registry   *sessions.Registry
	eng        *engine.Engine
	serverName string
	version    string
	endpoint   string
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the slog logger used by the handler. If not provided,
// logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithServerName sets the human-readable name surfaced in the root info
// document.
func WithServerName(name string) Option {
	return func(h *Handler) { h.serverName = name }
}

// WithServerVersion sets the version surfaced in the root info document.
func WithServerVersion(v string) Option {
	return func(h *Handler) { h.version = v }
}

// WithEndpointPath overrides the protocol endpoint path (default /mcp).
func WithEndpointPath(p string) Option {
	return func(h *Handler) { h.endpoint = p }
}

// New constructs the router over the given registry and engine. The registry
// is injected, never ambient: callers (and tests) own its lifetime.
func New(registry *sessions.Registry, eng *engine.Engine, opts ...Option) (*Handler, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}

	h := &Handler{
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		registry:   registry,
		eng:        eng,
		serverName: "companymcp",
		version:    "0.1.0",
		endpoint:   defaultEndpointPath,
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", h.endpoint), h.handlePostMCP)
	mux.HandleFunc(fmt.Sprintf("GET %s", h.endpoint), h.handleGetMCP)
	mux.HandleFunc(fmt.Sprintf("DELETE %s", h.endpoint), h.handleDeleteMCP)
	mux.HandleFunc("GET /healthz", h.handleGetHealthz)
	mux.HandleFunc("GET /{$}", h.handleGetInfo)
	h.mux = mux

	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// trackingWriter records whether any part of the response has been written,
// so the panic boundary knows whether an error envelope can still be sent.
type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (t *trackingWriter) WriteHeader(status int) {
	t.wrote = true
	t.ResponseWriter.WriteHeader(status)
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(p)
}

// lockedWriteFlusher serializes writes/flushes and refuses to write once the
// request context is canceled, so a stream write racing teardown degrades to
// an error instead of a fault.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// writeRPCError emits a JSON-RPC error envelope with a null correlation id
// for POST-path rejections, which happen before (or instead of) routing the
// envelope to a session.
func writeRPCError(w http.ResponseWriter, status int, code jsonrpc.ErrorCode, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(nil, code, msg, nil))
}

// recoverToError is the router's internal-fault boundary: a panic in
// dispatch becomes a generic -32603 envelope iff nothing has been written on
// the exchange yet; otherwise it is logged and swallowed.
func (h *Handler) recoverToError(ctx context.Context, tw *trackingWriter) {
	v := recover()
	if v == nil {
		return
	}
	h.log.ErrorContext(ctx, "http.dispatch.panic", slog.Any("panic", v))
	if !tw.wrote {
		writeRPCError(tw, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "internal server error")
	}
}

// handlePostMCP handles POST on the protocol endpoint: client-to-server
// messages, including the first-contact initialize exchange that creates a
// session.
func (h *Handler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tw := &trackingWriter{ResponseWriter: w}
	defer h.recoverToError(ctx, tw)

	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeRPCError(tw, http.StatusUnsupportedMediaType, jsonrpc.ErrorCodeInvalidSession, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		tw.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: tw, Flusher: f, ctx: ctx}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeRPCError(tw, http.StatusBadRequest, jsonrpc.ErrorCodeParseError, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeRPCError(tw, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, "JSON-RPC batch arrays are not supported on this transport")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeRPCError(tw, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.initializeSession(ctx, tw, &msg, start)
		return
	}

	sess, err := h.registry.Get(sessID)
	if err != nil {
		writeRPCError(tw, http.StatusNotFound, jsonrpc.ErrorCodeInvalidSession, "session not found")
		h.log.InfoContext(ctx, "session.load.miss")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		ProtocolVersion: sess.ProtocolVersion(),
	})

	if req := msg.AsRequest(); req != nil {
		if req.Method == string(mcp.InitializeMethod) {
			writeRPCError(tw, http.StatusConflict, jsonrpc.ErrorCodeInvalidRequest, "session already initialized")
			h.log.WarnContext(ctx, "session.initialize.redundant")
			return
		}

		if req.IsNotification() {
			if err := h.eng.HandleNotification(ctx, sess, req); err != nil {
				tw.WriteHeader(http.StatusInternalServerError)
				h.log.ErrorContext(ctx, "notification.inbound.fail", slog.String("err", err.Error()))
				return
			}
			h.setProtocolVersionHeader(tw, sess)
			tw.WriteHeader(http.StatusAccepted)
			h.log.InfoContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))
			return
		}

		if acc := r.Header.Get("Accept"); acc != "" {
			if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
				tw.WriteHeader(http.StatusUnsupportedMediaType)
				h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", acc))
				return
			}
		}

		h.setProtocolVersionHeader(tw, sess)
		tw.Header().Set("Content-Type", eventStreamMediaType.String())
		tw.Header().Set("Cache-Control", "no-cache")
		tw.Header().Set("Connection", "keep-alive")
		tw.Header().Set("X-Accel-Buffering", "no")
		tw.WriteHeader(http.StatusOK)
		wf.Flush()

		res, err := h.eng.HandleRequest(ctx, sess, req)
		if err != nil {
			h.log.ErrorContext(ctx, "rpc.inbound.fail", slog.String("err", err.Error()))
			res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
		}

		b, mErr := json.Marshal(res)
		if mErr != nil {
			h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", mErr.Error()))
			return
		}
		if err := writeSSEEvent(wf, "", b); err != nil {
			h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
			return
		}
		h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	if res := msg.AsResponse(); res != nil {
		// This server never initiates requests, so client responses have
		// nothing to correlate with; they are accepted and dropped.
		h.setProtocolVersionHeader(tw, sess)
		tw.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "response.inbound.ignored", slog.Duration("dur", time.Since(start)))
		return
	}

	h.log.WarnContext(ctx, "jsonrpc.message.unrecognized", slog.Duration("dur", time.Since(start)))
}

// initializeSession is the first-contact sub-protocol: mint a token, build
// the session handle with its finalize callback, register the token, and
// only then process the initialize request, so the token is discoverable by
// the time the client observes the acknowledgment.
func (h *Handler) initializeSession(ctx context.Context, tw *trackingWriter, msg *jsonrpc.AnyMessage, start time.Time) {
	req := msg.AsRequest()
	if req == nil || req.Method != string(mcp.InitializeMethod) {
		writeRPCError(tw, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidSession, "no valid session ID or initialization request")
		h.log.InfoContext(ctx, "session.initialize.invalid")
		return
	}

	var initReq mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &initReq); err != nil {
		writeRPCError(tw, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params")
		h.log.InfoContext(ctx, "session.initialize.params.fail", slog.String("err", err.Error()))
		return
	}

	token := uuid.NewString()
	sess := sessions.New(token, func(id string) {
		h.registry.Remove(id)
		h.log.Info("session.finalized", slog.String("session_id", id))
	})

	if err := h.registry.Create(sess); err != nil {
		// Token collision: the new handle was never registered, so there is
		// no partial state to unwind.
		writeRPCError(tw, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "failed to create session")
		h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		return
	}

	res, err := h.eng.InitializeSession(ctx, sess, &initReq)
	if err != nil {
		h.registry.Remove(token)
		writeRPCError(tw, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "failed to initialize session")
		h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
		return
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, res)
	if err != nil {
		h.registry.Remove(token)
		writeRPCError(tw, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "failed to encode initialize response")
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: token, ProtocolVersion: res.ProtocolVersion})

	tw.Header().Set(mcpSessionIDHeader, token)
	tw.Header().Set(mcpProtocolVersionHeader, res.ProtocolVersion)
	tw.Header().Set("Content-Type", jsonMediaType.String())
	tw.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(tw).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// handleGetMCP attaches the session's standing SSE stream. The stream is the
// session's transport for server-initiated messages: when it ends, for any
// reason, the session's finalize path runs.
func (h *Handler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tw := &trackingWriter{ResponseWriter: w}
	defer h.recoverToError(ctx, tw)

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		tw.WriteHeader(http.StatusUnsupportedMediaType)
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		tw.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: tw, Flusher: f, ctx: ctx}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		tw.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}

	sess, err := h.registry.Get(sessID)
	if err != nil {
		tw.WriteHeader(http.StatusNotFound)
		h.log.InfoContext(ctx, "session.load.miss")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		ProtocolVersion: sess.ProtocolVersion(),
	})

	stream, err := sess.AttachStream()
	if err != nil {
		switch {
		case errors.Is(err, sessions.ErrStreamAttached):
			tw.WriteHeader(http.StatusConflict)
			h.log.WarnContext(ctx, "sse.stream.conflict")
		default:
			tw.WriteHeader(http.StatusNotFound)
			h.log.InfoContext(ctx, "sse.stream.session_closed")
		}
		return
	}

	// From here the stream is the session's transport: its end is the
	// transport-close signal, and Close is idempotent under the explicit
	// DELETE path racing us.
	defer sess.Close()

	h.setProtocolVersionHeader(tw, sess)
	tw.Header().Set("Content-Type", eventStreamMediaType.String())
	tw.Header().Set("Cache-Control", "no-cache")
	tw.Header().Set("Connection", "keep-alive")
	tw.Header().Set("X-Accel-Buffering", "no")
	tw.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")

	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.disconnect", slog.Duration("dur", time.Since(start)))
			return
		case <-sess.Done():
			h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
			return
		case msg := <-stream:
			if err := writeSSEEvent(wf, "", msg); err != nil {
				h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
				return
			}
			h.log.InfoContext(ctx, "sse.message.deliver")
		}
	}
}

// handleDeleteMCP terminates an existing session. Terminating twice yields
// 204 then 404: the finalize callback removed the token on the first call.
func (h *Handler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tw := &trackingWriter{ResponseWriter: w}
	defer h.recoverToError(ctx, tw)

	h.log.InfoContext(ctx, "http.delete.start")

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		tw.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "delete.missing_session_id")
		return
	}

	sess, err := h.registry.Get(sessID)
	if err != nil {
		tw.WriteHeader(http.StatusNotFound)
		h.log.InfoContext(ctx, "session.delete.miss")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		ProtocolVersion: sess.ProtocolVersion(),
	})

	h.setProtocolVersionHeader(tw, sess)
	sess.Close()

	tw.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

// handleGetHealthz is the stateless liveness probe.
func (h *Handler) handleGetHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", jsonMediaType.String())
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleGetInfo serves the root info document.
func (h *Handler) handleGetInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", jsonMediaType.String())
	_ = json.NewEncoder(w).Encode(map[string]string{
		"name":      h.serverName,
		"version":   h.version,
		"transport": "streamable-http",
		"endpoint":  h.endpoint,
	})
}

func (h *Handler) setProtocolVersionHeader(w http.ResponseWriter, sess *sessions.Session) {
	if pv := sess.ProtocolVersion(); pv != "" {
		w.Header().Set(mcpProtocolVersionHeader, pv)
	}
}

// writeSSEEvent writes one Server-Sent Event frame and flushes it.
func writeSSEEvent(wf *lockedWriteFlusher, msgID string, payload []byte) error {
	if msgID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", msgID); err != nil {
			return fmt.Errorf("failed to write SSE event ID: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
