// Package streaminghttp implements the streamable HTTP transport: one
// multiplexed endpoint where the HTTP verb and the Mcp-Session-Id header
// together select the operation.
//
//   - POST with no session header must carry an initialize request and
//     creates a session; the minted token is echoed in the response header.
//   - POST with a known token routes the envelope to that session.
//   - GET with a known token attaches the session's standing SSE stream for
//     server-initiated messages.
//   - DELETE with a known token terminates the session.
//
// POST-path rejections are JSON-RPC error envelopes with a null id, because
// the exchange carries envelope context; GET and DELETE rejections are plain
// status codes, because those exchanges are transport-level. The handler
// also serves the stateless /healthz probe and the root info document.
package streaminghttp
