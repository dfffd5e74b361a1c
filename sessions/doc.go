// Package sessions owns the lifetime of client sessions on the streaming
// HTTP transport.
//
// The Registry is the sole owner of sessions: a session exists in the
// registry exactly while its transport is open. Request handlers borrow
// sessions by token; they never own them. Teardown converges on
// Session.Close, which is idempotent and fires the finalize callback exactly
// once regardless of whether the close signal came from an explicit DELETE,
// the standing stream's connection dropping, or process shutdown.
package sessions
