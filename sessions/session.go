package sessions

import (
	"errors"
	"sync"
	"time"

	"github.com/brightwell-labs/companymcp/internal/jsonrpc"
)

var (
	// ErrSessionNotFound is returned when a token names no live session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned on a registry insert for a token that is
	// already present. Tokens are random, so this signals a server bug.
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionClosed is returned when an operation races the session's
	// teardown. Callers treat it as "drop the work", never as a fault.
	ErrSessionClosed = errors.New("session closed")
	// ErrStreamAttached is returned when a second standing stream is opened
	// on a session that already has one.
	ErrStreamAttached = errors.New("session stream already attached")
	// ErrNoStream is returned when publishing to a session that has no
	// standing stream attached.
	ErrNoStream = errors.New("no stream attached")
)

// streamBuffer bounds the number of undelivered push messages per session.
// Delivery order within the channel is the order Publish was called.
const streamBuffer = 32

// FinalizeFunc is invoked exactly once when a session's transport closes.
// It is responsible for registry cleanup.
type FinalizeFunc func(sessionID string)

// Session is one logical client session. It owns the transport state for its
// token: whether the session is open, whether the initialize handshake
// completed, and the standing server-push stream if one is attached.
type Session struct {
	id        string
	createdAt time.Time
	finalize  FinalizeFunc

	closeOnce sync.Once
	done      chan struct{}

	mu              sync.Mutex
	closed          bool
	initialized     bool
	protocolVersion string
	stream          chan jsonrpc.Message
}

// New constructs an open session for the given token. The finalize callback
// may be nil.
func New(id string, finalize FinalizeFunc) *Session {
	return &Session{
		id:        id,
		createdAt: time.Now(),
		finalize:  finalize,
		done:      make(chan struct{}),
	}
}

// ID returns the session token.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Done is closed when the session's transport closes.
func (s *Session) Done() <-chan struct{} { return s.done }

// Open reports whether the transport is still open.
func (s *Session) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// SetProtocolVersion records the version negotiated during initialize.
func (s *Session) SetProtocolVersion(v string) {
	s.mu.Lock()
	s.protocolVersion = v
	s.mu.Unlock()
}

// ProtocolVersion returns the negotiated protocol version, if any.
func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// MarkInitialized records receipt of the client's initialized notification.
func (s *Session) MarkInitialized() {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
}

// Initialized reports whether the handshake completed.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// AttachStream binds the session's standing server-push stream and returns
// the delivery channel. At most one stream may be attached; a second attach
// fails with ErrStreamAttached until the session closes. The channel is
// never closed; consumers must select on Done to observe teardown.
func (s *Session) AttachStream() (<-chan jsonrpc.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.stream != nil {
		return nil, ErrStreamAttached
	}
	s.stream = make(chan jsonrpc.Message, streamBuffer)
	return s.stream, nil
}

// Publish queues a server-initiated message for delivery on the standing
// stream, preserving call order. Publishing to a closed session or one with
// no attached stream is reported, not fatal.
func (s *Session) Publish(msg jsonrpc.Message) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	ch := s.stream
	s.mu.Unlock()
	if ch == nil {
		return ErrNoStream
	}

	select {
	case ch <- msg:
		return nil
	case <-s.done:
		// Teardown raced the send; the message is dropped by design of the
		// transport, not retried.
		return ErrSessionClosed
	}
}

// Close marks the transport closed, releases the standing stream, and fires
// the finalize callback. It is safe to call any number of times from any
// goroutine; every call after the first is a no-op.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.stream = nil
		s.mu.Unlock()
		close(s.done)
		if s.finalize != nil {
			s.finalize(s.id)
		}
	})
}
