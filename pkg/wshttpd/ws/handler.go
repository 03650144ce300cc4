package ws

import "sync"

// Connection describes a newly-upgraded WebSocket connection, passed to
// ConnectionEstablished.
type Connection struct {
	ID      ConnectionID
	URL     string
	Senders Senders
}

// IsHandled reports whether url should be upgraded to a WebSocket
// connection. Returning false causes the upgrade gate to fall through to
// the normal HTTP request handler.
type IsHandled func(url string) bool

// ConnectionEstablished is invoked once a connection has been upgraded. It
// must return the Receivers the core will deliver inbound messages to.
type ConnectionEstablished func(Connection) Receivers

// Handler pairs the two callbacks the upgrade gate needs. Both callbacks
// are required at construction (unlike Senders/Receivers, a Handler has no
// useful default-constructed state), and StopHandling revokes them
// atomically so a later call during teardown cannot race a
// half-torn-down embedder.
type Handler struct {
	mu                    sync.Mutex
	isHandled             IsHandled
	connectionEstablished ConnectionEstablished
}

// NewHandler constructs a Handler. Both arguments must be non-nil.
func NewHandler(isHandled IsHandled, connectionEstablished ConnectionEstablished) (*Handler, error) {
	if isHandled == nil {
		return nil, ErrMissingIsHandled
	}
	if connectionEstablished == nil {
		return nil, ErrMissingConnectionEstablished
	}
	return &Handler{isHandled: isHandled, connectionEstablished: connectionEstablished}, nil
}

// IsHandled reports whether url should be upgraded, or false if the
// handler has been stopped.
func (h *Handler) IsHandled(url string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.isHandled == nil {
		return false
	}
	return h.isHandled(url)
}

// ConnectionEstablished notifies user code of a newly upgraded connection
// and returns the Receivers it supplies. Returns the zero Receivers if the
// handler has been stopped in the meantime.
func (h *Handler) ConnectionEstablished(c Connection) Receivers {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connectionEstablished == nil {
		return Receivers{}
	}
	return h.connectionEstablished(c)
}

// StopHandling atomically revokes both callbacks. Subsequent IsHandled
// calls return false and ConnectionEstablished calls return an invalid
// Receivers.
func (h *Handler) StopHandling() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isHandled = nil
	h.connectionEstablished = nil
}
