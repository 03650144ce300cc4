package ws

import "sync"

// senderImpl is the shared, mutex-guarded cell behind every clone of a
// Senders handle: a session installs the four closures once, and revoke
// swaps all of them to nil atomically so any outstanding clone sees a
// well-defined Closed result instead of calling into a dead session.
type senderImpl struct {
	mu        sync.Mutex
	sendData  func(payload []byte, maxFrameSize int) SendResult
	sendClose func(code uint16, reason string) SendResult
	sendPing  func(payload []byte) SendResult
	sendPong  func(payload []byte) SendResult
}

func (s *senderImpl) revoke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendData = nil
	s.sendClose = nil
	s.sendPing = nil
	s.sendPong = nil
}

// Senders is a small, cloneable, reference-counted façade over a session's
// outbound operations. The zero value is a valid, inert handle: every
// operation on it returns SendNoImplementation. Copies share the same
// underlying session, so user code may keep a Senders value for as long as
// it likes; once the session closes, every clone starts returning
// SendClosed.
type Senders struct {
	impl *senderImpl
}

func newSenders(impl *senderImpl) Senders { return Senders{impl: impl} }

// SendData sends a complete message. If maxFrameSize is 0 the message is
// sent as a single Text frame; otherwise it may be split into a leading
// Text frame followed by zero or more Continuation frames, none exceeding
// maxFrameSize bytes of encoded header+payload.
func (s Senders) SendData(payload []byte, maxFrameSize int) SendResult {
	if s.impl == nil {
		return SendNoImplementation
	}
	s.impl.mu.Lock()
	defer s.impl.mu.Unlock()
	if s.impl.sendData == nil {
		return SendClosed
	}
	return s.impl.sendData(payload, maxFrameSize)
}

// SendClose emits a Close frame carrying code and reason and begins the
// close handshake from the server side.
func (s Senders) SendClose(code uint16, reason string) SendResult {
	if s.impl == nil {
		return SendNoImplementation
	}
	s.impl.mu.Lock()
	defer s.impl.mu.Unlock()
	if s.impl.sendClose == nil {
		return SendClosed
	}
	return s.impl.sendClose(code, reason)
}

// SendPing emits a single unfragmented Ping control frame. payload must be
// at most MaxControlFramePayload bytes.
func (s Senders) SendPing(payload []byte) SendResult {
	if s.impl == nil {
		return SendNoImplementation
	}
	s.impl.mu.Lock()
	defer s.impl.mu.Unlock()
	if s.impl.sendPing == nil {
		return SendClosed
	}
	return s.impl.sendPing(payload)
}

// SendPong emits a single unfragmented Pong control frame, typically used
// for unsolicited keepalive pongs (solicited pongs answering a peer Ping
// are sent automatically by the session).
func (s Senders) SendPong(payload []byte) SendResult {
	if s.impl == nil {
		return SendNoImplementation
	}
	s.impl.mu.Lock()
	defer s.impl.mu.Unlock()
	if s.impl.sendPong == nil {
		return SendClosed
	}
	return s.impl.sendPong(payload)
}
