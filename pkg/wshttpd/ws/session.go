package ws

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
)

// closeState is an explicit four-value state machine for the close
// handshake: none, server-initiated, client-initiated, complete.
type closeState int

const (
	closeNone closeState = iota
	closeServerInitiated
	closeClientInitiated
	closeComplete
)

// CloseEchoTimeout bounds how long a session waits in the server-initiated
// close state for the peer's echo before the scheduler declares it dead.
const CloseEchoTimeout = 2000 * time.Millisecond

// Session is the per-connection RFC 6455 state machine: it owns the read
// loop, the decoder, the fragmentation buffer, the close handshake, and
// serializes every outbound frame behind a single mutex. See DESIGN.md for
// the defects in upstream WebSocket implementations this deliberately does
// not replicate.
type Session struct {
	id              ConnectionID
	url             string
	conn            net.Conn
	maxReceiveChunk int
	log             zerolog.Logger

	decoder    *FrameDecoder
	fragOpcode byte
	fragBuf    *bytebufferpool.ByteBuffer

	mu          sync.Mutex
	closeState  closeState
	closeSentAt time.Time

	sImpl     *senderImpl
	Senders   Senders
	receivers Receivers

	onClose func(ConnectionID)
}

// NewSession constructs a session over an already-hijacked connection. The
// returned session's Senders field is ready to hand to the user's
// ConnectionEstablished callback; SetReceivers installs what it returns.
func NewSession(id ConnectionID, url string, conn net.Conn, maxReceiveChunk int, log zerolog.Logger) *Session {
	s := &Session{
		id:              id,
		url:             url,
		conn:            conn,
		maxReceiveChunk: maxReceiveChunk,
		log:             log,
		decoder:         NewFrameDecoder(),
	}
	s.sImpl = &senderImpl{
		sendData:  s.sendDataLocked,
		sendClose: s.sendCloseLocked,
		sendPing:  s.sendPingLocked,
		sendPong:  s.sendPongLocked,
	}
	s.Senders = newSenders(s.sImpl)
	return s
}

// ID returns the session's connection id.
func (s *Session) ID() ConnectionID { return s.id }

// URL returns the URL path the connection was upgraded from.
func (s *Session) URL() string { return s.url }

// SetReceivers installs the Receivers returned from ConnectionEstablished.
func (s *Session) SetReceivers(r Receivers) { s.receivers = r }

// SetCloseCallback installs the function the session notifies when it has
// reached a terminal state and should be removed from the scheduler.
func (s *Session) SetCloseCallback(fn func(ConnectionID)) { s.onClose = fn }

// Feed decodes extraData handed over by the HTTP engine at protocol switch
// time, before the session is ever polled. Bytes the client pipelined
// immediately after the opening handshake arrive this way and must not be
// dropped on the floor.
func (s *Session) Feed(extraData []byte) bool {
	if len(extraData) == 0 {
		return true
	}
	return s.feed(extraData)
}

// OnReadable is the scheduler's read-ready callback for this session's fd.
// Returns false when the session should be deregistered and closed.
func (s *Session) OnReadable() bool {
	buf := make([]byte, s.maxReceiveChunk)
	n, err := s.conn.Read(buf)
	if n > 0 {
		if !s.feed(buf[:n]) {
			return false
		}
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.log.Debug().Uint64("id", uint64(s.id)).Msg("peer hung up")
			return false
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			s.log.Debug().Err(err).Msg("transient read timeout, continuing")
			return true
		}
		s.log.Warn().Err(err).Uint64("id", uint64(s.id)).Msg("read error")
		return false
	}
	return true
}

// CheckCloseTimeout reports whether this session has been waiting in
// ServerInitiated for longer than CloseEchoTimeout.
func (s *Session) CheckCloseTimeout(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeState == closeServerInitiated && now.Sub(s.closeSentAt) > CloseEchoTimeout
}

// Terminate forcibly closes the session, used by the scheduler's teardown
// of every still-open session (where it synthesizes a GoingAway close).
// Close-echo timeouts do not go through Terminate: the scheduler's sweep
// just deregisters the session and closes its socket.
func (s *Session) Terminate(code uint16, reason string) {
	s.mu.Lock()
	if s.closeState == closeNone {
		_ = s.writeLocked(EncodeFrame(OpcodeClose, true, closePayload(code, reason)))
		s.closeState = closeServerInitiated
	}
	s.mu.Unlock()
	s.sImpl.revoke()
	s.receivers.StopReceiving()
}

// Close closes the underlying connection. Idempotent.
func (s *Session) Close() error { return s.conn.Close() }

func (s *Session) notifyClose() {
	if s.onClose != nil {
		s.onClose(s.id)
	}
}

// feed decodes chunk and applies every resulting frame's transition. It
// returns false once the session has reached a terminal, synchronous-close
// condition (a decode error or an in-band protocol violation) and should
// be removed from the scheduler immediately.
func (s *Session) feed(chunk []byte) bool {
	result, err := s.decoder.Decode(chunk)
	for _, f := range result.Frames {
		if !s.handleFrame(f) {
			return false
		}
	}
	if err != nil {
		code := CloseProtocolError
		var pe *ProtocolError
		if errors.As(err, &pe) {
			code = pe.Code
		}
		return s.protocolError(code, err.Error())
	}
	return true
}

func (s *Session) handleFrame(f Frame) bool {
	if !f.Masked {
		return s.protocolError(CloseProtocolError, "unmasked frame")
	}

	switch f.Opcode {
	case OpcodeText, OpcodeBinary:
		if s.fragBuf != nil {
			return s.protocolError(CloseProtocolError, "data frame received while fragmentation in progress")
		}
		if f.Fin {
			s.deliverData(dataOpFromOpcode(f.Opcode), f.Payload)
		} else {
			s.fragOpcode = f.Opcode
			s.fragBuf = getBuffer()
			s.fragBuf.Write(f.Payload)
		}
		return true

	case OpcodeContinuation:
		if s.fragBuf == nil {
			return s.protocolError(CloseProtocolError, "continuation received with no fragmentation in progress")
		}
		s.fragBuf.Write(f.Payload)
		if f.Fin {
			op := s.fragOpcode
			payload := append([]byte(nil), s.fragBuf.B...)
			putBuffer(s.fragBuf)
			s.fragBuf = nil
			s.deliverData(dataOpFromOpcode(op), payload)
		}
		return true

	case OpcodePing:
		s.receivers.ReceiveControl(s.id, ControlPing, f.Payload)
		s.writeControl(OpcodePong, f.Payload)
		return true

	case OpcodePong:
		s.receivers.ReceiveControl(s.id, ControlPong, f.Payload)
		return true

	case OpcodeClose:
		return s.handlePeerClose(f.Payload)

	default:
		return s.protocolError(CloseProtocolError, "unhandled opcode")
	}
}

// handlePeerClose follows the close handshake state table exactly (see
// DESIGN.md for defects this deliberately avoids): a Close received in
// closeNone gets echoed and the session is handed back to the scheduler
// for removal; one received in closeServerInitiated completes the
// handshake without a second echo.
func (s *Session) handlePeerClose(payload []byte) bool {
	s.receivers.ReceiveControl(s.id, ControlClose, payload)

	s.mu.Lock()
	switch s.closeState {
	case closeNone:
		s.closeState = closeClientInitiated
		_ = s.writeLocked(EncodeFrame(OpcodeClose, true, payload))
	case closeServerInitiated:
		s.closeState = closeComplete
	default:
		// ClientInitiated or Complete already: a duplicate Close is ignored.
	}
	s.mu.Unlock()

	s.sImpl.revoke()
	s.notifyClose()
	return false
}

// protocolError closes the connection immediately with code, unlike a
// user-initiated sendClose which waits (bounded) for the peer's echo.
func (s *Session) protocolError(code uint16, reason string) bool {
	s.log.Warn().Uint64("id", uint64(s.id)).Str("reason", reason).Msg("protocol violation, closing")

	s.mu.Lock()
	if s.closeState == closeNone {
		_ = s.writeLocked(EncodeFrame(OpcodeClose, true, closePayload(code, reason)))
		s.closeState = closeServerInitiated
	}
	s.mu.Unlock()

	s.sImpl.revoke()
	s.notifyClose()
	return false
}

func (s *Session) deliverData(op DataOpCode, payload []byte) {
	s.receivers.ReceiveData(s.id, op, payload)
}

func dataOpFromOpcode(opcode byte) DataOpCode {
	if opcode == OpcodeBinary {
		return DataBinary
	}
	return DataText
}

// writeControl sends an automatic protocol-response control frame (Pong
// answering a Ping). Suppressed once the close handshake has started.
func (s *Session) writeControl(opcode byte, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeState != closeNone {
		return
	}
	if err := s.writeLocked(EncodeFrame(opcode, true, payload)); err != nil {
		s.log.Warn().Err(err).Msg("control frame send failed")
	}
}

// writeLocked writes a complete, already-encoded frame to the socket.
// Callers must hold s.mu. Short writes loop until fully drained; the
// underlying fd is blocking, so EAGAIN/EWOULDBLOCK retries are defensive
// rather than expected.
func (s *Session) writeLocked(frame []byte) error {
	for len(frame) > 0 {
		n, err := s.conn.Write(frame)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		frame = frame[n:]
	}
	return nil
}

// sendDataLocked implements the write/split algorithm. Bound
// into senderImpl.sendData; called with senderImpl.mu held, so it acquires
// the session's own mutex in turn to serialize against the read path's
// protocol-driven writes.
func (s *Session) sendDataLocked(payload []byte, maxFrameSize int) SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeState != closeNone {
		return SendClosed
	}

	if maxFrameSize <= 0 {
		if err := s.writeLocked(EncodeFrame(OpcodeText, true, payload)); err != nil {
			s.log.Warn().Err(err).Msg("send failed")
			return SendFailure
		}
		return SendSuccess
	}

	hdr := EncodedHeaderSize(uint64(len(payload)), false)
	if maxFrameSize <= hdr {
		return SendFrameSizeTooSmall
	}
	chunkSize := maxFrameSize - hdr

	remaining := payload
	opcode := OpcodeText
	for len(remaining)+hdr > maxFrameSize {
		chunk := remaining[:chunkSize]
		if err := s.writeLocked(EncodeFrame(opcode, false, chunk)); err != nil {
			s.log.Warn().Err(err).Msg("send failed")
			return SendFailure
		}
		remaining = remaining[chunkSize:]
		opcode = OpcodeContinuation
	}
	if err := s.writeLocked(EncodeFrame(opcode, true, remaining)); err != nil {
		s.log.Warn().Err(err).Msg("send failed")
		return SendFailure
	}
	return SendSuccess
}

// sendCloseLocked implements the user-initiated half of the close
// handshake: it transitions to ServerInitiated and leaves teardown to the
// scheduler's peer-echo/timeout handling rather than tearing down
// synchronously (see DESIGN.md's Open Question decision on this point).
func (s *Session) sendCloseLocked(code uint16, reason string) SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeState != closeNone {
		return SendClosed
	}
	if err := s.writeLocked(EncodeFrame(OpcodeClose, true, closePayload(code, reason))); err != nil {
		s.log.Warn().Err(err).Msg("send close failed")
		return SendFailure
	}
	s.closeState = closeServerInitiated
	s.closeSentAt = time.Now()
	return SendSuccess
}

// sendPingLocked and sendPongLocked both return Success on their success
// path (see DESIGN.md for the defect this avoids).
func (s *Session) sendPingLocked(payload []byte) SendResult {
	return s.sendControlLocked(OpcodePing, payload)
}

func (s *Session) sendPongLocked(payload []byte) SendResult {
	return s.sendControlLocked(OpcodePong, payload)
}

func (s *Session) sendControlLocked(opcode byte, payload []byte) SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeState != closeNone {
		return SendClosed
	}
	if len(payload) > MaxControlFramePayload {
		return SendFailure
	}
	if err := s.writeLocked(EncodeFrame(opcode, true, payload)); err != nil {
		s.log.Warn().Err(err).Msg("control frame send failed")
		return SendFailure
	}
	return SendSuccess
}

func closePayload(code uint16, reason string) []byte {
	if code == 0 {
		return nil
	}
	p := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(p, code)
	copy(p[2:], reason)
	return p
}
