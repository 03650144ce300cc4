package ws

import "sync"

// receiverImpl is the shared, mutex-guarded cell behind a Receivers handle.
type receiverImpl struct {
	mu             sync.Mutex
	receiveData    func(id ConnectionID, op DataOpCode, payload []byte)
	receiveControl func(id ConnectionID, op ControlOpCode, payload []byte)
}

// Receivers is the dual façade user code returns from
// Handler.ConnectionEstablished to receive reassembled data messages and
// informational control-frame notifications. The zero value is invalid
// (Valid reports false) and every call on it returns false without
// invoking anything.
type Receivers struct {
	impl *receiverImpl
}

// NewReceivers builds a live Receivers handle from the two callbacks. Both
// must be non-nil for the result to be useful, but unlike Handler this
// constructor does not itself validate that — a nil callback simply never
// fires.
func NewReceivers(
	receiveData func(id ConnectionID, op DataOpCode, payload []byte),
	receiveControl func(id ConnectionID, op ControlOpCode, payload []byte),
) Receivers {
	return Receivers{impl: &receiverImpl{receiveData: receiveData, receiveControl: receiveControl}}
}

// Valid reports whether this is a non-default handle.
func (r Receivers) Valid() bool { return r.impl != nil }

// ReceiveData delivers one reassembled data message. Called once per
// message, not once per frame. Returns false only for a default-
// constructed handle; a revoked handle still returns true but the
// underlying callback is a no-op.
func (r Receivers) ReceiveData(id ConnectionID, op DataOpCode, payload []byte) bool {
	if r.impl == nil {
		return false
	}
	r.impl.mu.Lock()
	defer r.impl.mu.Unlock()
	if r.impl.receiveData != nil {
		r.impl.receiveData(id, op, payload)
	}
	return true
}

// ReceiveControl delivers one control-frame notification. The core has
// already performed any required protocol response (Pong for Ping, echo
// for Close) before this is called; the callback is informational only.
func (r Receivers) ReceiveControl(id ConnectionID, op ControlOpCode, payload []byte) bool {
	if r.impl == nil {
		return false
	}
	r.impl.mu.Lock()
	defer r.impl.mu.Unlock()
	if r.impl.receiveControl != nil {
		r.impl.receiveControl(id, op, payload)
	}
	return true
}

// StopReceiving converts both callbacks to no-ops. Must be called before
// the backing functions become invalid, since ReceiveData/ReceiveControl
// may still be invoked concurrently from the scheduler thread up until the
// session is fully torn down.
func (r Receivers) StopReceiving() {
	if r.impl == nil {
		return
	}
	r.impl.mu.Lock()
	defer r.impl.mu.Unlock()
	r.impl.receiveData = nil
	r.impl.receiveControl = nil
}
