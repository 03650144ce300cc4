package ws

import "sync/atomic"

// ConnectionID opaquely identifies a WebSocket session. Values are
// assigned in increasing order, never reused, and unique for the lifetime
// of the host process.
type ConnectionID uint64

// idAllocator hands out ConnectionID values. Grounded on
// cyberinferno-go-utils' IdGenerator, widened from atomic.Uint32 to
// atomic.Uint64 per this server's no-wraparound requirement.
type idAllocator struct {
	next atomic.Uint64
}

// Next returns the next ConnectionID, starting at 1 so the zero value
// stays reserved for "no connection".
func (a *idAllocator) Next() ConnectionID {
	return ConnectionID(a.next.Add(1))
}

// globalConnectionIDs is process-wide: a single counter shared across
// every Server instance in a process.
var globalConnectionIDs idAllocator
