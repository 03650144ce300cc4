package ws

import (
	"errors"
	"net"
	"syscall"
)

// ErrNotPollable is returned when a hijacked connection does not expose a
// raw file descriptor (e.g. it is not backed by a TCP/unix socket).
var ErrNotPollable = errors.New("wshttpd: connection does not support raw fd polling")

// connFD extracts the raw file descriptor backing conn. The scheduler
// polls this fd directly with unix.Poll, independent of (and alongside)
// whatever the Go runtime's own netpoller is doing with the same socket —
// readiness is socket state, not something either poller consumes.
func connFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1, ErrNotPollable
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	ctrlErr := raw.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	return fd, nil
}
