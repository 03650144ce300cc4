package ws

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// pollTimeout bounds how long one scheduler cycle blocks in Poll, and in
// turn how quickly Stop's cooperative shutdown takes effect.
const pollTimeout = 500 * time.Millisecond

// registeredSession is what the scheduler keeps per polled fd: the raw
// descriptor (for unix.Poll), the callback (Session.OnReadable), and the
// session itself so the scheduler can run the close-timeout sweep and the
// teardown synthesis without a second lookup structure.
type registeredSession struct {
	fd      int
	session *Session
}

// Scheduler is the single dedicated poller thread: it multiplexes every
// open session's fd with one poll(2) call per cycle, dispatches ready
// reads, and retires sessions whose read callback returns false or whose
// close handshake has timed out. See DESIGN.md for the slot reuse,
// removals-before-adds ordering, early break, synchronous re-removal
// within a cycle, and the 2000ms close-timeout sweep this module adds.
type Scheduler struct {
	log zerolog.Logger

	pendingAddsMu sync.Mutex
	pendingAdds   map[int]*Session

	pendingRemovalsMu sync.Mutex
	pendingRemovals   []int

	slots        []unix.PollFd
	callbacks    []*registeredSession
	nextAvailable int

	running chan struct{}
	done    chan struct{}
}

// NewScheduler constructs a Scheduler. Call Run in its own goroutine.
func NewScheduler(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		log:         log,
		pendingAdds: make(map[int]*Session),
		running:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Add queues fd/session for registration at the top of the next cycle.
// Safe to call from any goroutine (typically an HTTP handler thread at
// upgrade time).
func (s *Scheduler) Add(fd int, session *Session) {
	s.pendingAddsMu.Lock()
	defer s.pendingAddsMu.Unlock()
	s.pendingAdds[fd] = session
}

// AddSession resolves session's underlying raw fd and queues it for
// registration. This is the entry point the upgrade gate uses once a
// connection has been hijacked and its Session constructed.
func (s *Scheduler) AddSession(session *Session) error {
	fd, err := connFD(session.conn)
	if err != nil {
		return err
	}
	session.SetCloseCallback(func(ConnectionID) {
		s.Remove(fd)
	})
	s.Add(fd, session)
	return nil
}

// Remove queues fd for deregistration at the top of the next cycle.
func (s *Scheduler) Remove(fd int) {
	s.pendingRemovalsMu.Lock()
	defer s.pendingRemovalsMu.Unlock()
	s.pendingRemovals = append(s.pendingRemovals, fd)
}

// Run executes the poll loop until Stop is called. Intended to run on its
// own goroutine for the lifetime of the server.
func (s *Scheduler) Run() {
	defer close(s.done)
	for {
		select {
		case <-s.running:
			s.teardown()
			return
		default:
		}
		s.cycle()
	}
}

// Stop requests the loop exit and blocks until it has torn down every
// remaining session.
func (s *Scheduler) Stop() {
	close(s.running)
	<-s.done
}

func (s *Scheduler) cycle() {
	s.processPendingRemovals()
	s.processPendingAdds()
	s.sweepCloseTimeouts()

	if len(s.slots) == 0 {
		time.Sleep(pollTimeout)
		return
	}

	n, err := unix.Poll(s.slots, int(pollTimeout/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return
		}
		s.log.Error().Err(err).Msg("poll error")
		time.Sleep(2 * time.Second)
		return
	}
	if n <= 0 {
		return
	}

	processed := 0
	var toRemove []int
	for i := range s.slots {
		if s.slots[i].Fd < 0 {
			continue
		}
		if s.slots[i].Revents&unix.POLLIN == 0 {
			continue
		}

		reg := s.callbacks[i]
		if !reg.session.OnReadable() {
			toRemove = append(toRemove, reg.fd)
		}
		processed++

		if processed == n {
			break
		}
	}

	if len(toRemove) > 0 {
		s.bulkRemoval(toRemove)
	}
}

// processPendingAdds applies queued Add calls, reusing the earliest free
// slot before growing the slice — the same free-list behavior as
// Poller.h's nextAvailable bookkeeping.
func (s *Scheduler) processPendingAdds() {
	s.pendingAddsMu.Lock()
	defer s.pendingAddsMu.Unlock()

	for fd, session := range s.pendingAdds {
		if s.nextAvailable == len(s.slots) {
			s.slots = append(s.slots, unix.PollFd{})
			s.callbacks = append(s.callbacks, nil)
		}

		s.slots[s.nextAvailable] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
		s.callbacks[s.nextAvailable] = &registeredSession{fd: fd, session: session}

		for s.nextAvailable < len(s.slots) && s.slots[s.nextAvailable].Fd >= 0 {
			s.nextAvailable++
		}
	}

	s.pendingAdds = make(map[int]*Session)
}

func (s *Scheduler) processPendingRemovals() {
	s.pendingRemovalsMu.Lock()
	defer s.pendingRemovalsMu.Unlock()
	s.processPendingRemovalsLocked()
}

// bulkRemoval appends fds collected from failed OnReadable calls during
// this cycle's dispatch loop and removes them synchronously, so a session
// that just signaled termination doesn't get polled again next cycle —
// matching Poller.h's bulkRemoval/processPendingRemovalsNoLock pairing.
func (s *Scheduler) bulkRemoval(fds []int) {
	s.pendingRemovalsMu.Lock()
	defer s.pendingRemovalsMu.Unlock()
	s.pendingRemovals = append(s.pendingRemovals, fds...)
	s.processPendingRemovalsLocked()
}

func (s *Scheduler) processPendingRemovalsLocked() {
	for _, fd := range s.pendingRemovals {
		for i := range s.slots {
			if s.slots[i].Fd != int32(fd) {
				continue
			}
			if reg := s.callbacks[i]; reg != nil {
				_ = reg.session.Close()
			}
			s.slots[i] = unix.PollFd{Fd: -1}
			s.callbacks[i] = nil
			if i < s.nextAvailable {
				s.nextAvailable = i
			}
			break
		}
	}
	s.pendingRemovals = s.pendingRemovals[:0]
}

// sweepCloseTimeouts declares dead any session stuck in ServerInitiated
// for more than CloseEchoTimeout.
func (s *Scheduler) sweepCloseTimeouts() {
	now := time.Now()
	var timedOut []int
	for i := range s.slots {
		if s.slots[i].Fd < 0 {
			continue
		}
		reg := s.callbacks[i]
		if reg != nil && reg.session.CheckCloseTimeout(now) {
			s.log.Info().Uint64("id", uint64(reg.session.ID())).Msg("close echo timed out, retiring session")
			timedOut = append(timedOut, reg.fd)
		}
	}
	if len(timedOut) > 0 {
		s.bulkRemoval(timedOut)
	}
}

// teardown synthesizes a GoingAway close for every still-registered
// session and closes its socket.
func (s *Scheduler) teardown() {
	s.processPendingRemovals()
	s.processPendingAdds()

	for i := range s.slots {
		if s.slots[i].Fd < 0 {
			continue
		}
		if reg := s.callbacks[i]; reg != nil {
			reg.session.Terminate(CloseGoingAway, "server shutting down")
			_ = reg.session.Close()
		}
	}
	s.slots = nil
	s.callbacks = nil
	s.nextAvailable = 0
}
