package spp

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// streamPollInterval is how often the blocking Read/Write/Flush wrappers
	// re-poll an outstanding operation.
	streamPollInterval = 5 * time.Millisecond
)

// pendingOp is one in-flight native stream operation together with the buffer
// that must stay alive until the provider reports completion. Releasing the
// buffer earlier is a use-after-free in the native layer; the slot is cleared
// exactly once, on terminal completion or explicit reset.
type pendingOp struct {
	op  OperationHandle
	buf []byte
}

// PollRead polls the receive direction. It returns ok=false while no data is
// available yet (the cooperative "pending" result) and ok=true with n
// received bytes copied into p once a native read completes.
//
// While the session is not ready no native operation is started and the poll
// stays pending. A failed native read clears readiness and reports pending,
// so callers observe the degradation through Ready() and reconnect instead of
// receiving a per-call error.
func (s *Session) PollRead(p []byte) (int, bool) {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return 0, false
	}
	if s.rd == nil {
		if len(p) == 0 {
			s.mu.Unlock()
			return 0, true
		}
		sock := s.socket
		op, err := s.provider.StartRead(sock, len(p))
		if err != nil {
			s.degradeLocked("read", err)
			s.mu.Unlock()
			return 0, false
		}
		s.rd = &pendingOp{op: op}
		s.mu.Unlock()
		return 0, false
	}

	res, done, err := s.provider.PollOperation(s.rd.op)
	if !done {
		s.mu.Unlock()
		return 0, false
	}
	s.rd = nil
	if err != nil {
		s.degradeLocked("read", err)
		s.mu.Unlock()
		return 0, false
	}
	n := copy(p, res.Data)
	s.mu.Unlock()
	return n, true
}

// PollWrite polls the transmit direction. On the first call with an empty
// slot it hands a copy of p to the provider as one native write; subsequent
// calls re-check only that outstanding operation. ok=true reports the number
// of bytes the native layer actually wrote.
//
// Failure semantics mirror PollRead: a failed native write clears readiness
// and the poll stays pending.
func (s *Session) PollWrite(p []byte) (int, bool) {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return 0, false
	}
	if s.wr == nil {
		if len(p) == 0 {
			s.mu.Unlock()
			return 0, true
		}
		// Copy so the caller may reuse p between polls; the copy is the
		// keep-alive buffer for the native operation.
		buf := make([]byte, len(p))
		copy(buf, p)
		op, err := s.provider.StartWrite(s.socket, buf)
		if err != nil {
			s.degradeLocked("write", err)
			s.mu.Unlock()
			return 0, false
		}
		s.wr = &pendingOp{op: op, buf: buf}
		s.mu.Unlock()
		return 0, false
	}

	res, done, err := s.provider.PollOperation(s.wr.op)
	if !done {
		s.mu.Unlock()
		return 0, false
	}
	s.wr = nil
	if err != nil {
		s.degradeLocked("write", err)
		s.mu.Unlock()
		return 0, false
	}
	s.mu.Unlock()
	return res.N, true
}

// Read implements io.Reader over PollRead. It blocks until data arrives and
// returns ErrNotConnected once the session degrades.
func (s *Session) Read(p []byte) (int, error) {
	for {
		n, ok := s.PollRead(p)
		if ok {
			return n, nil
		}
		if !s.Ready() {
			return 0, ErrNotConnected
		}
		time.Sleep(streamPollInterval)
	}
}

// Write implements io.Writer over PollWrite.
func (s *Session) Write(p []byte) (int, error) {
	for {
		n, ok := s.PollWrite(p)
		if ok {
			return n, nil
		}
		if !s.Ready() {
			return 0, ErrNotConnected
		}
		time.Sleep(streamPollInterval)
	}
}

// Flush waits until no write operation is outstanding. There is no buffered
// state of its own to flush: every write is handed to the native layer as it
// arrives, so Flush only observes the completion of the current one, if any.
func (s *Session) Flush() error {
	for {
		s.mu.Lock()
		outstanding := s.wr != nil
		ready := s.ready
		s.mu.Unlock()

		if !outstanding {
			return nil
		}
		if !ready {
			return ErrNotConnected
		}
		// Drive the outstanding operation's completion; nil starts nothing.
		s.PollWrite(nil)
		time.Sleep(streamPollInterval)
	}
}

// degradeLocked marks the session not-ready after a failed in-flight
// operation. Callers hold s.mu. Higher layers notice via Ready() and force a
// fresh connect rather than spinning on a dead socket.
func (s *Session) degradeLocked(direction string, err error) {
	s.ready = false
	s.logger.WithError(err).WithFields(logrus.Fields{
		"direction": direction,
		"device":    s.device.String(),
	}).Warn("Stream operation failed, session degraded")
}
