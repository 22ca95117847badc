package spp

import (
	"context"
	"time"

	"github.com/srg/btspp/internal/groutine"
)

// ConnectTimeout races Connect against a deadline. See
// ConnectServiceTimeout for the abandonment semantics.
func (s *Session) ConnectTimeout(ctx context.Context, dev Device, needPairing bool, timeout time.Duration) error {
	return s.ConnectServiceTimeout(ctx, dev, SerialPort, needPairing, timeout)
}

// ConnectServiceTimeout races the connection pipeline against a timer. If the
// timer fires first the call returns a TimedOut error regardless of whether
// the pipeline would eventually have succeeded, and the session is left in
// StateFailed.
//
// Native capability calls are not guaranteed to support cancellation, so the
// abandoned pipeline keeps running in the background until its current stage
// returns; its generation is invalidated here, which makes finishAttempt
// close any socket it still manages to open. A new connect attempt may start
// immediately after this returns.
func (s *Session) ConnectServiceTimeout(ctx context.Context, dev Device, service ServiceID, needPairing bool, timeout time.Duration) error {
	pctx, cancel := context.WithCancel(ctx)

	gen := s.beginAttempt(dev, service)

	done := make(chan error, 1)
	groutine.Go(pctx, "spp-connect", func(gctx context.Context) {
		sock, err := s.runPipeline(gctx, gen, dev, service, needPairing)
		done <- s.finishAttempt(gen, sock, err)
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		cancel()
		return err
	case <-timer.C:
		cancel()
		err := timedOut(timeout)
		s.abandonAttempt(gen, err)
		return err
	}
}

// abandonAttempt invalidates generation gen and records the failure, so the
// still-running pipeline of that generation can no longer touch the session
// and a later reconnect never observes its leftovers.
func (s *Session) abandonAttempt(gen uint64, err *Error) {
	s.mu.Lock()
	var sock SocketHandle
	if s.attempt == gen {
		s.attempt++ // consume the generation; the late pipeline sees a stale gen
		s.state = StateFailed
		s.failure = err.Kind
		s.ready = false
		// The pipeline may have finished in the same instant the timer fired
		// and already installed its socket under this generation. Take it back
		// out so the timed-out attempt never leaves an open socket behind.
		sock = s.socket
		s.socket = nil
	}
	s.mu.Unlock()

	if sock != nil {
		groutine.Go(context.Background(), "spp-abandoned-socket-close", func(context.Context) {
			if cerr := s.provider.CloseSocket(sock); cerr != nil {
				s.logger.WithError(cerr).Warn("Failed to close socket of abandoned connect attempt")
			}
		})
	}

	s.logger.WithField("timeout", err.Timeout).Warn("Connect attempt abandoned on timeout")
}
