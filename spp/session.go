// Package spp establishes and operates a single logical serial connection to
// a remote Bluetooth peer over the Serial Port Profile: resolve the peer,
// optionally pair, discover the serial service, connect a stream socket, then
// expose that socket as a pollable read/write byte channel.
//
// The platform-specific work (enumeration, pairing flow, RFCOMM resolution,
// socket I/O) is delegated to a Provider; this package contains the connect
// pipeline, the deadline guard, and the stream adapter built on top of it.
package spp

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/btspp/internal/groutine"
)

// Session is a single logical SPP connection to one remote peer. It is
// designed for single-owner, sequential access: one connect at a time, and
// the read and write streams each pollable independently but not concurrently
// with themselves.
type Session struct {
	provider Provider
	logger   *logrus.Logger
	policy   PairingPolicy

	mu      sync.Mutex
	device  Device
	service ServiceID
	state   State
	failure ErrorKind // set when state == StateFailed
	socket  SocketHandle
	ready   bool
	attempt uint64 // connect attempt generation, bumped per attempt and on abandonment

	rd *pendingOp // in-flight read, nil when none
	wr *pendingOp // in-flight write, nil when none
}

// SessionOption configures a Session at construction time.
type SessionOption func(*Session)

// WithPairingPolicy overrides the pairing accept policy. The default accepts
// every pairing kind, matching the historical behavior; pass
// AcceptConfirmOnly to only auto-accept confirmation prompts.
func WithPairingPolicy(policy PairingPolicy) SessionOption {
	return func(s *Session) { s.policy = policy }
}

// NewSession creates an idle session on top of the given capability provider.
// A nil logger falls back to a default logrus logger.
func NewSession(provider Provider, logger *logrus.Logger, opts ...SessionOption) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Session{
		provider: provider,
		logger:   logger,
		policy:   AcceptAll,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect runs the full connection pipeline against the default Serial Port
// Profile service. It blocks until the pipeline completes and returns nil on
// success or a classified *Error.
func (s *Session) Connect(ctx context.Context, dev Device, needPairing bool) error {
	return s.ConnectService(ctx, dev, SerialPort, needPairing)
}

// ConnectService is Connect with an explicit service UUID.
func (s *Session) ConnectService(ctx context.Context, dev Device, service ServiceID, needPairing bool) error {
	gen := s.beginAttempt(dev, service)
	sock, err := s.runPipeline(ctx, gen, dev, service, needPairing)
	return s.finishAttempt(gen, sock, err)
}

// Device returns the peer of the most recent connect attempt, successful or
// not, so callers always report a consistent device/service pair.
func (s *Session) Device() Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Service returns the service UUID of the most recent connect attempt.
func (s *Session) Service() ServiceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service
}

// State returns the session's current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Failure returns the failure kind of the last failed attempt, or "" when the
// session is not in StateFailed.
func (s *Session) Failure() ErrorKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFailed {
		return ""
	}
	return s.failure
}

// Ready reports whether the session holds a usable socket. Readiness drops on
// any detected stream failure and is only restored by a successful connect.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Close releases the socket unconditionally and discards any in-flight
// operations without waiting for their completion. The session returns to
// StateIdle and may be connected again.
func (s *Session) Close() error {
	s.mu.Lock()
	sock := s.socket
	s.socket = nil
	s.rd = nil
	s.wr = nil
	s.ready = false
	s.state = StateIdle
	s.mu.Unlock()

	if sock == nil {
		return nil
	}
	if err := s.provider.CloseSocket(sock); err != nil {
		return fmt.Errorf("failed to close socket: %w", err)
	}
	return nil
}

// beginAttempt starts a new connect attempt generation: it records the
// attempted peer and service (kept even on failure), discards pending stream
// operations, and closes any socket left from a previous attempt so handles
// never leak across reconnects.
func (s *Session) beginAttempt(dev Device, service ServiceID) uint64 {
	s.mu.Lock()
	s.attempt++
	gen := s.attempt
	s.device = dev
	s.service = service
	s.ready = false
	s.rd = nil
	s.wr = nil
	s.failure = ""
	s.state = StateResolvingDevice
	prior := s.socket
	s.socket = nil
	s.mu.Unlock()

	if prior != nil {
		if err := s.provider.CloseSocket(prior); err != nil {
			s.logger.WithError(err).Warn("Failed to close previous socket before reconnect")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"device":  dev.String(),
		"service": service.Short(),
	}).Debug("Starting connect attempt")
	return gen
}

// finishAttempt installs the pipeline outcome for generation gen. If the
// attempt was abandoned in the meantime (timeout or a newer attempt), any
// socket it opened is closed asynchronously and the session state is left
// untouched.
func (s *Session) finishAttempt(gen uint64, sock SocketHandle, err error) error {
	s.mu.Lock()
	if s.attempt != gen {
		s.mu.Unlock()
		if sock != nil {
			// Best-effort cleanup off the caller's goroutine; an abandoned
			// pipeline must never block or corrupt a newer attempt.
			groutine.Go(context.Background(), "spp-abandoned-socket-close", func(context.Context) {
				if cerr := s.provider.CloseSocket(sock); cerr != nil {
					s.logger.WithError(cerr).Warn("Failed to close socket of abandoned connect attempt")
				}
			})
		}
		return err
	}

	if err != nil {
		serr := wrapRuntime(err)
		s.state = StateFailed
		s.failure = serr.Kind
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{
			"device": s.Device().String(),
			"kind":   string(serr.Kind),
			"error":  serr,
		}).Warn("Connect attempt failed")
		return serr
	}

	s.socket = sock
	s.state = StateReady
	s.ready = true
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"device":  s.Device().String(),
		"service": s.Service().Short(),
	}).Info("SPP session ready")
	return nil
}

// setStage advances the visible pipeline stage for generation gen. Stale
// generations are ignored so an abandoned pipeline cannot move the state of a
// newer attempt.
func (s *Session) setStage(gen uint64, st State) {
	s.mu.Lock()
	if s.attempt == gen {
		s.state = st
	}
	s.mu.Unlock()
}

// runPipeline executes the four connection stages strictly in order, mapping
// each stage's native failure onto its ErrorKind and short-circuiting on the
// first failure. Provider calls run without the session lock held so a
// subsequent attempt can start while an abandoned pipeline unwinds.
func (s *Session) runPipeline(ctx context.Context, gen uint64, dev Device, service ServiceID, needPairing bool) (SocketHandle, error) {
	// Stage 1: resolve the peer by address.
	s.setStage(gen, StateResolvingDevice)
	handle, err := s.provider.ResolveDevice(ctx, dev.Addr)
	if err != nil {
		return nil, classify(err, KindDeviceNotFound)
	}
	if handle == nil {
		return nil, ErrDeviceNotFound
	}

	// Stage 2: pairing, only when requested. Pair only a peer that can pair
	// and is not already paired.
	if needPairing {
		s.setStage(gen, StatePairing)
		ps, err := s.provider.QueryPairing(ctx, handle)
		if err != nil {
			return nil, classify(err, KindDeviceNotPairing)
		}
		if ps.CanPair && !ps.IsPaired {
			s.logger.WithField("device", dev.String()).Info("Pairing with device...")
			if err := s.provider.Pair(ctx, handle, s.policy); err != nil {
				return nil, classify(err, KindDeviceNotPairing)
			}
		}
	}

	// Stage 3: resolve the serial service; first match in provider order.
	s.setStage(gen, StateResolvingService)
	services, err := s.provider.FindServices(ctx, handle, service)
	if err != nil {
		return nil, classify(err, KindServiceNotFound)
	}
	if len(services) == 0 {
		return nil, ErrServiceNotFound
	}

	// Stage 4: open and connect a fresh socket.
	s.setStage(gen, StateConnecting)
	sock, err := s.provider.ConnectSocket(ctx, services[0])
	if err != nil {
		return nil, classify(err, KindNotConnected)
	}
	return sock, nil
}
