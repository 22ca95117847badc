//go:build !windows

// Package bridge exposes a serial-port session as a local pseudo-terminal.
// It connects the session, opens a PTY pair, and pumps bytes both ways so any
// program that speaks to /dev/pts/N transparently talks to the remote device.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/srg/btspp/internal/groutine"
	"github.com/srg/btspp/internal/ptyio"
	"github.com/srg/btspp/spp"
)

const (
	// DefaultPTYBufferSize sizes each PTY ring buffer in bytes.
	DefaultPTYBufferSize = 4096

	// DefaultTraceSize is how many traffic records the bounded trace keeps
	// before overwriting the oldest.
	DefaultTraceSize = 256

	// pumpIdleInterval is how long the pump sleeps when neither direction
	// made progress.
	pumpIdleInterval = 5 * time.Millisecond

	ioChunkSize = 1024
)

// TrafficDirection labels one pumped transfer.
type TrafficDirection string

const (
	// TrafficIn is device-to-PTY traffic.
	TrafficIn TrafficDirection = "in"
	// TrafficOut is PTY-to-device traffic.
	TrafficOut TrafficDirection = "out"
)

// TrafficRecord is one completed transfer in the bounded trace.
type TrafficRecord struct {
	Dir   TrafficDirection
	Bytes int
	At    time.Time
}

// Options configures a bridge run.
type Options struct {
	Address         string            // remote device address, e.g. 00:02:B0:57:7D:D6
	DeviceName      string            // optional display name for logs
	Service         spp.ServiceID     // zero value selects the serial-port service
	ConnectTimeout  time.Duration     // overall connect budget (0 = 30s)
	PairingPolicy   spp.PairingPolicy // nil = session default
	Logger          *logrus.Logger
	PTYReadBufSize  int    // PTY read ring size in bytes (0 = default)
	PTYWriteBufSize int    // PTY write ring size in bytes (0 = default)
	TTYSymlinkPath  string // optional stable symlink to the PTY slave
	TraceSize       int    // traffic trace capacity in records (0 = default)
}

// ProgressCallback is invoked as the bridge moves through its setup phases.
type ProgressCallback func(phase string)

// Callback runs with the live bridge; the bridge is torn down when it returns.
type Callback[R any] func(Bridge) (R, error)

// Bridge is a running session-to-PTY bridge.
type Bridge interface {
	Session() *spp.Session
	TTYName() string
	TTYSymlink() string
	PTY() ptyio.PTY
	// DrainTraffic removes and returns the buffered traffic records, oldest
	// first. Under sustained load the trace overwrites its oldest entries.
	DrainTraffic() []TrafficRecord
}

type sessionBridge struct {
	session *spp.Session
	pty     ptyio.PTY
	symlink string
	trace   mpmc.RichOverlappedRingBuffer[TrafficRecord]
	logger  *logrus.Logger
}

func (b *sessionBridge) Session() *spp.Session { return b.session }
func (b *sessionBridge) TTYName() string       { return b.pty.TTYName() }
func (b *sessionBridge) TTYSymlink() string    { return b.symlink }
func (b *sessionBridge) PTY() ptyio.PTY        { return b.pty }

func (b *sessionBridge) DrainTraffic() []TrafficRecord {
	var out []TrafficRecord
	for !b.trace.IsEmpty() {
		rec, err := b.trace.Dequeue()
		if err != nil {
			break
		}
		out = append(out, rec)
	}
	return out
}

func (b *sessionBridge) record(dir TrafficDirection, n int) {
	if _, err := b.trace.EnqueueM(TrafficRecord{Dir: dir, Bytes: n, At: time.Now()}); err != nil {
		b.logger.WithError(err).Warn("traffic trace enqueue failed")
	}
}

// RunSessionBridge connects to the device, sets up the PTY, starts the pump,
// and runs callback with the live bridge. It blocks until the callback
// returns or setup fails; all resources are released before it returns.
func RunSessionBridge[R any](
	ctx context.Context,
	provider spp.Provider,
	opts *Options,
	progress ProgressCallback,
	callback Callback[R],
) (R, error) {
	var zero R

	if opts == nil {
		return zero, fmt.Errorf("bridge options are required")
	}
	if opts.Address == "" {
		return zero, fmt.Errorf("device address is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if progress == nil {
		progress = func(string) {}
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 30 * time.Second
	}
	service := opts.Service
	if service.IsZero() {
		service = spp.SerialPort
	}
	traceSize := opts.TraceSize
	if traceSize == 0 {
		traceSize = DefaultTraceSize
	}

	dev, err := spp.NewDevice(opts.DeviceName, opts.Address)
	if err != nil {
		return zero, fmt.Errorf("invalid device address %q: %w", opts.Address, err)
	}

	bridgeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		session *spp.Session
		pty     ptyio.PTY
		symlink string
	)
	defer func() {
		// Symlink before PTY: the link must never dangle while the slave is
		// still advertised to users.
		if symlink != "" {
			if err := os.Remove(symlink); err != nil {
				logger.WithError(err).WithField("ttySymlink", symlink).Warn("Failed to remove tty symlink")
			}
		}
		if pty != nil {
			_ = pty.Close()
		}
		if session != nil {
			_ = session.Close()
		}
	}()

	progress("Connecting")

	var sessionOpts []spp.SessionOption
	if opts.PairingPolicy != nil {
		sessionOpts = append(sessionOpts, spp.WithPairingPolicy(opts.PairingPolicy))
	}
	session = spp.NewSession(provider, logger, sessionOpts...)
	if err := session.ConnectServiceTimeout(bridgeCtx, dev, service, true, connectTimeout); err != nil {
		progress("Failed")
		return zero, fmt.Errorf("connect to %s: %w", dev, err)
	}
	progress("Connected")

	progress("Setting up PTY")
	readBuf := opts.PTYReadBufSize
	if readBuf == 0 {
		readBuf = DefaultPTYBufferSize
	}
	writeBuf := opts.PTYWriteBufSize
	if writeBuf == 0 {
		writeBuf = DefaultPTYBufferSize
	}
	pty, err = ptyio.New(readBuf, writeBuf, logger)
	if err != nil {
		return zero, err
	}
	logger.WithField("tty", pty.TTYName()).Info("Created PTY device")

	if opts.TTYSymlinkPath != "" {
		if err := os.Symlink(pty.TTYName(), opts.TTYSymlinkPath); err != nil {
			return zero, fmt.Errorf("create tty symlink %s -> %s: %w", opts.TTYSymlinkPath, pty.TTYName(), err)
		}
		symlink = opts.TTYSymlinkPath
		logger.WithFields(logrus.Fields{
			"ttySymlink": symlink,
			"target":     pty.TTYName(),
		}).Info("Created PTY symlink")
	}

	b := &sessionBridge{
		session: session,
		pty:     pty,
		symlink: symlink,
		trace:   mpmc.NewOverlappedRingBuffer[TrafficRecord](uint32(traceSize)),
		logger:  logger,
	}

	groutine.Go(bridgeCtx, "bridge-pump", func(ctx context.Context) {
		b.pump(ctx)
	})

	progress("Running")
	return callback(b)
}

// pump drives both directions cooperatively. The session permits one
// in-flight native operation per direction, so the loop keeps at most one
// outbound payload pending and re-polls it until the write completes.
func (b *sessionBridge) pump(ctx context.Context) {
	inBuf := make([]byte, ioChunkSize)
	outBuf := make([]byte, ioChunkSize)
	var outPending []byte

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		progressed := false

		// Device to PTY.
		if n, ok := b.session.PollRead(inBuf); ok && n > 0 {
			if _, err := b.pty.Write(inBuf[:n]); err != nil {
				b.logger.WithError(err).Warn("bridge pump exiting: PTY write failed")
				return
			}
			b.record(TrafficIn, n)
			progressed = true
		}

		// PTY to device. Anything other than EAGAIN from a drained PTY means
		// the PTY is gone.
		if outPending == nil {
			n, err := b.pty.Read(outBuf)
			switch {
			case n > 0:
				outPending = outBuf[:n]
			case errors.Is(err, os.ErrClosed):
				b.logger.Debug("bridge pump exiting: PTY closed")
				return
			}
		}
		if outPending != nil {
			if n, ok := b.session.PollWrite(outPending); ok {
				b.record(TrafficOut, n)
				outPending = nil
				progressed = true
			}
		}

		if !b.session.Ready() {
			b.logger.Warn("bridge pump exiting: session no longer ready")
			return
		}
		if !progressed {
			time.Sleep(pumpIdleInterval)
		}
	}
}
