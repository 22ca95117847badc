//go:build !windows

// Package ptyio wraps a pseudo-terminal master in a non-blocking, ring-buffered
// interface. The bridge hands the slave path (/dev/pts/N) to local programs
// and pumps bytes between the master and a serial-port session without ever
// blocking on terminal I/O: reads return EAGAIN when nothing is buffered and
// writes drop the oldest bytes on overflow.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/btspp/internal/groutine"
)

// DefaultPollTimeoutMs bounds how long the pump goroutines wait for FD
// readiness before rechecking cancellation. It is also the worst-case
// shutdown latency contributed by an idle loop.
const DefaultPollTimeoutMs = 50

// PTY is a non-blocking pseudo-terminal endpoint. Read drains bytes the slave
// produced; Write queues bytes for the slave to read.
type PTY interface {
	io.ReadWriteCloser
	TTYName() string
	Stats() Stats
}

// Stats carries transfer and overflow counters for monitoring.
type Stats struct {
	ReadBytesTotal    uint64
	WriteBytesTotal   uint64
	DroppedReadCount  uint64
	DroppedWriteCount uint64
}

type ringPTY struct {
	logger  *logrus.Logger
	master  *os.File
	slave   *os.File
	ttyName string

	readBuf  *ringbuffer.RingBuffer // slave output waiting for Read
	writeBuf *ringbuffer.RingBuffer // Write payloads waiting for the slave

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed uint32

	pollTimeoutMs int

	readBytes    uint64
	writeBytes   uint64
	droppedRead  uint64
	droppedWrite uint64
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// New opens a master/slave pair, puts the slave in raw mode, and starts the
// background pump loops. readCap and writeCap size the ring buffers in bytes.
func New(readCap, writeCap int, logger *logrus.Logger) (PTY, error) {
	if logger == nil {
		logger = noopLogger
	}
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("open pty pair: %w", err)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("set %s raw: %w", slave.Name(), err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("set master nonblocking: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &ringPTY{
		logger:        logger,
		master:        master,
		slave:         slave, // kept open so /dev/pts/N outlives external openers
		ttyName:       slave.Name(),
		readBuf:       ringbuffer.New(readCap),
		writeBuf:      ringbuffer.New(writeCap),
		ctx:           ctx,
		cancel:        cancel,
		pollTimeoutMs: DefaultPollTimeoutMs,
	}

	p.wg.Add(2)
	groutine.Go(ctx, "pty-read-pump", func(context.Context) { p.readPump() })
	groutine.Go(ctx, "pty-write-pump", func(context.Context) { p.writePump() })
	return p, nil
}

// readPump moves bytes from the master into readBuf.
func (p *ringPTY) readPump() {
	defer p.wg.Done()

	// Capture the file so Close clearing fields cannot race a dereference.
	master := p.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 4096)

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		nReady, err := unix.Poll(pollFd, p.pollTimeoutMs)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.Warnf("pty read poll: %v", err)
		}
		if nReady == 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			written, _ := p.readBuf.Write(buf[:n])
			if written < n {
				atomic.AddUint64(&p.droppedRead, uint64(n-written))
				p.logger.Warnf("pty read buffer overflow, dropped %d bytes", n-written)
			}
			atomic.AddUint64(&p.readBytes, uint64(written))
		}
		if err != nil {
			switch {
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
				continue
			case errors.Is(err, syscall.EIO), errors.Is(err, syscall.EBADF), errors.Is(err, io.EOF):
				// Slave side closed or FD torn down by Close.
				return
			default:
				p.logger.Warnf("pty read pump exiting: %v", err)
				return
			}
		}
	}
}

// writePump drains writeBuf into the master.
func (p *ringPTY) writePump() {
	defer p.wg.Done()

	master := p.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		if p.writeBuf.IsEmpty() {
			if _, err := unix.Poll(pollFd, p.pollTimeoutMs); err != nil && !errors.Is(err, syscall.EINTR) {
				p.logger.Warnf("pty write poll: %v", err)
			}
			continue
		}

		n, err := p.writeBuf.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.logger.Warnf("pty write dequeue: %v", err)
			continue
		}
		offset := 0
		for offset < n {
			written, err := master.Write(buf[offset:n])
			if written > 0 {
				offset += written
				atomic.AddUint64(&p.writeBytes, uint64(written))
			}
			if err != nil {
				switch {
				case errors.Is(err, syscall.EINTR):
					continue
				case errors.Is(err, syscall.EAGAIN):
					if _, pollErr := unix.Poll(pollFd, p.pollTimeoutMs); pollErr != nil && !errors.Is(pollErr, syscall.EINTR) {
						p.logger.Warnf("pty write poll: %v", pollErr)
					}
					continue
				case errors.Is(err, syscall.EBADF):
					return
				default:
					p.logger.Warnf("pty write pump exiting: %v", err)
					return
				}
			}
		}
	}
}

// Read drains up to len(b) buffered bytes without blocking. When nothing is
// buffered it returns syscall.EAGAIN so callers can poll.
func (p *ringPTY) Read(b []byte) (int, error) {
	if atomic.LoadUint32(&p.closed) == 1 {
		return 0, os.ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}
	n, err := p.readBuf.TryRead(b)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, err
	}
	if n == 0 {
		return 0, syscall.EAGAIN
	}
	return n, nil
}

// Write queues data for the slave without blocking. On overflow the oldest
// queued bytes are dropped and the returned count reflects what was kept.
func (p *ringPTY) Write(data []byte) (int, error) {
	if atomic.LoadUint32(&p.closed) == 1 {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}
	written, err := p.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return 0, err
	}
	if written < len(data) {
		atomic.AddUint64(&p.droppedWrite, uint64(len(data)-written))
		p.logger.Warnf("pty write buffer overflow, dropped %d bytes", len(data)-written)
	}
	return written, nil
}

// Close stops the pumps and releases both FDs. Idempotent.
func (p *ringPTY) Close() error {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return nil
	}
	p.cancel()
	// Closing the FDs unblocks any in-flight syscalls with EBADF.
	if err := p.master.Close(); err != nil {
		p.logger.Warnf("close pty master: %v", err)
	}
	if err := p.slave.Close(); err != nil {
		p.logger.Warnf("close pty slave: %v", err)
	}

	done := make(chan struct{})
	groutine.Go(context.Background(), "pty-close-wait", func(context.Context) {
		p.wg.Wait()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		p.logger.Errorf("pty pumps did not exit within 5s for %s", p.ttyName)
	}
	return nil
}

func (p *ringPTY) TTYName() string { return p.ttyName }

func (p *ringPTY) Stats() Stats {
	return Stats{
		ReadBytesTotal:    atomic.LoadUint64(&p.readBytes),
		WriteBytesTotal:   atomic.LoadUint64(&p.writeBytes),
		DroppedReadCount:  atomic.LoadUint64(&p.droppedRead),
		DroppedWriteCount: atomic.LoadUint64(&p.droppedWrite),
	}
}
