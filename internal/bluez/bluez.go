//go:build linux

// Package bluez implements the serial-port capability provider on top of the
// BlueZ D-Bus API and kernel RFCOMM sockets. Device metadata (pairing state,
// advertised service UUIDs) comes from org.bluez.Device1, while the data path
// is a plain AF_BLUETOOTH stream socket driven through one-shot background
// operations so the session core can poll them.
package bluez

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/srg/btspp/internal/btaddr"
	"github.com/srg/btspp/internal/groutine"
	"github.com/srg/btspp/spp"
)

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	propsIface      = "org.freedesktop.DBus.Properties"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"

	// DefaultChannel is used when the remote's SDP record is not consulted.
	// Channel 1 is where virtually every SPP peripheral publishes its port.
	DefaultChannel = 1
)

// Provider talks to the system BlueZ daemon. It is safe for concurrent use;
// each socket carries its own state and D-Bus method calls are independent.
type Provider struct {
	logger  *logrus.Logger
	bus     *dbus.Conn
	adapter dbus.ObjectPath
	paths   *hashmap.Map[uint64, dbus.ObjectPath]
	channel uint8
}

// Option adjusts provider construction.
type Option func(*Provider)

// WithChannel overrides the RFCOMM channel used for outgoing connections.
func WithChannel(ch uint8) Option {
	return func(p *Provider) { p.channel = ch }
}

// New connects to the system bus and locates the first powered adapter.
func New(logger *logrus.Logger, opts ...Option) (*Provider, error) {
	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	adapter, err := firstAdapter(bus)
	if err != nil {
		return nil, err
	}
	p := &Provider{
		logger:  logger,
		bus:     bus,
		adapter: adapter,
		paths:   hashmap.New[uint64, dbus.ObjectPath](),
		channel: DefaultChannel,
	}
	for _, opt := range opts {
		opt(p)
	}
	logger.WithField("adapter", string(adapter)).Debug("BlueZ provider ready")
	return p, nil
}

func firstAdapter(bus *dbus.Conn) (dbus.ObjectPath, error) {
	obj := bus.Object(bluezService, dbus.ObjectPath("/"))
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := obj.Call(objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return "", fmt.Errorf("GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return "", fmt.Errorf("decode GetManagedObjects: %w", err)
	}
	for path, ifaces := range objs {
		if _, ok := ifaces[adapterIface]; ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("no Bluetooth adapter on %s", bluezService)
}

type deviceHandle struct {
	addr uint64
	path dbus.ObjectPath
}

func (d *deviceHandle) DeviceAddr() uint64 { return d.addr }

type serviceHandle struct {
	addr    uint64
	id      spp.ServiceID
	channel uint8
}

func (s *serviceHandle) ServiceID() spp.ServiceID { return s.id }

// devPath derives the BlueZ object path for an address, e.g.
// /org/bluez/hci0/dev_00_02_B0_57_7D_D6.
func (p *Provider) devPath(addr uint64) dbus.ObjectPath {
	suffix := strings.ReplaceAll(btaddr.Format(addr), ":", "_")
	return dbus.ObjectPath(string(p.adapter) + "/dev_" + suffix)
}

func (p *Provider) deviceObject(path dbus.ObjectPath) dbus.BusObject {
	return p.bus.Object(bluezService, path)
}

func (p *Provider) deviceProperty(path dbus.ObjectPath, name string, out interface{}) error {
	call := p.deviceObject(path).Call(propsIface+".Get", 0, deviceIface, name)
	if call.Err != nil {
		return call.Err
	}
	var v dbus.Variant
	if err := call.Store(&v); err != nil {
		return err
	}
	return v.Store(out)
}

// ResolveDevice confirms the device is known to BlueZ. A device that has
// never been discovered has no object path, which surfaces as a D-Bus
// UnknownObject error here.
func (p *Provider) ResolveDevice(ctx context.Context, addr uint64) (spp.DeviceHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, _ := p.paths.GetOrInsert(addr, p.devPath(addr))
	var got string
	if err := p.deviceProperty(path, "Address", &got); err != nil {
		return nil, fmt.Errorf("device %s not known to adapter: %w", btaddr.Format(addr), err)
	}
	return &deviceHandle{addr: addr, path: path}, nil
}

// QueryPairing reads the Paired property. BlueZ can always attempt pairing
// for a resolved device, so CanPair is true whenever the property read works.
func (p *Provider) QueryPairing(ctx context.Context, dev spp.DeviceHandle) (spp.PairingState, error) {
	if err := ctx.Err(); err != nil {
		return spp.PairingState{}, err
	}
	h := dev.(*deviceHandle)
	var paired bool
	if err := p.deviceProperty(h.path, "Paired", &paired); err != nil {
		return spp.PairingState{}, fmt.Errorf("read Paired: %w", err)
	}
	return spp.PairingState{CanPair: true, IsPaired: paired}, nil
}

// Pair invokes Device1.Pair. Interactive prompts are handled by the system
// pairing agent, so the policy is consulted once for the confirm-only case;
// anything requiring a PIN exchange is left to the agent and accepted here.
func (p *Provider) Pair(ctx context.Context, dev spp.DeviceHandle, policy spp.PairingPolicy) error {
	h := dev.(*deviceHandle)
	if policy != nil && !policy(spp.PairConfirmOnly) {
		return fmt.Errorf("pairing declined by policy for %s", btaddr.Format(h.addr))
	}
	call := p.deviceObject(h.path).CallWithContext(ctx, deviceIface+".Pair", 0)
	if call.Err != nil {
		return fmt.Errorf("Pair %s: %w", btaddr.Format(h.addr), call.Err)
	}
	p.logger.WithField("device", btaddr.Format(h.addr)).Info("paired")
	return nil
}

// FindServices matches the requested service against the UUIDs advertised by
// the device. BlueZ exposes resolved SDP records as canonical dashed UUID
// strings on Device1.UUIDs.
func (p *Provider) FindServices(ctx context.Context, dev spp.DeviceHandle, service spp.ServiceID) ([]spp.ServiceHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := dev.(*deviceHandle)
	var uuids []string
	if err := p.deviceProperty(h.path, "UUIDs", &uuids); err != nil {
		return nil, fmt.Errorf("read UUIDs: %w", err)
	}
	var out []spp.ServiceHandle
	for _, u := range uuids {
		id, err := spp.ParseServiceID(u)
		if err != nil {
			continue
		}
		if id == service {
			out = append(out, &serviceHandle{addr: h.addr, id: id, channel: p.channel})
		}
	}
	return out, nil
}

type socket struct {
	fd     int
	mu     sync.Mutex
	closed bool
}

func (s *socket) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	// Shutdown first so a blocked background read returns promptly.
	_ = unix.Shutdown(s.fd, unix.SHUT_RDWR)
	return unix.Close(s.fd)
}

// acquire returns the descriptor while the socket is still open. Checking
// closed right before the syscall narrows the window in which a concurrent
// close could hand the kernel a recycled descriptor number.
func (s *socket) acquire() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("rfcomm socket closed")
	}
	return s.fd, nil
}

// ConnectSocket dials an RFCOMM stream socket. The kernel connect cannot be
// interrupted directly, so cancellation closes the descriptor out from under
// it, which makes the pending connect fail.
func (p *Provider) ConnectSocket(ctx context.Context, svc spp.ServiceHandle) (spp.SocketHandle, error) {
	h := svc.(*serviceHandle)
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm socket: %w", err)
	}
	sa := &unix.SockaddrRFCOMM{Addr: btaddr.Bytes(h.addr), Channel: h.channel}

	done := make(chan error, 1)
	groutine.Go(context.Background(), "bluez-rfcomm-connect", func(context.Context) {
		done <- unix.Connect(fd, sa)
	})
	select {
	case <-ctx.Done():
		_ = unix.Close(fd)
		<-done
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("rfcomm connect %s ch %d: %w", btaddr.Format(h.addr), h.channel, err)
		}
	}
	p.logger.WithFields(logrus.Fields{
		"device":  btaddr.Format(h.addr),
		"channel": h.channel,
	}).Debug("RFCOMM socket connected")
	return &socket{fd: fd}, nil
}

func (p *Provider) CloseSocket(sock spp.SocketHandle) error {
	return sock.(*socket).close()
}

// operation is a one-shot background syscall whose completion is observed by
// polling. The mutex guards the result fields; the syscall itself runs on a
// dedicated goroutine that the kernel unblocks on shutdown.
type operation struct {
	mu   sync.Mutex
	done bool
	res  spp.OpResult
	err  error
}

func (o *operation) complete(res spp.OpResult, err error) {
	o.mu.Lock()
	o.done = true
	o.res = res
	o.err = err
	o.mu.Unlock()
}

func (p *Provider) StartRead(sock spp.SocketHandle, capacity int) (spp.OperationHandle, error) {
	s := sock.(*socket)
	op := &operation{}
	buf := make([]byte, capacity)
	groutine.Go(context.Background(), "bluez-rfcomm-read", func(context.Context) {
		fd, err := s.acquire()
		if err != nil {
			op.complete(spp.OpResult{}, err)
			return
		}
		n, err := unix.Read(fd, buf)
		if err != nil {
			op.complete(spp.OpResult{}, fmt.Errorf("rfcomm read: %w", err))
			return
		}
		if n == 0 && capacity > 0 {
			op.complete(spp.OpResult{}, fmt.Errorf("rfcomm read: remote closed"))
			return
		}
		op.complete(spp.OpResult{Data: buf[:n], N: n}, nil)
	})
	return op, nil
}

func (p *Provider) StartWrite(sock spp.SocketHandle, payload []byte) (spp.OperationHandle, error) {
	s := sock.(*socket)
	op := &operation{}
	groutine.Go(context.Background(), "bluez-rfcomm-write", func(context.Context) {
		fd, err := s.acquire()
		if err != nil {
			op.complete(spp.OpResult{}, err)
			return
		}
		n, err := unix.Write(fd, payload)
		if err != nil {
			op.complete(spp.OpResult{}, fmt.Errorf("rfcomm write: %w", err))
			return
		}
		op.complete(spp.OpResult{N: n}, nil)
	})
	return op, nil
}

func (p *Provider) PollOperation(h spp.OperationHandle) (spp.OpResult, bool, error) {
	op := h.(*operation)
	op.mu.Lock()
	defer op.mu.Unlock()
	if !op.done {
		return spp.OpResult{}, false, nil
	}
	return op.res, true, op.err
}
