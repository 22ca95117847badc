// Package spptest provides a deterministic in-memory capability provider for
// testing SPP sessions without any Bluetooth hardware. Bytes written through
// a connected socket are echoed back to subsequent reads.
//
// The zero-configuration provider is "always available": any address
// resolves, pairing succeeds, and every peer carries the Serial Port Profile
// service. Individual peers can be reconfigured through the fluent Peer
// builder to exercise failure paths.
package spptest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/btspp/spp"
)

// Provider is an in-memory spp.Provider double.
type Provider struct {
	peers *hashmap.Map[uint64, *Peer]

	closedSockets  atomic.Int64
	pairRequests   atomic.Int64
	readsInFlight  atomic.Int64
	writesInFlight atomic.Int64
	maxReads       atomic.Int64
	maxWrites      atomic.Int64

	failNextRead  atomic.Bool
	failNextWrite atomic.Bool

	mu       sync.Mutex
	lastSock *Socket
}

// Peer is one simulated remote device. All With* methods return the peer for
// chaining and must be called before the session connects to it.
type Peer struct {
	provider *Provider

	name     string
	addr     uint64
	pairable bool
	paired   bool
	pairKind spp.PairingKind

	blockPairing bool // Pair hangs until the context is cancelled

	resolveErr error
	queryErr   error
	pairErr    error
	findErr    error
	connectErr error

	services *orderedmap.OrderedMap[spp.ServiceID, int] // service -> channel, provider order
}

// New creates an always-available echo provider.
func New() *Provider {
	return &Provider{peers: hashmap.New[uint64, *Peer]()}
}

// Peer returns the simulated peer for addr, creating a default one on first
// use: pairable, not yet paired, confirm-only prompts, SPP service on
// channel 1.
func (p *Provider) Peer(addr uint64) *Peer {
	peer, _ := p.peers.GetOrInsert(addr, p.defaultPeer(addr))
	return peer
}

func (p *Provider) defaultPeer(addr uint64) *Peer {
	peer := &Peer{
		provider: p,
		addr:     addr,
		pairable: true,
		pairKind: spp.PairConfirmOnly,
		services: orderedmap.New[spp.ServiceID, int](),
	}
	peer.services.Set(spp.SerialPort, 1)
	return peer
}

// WithName sets the peer's display name.
func (b *Peer) WithName(name string) *Peer { b.name = name; return b }

// Paired marks the peer as already paired, so Pair is never invoked.
func (b *Peer) Paired() *Peer { b.paired = true; return b }

// NotPairable reports CanPair=false from QueryPairing.
func (b *Peer) NotPairable() *Peer { b.pairable = false; return b }

// WithPairingKind sets the prompt kind presented to the pairing policy.
func (b *Peer) WithPairingKind(kind spp.PairingKind) *Peer { b.pairKind = kind; return b }

// PairingBlocked makes Pair hang until the caller's context is cancelled,
// simulating a peer stuck in its pairing flow.
func (b *Peer) PairingBlocked() *Peer { b.blockPairing = true; return b }

// WithService registers an additional service on the peer. Registration
// order is the order FindServices reports.
func (b *Peer) WithService(id spp.ServiceID, channel int) *Peer {
	b.services.Set(id, channel)
	return b
}

// WithoutServices removes every service, so service resolution finds nothing.
func (b *Peer) WithoutServices() *Peer {
	b.services = orderedmap.New[spp.ServiceID, int]()
	return b
}

// WithResolveError makes device resolution fail with err.
func (b *Peer) WithResolveError(err error) *Peer { b.resolveErr = err; return b }

// WithQueryPairingError makes the pairing capability query fail with err.
func (b *Peer) WithQueryPairingError(err error) *Peer { b.queryErr = err; return b }

// WithPairError makes the pairing flow fail with err.
func (b *Peer) WithPairError(err error) *Peer { b.pairErr = err; return b }

// WithFindServicesError makes service resolution fail with err.
func (b *Peer) WithFindServicesError(err error) *Peer { b.findErr = err; return b }

// WithConnectError makes the socket connect fail with err.
func (b *Peer) WithConnectError(err error) *Peer { b.connectErr = err; return b }

// ---- observability for tests ----

// ClosedSockets returns how many sockets have been closed so far.
func (p *Provider) ClosedSockets() int { return int(p.closedSockets.Load()) }

// PairRequests returns how many times Pair was invoked.
func (p *Provider) PairRequests() int { return int(p.pairRequests.Load()) }

// MaxReadsInFlight returns the peak number of simultaneously outstanding
// native read operations observed.
func (p *Provider) MaxReadsInFlight() int { return int(p.maxReads.Load()) }

// MaxWritesInFlight is MaxReadsInFlight for the write direction.
func (p *Provider) MaxWritesInFlight() int { return int(p.maxWrites.Load()) }

// FailNextRead makes the next read operation complete with an error.
func (p *Provider) FailNextRead() { p.failNextRead.Store(true) }

// FailNextWrite makes the next write operation complete with an error.
func (p *Provider) FailNextWrite() { p.failNextWrite.Store(true) }

// LastSocket returns the most recently connected socket, or nil.
func (p *Provider) LastSocket() *Socket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSock
}

// ---- spp.Provider implementation ----

type deviceHandle struct{ peer *Peer }

func (h deviceHandle) DeviceAddr() uint64 { return h.peer.addr }

type serviceHandle struct {
	peer    *Peer
	id      spp.ServiceID
	channel int
}

func (h serviceHandle) ServiceID() spp.ServiceID { return h.id }

// ResolveDevice returns a handle for the peer, creating an always-available
// default when the address was never configured.
func (p *Provider) ResolveDevice(ctx context.Context, addr uint64) (spp.DeviceHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	peer := p.Peer(addr)
	if peer.resolveErr != nil {
		return nil, peer.resolveErr
	}
	return deviceHandle{peer: peer}, nil
}

func (p *Provider) QueryPairing(ctx context.Context, dev spp.DeviceHandle) (spp.PairingState, error) {
	peer := dev.(deviceHandle).peer
	if peer.queryErr != nil {
		return spp.PairingState{}, peer.queryErr
	}
	return spp.PairingState{CanPair: peer.pairable, IsPaired: peer.paired}, nil
}

func (p *Provider) Pair(ctx context.Context, dev spp.DeviceHandle, policy spp.PairingPolicy) error {
	p.pairRequests.Add(1)
	peer := dev.(deviceHandle).peer

	if peer.blockPairing {
		<-ctx.Done()
		return ctx.Err()
	}
	if peer.pairErr != nil {
		return peer.pairErr
	}
	if policy != nil && !policy(peer.pairKind) {
		return fmt.Errorf("pairing request of kind %d declined by policy", peer.pairKind)
	}
	peer.paired = true
	return nil
}

// FindServices reports matching services in registration order.
func (p *Provider) FindServices(ctx context.Context, dev spp.DeviceHandle, service spp.ServiceID) ([]spp.ServiceHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	peer := dev.(deviceHandle).peer
	if peer.findErr != nil {
		return nil, peer.findErr
	}
	var out []spp.ServiceHandle
	for pair := peer.services.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == service {
			out = append(out, serviceHandle{peer: peer, id: pair.Key, channel: pair.Value})
		}
	}
	return out, nil
}

func (p *Provider) ConnectSocket(ctx context.Context, svc spp.ServiceHandle) (spp.SocketHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := svc.(serviceHandle)
	if h.peer.connectErr != nil {
		return nil, h.peer.connectErr
	}
	sock := &Socket{provider: p}
	p.mu.Lock()
	p.lastSock = sock
	p.mu.Unlock()
	return sock, nil
}

func (p *Provider) StartRead(sock spp.SocketHandle, capacity int) (spp.OperationHandle, error) {
	s, err := p.socket(sock)
	if err != nil {
		return nil, err
	}
	n := p.readsInFlight.Add(1)
	if n > p.maxReads.Load() {
		p.maxReads.Store(n)
	}
	return &operation{sock: s, read: true, capacity: capacity}, nil
}

func (p *Provider) StartWrite(sock spp.SocketHandle, buf []byte) (spp.OperationHandle, error) {
	s, err := p.socket(sock)
	if err != nil {
		return nil, err
	}
	n := p.writesInFlight.Add(1)
	if n > p.maxWrites.Load() {
		p.maxWrites.Store(n)
	}
	return &operation{sock: s, payload: buf}, nil
}

// PollOperation completes write operations immediately (echoing the payload
// into the socket buffer) and read operations as soon as echoed data is
// available. A read against an empty buffer stays in flight.
func (p *Provider) PollOperation(op spp.OperationHandle) (spp.OpResult, bool, error) {
	o, ok := op.(*operation)
	if !ok {
		return spp.OpResult{}, true, errors.New("spptest: foreign operation handle")
	}
	if o.done {
		return o.res, true, o.err
	}

	o.sock.mu.Lock()
	defer o.sock.mu.Unlock()

	if o.sock.closed {
		p.complete(o, spp.OpResult{}, errors.New("spptest: socket closed"))
		return o.res, true, o.err
	}

	if o.read {
		if p.failNextRead.CompareAndSwap(true, false) {
			p.complete(o, spp.OpResult{}, errors.New("spptest: injected read failure"))
			return o.res, true, o.err
		}
		if o.sock.buf.Len() == 0 {
			return spp.OpResult{}, false, nil
		}
		n := o.capacity
		if l := o.sock.buf.Len(); l < n {
			n = l
		}
		data := make([]byte, n)
		_, _ = o.sock.buf.Read(data)
		p.complete(o, spp.OpResult{Data: data}, nil)
		return o.res, true, nil
	}

	if p.failNextWrite.CompareAndSwap(true, false) {
		p.complete(o, spp.OpResult{}, errors.New("spptest: injected write failure"))
		return o.res, true, o.err
	}
	o.sock.buf.Write(o.payload)
	p.complete(o, spp.OpResult{N: len(o.payload)}, nil)
	return o.res, true, nil
}

func (p *Provider) CloseSocket(sock spp.SocketHandle) error {
	s, err := p.socket(sock)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		p.closedSockets.Add(1)
	}
	return nil
}

func (p *Provider) socket(sock spp.SocketHandle) (*Socket, error) {
	s, ok := sock.(*Socket)
	if !ok || s == nil {
		return nil, errors.New("spptest: foreign socket handle")
	}
	return s, nil
}

// complete marks o terminal exactly once and releases its in-flight slot.
func (p *Provider) complete(o *operation, res spp.OpResult, err error) {
	o.done = true
	o.res = res
	o.err = err
	if o.read {
		p.readsInFlight.Add(-1)
	} else {
		p.writesInFlight.Add(-1)
	}
}

// Socket is one simulated connected stream socket with echo semantics.
type Socket struct {
	provider *Provider

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

// Closed reports whether the socket has been closed.
func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Buffered returns the number of echoed bytes not yet consumed by reads.
func (s *Socket) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// operation is one in-flight read or write against a Socket.
type operation struct {
	sock     *Socket
	read     bool
	capacity int
	payload  []byte

	done bool
	res  spp.OpResult
	err  error
}
