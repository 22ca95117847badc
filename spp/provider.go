package spp

import "context"

// PairingKind describes how a pairing request wants to be completed, as
// reported by the platform.
type PairingKind int

const (
	// PairConfirmOnly requires nothing beyond confirming the prompt.
	PairConfirmOnly PairingKind = iota
	// PairDisplayPin shows a PIN on the local side.
	PairDisplayPin
	// PairProvidePin asks the local side to enter a PIN.
	PairProvidePin
	// PairConfirmPinMatch asks both sides to confirm a displayed PIN.
	PairConfirmPinMatch
)

// PairingPolicy decides which pairing kinds the session accepts without
// user interaction. Implementations must be safe for reuse across attempts.
type PairingPolicy func(kind PairingKind) bool

// AcceptConfirmOnly accepts only confirm-only pairing prompts.
func AcceptConfirmOnly(kind PairingKind) bool {
	return kind == PairConfirmOnly
}

// AcceptAll accepts every pairing kind automatically. This mirrors the
// historical default and is security-sensitive; see DESIGN.md.
func AcceptAll(PairingKind) bool {
	return true
}

// PairingState reports a peer's pairing capability and status.
type PairingState struct {
	CanPair  bool
	IsPaired bool
}

// Opaque handles issued by a Provider. The core never inspects them; it only
// hands them back to the provider that issued them.
type (
	// DeviceHandle references a resolved remote device.
	DeviceHandle interface{ DeviceAddr() uint64 }

	// ServiceHandle references one resolved RFCOMM service on a device.
	ServiceHandle interface{ ServiceID() ServiceID }

	// SocketHandle references one connected stream socket.
	SocketHandle any

	// OperationHandle references exactly one in-flight read or write
	// operation together with any buffer the provider must keep alive
	// until completion.
	OperationHandle any
)

// OpResult carries the payload of a completed stream operation: received
// bytes for reads, the transferred count for writes.
type OpResult struct {
	Data []byte
	N    int
}

// Provider is the native capability layer the session core is built on:
// device resolution, pairing, RFCOMM service discovery, and socket I/O.
//
// Pipeline calls (ResolveDevice through ConnectSocket) block until completion
// and must honor ctx cancellation; the session runs them off the caller's
// goroutine. Stream calls follow a start/poll contract: StartRead and
// StartWrite return immediately with an operation handle, and completion is
// observed only through PollOperation. A provider must keep a started
// operation's buffer alive until the operation is observed complete.
//
// Implementations need not support cancelling a started stream operation;
// the session never requires it.
type Provider interface {
	// ResolveDevice looks up a peer by its 48-bit address.
	ResolveDevice(ctx context.Context, addr uint64) (DeviceHandle, error)

	// QueryPairing reports the peer's pairing capability and status.
	QueryPairing(ctx context.Context, dev DeviceHandle) (PairingState, error)

	// Pair runs the platform pairing flow, consulting policy for each
	// pairing prompt kind.
	Pair(ctx context.Context, dev DeviceHandle, policy PairingPolicy) error

	// FindServices returns the RFCOMM services on dev matching service,
	// in provider order. An empty result is not an error.
	FindServices(ctx context.Context, dev DeviceHandle, service ServiceID) ([]ServiceHandle, error)

	// ConnectSocket opens a fresh stream socket to the service endpoint.
	ConnectSocket(ctx context.Context, svc ServiceHandle) (SocketHandle, error)

	// StartRead starts one native read of up to capacity bytes.
	StartRead(sock SocketHandle, capacity int) (OperationHandle, error)

	// StartWrite starts one native write of p. The provider owns p until
	// the operation completes.
	StartWrite(sock SocketHandle, p []byte) (OperationHandle, error)

	// PollOperation checks one in-flight operation. done is false while
	// the operation is still outstanding; once done, err carries the
	// failure if any and res the payload otherwise.
	PollOperation(op OperationHandle) (res OpResult, done bool, err error)

	// CloseSocket releases a socket. Safe to call on an already-closed
	// handle; any in-flight operations on it complete with an error.
	CloseSocket(sock SocketHandle) error
}
