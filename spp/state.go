package spp

// State is the session's connection state. Transitions are strictly forward
// through the pipeline stages except Failed, which is terminal for the
// attempt and overrides any stage.
type State string

const (
	StateIdle             State = "idle"
	StateResolvingDevice  State = "resolving_device"
	StatePairing          State = "pairing"
	StateResolvingService State = "resolving_service"
	StateConnecting       State = "connecting"
	StateReady            State = "ready"
	StateFailed           State = "failed"
)

// Terminal reports whether the state ends a connect attempt.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}
