package host

// State is the lifecycle state of a Runtime.
type State int

const (
	// StateUnloaded means no core image has been loaded.
	StateUnloaded State = iota
	// StateCoreLoaded means a core is compiled but has no live instance.
	StateCoreLoaded
	// StateReady means a live instance completed setup and accepts performs.
	StateReady
	// StatePerforming means a perform is running on the live instance.
	StatePerforming
	// StateDestroyed means the instance was torn down. Init or Perform start a new one.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateCoreLoaded:
		return "core_loaded"
	case StateReady:
		return "ready"
	case StatePerforming:
		return "performing"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}
