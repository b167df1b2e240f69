package pipeline

// State is the lifecycle state of the pipeline's engine resource.
type State int

const (
	// Uninitialized means no engine handle exists and none is being acquired.
	Uninitialized State = iota
	// Initializing means engine acquisition is in flight.
	Initializing
	// Ready means a valid engine handle exists and frames are accepted.
	Ready
	// Error means the last acquisition failed. No automatic retry: a fresh
	// Initialize call is required to leave this state.
	Error
)

// String returns a human-readable state name for logging.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}
