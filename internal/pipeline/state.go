package pipeline

// State is the controller's lifecycle state.
type State int

const (
	// Loading is the initial state: frames are rendered but never classified.
	Loading State = iota
	// ReadyNoHand means the model is loaded and the last frame had no hand.
	ReadyNoHand
	// ReadyHandDetected means the model is loaded and the last frame had a hand.
	ReadyHandDetected
	// LoadFailed means the model could not be loaded. Rendering continues,
	// classification is disabled.
	LoadFailed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case ReadyNoHand:
		return "ready_no_hand"
	case ReadyHandDetected:
		return "ready_hand_detected"
	case LoadFailed:
		return "load_failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Ready reports whether the classifier is available.
func (s State) Ready() bool {
	return s == ReadyNoHand || s == ReadyHandDetected
}
