package session

// Phase is the session's externally visible state.
type Phase int

const (
	// Idle waits for the user to speak.
	Idle Phase = iota
	// Listening records a speech segment.
	Listening
	// Thinking waits for the server's reply.
	Thinking
	// Speaking plays the spoken reply.
	Speaking
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase as its name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// transitions is the complete set of allowed phase changes.
// Speaking to Speaking is an interrupt: a new reply replaces the current one.
var transitions = map[Phase]map[Phase]bool{
	Idle:      {Listening: true, Thinking: true, Speaking: true},
	Listening: {Idle: true, Thinking: true},
	Thinking:  {Idle: true, Speaking: true},
	Speaking:  {Idle: true, Speaking: true},
}

// CanTransition reports whether from → to is an allowed change.
func CanTransition(from, to Phase) bool {
	return transitions[from][to]
}
