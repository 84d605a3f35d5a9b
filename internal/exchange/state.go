package exchange

import "fmt"

// State is a step of one RequestKey call.
type State int

const (
	StateIdle State = iota
	StateCredentialsLoaded
	StateCodeGenerated
	StateRequestSent
	StateSucceeded
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:              "idle",
	StateCredentialsLoaded: "credentials-loaded",
	StateCodeGenerated:     "code-generated",
	StateRequestSent:       "request-sent",
	StateSucceeded:         "succeeded",
	StateFailed:            "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// transitions lists the legal successors of each state. A transient failure
// with budget left goes from RequestSent back to CodeGenerated.
var transitions = map[State][]State{
	StateIdle:              {StateCredentialsLoaded, StateFailed},
	StateCredentialsLoaded: {StateCodeGenerated, StateFailed},
	StateCodeGenerated:     {StateRequestSent, StateFailed},
	StateRequestSent:       {StateSucceeded, StateFailed, StateCodeGenerated},
}

// Transition is reported to an Observer on every state change.
type Transition struct {
	From    State
	To      State
	Attempt int
	// Err is set when entering StateFailed, and on the retry edge
	// RequestSent -> CodeGenerated.
	Err error
}

// Observer receives state transitions. It must not block.
type Observer func(Transition)

type machine struct {
	state    State
	attempt  int
	observer Observer
}

func (m *machine) to(next State, err error) {
	if !m.allowed(next) {
		panic(fmt.Sprintf("exchange: illegal transition %s -> %s", m.state, next))
	}
	t := Transition{From: m.state, To: next, Attempt: m.attempt, Err: err}
	m.state = next
	if m.observer != nil {
		m.observer(t)
	}
}

func (m *machine) allowed(next State) bool {
	for _, s := range transitions[m.state] {
		if s == next {
			return true
		}
	}
	return false
}
