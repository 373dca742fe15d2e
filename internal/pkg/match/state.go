package match

import (
	"errors"
	"fmt"
)

var ErrIllegalTransition = errors.New("illegal match state transition")

type State int

const (
	StateSelected State = iota
	StateDepositedA
	StateDepositedB
	StateStarted
	StateEnded
	StatePaidOut
	StateFailed
)

var stateNames = map[State]string{
	StateSelected:   "selected",
	StateDepositedA: "deposited_a",
	StateDepositedB: "deposited_b",
	StateStarted:    "started",
	StateEnded:      "ended",
	StatePaidOut:    "paid_out",
	StateFailed:     "failed",
}

func (s State) String() string {
	name, ok := stateNames[s]
	if !ok {
		return fmt.Sprintf("state(%d)", int(s))
	}

	return name
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state

			return nil
		}
	}

	return fmt.Errorf("unknown match state %q", text)
}

func (s State) Terminal() bool {
	return s == StatePaidOut || s == StateFailed
}

// Match tracks one pipeline run. Reached keeps the last state that was
// confirmed, so a failed match still tells how far it got.
type Match struct {
	ID      string       `json:"id"`
	Request MatchRequest `json:"request"`
	Handle  MatchHandle  `json:"handle,omitempty"`
	Result  *MatchResult `json:"result,omitempty"`
	State   State        `json:"state"`
	Reached State        `json:"reached"`
	Err     error        `json:"-"`
}

func NewMatch(id string, request MatchRequest) *Match {
	return &Match{
		ID:      id,
		Request: request,
		State:   StateSelected,
		Reached: StateSelected,
	}
}

func (m *Match) advance(to State) error {
	if m.State.Terminal() || m.State+1 != to || to == StateFailed {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.State, to)
	}

	m.State = to
	m.Reached = to

	return nil
}

func (m *Match) fail(err error) {
	if m.State.Terminal() {
		return
	}

	m.State = StateFailed
	m.Err = err
}
