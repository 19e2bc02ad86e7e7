package gate

import "fmt"

// Evaluation tracks one pass through the gate state machine:
// unchecked, then checking, then exactly one terminal state. A terminal
// evaluation may begin again, since every navigation re-checks.
type Evaluation struct {
	state    State
	decision Decision
}

// NewEvaluation returns an evaluation in the unchecked state.
func NewEvaluation() *Evaluation {
	return &Evaluation{state: StateUnchecked}
}

func (e *Evaluation) State() State {
	return e.state
}

// Decision returns the resolved decision. It is only meaningful once State
// is terminal.
func (e *Evaluation) Decision() Decision {
	return e.decision
}

// Begin moves to checking.
func (e *Evaluation) Begin() error {
	if e.state == StateChecking {
		return fmt.Errorf("%w: already checking", ErrInvalidTransition)
	}
	e.state = StateChecking
	e.decision = Decision{}
	return nil
}

// Resolve moves from checking to the decision's terminal state.
func (e *Evaluation) Resolve(d Decision) error {
	if e.state != StateChecking {
		return fmt.Errorf("%w: resolve from %s", ErrInvalidTransition, e.state)
	}
	if !d.State.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, d.State)
	}
	e.state = d.State
	e.decision = d
	return nil
}
