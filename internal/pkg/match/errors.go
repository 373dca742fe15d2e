package match

import (
	"errors"
	"fmt"

	"github.com/vreid/baishi/internal/pkg/selector"
)

var (
	ErrInsufficientPlayers = selector.ErrInsufficientPlayers
	ErrDepositFailed       = errors.New("deposit failed")
	ErrMatchStartFailed    = errors.New("match start failed")
	ErrScoreFailed         = errors.New("scoring failed")
	ErrMatchEndFailed      = errors.New("match end failed")
	ErrMatchAlreadyEnded   = errors.New("match already ended")
	ErrPayoutFailed        = errors.New("payout failed")
	ErrInvalidHandle       = errors.New("invalid match handle")
)

// StepError ties a failure to the pipeline step it aborted. It matches
// both its Kind and the underlying cause under errors.Is.
type StepError struct {
	Step Step
	Kind error
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func stepError(step Step, kind, err error) *StepError {
	return &StepError{
		Step: step,
		Kind: kind,
		Err:  err,
	}
}
