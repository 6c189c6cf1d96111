package flow

import (
	"errors"
	"fmt"

	"github.com/securepay/payment-service/internal/domain"
)

var (
	ErrFlowBusy          = errors.New("payment is already being processed")
	ErrAttemptCancelled  = errors.New("payment attempt was cancelled")
	ErrUnknownMethod     = errors.New("unknown payment method")
	ErrInvalidTransition = errors.New("transition not allowed")
)

// ValidationError reports bad user input. The flow stays in Collecting and the
// user is asked again; it is never turned into a risk decision.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransitionError reports an operation that the current state does not accept.
type TransitionError struct {
	From domain.FlowState
	Op   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while payment is %s", e.Op, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
