package flow

import "github.com/securepay/payment-service/internal/domain"

// transitions lists every edge of the payment state machine.
var transitions = map[domain.FlowState][]domain.FlowState{
	domain.StateIdle:             {domain.StateCollecting},
	domain.StateCollecting:       {domain.StateCollecting, domain.StateEvaluating, domain.StateCancelled},
	domain.StateEvaluating:       {domain.StateConfirming, domain.StateAwaitingOverride, domain.StateBlocked, domain.StateCancelled},
	domain.StateBlocked:          {domain.StateCollecting, domain.StateCancelled},
	domain.StateAwaitingOverride: {domain.StateConfirming, domain.StateCancelled},
	domain.StateConfirming:       {domain.StateSettling, domain.StateCancelled},
	domain.StateSettling:         {domain.StateSucceeded, domain.StateCancelled},
	domain.StateSucceeded:        {domain.StateIdle},
	domain.StateCancelled:        {domain.StateIdle},
}

// CanTransition reports whether the state machine has an edge from one state to another.
func CanTransition(from, to domain.FlowState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Screen names the UI view that renders a flow state.
type Screen string

const (
	ScreenHome          Screen = "home"
	ScreenSendMoney     Screen = "send_money"
	ScreenChecking      Screen = "checking"
	ScreenTryAgain      Screen = "try_again"
	ScreenRiskAlert     Screen = "risk_alert"
	ScreenPaymentMethod Screen = "payment_method"
	ScreenProcessing    Screen = "processing"
	ScreenSuccess       Screen = "success"
	ScreenCancelled     Screen = "cancelled"
)

// ScreenFor projects a flow state onto the screen that displays it. The state is
// the only source of truth; screens are never stored.
func ScreenFor(state domain.FlowState) Screen {
	switch state {
	case domain.StateCollecting:
		return ScreenSendMoney
	case domain.StateEvaluating:
		return ScreenChecking
	case domain.StateBlocked:
		return ScreenTryAgain
	case domain.StateAwaitingOverride:
		return ScreenRiskAlert
	case domain.StateConfirming:
		return ScreenPaymentMethod
	case domain.StateSettling:
		return ScreenProcessing
	case domain.StateSucceeded:
		return ScreenSuccess
	case domain.StateCancelled:
		return ScreenCancelled
	default:
		return ScreenHome
	}
}
