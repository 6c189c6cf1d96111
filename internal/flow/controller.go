/**
 * @description
 * This package drives a single user's payment through the confirmation pipeline:
 * collect input, run the trust check, ask about warnings, confirm the funding
 * instrument and settle.
 *
 * @notes
 * - One Controller serves one user session and owns at most one PaymentContext.
 * - The mutex is never held while the flow is suspended (remote lookup, alert
 *   prompt, settlement delay). Results that arrive after the context was cancelled
 *   or replaced are dropped by comparing the context ID and state.
 */

package flow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/securepay/payment-service/internal/domain"
)

const (
	DefaultSettlementDelay = time.Second

	ServiceUnavailableMessage = "We couldn't complete the safety check right now. Please try again."
	UnknownRecipientMessage   = "We couldn't verify this recipient. Please check the UPI ID or phone number and try again."
)

// Evaluator produces the risk decision for a recipient.
type Evaluator interface {
	Evaluate(ctx context.Context, identifier string, amount float64) (domain.RiskDecision, error)
}

// Presenter shows a warning and blocks until the user answers it.
type Presenter interface {
	Present(ctx context.Context, decision domain.RiskDecision) (domain.UserChoice, error)
}

// Transition describes one state change. Payment is a copy taken right after the change.
type Transition struct {
	From    domain.FlowState
	To      domain.FlowState
	Payment domain.PaymentContext
}

// Observer is notified of every transition, after the controller lock is released.
type Observer func(Transition)

// Controller is the payment state machine for one session.
type Controller struct {
	mu sync.Mutex

	evaluator       Evaluator
	presenter       Presenter
	observers       []Observer
	now             func() time.Time
	newID           func() uuid.UUID
	settlementDelay time.Duration
	maxAmount       float64
	methods         []domain.PaymentMethod

	current       *domain.PaymentContext
	attempt       context.Context
	cancelAttempt context.CancelFunc
	changed       chan struct{}
	pending       []Transition
}

// Option customizes a Controller.
type Option func(*Controller)

// WithPresenter installs the alert presenter consulted on Warn decisions. Without one
// the flow waits in AwaitingOverride until Override is called.
func WithPresenter(p Presenter) Option {
	return func(c *Controller) { c.presenter = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func WithNewID(newID func() uuid.UUID) Option {
	return func(c *Controller) {
		if newID != nil {
			c.newID = newID
		}
	}
}

func WithSettlementDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.settlementDelay = d
		}
	}
}

// WithMaxAmount rejects amounts above max. Zero or less means no limit.
func WithMaxAmount(limit float64) Option {
	return func(c *Controller) { c.maxAmount = limit }
}

func WithPaymentMethods(methods []domain.PaymentMethod) Option {
	return func(c *Controller) {
		if len(methods) > 0 {
			c.methods = append([]domain.PaymentMethod(nil), methods...)
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// NewController creates a controller in Idle.
func NewController(evaluator Evaluator, opts ...Option) *Controller {
	c := &Controller{
		evaluator:       evaluator,
		now:             time.Now,
		newID:           uuid.New,
		settlementDelay: DefaultSettlementDelay,
		methods:         domain.DefaultPaymentMethods,
		changed:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initiate starts a new payment. A previous context that already finished is
// discarded first. Invalid input still creates the context in Collecting and
// returns a *ValidationError so the user can correct it.
func (c *Controller) Initiate(identifier string, amount float64) (domain.PaymentContext, error) {
	c.mu.Lock()
	defer c.unlock()

	if c.current != nil {
		if !c.current.State.Terminal() {
			return c.snapshotLocked(), &TransitionError{From: c.current.State, Op: "initiate"}
		}
		c.discardLocked()
	}

	attempt, cancel := context.WithCancel(context.Background())
	c.attempt, c.cancelAttempt = attempt, cancel
	c.current = &domain.PaymentContext{
		ID:          c.newID(),
		RecipientID: strings.TrimSpace(identifier),
		Amount:      amount,
		State:       domain.StateIdle,
		StartedAt:   c.now(),
	}
	if err := c.setState("initiate", domain.StateCollecting); err != nil {
		return c.snapshotLocked(), err
	}
	log.Printf("level=info component=flow msg=\"payment initiated\" payment_id=%s", c.current.ID)

	return c.snapshotLocked(), c.validate(c.current.RecipientID, amount)
}

// Amend replaces the identifier and amount. It is accepted while collecting input
// and after a blocked attempt, which returns the flow to Collecting.
func (c *Controller) Amend(identifier string, amount float64) (domain.PaymentContext, error) {
	c.mu.Lock()
	defer c.unlock()
	return c.amendLocked("amend", identifier, amount)
}

// Reenter replaces only the identifier and keeps the amount entered earlier.
func (c *Controller) Reenter(identifier string) (domain.PaymentContext, error) {
	c.mu.Lock()
	defer c.unlock()
	if c.current == nil {
		return domain.PaymentContext{}, &TransitionError{From: domain.StateIdle, Op: "reenter"}
	}
	return c.amendLocked("reenter", identifier, c.current.Amount)
}

func (c *Controller) amendLocked(op, identifier string, amount float64) (domain.PaymentContext, error) {
	if c.current == nil {
		return domain.PaymentContext{}, &TransitionError{From: domain.StateIdle, Op: op}
	}
	if !CanTransition(c.current.State, domain.StateCollecting) {
		return c.snapshotLocked(), &TransitionError{From: c.current.State, Op: op}
	}
	c.current.RecipientID = strings.TrimSpace(identifier)
	c.current.RecipientName = ""
	c.current.Amount = amount
	c.current.Decision = nil
	c.current.BlockReason = ""
	c.current.Notice = ""
	if err := c.setState(op, domain.StateCollecting); err != nil {
		return c.snapshotLocked(), err
	}
	return c.snapshotLocked(), c.validate(c.current.RecipientID, amount)
}

// Submit runs the trust check for the collected input. Warnings are handed to the
// presenter and Submit returns once the user has answered, the flow was cancelled
// or the prompt failed. A second Submit while one is in progress gets ErrFlowBusy.
func (c *Controller) Submit(ctx context.Context) (domain.PaymentContext, error) {
	c.mu.Lock()
	if c.current == nil {
		c.unlock()
		return domain.PaymentContext{}, &TransitionError{From: domain.StateIdle, Op: "submit"}
	}
	switch c.current.State {
	case domain.StateEvaluating, domain.StateAwaitingOverride, domain.StateSettling:
		snap := c.snapshotLocked()
		c.unlock()
		return snap, ErrFlowBusy
	}
	if c.current.State == domain.StateCollecting {
		if err := c.validate(c.current.RecipientID, c.current.Amount); err != nil {
			snap := c.snapshotLocked()
			c.unlock()
			return snap, err
		}
	}
	if err := c.setState("submit", domain.StateEvaluating); err != nil {
		snap := c.snapshotLocked()
		c.unlock()
		return snap, err
	}
	id := c.current.ID
	identifier, amount := c.current.RecipientID, c.current.Amount
	runCtx, stop := joinContext(ctx, c.attempt)
	c.unlock()
	defer stop()

	decision, evalErr := c.evaluator.Evaluate(runCtx, identifier, amount)

	c.mu.Lock()
	if !c.activeLocked(id, domain.StateEvaluating) {
		snap := c.snapshotLocked()
		c.unlock()
		log.Printf("level=info component=flow msg=\"discarding late risk decision\" payment_id=%s", id)
		return snap, ErrAttemptCancelled
	}

	if evalErr != nil {
		log.Printf("level=warn component=flow msg=\"trust check failed\" payment_id=%s err=%v", id, evalErr)
		c.block(domain.BlockServiceUnavailable, ServiceUnavailableMessage)
		snap := c.snapshotLocked()
		c.unlock()
		return snap, nil
	}

	d := decision
	c.current.Decision = &d
	c.current.RecipientName = decision.RecipientName

	switch decision.Outcome {
	case domain.OutcomeApproved:
		c.setState("submit", domain.StateConfirming)
		snap := c.snapshotLocked()
		c.unlock()
		return snap, nil
	case domain.OutcomeWarn:
		c.current.Notice = decision.Message
		c.setState("submit", domain.StateAwaitingOverride)
	default:
		message := decision.Message
		if message == "" {
			message = UnknownRecipientMessage
		}
		c.block(domain.BlockUnknownRecipient, message)
		snap := c.snapshotLocked()
		c.unlock()
		return snap, nil
	}

	presenter := c.presenter
	c.unlock()
	if presenter == nil {
		return c.Snapshot(), nil
	}

	choice, promptErr := presenter.Present(runCtx, decision)

	c.mu.Lock()
	defer c.unlock()
	if c.current == nil || c.current.ID != id || c.current.State == domain.StateCancelled {
		return c.snapshotLocked(), ErrAttemptCancelled
	}
	if c.current.State != domain.StateAwaitingOverride {
		// answered through Override while the prompt was open
		return c.snapshotLocked(), nil
	}
	if promptErr != nil {
		log.Printf("level=warn component=flow msg=\"risk alert was not answered\" payment_id=%s err=%v", id, promptErr)
		return c.snapshotLocked(), fmt.Errorf("present risk alert: %w", promptErr)
	}
	return c.snapshotLocked(), c.applyChoiceLocked(choice)
}

// Override answers a pending risk alert directly.
func (c *Controller) Override(choice domain.UserChoice) (domain.PaymentContext, error) {
	c.mu.Lock()
	defer c.unlock()
	if c.current == nil || c.current.State != domain.StateAwaitingOverride {
		return c.snapshotLocked(), &TransitionError{From: c.stateLocked(), Op: "override"}
	}
	err := c.applyChoiceLocked(choice)
	return c.snapshotLocked(), err
}

func (c *Controller) applyChoiceLocked(choice domain.UserChoice) error {
	switch choice {
	case domain.ChoiceProceedAnyway:
		log.Printf("level=info component=flow msg=\"user proceeded past risk alert\" payment_id=%s", c.current.ID)
		c.current.Notice = ""
		return c.setState("override", domain.StateConfirming)
	case domain.ChoiceAbort:
		c.cancelLocked("override")
		return nil
	default:
		return &ValidationError{Field: "choice", Reason: fmt.Sprintf("unsupported value %q", choice)}
	}
}

// Confirm records the funding instrument and settles the payment after the
// settlement delay. The risk decision is not re-evaluated. If ctx ends before
// settlement completes the payment is cancelled.
func (c *Controller) Confirm(ctx context.Context, methodID string) (domain.PaymentContext, error) {
	c.mu.Lock()
	if c.current == nil || c.current.State != domain.StateConfirming {
		snap, state := c.snapshotLocked(), c.stateLocked()
		c.unlock()
		if state == domain.StateSettling {
			return snap, ErrFlowBusy
		}
		return snap, &TransitionError{From: state, Op: "confirm"}
	}
	method, ok := c.findMethod(methodID)
	if !ok {
		snap := c.snapshotLocked()
		c.unlock()
		return snap, &ValidationError{Field: "payment_method", Reason: ErrUnknownMethod.Error()}
	}
	c.current.PaymentMethod = method.ID
	c.setState("confirm", domain.StateSettling)
	id := c.current.ID
	runCtx, stop := joinContext(ctx, c.attempt)
	delay := c.settlementDelay
	c.unlock()
	defer stop()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	var interrupted bool
	select {
	case <-timer.C:
	case <-runCtx.Done():
		interrupted = true
	}

	c.mu.Lock()
	defer c.unlock()
	if !c.activeLocked(id, domain.StateSettling) {
		return c.snapshotLocked(), ErrAttemptCancelled
	}
	if interrupted {
		c.cancelLocked("confirm")
		return c.snapshotLocked(), ErrAttemptCancelled
	}

	settledAt := c.now()
	c.current.TransactionID = c.newID().String()
	c.current.SettledAt = &settledAt
	c.setState("settle", domain.StateSucceeded)
	c.cancelAttempt()
	log.Printf("level=info component=flow msg=\"payment settled\" payment_id=%s transaction_id=%s", id, c.current.TransactionID)
	return c.snapshotLocked(), nil
}

// Cancel ends the active payment. Anything still in flight for it is abandoned.
func (c *Controller) Cancel() (domain.PaymentContext, error) {
	c.mu.Lock()
	defer c.unlock()
	if c.current == nil || c.current.State.Terminal() {
		return c.snapshotLocked(), &TransitionError{From: c.stateLocked(), Op: "cancel"}
	}
	c.cancelLocked("cancel")
	return c.snapshotLocked(), nil
}

// Done discards a finished payment and returns the controller to Idle.
func (c *Controller) Done() error {
	c.mu.Lock()
	defer c.unlock()
	if c.current == nil || !c.current.State.Terminal() {
		return &TransitionError{From: c.stateLocked(), Op: "done"}
	}
	c.discardLocked()
	return nil
}

// Snapshot returns a copy of the current payment. The zero value with State Idle is
// returned when there is none.
func (c *Controller) Snapshot() domain.PaymentContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the current flow state.
func (c *Controller) State() domain.FlowState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Watch returns a channel that is closed on the next state change.
func (c *Controller) Watch() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// PaymentMethods lists the funding instruments accepted by Confirm.
func (c *Controller) PaymentMethods() []domain.PaymentMethod {
	return append([]domain.PaymentMethod(nil), c.methods...)
}

func (c *Controller) validate(identifier string, amount float64) error {
	if identifier == "" {
		return &ValidationError{Field: "identifier", Reason: "is required"}
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be a positive number"}
	}
	if c.maxAmount > 0 && amount > c.maxAmount {
		return &ValidationError{Field: "amount", Reason: fmt.Sprintf("must not exceed %.2f", c.maxAmount)}
	}
	return nil
}

func (c *Controller) findMethod(id string) (domain.PaymentMethod, bool) {
	id = strings.TrimSpace(id)
	for _, m := range c.methods {
		if m.ID == id {
			return m, true
		}
	}
	return domain.PaymentMethod{}, false
}

func (c *Controller) block(reason domain.BlockReason, message string) {
	c.current.BlockReason = reason
	c.current.Notice = message
	c.setState("submit", domain.StateBlocked)
	log.Printf("level=info component=flow msg=\"payment blocked\" payment_id=%s reason=%s", c.current.ID, reason)
}

func (c *Controller) cancelLocked(op string) {
	if err := c.setState(op, domain.StateCancelled); err != nil {
		return
	}
	c.cancelAttempt()
	log.Printf("level=info component=flow msg=\"payment cancelled\" payment_id=%s", c.current.ID)
}

func (c *Controller) discardLocked() {
	c.setState("done", domain.StateIdle)
	if c.cancelAttempt != nil {
		c.cancelAttempt()
	}
	c.current = nil
	c.attempt, c.cancelAttempt = nil, nil
}

// setState moves the current context along an edge of the state machine and
// queues the change for observers.
func (c *Controller) setState(op string, to domain.FlowState) error {
	from := c.current.State
	if !CanTransition(from, to) {
		return &TransitionError{From: from, Op: op}
	}
	c.current.State = to
	c.pending = append(c.pending, Transition{From: from, To: to, Payment: c.snapshotLocked()})
	close(c.changed)
	c.changed = make(chan struct{})
	return nil
}

func (c *Controller) activeLocked(id uuid.UUID, state domain.FlowState) bool {
	return c.current != nil && c.current.ID == id && c.current.State == state
}

func (c *Controller) stateLocked() domain.FlowState {
	if c.current == nil {
		return domain.StateIdle
	}
	return c.current.State
}

func (c *Controller) snapshotLocked() domain.PaymentContext {
	if c.current == nil {
		return domain.PaymentContext{State: domain.StateIdle}
	}
	snap := *c.current
	if c.current.Decision != nil {
		d := *c.current.Decision
		if score, ok := d.Score(); ok {
			d.TrustScore = &score
		}
		snap.Decision = &d
	}
	if c.current.SettledAt != nil {
		t := *c.current.SettledAt
		snap.SettledAt = &t
	}
	return snap
}

// unlock releases the mutex and then delivers queued transitions.
func (c *Controller) unlock() {
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, t := range pending {
		for _, o := range c.observers {
			o(t)
		}
	}
}

// joinContext returns a context that ends when either parent ends.
func joinContext(ctx, attempt context.Context) (context.Context, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	joined, cancel := context.WithCancel(ctx)
	if attempt == nil {
		return joined, cancel
	}
	stopAfter := context.AfterFunc(attempt, cancel)
	return joined, func() {
		stopAfter()
		cancel()
	}
}

// IsUserFacing reports whether err is one the user can fix by changing input or
// waiting, as opposed to an internal failure.
func IsUserFacing(err error) bool {
	var validationErr *ValidationError
	var transitionErr *TransitionError
	return errors.As(err, &validationErr) || errors.As(err, &transitionErr) ||
		errors.Is(err, ErrFlowBusy) || errors.Is(err, ErrAttemptCancelled)
}
