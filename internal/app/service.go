/**
 * @description
 * This file contains the session-level business logic of the payment-service. The
 * `Service` keeps one flow controller per signed-in user, turns HTTP-style calls
 * into controller operations and publishes lifecycle events.
 *
 * Key features:
 * - One active payment per user; the controller is created on first use.
 * - Submit returns as soon as the risk check has produced a result, while a
 *   warning keeps waiting in the background for the user's answer.
 * - Trust checks are rate limited per user through Redis.
 *
 * @dependencies
 * - internal/flow, internal/alert, internal/scan: payment pipeline.
 * - pkg/rabbitmq: event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/securepay/payment-service/internal/alert"
	"github.com/securepay/payment-service/internal/domain"
	"github.com/securepay/payment-service/internal/flow"
	"github.com/securepay/payment-service/internal/scan"
	"github.com/securepay/payment-service/pkg/rabbitmq"
)

const (
	rateLimitScopeEvaluate = "evaluate"
	publishTimeout         = 5 * time.Second
)

var ErrMissingUser = errors.New("user id is required")

// RateLimitError is returned when a user has used up their trust-check quota.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many safety checks, retry in %d seconds", e.RetryAfterSeconds)
}

// Options tunes the controllers created by the service.
type Options struct {
	SettlementDelay        time.Duration
	MaxAmount              float64
	PaymentMethods         []domain.PaymentMethod
	EvaluateLimitPerMinute int
	Now                    func() time.Time
}

// PaymentView is what the UI needs to render the current payment.
type PaymentView struct {
	Payment domain.PaymentContext `json:"payment"`
	Screen  flow.Screen           `json:"screen"`
	Alert   *alert.Alert          `json:"alert,omitempty"`
	Success *alert.SuccessNotice  `json:"success,omitempty"`
}

type session struct {
	ctrl     *flow.Controller
	lastSeen time.Time
}

// Service provides the payment use cases for signed-in users.
type Service struct {
	evaluator flow.Evaluator
	presenter flow.Presenter
	prompter  *alert.PendingPrompter
	publisher rabbitmq.Publisher
	limiter   RateLimiter
	opts      Options

	mu       sync.Mutex
	sessions map[string]*session
	reports  map[string][]domain.PayeeReport
}

// NewService creates the payment service. presenter should deliver alerts through
// prompter so answers posted later can be routed back to the waiting flow.
func NewService(evaluator flow.Evaluator, presenter flow.Presenter, prompter *alert.PendingPrompter, publisher rabbitmq.Publisher, opts Options) *Service {
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		evaluator: evaluator,
		presenter: presenter,
		prompter:  prompter,
		publisher: publisher,
		opts:      opts,
		sessions:  make(map[string]*session),
		reports:   make(map[string][]domain.PayeeReport),
	}
}

// SetRateLimiter enables per-user limits on trust checks.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.limiter = limiter
}

// PaymentMethods lists the funding instruments offered at the confirm step.
func (s *Service) PaymentMethods() []domain.PaymentMethod {
	if len(s.opts.PaymentMethods) > 0 {
		return append([]domain.PaymentMethod(nil), s.opts.PaymentMethods...)
	}
	return append([]domain.PaymentMethod(nil), domain.DefaultPaymentMethods...)
}

// Current returns the user's payment as it stands.
func (s *Service) Current(userID string) (PaymentView, error) {
	ctrl, err := s.controller(userID)
	if err != nil {
		return PaymentView{}, err
	}
	return buildView(ctrl.Snapshot()), nil
}

// Initiate starts a new payment for the user.
func (s *Service) Initiate(ctx context.Context, userID, identifier string, amount float64) (PaymentView, error) {
	ctrl, err := s.controller(userID)
	if err != nil {
		return PaymentView{}, err
	}
	p, err := ctrl.Initiate(identifier, amount)
	return buildView(p), err
}

// Amend corrects the collected input. A non-positive amount keeps the amount entered
// earlier, which is how a blocked payment is retried with a new identifier.
func (s *Service) Amend(ctx context.Context, userID, identifier string, amount float64) (PaymentView, error) {
	ctrl, err := s.controller(userID)
	if err != nil {
		return PaymentView{}, err
	}
	var p domain.PaymentContext
	if amount <= 0 {
		p, err = ctrl.Reenter(identifier)
	} else {
		p, err = ctrl.Amend(identifier, amount)
	}
	return buildView(p), err
}

type submitResult struct {
	payment domain.PaymentContext
	err     error
}

// Submit runs the trust check. It returns once the payment has left Evaluating; a
// warning is then waiting for Override while the flow keeps running in the background.
func (s *Service) Submit(ctx context.Context, userID string) (PaymentView, error) {
	ctrl, err := s.controller(userID)
	if err != nil {
		return PaymentView{}, err
	}
	if ctrl.State() == domain.StateCollecting {
		if err := s.consumeQuota(ctx, userID); err != nil {
			return buildView(ctrl.Snapshot()), err
		}
	}

	changed := ctrl.Watch()
	done := make(chan submitResult, 1)
	go func() {
		flowCtx := alert.WithSession(context.Background(), userID)
		p, err := ctrl.Submit(flowCtx)
		if err != nil && !flow.IsUserFacing(err) {
			log.Printf("level=warn component=app msg=\"submit finished with error\" user_id=%s err=%v", userID, err)
		}
		done <- submitResult{payment: p, err: err}
	}()

	for {
		select {
		case r := <-done:
			return buildView(r.payment), r.err
		case <-changed:
			if ctrl.State() != domain.StateEvaluating {
				return buildView(ctrl.Snapshot()), nil
			}
			changed = ctrl.Watch()
		case <-ctx.Done():
			return buildView(ctrl.Snapshot()), ctx.Err()
		}
	}
}

// Override answers the pending risk alert.
func (s *Service) Override(ctx context.Context, userID string, choice domain.UserChoice) (PaymentView, error) {
	ctrl, err := s.controller(userID)
	if err != nil {
		return PaymentView{}, err
	}
	p, err := ctrl.Override(choice)
	if err != nil {
		return buildView(p), err
	}
	if s.prompter != nil {
		// release the prompt still parked for this session
		if resolveErr := s.prompter.Resolve(userID, choice); resolveErr != nil && !errors.Is(resolveErr, alert.ErrNoPendingAlert) {
			log.Printf("level=warn component=app msg=\"failed to release alert prompt\" user_id=%s err=%v", userID, resolveErr)
		}
	}
	return buildView(p), nil
}

// Confirm settles the payment with the chosen funding instrument.
func (s *Service) Confirm(ctx context.Context, userID, methodID string) (PaymentView, error) {
	ctrl, err := s.controller(userID)
	if err != nil {
		return PaymentView{}, err
	}
	p, err := ctrl.Confirm(ctx, methodID)
	return buildView(p), err
}

// Cancel abandons the active payment.
func (s *Service) Cancel(ctx context.Context, userID string) (PaymentView, error) {
	ctrl, err := s.controller(userID)
	if err != nil {
		return PaymentView{}, err
	}
	p, err := ctrl.Cancel()
	return buildView(p), err
}

// Done dismisses a finished payment.
func (s *Service) Done(ctx context.Context, userID string) (PaymentView, error) {
	ctrl, err := s.controller(userID)
	if err != nil {
		return PaymentView{}, err
	}
	if err := ctrl.Done(); err != nil {
		return buildView(ctrl.Snapshot()), err
	}
	return buildView(ctrl.Snapshot()), nil
}

// Scan starts a payment from a QR code. The decoded identifier is used exactly like
// typed input; an amount in the code is used when amount is not positive.
func (s *Service) Scan(ctx context.Context, userID string, decoder scan.Decoder, src scan.FrameSource, amount float64) (PaymentView, error) {
	if strings.TrimSpace(userID) == "" {
		return PaymentView{}, ErrMissingUser
	}
	payload, err := scan.Scan(ctx, decoder, src)
	if err != nil {
		return PaymentView{}, err
	}
	if amount <= 0 {
		amount = payload.Amount
	}
	return s.Initiate(ctx, userID, payload.Identifier, amount)
}

// Evaluate runs a stand-alone trust check without touching the user's payment.
func (s *Service) Evaluate(ctx context.Context, userID, identifier string, amount float64) (domain.RiskDecision, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.RiskDecision{}, ErrMissingUser
	}
	if err := s.consumeQuota(ctx, userID); err != nil {
		return domain.RiskDecision{}, err
	}
	return s.evaluator.Evaluate(ctx, identifier, amount)
}

func (s *Service) consumeQuota(ctx context.Context, userID string) error {
	if s.limiter == nil || s.opts.EvaluateLimitPerMinute <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, rateLimitScopeEvaluate, userID, s.opts.EvaluateLimitPerMinute, time.Minute)
	if err != nil {
		log.Printf("level=warn component=app msg=\"rate limiter unavailable; allowing request\" user_id=%s err=%v", userID, err)
		return nil
	}
	if count > s.opts.EvaluateLimitPerMinute {
		return &RateLimitError{RetryAfterSeconds: retryAfter}
	}
	return nil
}

// controller returns the user's controller, creating it on first use.
func (s *Service) controller(userID string) (*flow.Controller, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok {
		sess.lastSeen = s.opts.Now()
		return sess.ctrl, nil
	}

	opts := []flow.Option{
		flow.WithSettlementDelay(s.opts.SettlementDelay),
		flow.WithMaxAmount(s.opts.MaxAmount),
		flow.WithPaymentMethods(s.opts.PaymentMethods),
		flow.WithClock(s.opts.Now),
		flow.WithObserver(s.publishTransition(userID)),
	}
	if s.presenter != nil {
		opts = append(opts, flow.WithPresenter(s.presenter))
	}
	ctrl := flow.NewController(s.evaluator, opts...)
	s.sessions[userID] = &session{ctrl: ctrl, lastSeen: s.opts.Now()}
	return ctrl, nil
}

func (s *Service) publishTransition(userID string) flow.Observer {
	return func(t flow.Transition) {
		routingKey, ok := rabbitmq.RoutingKeyFor(t.To)
		if !ok {
			return
		}
		event := domain.PaymentEvent{
			PaymentID:     t.Payment.ID,
			UserID:        userID,
			RecipientID:   t.Payment.RecipientID,
			RecipientName: t.Payment.RecipientName,
			Amount:        t.Payment.Amount,
			State:         t.To,
			BlockReason:   t.Payment.BlockReason,
			TransactionID: t.Payment.TransactionID,
			Timestamp:     s.opts.Now(),
		}
		if t.Payment.Decision != nil {
			event.Outcome = t.Payment.Decision.Outcome
			event.Source = t.Payment.Decision.Source
		}

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.publisher.PublishPaymentEvent(ctx, routingKey, event); err != nil {
			log.Printf("level=warn component=app msg=\"failed to publish payment event\" routing_key=%s payment_id=%s err=%v", routingKey, event.PaymentID, err)
		}
	}
}

func buildView(p domain.PaymentContext) PaymentView {
	view := PaymentView{Payment: p, Screen: flow.ScreenFor(p.State)}
	if p.State == domain.StateAwaitingOverride && p.Decision != nil {
		a := alert.Build(*p.Decision)
		view.Alert = &a
	}
	if notice, ok := alert.Success(p); ok {
		view.Success = &notice
	}
	return view
}
