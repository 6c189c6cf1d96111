package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/securepay/payment-service/internal/alert"
	"github.com/securepay/payment-service/internal/directory"
	"github.com/securepay/payment-service/internal/domain"
	"github.com/securepay/payment-service/internal/flow"
	"github.com/securepay/payment-service/internal/scan"
	"github.com/securepay/payment-service/internal/store"
	"github.com/securepay/payment-service/internal/trust"
	"github.com/securepay/payment-service/pkg/rabbitmq"
)

type publisherStub struct {
	rabbitmq.Publisher
	mu      sync.Mutex
	keys    []string
	reports []domain.PayeeReport
}

func (p *publisherStub) PublishPaymentEvent(ctx context.Context, routingKey string, event domain.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *publisherStub) PublishPayeeReport(ctx context.Context, report domain.PayeeReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, report)
	return nil
}

func (p *publisherStub) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// waitForKeys polls because the warning event is published from the background
// submit goroutine.
func (p *publisherStub) waitForKeys(n int, timeout time.Duration) []string {
	deadline := time.Now().Add(timeout)
	for {
		keys := p.routingKeys()
		if len(keys) >= n || time.Now().After(deadline) {
			return keys
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type limiterStub struct {
	count int
	err   error
	calls int
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.calls++
	return l.count, 42, l.err
}

type countingEvaluator struct {
	flow.Evaluator
	mu    sync.Mutex
	calls int
}

func (e *countingEvaluator) Evaluate(ctx context.Context, identifier string, amount float64) (domain.RiskDecision, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return e.Evaluator.Evaluate(ctx, identifier, amount)
}

func newTestService(t *testing.T, publisher rabbitmq.Publisher, opts Options) (*Service, *countingEvaluator) {
	t.Helper()
	dir, err := directory.Default()
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	profiles := store.ProfileStoreFunc(func(ctx context.Context, identifier string) (domain.RemoteProfile, bool, error) {
		if identifier == "newuser@bank" {
			return domain.RemoteProfile{DisplayName: "New User", TrustScore: 45}, true, nil
		}
		return domain.RemoteProfile{}, false, nil
	})
	evaluator := &countingEvaluator{Evaluator: trust.NewEvaluator(dir, profiles)}
	prompter := alert.NewPendingPrompter()
	return NewService(evaluator, alert.NewPresenter(prompter), prompter, publisher, opts), evaluator
}

func TestService_WarnOverrideConfirm(t *testing.T) {
	publisher := &publisherStub{}
	svc, _ := newTestService(t, publisher, Options{})
	ctx := context.Background()

	if _, err := svc.Initiate(ctx, "user_1", "vikram@upi", 500); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	view, err := svc.Submit(ctx, "user_1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if view.Payment.State != domain.StateAwaitingOverride || view.Screen != flow.ScreenRiskAlert {
		t.Fatalf("expected risk alert, got %s / %s", view.Payment.State, view.Screen)
	}
	if view.Alert == nil || view.Alert.RiskLevel != "Very High" {
		t.Fatalf("expected alert with risk level, got %+v", view.Alert)
	}

	if _, err := svc.Submit(ctx, "user_1"); !errors.Is(err, flow.ErrFlowBusy) {
		t.Fatalf("expected busy on resubmit, got %v", err)
	}

	view, err = svc.Override(ctx, "user_1", domain.ChoiceProceedAnyway)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if view.Payment.State != domain.StateConfirming {
		t.Fatalf("expected confirming, got %s", view.Payment.State)
	}

	view, err = svc.Confirm(ctx, "user_1", "hdfc")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if view.Payment.State != domain.StateSucceeded || view.Success == nil {
		t.Fatalf("expected success notice, got %+v", view)
	}
	if view.Success.Message != "₹500 sent to Vikram Singh." {
		t.Fatalf("unexpected success message %q", view.Success.Message)
	}

	keys := publisher.waitForKeys(2, 2*time.Second)
	published := map[string]bool{}
	for _, k := range keys {
		published[k] = true
	}
	if len(keys) != 2 || !published[rabbitmq.RoutingRiskWarned] || !published[rabbitmq.RoutingPaymentSettled] {
		t.Fatalf("unexpected published events %v", keys)
	}

	view, err = svc.Done(ctx, "user_1")
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	if view.Payment.State != domain.StateIdle {
		t.Fatalf("expected idle, got %s", view.Payment.State)
	}
}

func TestService_BlockedThenReenter(t *testing.T) {
	svc, _ := newTestService(t, nil, Options{SettlementDelay: time.Millisecond})
	ctx := context.Background()

	svc.Initiate(ctx, "user_1", "ghost@nowhere", 750)
	view, err := svc.Submit(ctx, "user_1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if view.Payment.State != domain.StateBlocked || view.Payment.BlockReason != domain.BlockUnknownRecipient {
		t.Fatalf("expected blocked unknown recipient, got %+v", view.Payment)
	}

	view, err = svc.Amend(ctx, "user_1", "ramesh@ybl", 0)
	if err != nil {
		t.Fatalf("amend: %v", err)
	}
	if view.Payment.Amount != 750 || view.Payment.State != domain.StateCollecting {
		t.Fatalf("expected amount kept in collecting, got %+v", view.Payment)
	}

	view, err = svc.Submit(ctx, "user_1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if view.Payment.State != domain.StateConfirming || view.Payment.RecipientName != "Ramesh Kumar" {
		t.Fatalf("expected confirming for ramesh, got %+v", view.Payment)
	}
}

func TestService_RateLimit(t *testing.T) {
	svc, evaluator := newTestService(t, nil, Options{EvaluateLimitPerMinute: 5})
	limiter := &limiterStub{count: 6}
	svc.SetRateLimiter(limiter)
	ctx := context.Background()

	svc.Initiate(ctx, "user_1", "ramesh@ybl", 100)
	_, err := svc.Submit(ctx, "user_1")
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) || rateErr.RetryAfterSeconds != 42 {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if _, err := svc.Evaluate(ctx, "user_1", "ramesh@ybl", 100); !errors.As(err, &rateErr) {
		t.Fatalf("expected rate limit on evaluate, got %v", err)
	}
	if evaluator.calls != 0 {
		t.Fatalf("limited calls must not reach the evaluator, got %d", evaluator.calls)
	}

	limiter.count, limiter.err = 0, errors.New("redis down")
	decision, err := svc.Evaluate(ctx, "user_1", "ramesh@ybl", 100)
	if err != nil {
		t.Fatalf("limiter failure must not block checks: %v", err)
	}
	if decision.Outcome != domain.OutcomeApproved {
		t.Fatalf("expected approved, got %s", decision.Outcome)
	}
}

func TestService_Scan(t *testing.T) {
	svc, _ := newTestService(t, nil, Options{})
	ctx := context.Background()

	view, err := svc.Scan(ctx, "user_1", scan.Reported{Text: "upi://pay?pa=priya@upi&pn=Priya&am=300"}, nil, 0)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if view.Payment.RecipientID != "priya@upi" || view.Payment.Amount != 300 {
		t.Fatalf("unexpected payment from scan %+v", view.Payment)
	}

	_, err = svc.Scan(ctx, "user_2", scan.Reported{Failure: "permission_denied"}, nil, 100)
	if !errors.Is(err, scan.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if view, _ := svc.Current("user_2"); view.Payment.State != domain.StateIdle {
		t.Fatalf("camera failure must not start a payment, got %s", view.Payment.State)
	}
}

func TestService_Reports(t *testing.T) {
	publisher := &publisherStub{}
	svc, _ := newTestService(t, publisher, Options{})
	ctx := context.Background()

	invalid := []struct {
		in   ReportInput
		want error
	}{
		{in: ReportInput{Category: "spam", Description: "long enough text"}, want: ErrReportIdentifierRequired},
		{in: ReportInput{Identifier: "vikram@upi", Category: "rude", Description: "long enough text"}, want: ErrUnknownReportCategory},
		{in: ReportInput{Identifier: "vikram@upi", Category: "spam", Description: "short"}, want: ErrReportDescriptionShort},
	}
	for _, tt := range invalid {
		if _, err := svc.ReportPayee(ctx, "user_1", tt.in); !errors.Is(err, tt.want) {
			t.Fatalf("expected %v, got %v", tt.want, err)
		}
	}

	first, err := svc.ReportPayee(ctx, "user_1", ReportInput{Identifier: "vikram@upi", Category: "fraudulent-transaction", Description: "Took money and never delivered"})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if first.RecipientName != "Vikram Singh" || first.Severity != "high" || first.Status != "submitted" {
		t.Fatalf("unexpected report %+v", first)
	}
	second, _ := svc.ReportPayee(ctx, "user_1", ReportInput{Identifier: "ghost@nowhere", Category: "spam", Description: "Keeps sending payment requests"})

	reports := svc.Reports("user_1")
	if len(reports) != 2 || reports[0].ID != second.ID {
		t.Fatalf("expected newest report first, got %+v", reports)
	}
	if len(svc.Reports("user_2")) != 0 {
		t.Fatal("reports must be kept per user")
	}
	if len(publisher.reports) != 2 {
		t.Fatalf("expected 2 published reports, got %d", len(publisher.reports))
	}
}

func TestService_SweepIdleSessions(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc, _ := newTestService(t, nil, Options{Now: clock})
	ctx := context.Background()

	svc.Initiate(ctx, "stale", "ramesh@ybl", 100)
	stale, _ := svc.controller("stale")

	now = now.Add(20 * time.Minute)
	svc.Current("fresh")

	if removed := svc.SweepIdleSessions(15 * time.Minute); removed != 1 {
		t.Fatalf("expected 1 session removed, got %d", removed)
	}
	if stale.State() != domain.StateCancelled {
		t.Fatalf("expected in-progress payment to be cancelled, got %s", stale.State())
	}
	if view, _ := svc.Current("stale"); view.Payment.State != domain.StateIdle {
		t.Fatalf("expected a fresh session, got %s", view.Payment.State)
	}
}

func TestService_MissingUser(t *testing.T) {
	svc, _ := newTestService(t, nil, Options{})
	if _, err := svc.Initiate(context.Background(), " ", "ramesh@ybl", 1); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("expected ErrMissingUser, got %v", err)
	}
}

func TestParseLimiterResult(t *testing.T) {
	count, retry, err := parseLimiterResult([]interface{}{int64(3), int64(1500)}, 60000)
	if err != nil || count != 3 || retry != 2 {
		t.Fatalf("unexpected result %d %d %v", count, retry, err)
	}
	_, retry, _ = parseLimiterResult([]interface{}{int64(1), int64(-1)}, 60000)
	if retry != 60 {
		t.Fatalf("expected window fallback, got %d", retry)
	}
	if _, _, err := parseLimiterResult("nope", 1000); err == nil {
		t.Fatal("expected shape error")
	}
}

func TestRedisRateLimiter_Disabled(t *testing.T) {
	limiter := NewRedisRateLimiter(nil, " custom: ")
	if limiter.prefix != "custom" {
		t.Fatalf("unexpected prefix %q", limiter.prefix)
	}
	count, retry, err := limiter.ConsumeRateLimit(context.Background(), "evaluate", "user_1", 5, time.Minute)
	if err != nil || count != 0 || retry != 0 {
		t.Fatalf("expected disabled limiter, got %d %d %v", count, retry, err)
	}
	if got := rateLimitKey(DefaultRateLimitPrefix, "evaluate", "user_1"); got != "securepay:rate_limit:evaluate:user_1" {
		t.Fatalf("unexpected key %s", got)
	}
}
