/**
 * @description
 * This package contains the recipient-trust evaluation used before any payment is
 * confirmed. It combines the curated directory, the remote profile store and a
 * default-unknown policy into a single risk decision.
 *
 * Precedence (first match wins):
 * 1. Directory match: scores below the directory threshold warn with the payee's
 *    canned note, everything else is approved. The remote store is not consulted.
 * 2. Remote profile: lookup failures propagate as *LookupError; found profiles warn
 *    below the remote threshold and are approved otherwise.
 * 3. Nothing found: the recipient is Unknown and the payment must not proceed.
 */

package trust

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/securepay/payment-service/internal/domain"
)

const (
	DefaultDirectoryWarnThreshold = 80
	DefaultRemoteWarnThreshold    = 50

	LowTrustMessageFormat   = "This user has a low trust score of %d. Proceed with caution."
	UnknownRecipientMessage = "We couldn't verify this recipient. Please check the UPI ID or phone number and try again."
)

// ErrInvalidTrustScore is wrapped in a LookupError when the remote store returns a
// score outside [0,100].
var ErrInvalidTrustScore = errors.New("remote profile trust score out of range")

// LookupError reports that the remote profile check could not be completed. It is a
// failure, never a risk outcome.
type LookupError struct {
	Identifier string
	Err        error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("profile lookup for %q failed: %v", e.Identifier, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// DirectoryLookup is the read-only view of the recipient directory.
type DirectoryLookup interface {
	Lookup(identifier string) (domain.PayeeRecord, bool)
}

// ProfileLookup is the remote profile store.
type ProfileLookup interface {
	LookupProfile(ctx context.Context, identifier string) (domain.RemoteProfile, bool, error)
}

// AmountPolicy may adjust a decision based on the transfer amount. It receives the
// decision the score-based rules produced.
type AmountPolicy func(decision domain.RiskDecision, amount float64) domain.RiskDecision

// Evaluator produces risk decisions.
type Evaluator struct {
	directory          DirectoryLookup
	profiles           ProfileLookup
	directoryThreshold int
	remoteThreshold    int
	policy             AmountPolicy
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithDirectoryThreshold sets the score below which directory payees are flagged.
func WithDirectoryThreshold(threshold int) Option {
	return func(e *Evaluator) {
		if domain.ValidTrustScore(threshold) {
			e.directoryThreshold = threshold
		}
	}
}

// WithRemoteThreshold sets the score below which remote profiles are flagged.
func WithRemoteThreshold(threshold int) Option {
	return func(e *Evaluator) {
		if domain.ValidTrustScore(threshold) {
			e.remoteThreshold = threshold
		}
	}
}

// WithAmountPolicy installs a per-amount policy.
func WithAmountPolicy(policy AmountPolicy) Option {
	return func(e *Evaluator) {
		e.policy = policy
	}
}

// NewEvaluator creates an evaluator over the given directory and profile store.
func NewEvaluator(directory DirectoryLookup, profiles ProfileLookup, opts ...Option) *Evaluator {
	e := &Evaluator{
		directory:          directory,
		profiles:           profiles,
		directoryThreshold: DefaultDirectoryWarnThreshold,
		remoteThreshold:    DefaultRemoteWarnThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate decides whether a payment to identifier may proceed. The amount is passed
// to the installed AmountPolicy, if any.
func (e *Evaluator) Evaluate(ctx context.Context, identifier string, amount float64) (domain.RiskDecision, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return unknownDecision(), nil
	}

	if e.directory != nil {
		if rec, ok := e.directory.Lookup(identifier); ok {
			decision := e.directoryDecision(rec)
			log.Printf("level=info component=trust msg=\"directory match\" outcome=%s score=%d", decision.Outcome, rec.TrustScore)
			return e.applyPolicy(decision, amount), nil
		}
	}

	if e.profiles == nil {
		return domain.RiskDecision{}, &LookupError{Identifier: identifier, Err: errors.New("no profile store")}
	}

	profile, found, err := e.profiles.LookupProfile(ctx, identifier)
	if err != nil {
		log.Printf("level=warn component=trust msg=\"remote lookup failed\" err=%v", err)
		return domain.RiskDecision{}, &LookupError{Identifier: identifier, Err: err}
	}
	if !found {
		log.Printf("level=info component=trust msg=\"recipient unknown\" outcome=%s", domain.OutcomeUnknown)
		return unknownDecision(), nil
	}
	if !domain.ValidTrustScore(profile.TrustScore) {
		return domain.RiskDecision{}, &LookupError{
			Identifier: identifier,
			Err:        fmt.Errorf("%w: %d", ErrInvalidTrustScore, profile.TrustScore),
		}
	}

	decision := e.remoteDecision(profile)
	log.Printf("level=info component=trust msg=\"remote match\" outcome=%s score=%d", decision.Outcome, profile.TrustScore)
	return e.applyPolicy(decision, amount), nil
}

func (e *Evaluator) directoryDecision(rec domain.PayeeRecord) domain.RiskDecision {
	score := rec.TrustScore
	decision := domain.RiskDecision{
		Outcome:       domain.OutcomeApproved,
		RecipientName: rec.DisplayName,
		TrustScore:    &score,
		Source:        domain.SourceDirectory,
	}
	if score < e.directoryThreshold {
		decision.Outcome = domain.OutcomeWarn
		decision.Message = rec.RiskNote
	}
	return decision
}

func (e *Evaluator) remoteDecision(profile domain.RemoteProfile) domain.RiskDecision {
	score := profile.TrustScore
	decision := domain.RiskDecision{
		Outcome:       domain.OutcomeApproved,
		RecipientName: profile.DisplayName,
		TrustScore:    &score,
		Source:        domain.SourceRemote,
	}
	if score < e.remoteThreshold {
		decision.Outcome = domain.OutcomeWarn
		decision.Message = fmt.Sprintf(LowTrustMessageFormat, score)
	}
	return decision
}

func (e *Evaluator) applyPolicy(decision domain.RiskDecision, amount float64) domain.RiskDecision {
	if e.policy == nil {
		return decision
	}
	return e.policy(decision, amount)
}

func unknownDecision() domain.RiskDecision {
	return domain.RiskDecision{
		Outcome: domain.OutcomeUnknown,
		Message: UnknownRecipientMessage,
		Source:  domain.SourceNone,
	}
}
