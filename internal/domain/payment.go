/**
 * @description
 * This file defines the core domain models for the payment-service.
 * These structs describe payees, risk decisions and the in-flight payment context
 * that moves through the confirmation pipeline.
 *
 * @notes
 * - Amounts are currency-agnostic float64 values; the pipeline only requires them
 *   to be positive and finite.
 * - Nothing in this package is persisted. Payment contexts live in session memory.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	MinTrustScore = 0
	MaxTrustScore = 100
)

// PayeeRecord is a curated entry of the recipient directory.
type PayeeRecord struct {
	DisplayName  string   `json:"display_name" yaml:"display_name"`
	CanonicalID  string   `json:"canonical_id" yaml:"canonical_id"` // phone-style number
	AlternateIDs []string `json:"alternate_ids" yaml:"alternate_ids"`
	TrustScore   int      `json:"trust_score" yaml:"trust_score"`
	RiskNote     string   `json:"risk_note" yaml:"risk_note"`
}

// RemoteProfile is what the external profile store knows about a registered user.
type RemoteProfile struct {
	DisplayName string `json:"display_name"`
	TrustScore  int    `json:"trust_score"`
}

// ValidTrustScore reports whether score lies within [MinTrustScore, MaxTrustScore].
func ValidTrustScore(score int) bool {
	return score >= MinTrustScore && score <= MaxTrustScore
}

// RiskOutcome is the verdict of a trust evaluation.
type RiskOutcome string

const (
	OutcomeApproved RiskOutcome = "approved"
	OutcomeWarn     RiskOutcome = "warn"
	OutcomeUnknown  RiskOutcome = "unknown"
)

// DecisionSource records which data source produced a decision.
type DecisionSource string

const (
	SourceDirectory DecisionSource = "directory"
	SourceRemote    DecisionSource = "remote"
	SourceNone      DecisionSource = "none"
)

// RiskDecision is produced fresh for every evaluation and never stored.
type RiskDecision struct {
	Outcome       RiskOutcome    `json:"outcome"`
	RecipientName string         `json:"recipient_name,omitempty"`
	TrustScore    *int           `json:"trust_score,omitempty"`
	Message       string         `json:"message,omitempty"`
	Source        DecisionSource `json:"source"`
}

// Score returns the trust score and whether the decision carries one.
func (d RiskDecision) Score() (int, bool) {
	if d.TrustScore == nil {
		return 0, false
	}
	return *d.TrustScore, true
}

// FlowState is the single active state of a payment context.
type FlowState string

const (
	StateIdle             FlowState = "idle"
	StateCollecting       FlowState = "collecting"
	StateEvaluating       FlowState = "evaluating"
	StateBlocked          FlowState = "blocked"
	StateAwaitingOverride FlowState = "awaiting_override"
	StateConfirming       FlowState = "confirming"
	StateSettling         FlowState = "settling"
	StateSucceeded        FlowState = "succeeded"
	StateCancelled        FlowState = "cancelled"
)

// Terminal reports whether no transition may leave the state.
func (s FlowState) Terminal() bool {
	return s == StateSucceeded || s == StateCancelled
}

// BlockReason distinguishes why an attempt was blocked.
type BlockReason string

const (
	BlockUnknownRecipient   BlockReason = "unknown_recipient"
	BlockServiceUnavailable BlockReason = "service_unavailable"
)

// UserChoice is the answer to a risk alert.
type UserChoice string

const (
	ChoiceAbort         UserChoice = "abort"
	ChoiceProceedAnyway UserChoice = "proceed"
)

// PaymentContext holds one in-flight payment. Only the flow controller mutates it.
type PaymentContext struct {
	ID            uuid.UUID     `json:"id"`
	RecipientID   string        `json:"recipient_id"`
	RecipientName string        `json:"recipient_name,omitempty"`
	Amount        float64       `json:"amount"`
	State         FlowState     `json:"state"`
	Decision      *RiskDecision `json:"decision,omitempty"`
	BlockReason   BlockReason   `json:"block_reason,omitempty"`
	Notice        string        `json:"notice,omitempty"`
	PaymentMethod string        `json:"payment_method,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
	SettledAt     *time.Time    `json:"settled_at,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
}

// PaymentMethod is a funding instrument offered at the confirm step.
type PaymentMethod struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Details string `json:"details"`
}

// DefaultPaymentMethods lists the instruments offered when none are configured.
var DefaultPaymentMethods = []PaymentMethod{
	{ID: "hdfc", Name: "HDFC Bank", Details: "...1234"},
	{ID: "icici", Name: "ICICI Bank", Details: "...5678"},
	{ID: "visa", Name: "Visa Credit Card", Details: "...4321"},
}
