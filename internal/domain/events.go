package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEvent is the message payload published to RabbitMQ on flow milestones.
type PaymentEvent struct {
	PaymentID     uuid.UUID      `json:"payment_id"`
	UserID        string         `json:"user_id"`
	RecipientID   string         `json:"recipient_id"`
	RecipientName string         `json:"recipient_name,omitempty"`
	Amount        float64        `json:"amount"`
	State         FlowState      `json:"state"`
	Outcome       RiskOutcome    `json:"outcome,omitempty"`
	Source        DecisionSource `json:"source,omitempty"`
	BlockReason   BlockReason    `json:"block_reason,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// PayeeReport is a user-submitted complaint about a payee.
type PayeeReport struct {
	ID            string    `json:"id"`
	ReporterID    string    `json:"reporter_id"`
	Identifier    string    `json:"identifier"`
	RecipientName string    `json:"recipient_name,omitempty"`
	Category      string    `json:"category"`
	Severity      string    `json:"severity"`
	Amount        float64   `json:"amount,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Description   string    `json:"description"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// ReportCategory describes one accepted report category.
type ReportCategory struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Severity string `json:"severity"`
}

// ReportCategories lists the accepted report categories.
var ReportCategories = []ReportCategory{
	{Value: "money-not-returned", Label: "Money Not Returned", Severity: "high"},
	{Value: "fraudulent-transaction", Label: "Fraudulent Transaction", Severity: "high"},
	{Value: "harassment", Label: "Harassment", Severity: "medium"},
	{Value: "spam", Label: "Spam/Unwanted Messages", Severity: "low"},
	{Value: "fake-profile", Label: "Fake Profile", Severity: "medium"},
	{Value: "other", Label: "Other", Severity: "low"},
}

// FindReportCategory returns the category with the given value.
func FindReportCategory(value string) (ReportCategory, bool) {
	for _, c := range ReportCategories {
		if c.Value == value {
			return c, true
		}
	}
	return ReportCategory{}, false
}
