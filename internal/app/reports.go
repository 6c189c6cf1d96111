package app

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/securepay/payment-service/internal/domain"
)

const (
	reportStatusSubmitted = "submitted"
	minDescriptionLength  = 10
	maxReportsPerUser     = 50
)

var (
	ErrReportIdentifierRequired = errors.New("identifier of the reported payee is required")
	ErrUnknownReportCategory    = errors.New("unknown report category")
	ErrReportDescriptionShort   = errors.New("description must be at least 10 characters")
)

// ReportInput is a user's complaint about a payee.
type ReportInput struct {
	Identifier    string  `json:"identifier"`
	Category      string  `json:"category"`
	Description   string  `json:"description"`
	Amount        float64 `json:"amount,omitempty"`
	TransactionID string  `json:"transaction_id,omitempty"`
}

// ReportPayee validates and records a report and publishes it for review. The
// recipient name is filled from the directory or profile store when known.
func (s *Service) ReportPayee(ctx context.Context, userID string, in ReportInput) (domain.PayeeReport, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.PayeeReport{}, ErrMissingUser
	}
	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" {
		return domain.PayeeReport{}, ErrReportIdentifierRequired
	}
	category, ok := domain.FindReportCategory(strings.TrimSpace(in.Category))
	if !ok {
		return domain.PayeeReport{}, ErrUnknownReportCategory
	}
	description := strings.TrimSpace(in.Description)
	if len([]rune(description)) < minDescriptionLength {
		return domain.PayeeReport{}, ErrReportDescriptionShort
	}

	report := domain.PayeeReport{
		ID:            uuid.NewString(),
		ReporterID:    userID,
		Identifier:    identifier,
		Category:      category.Value,
		Severity:      category.Severity,
		Amount:        in.Amount,
		TransactionID: strings.TrimSpace(in.TransactionID),
		Description:   description,
		Status:        reportStatusSubmitted,
		CreatedAt:     s.opts.Now(),
	}
	if decision, err := s.evaluator.Evaluate(ctx, identifier, in.Amount); err == nil {
		report.RecipientName = decision.RecipientName
	}

	s.mu.Lock()
	list := append(s.reports[userID], report)
	if len(list) > maxReportsPerUser {
		list = list[len(list)-maxReportsPerUser:]
	}
	s.reports[userID] = list
	s.mu.Unlock()

	if err := s.publisher.PublishPayeeReport(ctx, report); err != nil {
		log.Printf("level=warn component=app msg=\"failed to publish payee report\" report_id=%s err=%v", report.ID, err)
	}
	log.Printf("level=info component=app msg=\"payee reported\" report_id=%s category=%s", report.ID, report.Category)
	return report, nil
}

// Reports lists the reports a user has filed, newest first.
func (s *Service) Reports(userID string) []domain.PayeeReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.reports[strings.TrimSpace(userID)]
	out := make([]domain.PayeeReport, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, list[i])
	}
	return out
}
