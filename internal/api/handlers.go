/**
 * @description
 * This file contains the HTTP handlers for the payment-service's API endpoints.
 * Handlers parse the request, call the application service for the signed-in user
 * and write the payment view back. Flow errors are mapped to status codes in one
 * place so every endpoint reports them the same way.
 *
 * @dependencies
 * - internal/app, internal/flow, internal/scan, internal/trust: service logic and errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/securepay/payment-service/internal/app"
	"github.com/securepay/payment-service/internal/domain"
	"github.com/securepay/payment-service/internal/flow"
	"github.com/securepay/payment-service/internal/scan"
	"github.com/securepay/payment-service/internal/trust"
)

// PaymentHandlers holds the application service that handlers will use.
type PaymentHandlers struct {
	service *app.Service
}

// NewPaymentHandlers creates a new instance of PaymentHandlers.
func NewPaymentHandlers(service *app.Service) *PaymentHandlers {
	return &PaymentHandlers{service: service}
}

type paymentRequest struct {
	Identifier string  `json:"identifier"`
	Amount     float64 `json:"amount"`
}

type overrideRequest struct {
	Choice domain.UserChoice `json:"choice"`
}

type confirmRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type scanRequest struct {
	DecodedText string  `json:"decoded_text"`
	Error       string  `json:"error"`
	Amount      float64 `json:"amount"`
}

type errorResponse struct {
	Error    string           `json:"error"`
	Field    string           `json:"field,omitempty"`
	Guidance string           `json:"guidance,omitempty"`
	Payment  *app.PaymentView `json:"payment,omitempty"`
}

// ListPaymentMethodsHandler returns the funding instruments offered at confirmation.
func (h *PaymentHandlers) ListPaymentMethodsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"payment_methods": h.service.PaymentMethods()})
}

// GetCurrentPaymentHandler returns the user's payment as it stands.
func (h *PaymentHandlers) GetCurrentPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	view, err := h.service.Current(userID)
	if err != nil {
		writeServiceError(w, "current", userID, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// InitiatePaymentHandler starts a payment from typed input.
func (h *PaymentHandlers) InitiatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	view, err := h.service.Initiate(r.Context(), userID, req.Identifier, req.Amount)
	if err != nil {
		writeServiceError(w, "initiate", userID, err, &view)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// AmendPaymentHandler corrects the collected input or re-enters a blocked payment.
func (h *PaymentHandlers) AmendPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	view, err := h.service.Amend(r.Context(), userID, req.Identifier, req.Amount)
	if err != nil {
		writeServiceError(w, "amend", userID, err, &view)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SubmitPaymentHandler runs the trust check and returns once it has an outcome.
func (h *PaymentHandlers) SubmitPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	view, err := h.service.Submit(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "submit", userID, err, &view)
		return
	}
	log.Printf("level=info component=api endpoint=submit outcome=%s user_id=%s payment_id=%s", view.Payment.State, userID, view.Payment.ID)
	writeJSON(w, http.StatusOK, view)
}

// OverrideAlertHandler answers the pending risk alert.
func (h *PaymentHandlers) OverrideAlertHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req overrideRequest
	if !decodeBody(w, r, &req) {
		return
	}
	view, err := h.service.Override(r.Context(), userID, domain.UserChoice(strings.ToLower(strings.TrimSpace(string(req.Choice)))))
	if err != nil {
		writeServiceError(w, "override", userID, err, &view)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ConfirmPaymentHandler settles the payment with the chosen instrument.
func (h *PaymentHandlers) ConfirmPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	view, err := h.service.Confirm(r.Context(), userID, strings.TrimSpace(req.PaymentMethod))
	if err != nil {
		writeServiceError(w, "confirm", userID, err, &view)
		return
	}
	log.Printf("level=info component=api endpoint=confirm outcome=settled user_id=%s payment_id=%s transaction_id=%s", userID, view.Payment.ID, view.Payment.TransactionID)
	writeJSON(w, http.StatusOK, view)
}

// CancelPaymentHandler abandons the active payment.
func (h *PaymentHandlers) CancelPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	view, err := h.service.Cancel(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "cancel", userID, err, &view)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DonePaymentHandler dismisses a finished payment.
func (h *PaymentHandlers) DonePaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	view, err := h.service.Done(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "done", userID, err, &view)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ScanPaymentHandler starts a payment from a QR code decoded on the device.
func (h *PaymentHandlers) ScanPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req scanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	decoder := scan.Reported{Text: req.DecodedText, Failure: req.Error}
	view, err := h.service.Scan(r.Context(), userID, decoder, nil, req.Amount)
	if err != nil {
		writeServiceError(w, "scan", userID, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// EvaluateRecipientHandler runs a stand-alone trust check.
func (h *PaymentHandlers) EvaluateRecipientHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	identifier := strings.TrimSpace(r.URL.Query().Get("identifier"))
	if identifier == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "identifier is required", Field: "identifier"})
		return
	}
	var amount float64
	if raw := strings.TrimSpace(r.URL.Query().Get("amount")); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "amount must be a number", Field: "amount"})
			return
		}
		amount = parsed
	}

	decision, err := h.service.Evaluate(r.Context(), userID, identifier, amount)
	if err != nil {
		writeServiceError(w, "evaluate", userID, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// ReportPayeeHandler files a report against a payee.
func (h *PaymentHandlers) ReportPayeeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req app.ReportInput
	if !decodeBody(w, r, &req) {
		return
	}
	report, err := h.service.ReportPayee(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, "report", userID, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

// ListReportsHandler lists the reports the user has filed.
func (h *PaymentHandlers) ListReportsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reports": h.service.Reports(userID)})
}

// ListReportCategoriesHandler lists the accepted report categories.
func (h *PaymentHandlers) ListReportCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"categories": domain.ReportCategories})
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := GetClerkUserID(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Could not get user ID from context"})
		return "", false
	}
	return userID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("Invalid request body: %v", err)})
		return false
	}
	return true
}

// writeServiceError maps a service error to a status code. view is attached when the
// caller should re-render the payment.
func writeServiceError(w http.ResponseWriter, endpoint, userID string, err error, view *app.PaymentView) {
	resp := errorResponse{Error: err.Error()}
	if view != nil && view.Payment.State != "" {
		resp.Payment = view
	}

	var (
		validationErr *flow.ValidationError
		transitionErr *flow.TransitionError
		rateErr       *app.RateLimitError
		cameraErr     *scan.CameraError
		lookupErr     *trust.LookupError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, app.ErrMissingUser):
		status = http.StatusUnauthorized
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		status = http.StatusTooManyRequests
	case errors.As(err, &validationErr):
		resp.Field = validationErr.Field
		status = http.StatusBadRequest
	case errors.As(err, &transitionErr), errors.Is(err, flow.ErrFlowBusy), errors.Is(err, flow.ErrAttemptCancelled):
		status = http.StatusConflict
	case errors.As(err, &cameraErr):
		resp.Guidance = cameraErr.Guidance()
		status = http.StatusUnprocessableEntity
	case errors.Is(err, scan.ErrEmptyPayload), errors.Is(err, scan.ErrInvalidPayload):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &lookupErr):
		resp.Error = flow.ServiceUnavailableMessage
		status = http.StatusServiceUnavailable
	case errors.Is(err, app.ErrReportIdentifierRequired), errors.Is(err, app.ErrUnknownReportCategory), errors.Is(err, app.ErrReportDescriptionShort):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// client went away
		status = http.StatusRequestTimeout
	}

	if status >= http.StatusInternalServerError {
		log.Printf("level=error component=api endpoint=%s outcome=failed user_id=%s err=%v", endpoint, userID, err)
		if status == http.StatusInternalServerError {
			resp.Error = "Internal server error"
		}
	} else {
		log.Printf("level=warn component=api endpoint=%s outcome=reject status=%d user_id=%s err=%v", endpoint, status, userID, err)
	}
	writeJSON(w, status, resp)
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
