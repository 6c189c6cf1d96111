package alert

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/securepay/payment-service/internal/domain"
)

// SuccessNotice is shown after settlement and doubles as the share text.
type SuccessNotice struct {
	Title         string `json:"title"`
	Message       string `json:"message"`
	ShareText     string `json:"share_text"`
	TransactionID string `json:"transaction_id"`
}

// Success builds the notice for a settled payment. ok is false when p is not settled.
func Success(p domain.PaymentContext) (SuccessNotice, bool) {
	if p.State != domain.StateSucceeded || p.TransactionID == "" {
		return SuccessNotice{}, false
	}
	recipient := p.RecipientName
	if recipient == "" {
		recipient = p.RecipientID
	}
	share := fmt.Sprintf("₹%s sent to %s", FormatRupees(p.Amount), recipient)
	return SuccessNotice{
		Title:         "Payment Successful!",
		Message:       share + ".",
		ShareText:     fmt.Sprintf("%s. Transaction ID: %s", share, p.TransactionID),
		TransactionID: p.TransactionID,
	}, true
}

// FormatRupees renders an amount with Indian digit grouping (1,00,000), keeping up
// to two decimals.
func FormatRupees(amount float64) string {
	rounded := math.Round(amount*100) / 100
	whole := int64(rounded)
	paise := int64(math.Round((rounded - float64(whole)) * 100))

	digits := strconv.FormatInt(whole, 10)
	if len(digits) > 3 {
		head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
		var groups []string
		for len(head) > 2 {
			groups = append([]string{head[len(head)-2:]}, groups...)
			head = head[:len(head)-2]
		}
		groups = append([]string{head}, groups...)
		digits = strings.Join(groups, ",") + "," + tail
	}
	if paise == 0 {
		return digits
	}
	return fmt.Sprintf("%s.%02d", digits, paise)
}
