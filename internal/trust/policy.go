package trust

import (
	"fmt"

	"github.com/securepay/payment-service/internal/domain"
)

// LargeTransferMessageFormat is shown when an otherwise approved remote payee
// receives a transfer at or above the large-transfer amount.
const LargeTransferMessageFormat = "This is a large transfer of %.2f to a payee outside your trusted directory. Please confirm you know them."

// LargeTransferPolicy escalates approved remote decisions to Warn for amounts at or
// above threshold. Directory decisions are curated and left as they are. A
// non-positive threshold disables the policy.
func LargeTransferPolicy(threshold float64) AmountPolicy {
	return func(decision domain.RiskDecision, amount float64) domain.RiskDecision {
		if threshold <= 0 || amount < threshold {
			return decision
		}
		if decision.Outcome != domain.OutcomeApproved || decision.Source != domain.SourceRemote {
			return decision
		}
		decision.Outcome = domain.OutcomeWarn
		decision.Message = fmt.Sprintf(LargeTransferMessageFormat, amount)
		return decision
	}
}
