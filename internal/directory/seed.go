package directory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/securepay/payment-service/internal/domain"
)

// seedFile is the on-disk layout accepted by LoadFile.
type seedFile struct {
	Payees []domain.PayeeRecord `yaml:"payees"`
}

// DefaultPayees returns the built-in payee list used when no directory file is configured.
func DefaultPayees() []domain.PayeeRecord {
	return []domain.PayeeRecord{
		{
			DisplayName:  "Ramesh Kumar",
			CanonicalID:  "9876543210",
			AlternateIDs: []string{"ramesh@ybl", "ramesh@upi", "ramesh123@okicici", "rameshkumar@okaxis", "rkumar@paytm"},
			TrustScore:   92,
			RiskNote:     "Safe – Trusted user, no major reports",
		},
		{
			DisplayName:  "Priya Sharma",
			CanonicalID:  "9988776655",
			AlternateIDs: []string{"priya@upi", "priyasharma@okhdfcbank", "priya@paytm", "p.sharma@ybl", "priyaji@okaxis"},
			TrustScore:   76,
			RiskNote:     "Suspicious – Few reports, proceed with caution",
		},
		{
			DisplayName:  "Arjun Mehta",
			CanonicalID:  "9123456789",
			AlternateIDs: []string{"arjun@upi", "mehtaarjun@okicici", "arjunm@paytm", "arjun@ybl", "arjun@oksbi"},
			TrustScore:   58,
			RiskNote:     "Medium Risk – Multiple scam reports, double-check before sending",
		},
		{
			DisplayName:  "Sneha Reddy",
			CanonicalID:  "9011223344",
			AlternateIDs: []string{"sneha@upi", "snehareddy@okhdfcbank", "sneha@ybl", "sneha@paytm", "sreddy@okaxis"},
			TrustScore:   39,
			RiskNote:     "High Risk – Many scam reports, avoid transaction",
		},
		{
			DisplayName:  "Vikram Singh",
			CanonicalID:  "9090909090",
			AlternateIDs: []string{"vikram@upi", "vksingh@okicici", "vikram@paytm", "singhvikram@ybl", "vikram@okaxis"},
			TrustScore:   20,
			RiskNote:     "Fraudulent – Reported multiple times, BLOCKED",
		},
		{
			DisplayName:  "Omkar",
			CanonicalID:  "9620174461",
			AlternateIDs: []string{"omkar@upi", "9620174461@ybl"},
			TrustScore:   40,
			RiskNote:     "High Risk – This user has been reported for suspicious activity.",
		},
	}
}

// LoadFile builds a directory from a YAML file of the form:
//
//	payees:
//	  - display_name: Ramesh Kumar
//	    canonical_id: "9876543210"
//	    alternate_ids: [ramesh@ybl]
//	    trust_score: 92
//	    risk_note: Safe
func LoadFile(path string, opts ...Option) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	return Parse(data, opts...)
}

// Parse builds a directory from YAML bytes in the LoadFile layout.
func Parse(data []byte, opts ...Option) (*Directory, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("decode directory file: %w", err)
	}
	return New(seed.Payees, opts...)
}

// Default builds the directory from DefaultPayees.
func Default(opts ...Option) (*Directory, error) {
	return New(DefaultPayees(), opts...)
}
