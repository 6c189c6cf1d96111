/**
 * @description
 * This package implements the recipient directory: a curated, read-only registry of
 * known payees with precomputed trust scores. It is built once at startup and injected
 * into the trust evaluator, so tests can substitute their own fixtures.
 *
 * Identifiers are matched after normalization:
 * - handles (anything containing "@") are compared lower-cased;
 * - everything else is compared on its digits only.
 */

package directory

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/securepay/payment-service/internal/domain"
)

var (
	ErrEmptyDisplayName  = errors.New("payee display name is required")
	ErrInvalidCanonical  = errors.New("payee canonical id must contain digits")
	ErrTrustScoreRange   = errors.New("payee trust score must be within [0,100]")
	ErrDuplicateIdentity = errors.New("identifier is registered to more than one payee")
)

// Directory is an immutable in-memory payee registry. It is safe for concurrent reads.
type Directory struct {
	records     []domain.PayeeRecord
	index       map[string]int
	countryCode string
}

// Option customizes directory construction.
type Option func(*Directory)

// WithCountryCode lets numeric identifiers carrying the given dialling prefix
// (e.g. "+91 98765 43210") match a directory number stored without it.
func WithCountryCode(code string) Option {
	return func(d *Directory) {
		d.countryCode = digitsOnly(code)
	}
}

// New validates and indexes the given records. The records are copied; later changes
// to the caller's slice do not affect the directory.
func New(records []domain.PayeeRecord, opts ...Option) (*Directory, error) {
	d := &Directory{
		records: make([]domain.PayeeRecord, 0, len(records)),
		index:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(d)
	}

	for _, rec := range records {
		rec = clone(rec)
		rec.DisplayName = strings.TrimSpace(rec.DisplayName)
		if rec.DisplayName == "" {
			return nil, ErrEmptyDisplayName
		}
		canonical := digitsOnly(rec.CanonicalID)
		if canonical == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCanonical, rec.CanonicalID)
		}
		if !domain.ValidTrustScore(rec.TrustScore) {
			return nil, fmt.Errorf("%w: %s has %d", ErrTrustScoreRange, rec.DisplayName, rec.TrustScore)
		}

		pos := len(d.records)
		keys := []string{canonical}
		for _, alt := range rec.AlternateIDs {
			if key := NormalizeIdentifier(alt); key != "" {
				keys = append(keys, key)
			}
		}
		for _, key := range keys {
			if owner, exists := d.index[key]; exists && owner != pos {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateIdentity, key)
			}
			d.index[key] = pos
		}
		d.records = append(d.records, rec)
	}

	return d, nil
}

// Lookup finds the payee registered under identifier, either as its canonical number
// or as one of its alternate ids. The returned record is a copy.
func (d *Directory) Lookup(identifier string) (domain.PayeeRecord, bool) {
	if d == nil {
		return domain.PayeeRecord{}, false
	}
	key := NormalizeIdentifier(identifier)
	if key == "" {
		return domain.PayeeRecord{}, false
	}
	if pos, ok := d.index[key]; ok {
		return clone(d.records[pos]), true
	}
	if isHandle(identifier) {
		return domain.PayeeRecord{}, false
	}

	for _, candidate := range d.numericVariants(key) {
		if pos, ok := d.index[candidate]; ok {
			return clone(d.records[pos]), true
		}
	}
	return domain.PayeeRecord{}, false
}

// Records returns a copy of every payee in load order.
func (d *Directory) Records() []domain.PayeeRecord {
	if d == nil {
		return nil
	}
	out := make([]domain.PayeeRecord, len(d.records))
	for i, rec := range d.records {
		out[i] = clone(rec)
	}
	return out
}

// Len returns the number of payees.
func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.records)
}

func (d *Directory) numericVariants(digits string) []string {
	var variants []string
	if trimmed := strings.TrimLeft(digits, "0"); trimmed != digits && trimmed != "" {
		variants = append(variants, trimmed)
	}
	if d.countryCode != "" && strings.HasPrefix(digits, d.countryCode) && len(digits) > len(d.countryCode) {
		variants = append(variants, strings.TrimPrefix(digits, d.countryCode))
	}
	return variants
}

// NormalizeIdentifier returns the comparison key for an identifier, or "" when the
// identifier cannot match anything.
func NormalizeIdentifier(identifier string) string {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return ""
	}
	if isHandle(trimmed) {
		return strings.ToLower(trimmed)
	}
	return digitsOnly(trimmed)
}

func isHandle(identifier string) bool {
	return strings.Contains(identifier, "@")
}

func digitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func clone(rec domain.PayeeRecord) domain.PayeeRecord {
	if rec.AlternateIDs != nil {
		rec.AlternateIDs = append([]string(nil), rec.AlternateIDs...)
	}
	return rec
}
