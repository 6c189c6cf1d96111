/**
 * @description
 * This file defines the `ProfileStore` interface, the contract for the remote profile
 * lookup consulted by the trust evaluator when a payee is not in the local directory.
 * Implementations must be idempotent and side-effect-free point queries.
 *
 * @dependencies
 * - internal/domain: For the RemoteProfile model.
 */

package store

import (
	"context"
	"errors"
	"strings"

	"github.com/securepay/payment-service/internal/domain"
)

var (
	ErrStoreNotConfigured = errors.New("profile store not configured")
	ErrInvalidProfile     = errors.New("profile store returned an invalid profile")
)

// ProfileStore looks up registered users by identifier. A missing profile is reported
// with found=false and a nil error.
type ProfileStore interface {
	LookupProfile(ctx context.Context, identifier string) (profile domain.RemoteProfile, found bool, err error)
}

// ProfileStoreFunc adapts a function to the ProfileStore interface.
type ProfileStoreFunc func(ctx context.Context, identifier string) (domain.RemoteProfile, bool, error)

func (f ProfileStoreFunc) LookupProfile(ctx context.Context, identifier string) (domain.RemoteProfile, bool, error) {
	return f(ctx, identifier)
}

// UnavailableStore is used when no remote store is configured. Every lookup fails,
// which the evaluator surfaces as a temporary failure rather than an unknown recipient.
type UnavailableStore struct{}

func (UnavailableStore) LookupProfile(ctx context.Context, identifier string) (domain.RemoteProfile, bool, error) {
	return domain.RemoteProfile{}, false, ErrStoreNotConfigured
}

// lookupKey is the identifier form stored in the profile tables: handles are
// lower-cased, numbers are left as typed apart from surrounding spaces.
func lookupKey(identifier string) string {
	trimmed := strings.TrimSpace(identifier)
	if strings.Contains(trimmed, "@") {
		return strings.ToLower(trimmed)
	}
	return trimmed
}
