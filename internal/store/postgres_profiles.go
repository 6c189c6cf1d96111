/**
 * @description
 * This file provides the PostgreSQL implementation of the `ProfileStore` interface.
 * Registered users and their trust scores live in the `profiles` table; a profile may
 * be reachable through several identifiers via `profile_identifiers`.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/securepay/payment-service/internal/domain"
)

const findProfileByIdentifierQuery = `
SELECT p.display_name, p.trust_score
FROM profile_identifiers pi
JOIN profiles p ON p.id = pi.profile_id
WHERE lower(btrim(pi.identifier)) = lower(btrim($1))
LIMIT 1`

// rowQuerier is the subset of pgxpool.Pool used by the repository.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresProfileStore is a ProfileStore backed by PostgreSQL.
type PostgresProfileStore struct {
	db rowQuerier
}

// NewPostgresProfileStore creates a new instance of PostgresProfileStore.
func NewPostgresProfileStore(db *pgxpool.Pool) *PostgresProfileStore {
	return &PostgresProfileStore{db: db}
}

// LookupProfile retrieves a profile by any of its identifiers.
func (r *PostgresProfileStore) LookupProfile(ctx context.Context, identifier string) (domain.RemoteProfile, bool, error) {
	var profile domain.RemoteProfile
	err := r.db.QueryRow(ctx, findProfileByIdentifierQuery, lookupKey(identifier)).Scan(&profile.DisplayName, &profile.TrustScore)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RemoteProfile{}, false, nil
		}
		return domain.RemoteProfile{}, false, fmt.Errorf("query profile: %w", err)
	}
	return profile, true, nil
}
