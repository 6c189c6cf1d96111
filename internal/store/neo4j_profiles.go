package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/securepay/payment-service/internal/domain"
)

// ErrMissingGraphURI indicates the graph URI is not provided.
var ErrMissingGraphURI = errors.New("graph URI is required")

const findProfileCypher = `
MATCH (u:User)-[:HAS_IDENTIFIER]->(i:Identifier {value: $identifier})
RETURN u.displayName AS displayName, u.trustScore AS trustScore
LIMIT 1`

// GraphOptions configures the Neo4j-backed profile store.
type GraphOptions struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

// graphRecord groups key-value pairs returned from the graph engine.
type graphRecord map[string]any

// graphReader is the minimal read contract the profile store needs from the graph.
type graphReader interface {
	ExecuteRead(ctx context.Context, cypher string, params map[string]any) ([]graphRecord, error)
}

// Neo4jProfileStore resolves profiles from the user graph maintained by the fraud
// analytics pipeline.
type Neo4jProfileStore struct {
	reader graphReader
	closer func(ctx context.Context) error
}

// NewNeo4jProfileStore opens a Bolt connection and verifies connectivity.
func NewNeo4jProfileStore(ctx context.Context, opts GraphOptions) (*Neo4jProfileStore, error) {
	if opts.URI == "" {
		return nil, ErrMissingGraphURI
	}

	auth := neo4j.NoAuth()
	if opts.Username != "" {
		auth = neo4j.BasicAuth(opts.Username, opts.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(opts.URI, auth, func(c *neo4j.Config) {
		if opts.MaxConnections > 0 {
			c.MaxConnectionPoolSize = opts.MaxConnections
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify graph connectivity: %w", err)
	}

	reader := &neo4jReader{driver: driver, database: opts.Database}
	return &Neo4jProfileStore{reader: reader, closer: driver.Close}, nil
}

// LookupProfile finds the user node linked to the identifier.
func (s *Neo4jProfileStore) LookupProfile(ctx context.Context, identifier string) (domain.RemoteProfile, bool, error) {
	records, err := s.reader.ExecuteRead(ctx, findProfileCypher, map[string]any{
		"identifier": lookupKey(identifier),
	})
	if err != nil {
		return domain.RemoteProfile{}, false, fmt.Errorf("query profile graph: %w", err)
	}
	if len(records) == 0 {
		return domain.RemoteProfile{}, false, nil
	}

	rec := records[0]
	name, _ := rec["displayName"].(string)
	score, ok := toInt(rec["trustScore"])
	if !ok {
		return domain.RemoteProfile{}, false, fmt.Errorf("%w: trust score %v", ErrInvalidProfile, rec["trustScore"])
	}
	return domain.RemoteProfile{DisplayName: name, TrustScore: score}, true, nil
}

// Close releases the underlying driver.
func (s *Neo4jProfileStore) Close(ctx context.Context) error {
	if s.closer == nil {
		return nil
	}
	return s.closer(ctx)
}

type neo4jReader struct {
	driver   neo4j.DriverWithContext
	database string
}

func (r *neo4jReader) ExecuteRead(ctx context.Context, cypher string, params map[string]any) ([]graphRecord, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: r.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	res, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	var records []graphRecord
	for res.Next(ctx) {
		rec := res.Record()
		record := make(graphRecord, len(rec.Keys))
		for _, key := range rec.Keys {
			value, _ := rec.Get(key)
			record[key] = value
		}
		records = append(records, record)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int64:
		return int(v), true
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
