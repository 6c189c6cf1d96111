package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type rowStub struct {
	name  string
	score int
	err   error
}

func (r rowStub) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.name
	*dest[1].(*int) = r.score
	return nil
}

type querierStub struct {
	row      rowStub
	lastArgs []any
}

func (q *querierStub) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q.lastArgs = args
	return q.row
}

func TestPostgresProfileStore_Found(t *testing.T) {
	q := &querierStub{row: rowStub{name: "New User", score: 45}}
	s := &PostgresProfileStore{db: q}

	profile, found, err := s.LookupProfile(context.Background(), "  NewUser@Bank ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected profile to be found")
	}
	if profile.DisplayName != "New User" || profile.TrustScore != 45 {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if len(q.lastArgs) != 1 || q.lastArgs[0] != "newuser@bank" {
		t.Fatalf("expected normalized identifier argument, got %v", q.lastArgs)
	}
}

func TestPostgresProfileStore_NoRowsIsNotFound(t *testing.T) {
	s := &PostgresProfileStore{db: &querierStub{row: rowStub{err: pgx.ErrNoRows}}}

	_, found, err := s.LookupProfile(context.Background(), "ghost@nowhere")
	if err != nil {
		t.Fatalf("expected no error for missing profile, got %v", err)
	}
	if found {
		t.Fatal("expected found=false")
	}
}

func TestPostgresProfileStore_QueryFailure(t *testing.T) {
	boom := errors.New("connection reset")
	s := &PostgresProfileStore{db: &querierStub{row: rowStub{err: boom}}}

	_, _, err := s.LookupProfile(context.Background(), "someone@bank")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped query error, got %v", err)
	}
}

type graphReaderStub struct {
	records []graphRecord
	err     error
	params  map[string]any
}

func (g *graphReaderStub) ExecuteRead(ctx context.Context, cypher string, params map[string]any) ([]graphRecord, error) {
	g.params = params
	return g.records, g.err
}

func TestNeo4jProfileStore(t *testing.T) {
	tests := []struct {
		name      string
		reader    *graphReaderStub
		wantFound bool
		wantScore int
		wantErr   bool
	}{
		{
			name:      "found",
			reader:    &graphReaderStub{records: []graphRecord{{"displayName": "Graph User", "trustScore": int64(67)}}},
			wantFound: true,
			wantScore: 67,
		},
		{
			name:   "missing",
			reader: &graphReaderStub{},
		},
		{
			name:    "driver error",
			reader:  &graphReaderStub{err: errors.New("bolt unavailable")},
			wantErr: true,
		},
		{
			name:    "score with wrong type",
			reader:  &graphReaderStub{records: []graphRecord{{"displayName": "Graph User", "trustScore": "high"}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Neo4jProfileStore{reader: tt.reader}
			profile, found, err := s.LookupProfile(context.Background(), "Graph@Bank")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if found != tt.wantFound {
				t.Fatalf("expected found=%t, got %t", tt.wantFound, found)
			}
			if found && profile.TrustScore != tt.wantScore {
				t.Fatalf("expected score %d, got %d", tt.wantScore, profile.TrustScore)
			}
			if tt.reader.params["identifier"] != "graph@bank" {
				t.Fatalf("expected lower-cased identifier param, got %v", tt.reader.params["identifier"])
			}
		})
	}
}

func TestUnavailableStore(t *testing.T) {
	_, _, err := UnavailableStore{}.LookupProfile(context.Background(), "a@b")
	if !errors.Is(err, ErrStoreNotConfigured) {
		t.Fatalf("expected ErrStoreNotConfigured, got %v", err)
	}
}
