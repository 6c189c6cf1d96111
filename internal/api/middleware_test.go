package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newJWKSServer(t *testing.T, kid string, key *rsa.PublicKey, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kid": kid,
				"kty": "RSA",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestClerkAuthMiddleware(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var hits int32
	srv := newJWKSServer(t, "kid-1", &key.PublicKey, &hits)

	var gotUser string
	handler := ClerkAuthMiddleware(srv.URL)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = GetClerkUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	valid := signToken(t, key, "kid-1", jwt.MapClaims{"sub": "user_abc", "exp": time.Now().Add(time.Hour).Unix()})
	expired := signToken(t, key, "kid-1", jwt.MapClaims{"sub": "user_abc", "exp": time.Now().Add(-time.Hour).Unix()})
	unknownKid := signToken(t, key, "kid-2", jwt.MapClaims{"sub": "user_abc", "exp": time.Now().Add(time.Hour).Unix()})
	noSubject := signToken(t, key, "kid-1", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})

	tests := []struct {
		name   string
		header string
		want   int
		user   string
	}{
		{name: "valid token", header: "Bearer " + valid, want: http.StatusNoContent, user: "user_abc"},
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "not bearer", header: "Token " + valid, want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, want: http.StatusUnauthorized},
		{name: "unknown kid", header: "Bearer " + unknownKid, want: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + noSubject, want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser = ""
			req := httptest.NewRequest(http.MethodGet, "/payments/current", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if gotUser != tt.user {
				t.Fatalf("expected user %q, got %q", tt.user, gotUser)
			}
		})
	}
}

func TestJWKSCache_ReusesKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var hits int32
	srv := newJWKSServer(t, "kid-1", &key.PublicKey, &hits)
	cache := newJWKSCache(srv.URL, srv.Client())

	for i := 0; i < 3; i++ {
		got, err := cache.key(context.Background(), "kid-1")
		if err != nil {
			t.Fatalf("key: %v", err)
		}
		if got.N.Cmp(key.PublicKey.N) != 0 || got.E != key.PublicKey.E {
			t.Fatal("expected parsed key to match the published key")
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("expected a single JWKS fetch, got %d", n)
	}

	if _, err := cache.key(context.Background(), "missing"); err == nil {
		t.Fatal("expected unknown kid to fail")
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("expected unknown kid to force a refresh, got %d fetches", n)
	}
}
