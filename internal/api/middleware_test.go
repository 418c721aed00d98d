package api_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sitewatch/monitor/internal/api"
)

// newKeyPair generates a test RSA key pair.
func newKeyPair(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	return key
}

// signToken returns a signed RS256 bearer token.
func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

// protectedHandler wraps a trivial 200 handler in the JWT middleware.
func protectedHandler(key *rsa.PublicKey) http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return api.JWTMiddleware(key)(next)
}

func authRequest(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/instances", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	key := newKeyPair(t)
	h := protectedHandler(&key.PublicKey)

	token := signToken(t, key, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	rec := authRequest(h, "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	key := newKeyPair(t)
	rec := authRequest(protectedHandler(&key.PublicKey), "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestJWTMiddleware_WrongScheme(t *testing.T) {
	key := newKeyPair(t)
	rec := authRequest(protectedHandler(&key.PublicKey), "Basic dXNlcjpwYXNz")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestJWTMiddleware_WrongKeyRejected(t *testing.T) {
	signing := newKeyPair(t)
	verifying := newKeyPair(t)

	token := signToken(t, signing, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	rec := authRequest(protectedHandler(&verifying.PublicKey), "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	key := newKeyPair(t)
	token := signToken(t, key, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	rec := authRequest(protectedHandler(&key.PublicKey), "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

// HS256 tokens must be rejected even when they would verify: only RS256 is an
// accepted signing method.
func TestJWTMiddleware_HMACAlgorithmRejected(t *testing.T) {
	key := newKeyPair(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("sign HS256 token: %v", err)
	}

	rec := authRequest(protectedHandler(&key.PublicKey), "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

// ---- ParseRSAPublicKey ------------------------------------------------------

func TestParseRSAPublicKey_PKIX(t *testing.T) {
	key := newKeyPair(t)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	got, err := api.ParseRSAPublicKey(pemData)
	if err != nil {
		t.Fatalf("ParseRSAPublicKey: %v", err)
	}
	if got.N.Cmp(key.PublicKey.N) != 0 {
		t.Error("parsed key does not match")
	}
}

func TestParseRSAPublicKey_PKCS1(t *testing.T) {
	key := newKeyPair(t)
	der := x509.MarshalPKCS1PublicKey(&key.PublicKey)
	pemData := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: der})

	if _, err := api.ParseRSAPublicKey(pemData); err != nil {
		t.Fatalf("ParseRSAPublicKey: %v", err)
	}
}

func TestParseRSAPublicKey_Garbage(t *testing.T) {
	if _, err := api.ParseRSAPublicKey([]byte("not pem")); err == nil {
		t.Error("ParseRSAPublicKey accepted non-PEM input")
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1, 2, 3}})
	if _, err := api.ParseRSAPublicKey(pemData); err == nil {
		t.Error("ParseRSAPublicKey accepted an unsupported PEM type")
	}
}
