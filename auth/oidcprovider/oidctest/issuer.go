// Package oidctest runs a minimal OpenID Connect issuer on httptest for tests
// that need a real provider round trip.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	ClientID = "forum-web"
	KeyID    = "k1"

	// GoodCode is the only authorization code the token endpoint accepts.
	GoodCode = "good-code"
	// RevokedRefreshToken is refused by the refresh grant.
	RevokedRefreshToken = "revoked"
)

// Issuer serves discovery, JWKS, token, userinfo and revocation endpoints.
// Authorization codes exchange for access-1/refresh-1 and refreshes answer
// access-2.
type Issuer struct {
	t      testing.TB
	server *httptest.Server
	key    *rsa.PrivateKey

	mu          sync.Mutex
	nonce       string
	revoked     []string
	revokeFails bool
	tokenStatus int
}

func NewIssuer(t testing.TB) *Issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	is := &Issuer{t: t, key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", is.discovery)
	mux.HandleFunc("/keys", is.keys)
	mux.HandleFunc("/token", is.token)
	mux.HandleFunc("/userinfo", is.userinfo)
	mux.HandleFunc("/revoke", is.revoke)
	is.server = httptest.NewServer(mux)
	t.Cleanup(is.server.Close)
	return is
}

func (is *Issuer) URL() string {
	return is.server.URL
}

// SetNonce is the nonce placed in ID tokens minted for an authorization code.
func (is *Issuer) SetNonce(nonce string) {
	is.mu.Lock()
	defer is.mu.Unlock()
	is.nonce = nonce
}

// SetTokenStatus makes the token endpoint answer status. 0 restores normal
// behaviour.
func (is *Issuer) SetTokenStatus(status int) {
	is.mu.Lock()
	defer is.mu.Unlock()
	is.tokenStatus = status
}

// FailRevocation makes the revocation endpoint answer 503.
func (is *Issuer) FailRevocation() {
	is.mu.Lock()
	defer is.mu.Unlock()
	is.revokeFails = true
}

// Revoked lists revoked tokens as "hint:token" in arrival order.
func (is *Issuer) Revoked() []string {
	is.mu.Lock()
	defer is.mu.Unlock()
	return append([]string(nil), is.revoked...)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (is *Issuer) discovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                                is.URL(),
		"authorization_endpoint":                is.URL() + "/authorize",
		"token_endpoint":                        is.URL() + "/token",
		"jwks_uri":                              is.URL() + "/keys",
		"userinfo_endpoint":                     is.URL() + "/userinfo",
		"revocation_endpoint":                   is.URL() + "/revoke",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (is *Issuer) keys(w http.ResponseWriter, r *http.Request) {
	enc := base64.RawURLEncoding
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"kid": KeyID,
			"n":   enc.EncodeToString(is.key.N.Bytes()),
			"e":   enc.EncodeToString(big.NewInt(int64(is.key.E)).Bytes()),
		}},
	})
}

func (is *Issuer) idToken(subject, nonce string) string {
	claims := jwtlib.MapClaims{
		"iss":   is.URL(),
		"aud":   ClientID,
		"sub":   subject,
		"email": subject + "@student.mahidol.edu",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	tok.Header["kid"] = KeyID
	signed, err := tok.SignedString(is.key)
	require.NoError(is.t, err)
	return signed
}

func (is *Issuer) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(is.t, r.ParseForm())
	is.mu.Lock()
	status, nonce := is.tokenStatus, is.nonce
	is.mu.Unlock()
	if status != 0 {
		writeJSON(w, status, map[string]string{"error": "temporarily_unavailable"})
		return
	}

	switch r.Form.Get("grant_type") {
	case "authorization_code":
		if r.Form.Get("code") != GoodCode || r.Form.Get("code_verifier") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "access-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "refresh-1",
			"id_token":      is.idToken("u1", nonce),
		})
	case "refresh_token":
		if r.Form.Get("refresh_token") == RevokedRefreshToken {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": "access-2",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     is.idToken("u1", ""),
		})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (is *Issuer) userinfo(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer access-1" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sub":                "u1",
		"email":              "nok@student.mahidol.edu",
		"preferred_username": "nok",
		"picture":            "https://example.test/nok.png",
	})
}

func (is *Issuer) revoke(w http.ResponseWriter, r *http.Request) {
	require.NoError(is.t, r.ParseForm())
	is.mu.Lock()
	defer is.mu.Unlock()
	if is.revokeFails {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	is.revoked = append(is.revoked, r.Form.Get("token_type_hint")+":"+r.Form.Get("token"))
	w.WriteHeader(http.StatusOK)
}
