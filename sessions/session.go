package sessions

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Identity is the stable user reference derived from a Session
type Identity string

func (i Identity) String() string {
	return string(i)
}

// Session is the bearer credential proving an authenticated identity for the
// current tab. A Session is only ever replaced (refresh) or destroyed
// (sign-out, expiry); callers must treat it as immutable.
type Session struct {
	AccessToken  string    `json:"access_token"`            // Bearer credential sent to the forum backend
	RefreshToken string    `json:"refresh_token,omitempty"` // Used by the provider to replace the session
	IDToken      string    `json:"id_token,omitempty"`      // OIDC ID token, kept for revocation hints
	TokenType    string    `json:"token_type,omitempty"`    // Usually "Bearer"
	ExpiresAt    time.Time `json:"expires_at"`              // Zero means the provider gave no expiry
	Identity     Identity  `json:"identity"`                // Owning identity (JWT sub)
	Email        string    `json:"email,omitempty"`
}

// Expired reports whether the access token is past its expiry at now. A session
// without an expiry never expires locally.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Token converts the session back into an oauth2 token so a TokenSource can refresh it
func (s *Session) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		Expiry:       s.ExpiresAt,
	}
	if s.IDToken != "" {
		tok = tok.WithExtra(map[string]interface{}{"id_token": s.IDToken})
	}
	return tok
}

// Same reports whether two sessions carry the same credential for the same identity
func (s *Session) Same(other *Session) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.Identity == other.Identity &&
		s.AccessToken == other.AccessToken &&
		s.ExpiresAt.Equal(other.ExpiresAt)
}

// FromToken builds a Session from a token issued by the authentication provider.
// The identity comes from the ID token when present, otherwise from the access
// token's own claims.
func FromToken(tok *oauth2.Token) (*Session, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, fmt.Errorf("[sessions FromToken] empty access token")
	}

	s := &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresAt:    tok.Expiry,
	}

	raw := tok.AccessToken
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		s.IDToken = idToken
		raw = idToken
	}

	claims, err := ParseClaims(raw)
	if err != nil {
		return nil, fmt.Errorf("[sessions FromToken] %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("[sessions FromToken] token has no subject")
	}
	s.Identity = Identity(claims.Subject)
	s.Email = claims.Email
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = claims.ExpiresAt
	}
	return s, nil
}

func Encode(s *Session) ([]byte, error) {
	return json.Marshal(s)
}

func Decode(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("[sessions Decode] %w", err)
	}
	if s.AccessToken == "" || s.Identity == "" {
		return nil, fmt.Errorf("[sessions Decode] incomplete session")
	}
	return &s, nil
}
