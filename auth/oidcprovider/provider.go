// Package oidcprovider is the authentication provider backed by an OpenID
// Connect issuer. The session lives in the credential cache; an expired one is
// refreshed with its refresh token on the next pull.
package oidcprovider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/longanisha/Mahidol-Forum-sub000/auth"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/errors"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/logging"
	"github.com/longanisha/Mahidol-Forum-sub000/profiles"
	"github.com/longanisha/Mahidol-Forum-sub000/sessions"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

var _ auth.Provider = (*Provider)(nil)

type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// SessionStore is where the provider keeps the current session.
type SessionStore interface {
	LoadSession(ctx context.Context) (*sessions.Session, error)
	SaveSession(ctx context.Context, session *sessions.Session) error
	DeleteSession(ctx context.Context) error
}

type Provider struct {
	oidcProvider  *oidc.Provider
	verifier      *oidc.IDTokenVerifier
	oauth         oauth2.Config
	revocationURL string
	store         SessionStore
	records       profiles.RecordReader
	broadcaster   *auth.Broadcaster
	httpClient    *http.Client
	nowTime       func() time.Time
	logger        zerolog.Logger
}

type Option func(*Provider)

// WithRecords reads user records from a dedicated store instead of the
// issuer's UserInfo endpoint.
func WithRecords(r profiles.RecordReader) Option {
	return func(p *Provider) {
		p.records = r
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = hc
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(p *Provider) {
		p.nowTime = nowFunc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// New discovers the issuer's endpoints and builds the provider.
func New(ctx context.Context, cfg Config, store SessionStore, opts ...Option) (*Provider, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("[oidcprovider New] issuer url is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("[oidcprovider New] client id is required")
	}
	if store == nil {
		return nil, fmt.Errorf("[oidcprovider New] session store is nil")
	}

	p := &Provider{
		store:       store,
		broadcaster: auth.NewBroadcaster(),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		nowTime:     time.Now,
		logger:      logging.Component("oidcprovider"),
	}
	for _, opt := range opts {
		opt(p)
	}

	provider, err := oidc.NewProvider(p.clientContext(ctx), cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("[oidcprovider New] failed to create OIDC provider: %w", err)
	}
	var extra struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		return nil, fmt.Errorf("[oidcprovider New] read discovery claims: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess}
	}
	p.oidcProvider = provider
	p.revocationURL = extra.RevocationEndpoint
	p.oauth = oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
	}
	p.verifier = provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
		Now:      p.nowTime,
	})
	return p, nil
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, p.httpClient)
}

// PullSession returns the cached session, refreshing it first when it has
// expired. A refresh the issuer refuses drops the session.
func (p *Provider) PullSession(ctx context.Context) (*sessions.Session, error) {
	current, err := p.store.LoadSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("[Provider.PullSession] load: %w", err)
	}
	if current == nil {
		return nil, nil
	}
	if !current.Expired(p.nowTime()) {
		return current, nil
	}
	if current.RefreshToken == "" {
		p.drop(ctx)
		return nil, errors.Wrapf(errors.ErrProviderRejected, "[Provider.PullSession] session expired without refresh token")
	}

	refreshed, err := p.refresh(ctx, current)
	if err != nil {
		if errors.Is(err, errors.ErrProviderRejected) {
			p.drop(ctx)
		}
		return nil, err
	}
	if err := p.store.SaveSession(ctx, refreshed); err != nil {
		return nil, fmt.Errorf("[Provider.PullSession] save: %w", err)
	}
	p.broadcaster.Emit(refreshed, auth.EventTokenRefreshed)
	return refreshed, nil
}

func (p *Provider) refresh(ctx context.Context, current *sessions.Session) (*sessions.Session, error) {
	// No access token, so the source goes straight to the refresh grant
	source := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: current.RefreshToken})
	tok, err := source.Token()
	if err != nil {
		return nil, classifyTokenError("[Provider.refresh]", err)
	}

	refreshed, err := sessions.FromToken(tok)
	if err != nil {
		// Opaque access token and no ID token: the identity has not changed
		refreshed = &sessions.Session{
			AccessToken: tok.AccessToken,
			TokenType:   tok.Type(),
			ExpiresAt:   tok.Expiry,
			Identity:    current.Identity,
			Email:       current.Email,
		}
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = current.RefreshToken
	}
	if refreshed.IDToken == "" {
		refreshed.IDToken = current.IDToken
	}
	return refreshed, nil
}

// Subscribe registers l and immediately delivers the cached session (nil when
// there is none) as EventInitialSession.
func (p *Provider) Subscribe(l auth.Listener) func() {
	unsubscribe := p.broadcaster.Subscribe(l)
	if l == nil {
		return unsubscribe
	}

	current, err := p.store.LoadSession(context.Background())
	if err != nil {
		p.logger.Warn().Err(err).Msg("reading cached session for initial event")
	}
	if current != nil && current.Expired(p.nowTime()) {
		current = nil
	}
	l(current, auth.EventInitialSession)
	return unsubscribe
}

// AuthCodeURL is where the host sends the user to sign in. verifier is the
// PKCE code verifier and nonce is echoed back inside the ID token.
func (p *Provider) AuthCodeURL(state, verifier, nonce string) string {
	return p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier), oidc.Nonce(nonce))
}

// SignIn exchanges an authorization code, verifies the ID token and makes the
// result the current session.
func (p *Provider) SignIn(ctx context.Context, code, verifier, nonce string) (*sessions.Session, error) {
	oauthCtx := p.clientContext(ctx)
	tok, err := p.oauth.Exchange(oauthCtx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classifyTokenError("[Provider.SignIn] exchange", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.Wrapf(errors.ErrProviderRejected, "[Provider.SignIn] no id_token in token response")
	}
	idToken, err := p.verifier.Verify(oauthCtx, rawIDToken)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrProviderRejected, "[Provider.SignIn] verify id_token: %v", err)
	}
	if idToken.Nonce != nonce {
		return nil, errors.Wrapf(errors.ErrProviderRejected, "[Provider.SignIn] nonce mismatch")
	}

	session, err := sessions.FromToken(tok)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrProviderRejected, "[Provider.SignIn] %v", err)
	}
	if err := p.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("[Provider.SignIn] save: %w", err)
	}
	p.logger.Info().Str("identity", session.Identity.String()).Msg("signed in")
	p.broadcaster.Emit(session, auth.EventSignedIn)
	return session, nil
}

// SignOut drops the session, announces it, then revokes the tokens of session
// at the issuer. A nil session revokes whatever the store still holds.
// Revocation failures wrap ErrSignOutFailed.
func (p *Provider) SignOut(ctx context.Context, session *sessions.Session) error {
	current := session
	if current == nil {
		var err error
		if current, err = p.store.LoadSession(ctx); err != nil {
			p.logger.Warn().Err(err).Msg("reading session to revoke")
		}
	}
	p.drop(ctx)
	p.broadcaster.Emit(nil, auth.EventSignedOut)

	if current == nil || p.revocationURL == "" {
		return nil
	}
	var revokeErrs []error
	if current.RefreshToken != "" {
		revokeErrs = append(revokeErrs, p.revoke(ctx, current.RefreshToken, "refresh_token"))
	}
	revokeErrs = append(revokeErrs, p.revoke(ctx, current.AccessToken, "access_token"))
	if err := errors.Join(revokeErrs...); err != nil {
		return errors.Join(errors.ErrSignOutFailed, err)
	}
	return nil
}

func (p *Provider) revoke(ctx context.Context, token, tokenTypeHint string) error {
	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", tokenTypeHint)
	form.Set("client_id", p.oauth.ClientID)
	if p.oauth.ClientSecret != "" {
		form.Set("client_secret", p.oauth.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke %s: %w", tokenTypeHint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke %s: status %d", tokenTypeHint, resp.StatusCode)
	}
	return nil
}

// ReadUserRecord reads the identity's record from the configured record store
// or, without one, from the issuer's UserInfo endpoint using the current
// session.
func (p *Provider) ReadUserRecord(ctx context.Context, identity sessions.Identity) (*profiles.Profile, error) {
	if p.records != nil {
		return p.records.ReadUserRecord(ctx, identity)
	}

	current, err := p.store.LoadSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("[Provider.ReadUserRecord] load: %w", err)
	}
	if current == nil || current.Identity != identity {
		return nil, errors.ErrNoSession
	}

	info, err := p.oidcProvider.UserInfo(p.clientContext(ctx), oauth2.StaticTokenSource(current.Token()))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNetworkUnreachable, "[Provider.ReadUserRecord] userinfo: %v", err)
	}
	if sessions.Identity(info.Subject) != identity {
		return nil, nil
	}
	var claims struct {
		PreferredUsername string `json:"preferred_username"`
		Name              string `json:"name"`
		Picture           string `json:"picture"`
	}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("[Provider.ReadUserRecord] claims: %w", err)
	}

	username := claims.PreferredUsername
	if username == "" {
		username = claims.Name
	}
	if username == "" {
		username, _, _ = strings.Cut(info.Email, "@")
	}
	record := &profiles.Profile{
		ID:        info.Subject,
		Username:  username,
		Email:     info.Email,
		AvatarURL: claims.Picture,
	}
	record.Normalize()
	return record, nil
}

func (p *Provider) drop(ctx context.Context) {
	if err := p.store.DeleteSession(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("deleting session")
	}
}

// classifyTokenError maps token endpoint failures: a 4xx answer is the issuer
// refusing the credential, anything else means it could not be reached.
func classifyTokenError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
		retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
		return errors.Wrapf(errors.ErrProviderRejected, "%s: %v", op, err)
	}
	return errors.Wrapf(errors.ErrNetworkUnreachable, "%s: %v", op, err)
}
