package oidc

// Package oidc provides the optional staff single sign-on provider.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/shipnorth/portal-auth/internal/ports"
	"golang.org/x/oauth2"
)

// DefaultGroupsClaim is read when ProviderConfig.GroupsClaim is empty.
const DefaultGroupsClaim = "groups"

var _ ports.AuthProvider = (*Provider)(nil)

// Provider implements ports.AuthProvider with OIDC authorization-code flow.
type Provider struct {
	config      *oauth2.Config
	httpClient  *http.Client
	groupsClaim string

	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier
}

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string
	// IssuerURL may be the issuer or its /.well-known/openid-configuration URL.
	IssuerURL   string
	GroupsClaim string
	HTTPClient  *http.Client // Optional, defaults to a 30s client
}

// NewProvider performs discovery and returns a ready Provider.
func NewProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	switch {
	case cfg.ClientID == "":
		return nil, errors.New("client ID is required")
	case cfg.ClientSecret == "":
		return nil, errors.New("client secret is required")
	case cfg.RedirectURL == "":
		return nil, errors.New("redirect URL is required")
	case cfg.IssuerURL == "":
		return nil, errors.New("issuer URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	issuer := strings.TrimSuffix(cfg.IssuerURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")

	op, err := gooidc.NewProvider(gooidc.ClientContext(ctx, httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	scopes := strings.Fields(cfg.Scope)
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "email", "profile"}
	}

	groupsClaim := cfg.GroupsClaim
	if groupsClaim == "" {
		groupsClaim = DefaultGroupsClaim
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     op.Endpoint(),
		},
		httpClient:   httpClient,
		groupsClaim:  groupsClaim,
		oidcProvider: op,
		verifier:     op.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (p *Provider) Begin(_ context.Context, in ports.BeginInput) (string, string, string, error) {
	if in.RedirectURL == "" {
		return "", "", "", errors.New("redirect URL is required")
	}

	state, err := randomToken()
	if err != nil {
		return "", "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomToken()
	if err != nil {
		return "", "", "", fmt.Errorf("generate nonce: %w", err)
	}

	// redirect_uri stays the configured RedirectURL; IdPs match it exactly.
	authURL := p.config.AuthCodeURL(state, gooidc.Nonce(nonce))
	return authURL, state, nonce, nil
}

func (p *Provider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	if in.Code == "" {
		return domainauth.Identity{}, errors.New("authorization code is required")
	}
	if in.Nonce == "" {
		return domainauth.Identity{}, errors.New("nonce is required")
	}

	ctx = gooidc.ClientContext(ctx, p.httpClient)
	token, err := p.config.Exchange(ctx, in.Code)
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("exchange code for token: %w", err)
	}

	rawID, ok := token.Extra("id_token").(string)
	if !ok || rawID == "" {
		return domainauth.Identity{}, errors.New("missing id_token in token response")
	}
	idTok, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("verify id_token: %w", err)
	}
	if idTok.Nonce != in.Nonce {
		return domainauth.Identity{}, errors.New("invalid nonce")
	}

	var raw map[string]any
	if err := idTok.Claims(&raw); err != nil {
		return domainauth.Identity{}, fmt.Errorf("parse id_token claims: %w", err)
	}
	ident := identityFromClaims(raw, p.groupsClaim)
	ident.ExpiresAt = idTok.Expiry

	if ident.Email == "" {
		if fillErr := p.fillFromUserInfo(ctx, token, &ident); fillErr != nil {
			return domainauth.Identity{}, fmt.Errorf("get user info: %w", fillErr)
		}
	}
	return ident, nil
}

func (p *Provider) fillFromUserInfo(ctx context.Context, token *oauth2.Token, ident *domainauth.Identity) error {
	ui, err := p.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return fmt.Errorf("fetch user info: %w", err)
	}
	var raw map[string]any
	if err := ui.Claims(&raw); err != nil {
		return fmt.Errorf("decode user info: %w", err)
	}
	extra := identityFromClaims(raw, p.groupsClaim)
	if ident.Email == "" {
		ident.Email = extra.Email
	}
	if ident.FirstName == "" {
		ident.FirstName = extra.FirstName
	}
	if ident.LastName == "" {
		ident.LastName = extra.LastName
	}
	if len(ident.Groups) == 0 {
		ident.Groups = extra.Groups
	}
	return nil
}

// identityFromClaims maps standard OIDC claims and a configurable groups claim.
// The groups claim may be a list or a single string.
func identityFromClaims(claims map[string]any, groupsClaim string) domainauth.Identity {
	str := func(k string) string {
		s, _ := claims[k].(string)
		return s
	}
	ident := domainauth.Identity{
		Subject:   str("sub"),
		Email:     str("email"),
		FirstName: str("given_name"),
		LastName:  str("family_name"),
	}
	switch g := claims[groupsClaim].(type) {
	case []any:
		for _, v := range g {
			if s, ok := v.(string); ok && s != "" {
				ident.Groups = append(ident.Groups, s)
			}
		}
	case string:
		if g != "" {
			ident.Groups = []string{g}
		}
	}
	return ident
}

// randomToken returns 32 bytes of crypto randomness, base64url encoded.
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
