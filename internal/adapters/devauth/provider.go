// Package devauth is a local stand-in for the identity provider. It lets the single
// sign-on flow run end to end in development without an IdP.
package devauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/shipnorth/portal-auth/internal/ports"
)

var _ ports.AuthProvider = (*Provider)(nil)

// DefaultCallbackPath is where Begin sends the browser.
const DefaultCallbackPath = "/auth/sso/callback"

// Config controls the identity the provider signs in.
type Config struct {
	Email  string // required
	Name   string
	Groups []string
	// CallbackPath overrides DefaultCallbackPath.
	CallbackPath string
	// IdentityTTL is how long an exchanged identity claims to be valid. Defaults to 8h.
	IdentityTTL time.Duration
	Now         func() time.Time
}

// Provider implements ports.AuthProvider by redirecting straight back to the callback.
// Exchange ignores the code; state and nonce are checked by the HTTP handler.
type Provider struct {
	identity domainauth.Identity
	callback string
	ttl      time.Duration
	now      func() time.Time
}

// NewProvider returns a Provider for cfg.
func NewProvider(cfg Config) (*Provider, error) {
	email := strings.TrimSpace(cfg.Email)
	if email == "" {
		return nil, errors.New("dev auth: Email is required")
	}
	first, last, _ := strings.Cut(strings.TrimSpace(cfg.Name), " ")
	p := &Provider{
		identity: domainauth.Identity{
			Subject:   "dev:" + strings.ToLower(email),
			Email:     email,
			FirstName: first,
			LastName:  last,
			Groups:    append([]string(nil), cfg.Groups...),
		},
		callback: cfg.CallbackPath,
		ttl:      cfg.IdentityTTL,
		now:      cfg.Now,
	}
	if p.callback == "" {
		p.callback = DefaultCallbackPath
	}
	if p.ttl <= 0 {
		p.ttl = 8 * time.Hour
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Begin returns the local callback URL with fresh random state and nonce.
func (p *Provider) Begin(_ context.Context, _ ports.BeginInput) (string, string, string, error) {
	state, err := randomToken()
	if err != nil {
		return "", "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomToken()
	if err != nil {
		return "", "", "", fmt.Errorf("generate nonce: %w", err)
	}
	q := url.Values{"code": {"dev"}, "state": {state}}
	return p.callback + "?" + q.Encode(), state, nonce, nil
}

// Exchange returns the configured identity.
func (p *Provider) Exchange(_ context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	if in.Code == "" {
		return domainauth.Identity{}, errors.New("dev auth: missing code")
	}
	id := p.identity
	id.Groups = append([]string(nil), p.identity.Groups...)
	id.ExpiresAt = p.now().Add(p.ttl)
	return id, nil
}

func randomToken() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
