// Package jwttoken issues HS256 bearer tokens bound to a server-side session.
package jwttoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/shipnorth/portal-auth/internal/ports"
)

// DefaultIssuer is used when Options.Issuer is empty.
const DefaultIssuer = "portal-auth"

var _ ports.TokenIssuer = (*Issuer)(nil)

var (
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingSecret is returned by New when no signing secret is configured.
	ErrMissingSecret = errors.New("token secret is not configured")
)

// Claims carries the session binding; revoking the session revokes the token.
type Claims struct {
	SessionID string   `json:"sid"`
	Roles     []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Options configures the issuer.
type Options struct {
	Secret string
	Issuer string
	// TTL caps the token lifetime below the session's expiry; zero uses the session expiry.
	TTL time.Duration
	Now func() time.Time
}

// Issuer signs and verifies bearer tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// New builds an Issuer. The secret must be non-empty.
func New(opts Options) (*Issuer, error) {
	secret := strings.TrimSpace(opts.Secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	iss := opts.Issuer
	if iss == "" {
		iss = DefaultIssuer
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Issuer{secret: []byte(secret), issuer: iss, ttl: opts.TTL, now: now}, nil
}

// Issue signs a token for the session.
func (i *Issuer) Issue(sess domainauth.Session) (string, error) {
	if sess.ID == "" || sess.UserID == "" {
		return "", errors.New("session id and user id are required")
	}

	now := i.now().UTC()
	exp := sess.ExpiresAt
	if i.ttl > 0 && now.Add(i.ttl).Before(exp) {
		exp = now.Add(i.ttl)
	}

	claims := Claims{
		SessionID: sess.ID,
		Roles:     domainauth.RoleStrings(sess.Roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   sess.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry and returns the session binding.
func (i *Issuer) Verify(token string) (ports.TokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return ports.TokenClaims{}, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return ports.TokenClaims{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.SessionID == "" || claims.Subject == "" {
		return ports.TokenClaims{}, ErrInvalidToken
	}

	return ports.TokenClaims{
		SessionID: claims.SessionID,
		UserID:    claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
