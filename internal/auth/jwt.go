// Package auth issues and validates the admin bearer tokens.
package auth

import (
	"strings"
	"time"

	"example.com/backstage/contacts/config"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

var (
	// ErrDisabled is returned by Issue when no secret is configured
	ErrDisabled = errors.New("admin auth is disabled")
	// ErrInvalidToken is returned for unparseable, expired or foreign tokens
	ErrInvalidToken = errors.New("invalid token")
)

// Authenticator signs and checks HS256 admin tokens
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// New creates an authenticator. An empty secret disables it.
func New(cfg config.AuthConfig) *Authenticator {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Authenticator{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Enabled reports whether tokens are required
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// Issue signs a token for subject
func (a *Authenticator) Issue(subject string) (string, error) {
	if !a.Enabled() {
		return "", ErrDisabled
	}
	now := a.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

// Validate parses a token and returns its claims
func (a *Authenticator) Validate(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.Wrap(ErrInvalidToken, errMessage(err))
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return nil, errors.Wrap(ErrInvalidToken, "unexpected issuer")
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func errMessage(err error) string {
	if err == nil {
		return "token not valid"
	}
	return err.Error()
}
