// Package auth turns bearer tokens into domain actors.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hailing/internal/domain"
)

// Claims is the token payload issued to riders, drivers and administrators.
type Claims struct {
	UserID string      `json:"uid"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator resolves a bearer token to the acting identity.
type Authenticator interface {
	Authenticate(token string) (domain.Actor, error)
}

// JWTAuthenticator validates HS256 tokens signed with a shared secret.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTAuthenticator creates a new JWTAuthenticator.
func NewJWTAuthenticator(secret, issuer string, ttl time.Duration) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTAuthenticator{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Authenticate parses and verifies token. Every failure is ErrUnauthenticated.
func (a *JWTAuthenticator) Authenticate(token string) (domain.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if claims.UserID == "" || !claims.Role.Valid() {
		return domain.Actor{}, fmt.Errorf("%w: token has no usable identity", domain.ErrUnauthenticated)
	}
	return domain.Actor{UserID: claims.UserID, Role: claims.Role}, nil
}

// Issue signs a token for the actor.
func (a *JWTAuthenticator) Issue(actor domain.Actor) (string, error) {
	now := a.now()
	claims := &Claims{
		UserID: actor.UserID,
		Role:   actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
