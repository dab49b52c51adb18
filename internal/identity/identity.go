// Package identity resolves end-user bearer credentials to the external
// user id that apps register wallets and redemptions under.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

const bearerPrefix = "Bearer "

// Resolver validates HS256 access tokens and extracts the subject claim.
type Resolver struct {
	signingKey []byte
	issuer     string
}

// NewResolver builds a resolver for tokens signed with signingKey. A
// non-empty issuer is enforced against the iss claim.
func NewResolver(signingKey []byte, issuer string) (*Resolver, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("identity: signing key required")
	}
	return &Resolver{signingKey: signingKey, issuer: issuer}, nil
}

// Resolve parses an Authorization header value and returns the external
// user id carried in the token subject.
func (resolver *Resolver) Resolve(authorizationHeader string) (string, error) {
	if authorizationHeader == "" {
		return "", ErrMissingToken
	}
	if !strings.HasPrefix(authorizationHeader, bearerPrefix) {
		return "", fmt.Errorf("%w: not a bearer credential", ErrInvalidToken)
	}
	raw := strings.TrimPrefix(authorizationHeader, bearerPrefix)
	options := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if resolver.issuer != "" {
		options = append(options, jwt.WithIssuer(resolver.issuer))
	}
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return resolver.signingKey, nil
	}, options...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
