// Package auth verifies the bearer tokens the storefront's identity provider
// issues and turns them into a shared.Identity. Issuing tokens belongs to
// the identity provider; Issue exists for local tooling and tests.
package auth

import (
	"errors"
	"time"

	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Common errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrMissingSubject   = errors.New("missing subject in claims")
	ErrNotConfigured    = errors.New("token verification is not configured")
	ErrReservedSubject  = errors.New("subject is reserved for guest sessions")
)

// Claims are the JWT claims the storefront reads
type Claims struct {
	jwt.RegisteredClaims
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// Identity converts the claims into the session identity
func (c *Claims) Identity() *shared.Identity {
	return &shared.Identity{
		ID:          c.Subject,
		DisplayName: c.Name,
		Email:       c.Email,
		Role:        c.Role,
	}
}

// JWTService verifies HMAC-signed bearer tokens
type JWTService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTService creates a verifier for tokens signed with secret
func NewJWTService(secret, issuer string) *JWTService {
	return &JWTService{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Verify parses tokenString and returns the identity it carries
func (s *JWTService) Verify(tokenString string) (*shared.Identity, error) {
	if len(s.secret) == 0 {
		return nil, ErrNotConfigured
	}

	opts := []jwt.ParserOption{jwt.WithTimeFunc(s.now)}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotYetValid
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	if shared.IsReservedID(claims.Subject) {
		return nil, ErrReservedSubject
	}
	return claims.Identity(), nil
}

// Issue signs a token for id valid for ttl
func (s *JWTService) Issue(id *shared.Identity, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrNotConfigured
	}
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   id.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Name:  id.DisplayName,
		Email: id.Email,
		Role:  id.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
