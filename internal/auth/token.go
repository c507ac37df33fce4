// ABOUTME: HS256 bearer tokens for the chat API
// ABOUTME: Tokens carry a subject, issue time, expiry and a unique id; expiry is mandatory

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Claims is the payload of an API token.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTVerifier signs and checks API tokens with a shared secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
	now    func() time.Time
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	v := &JWTVerifier{secret: secret, now: time.Now}
	v.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	return v
}

func (v *JWTVerifier) keyFunc(*jwt.Token) (any, error) {
	return v.secret, nil
}

// Verify checks the signature and time claims and returns the subject.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	var claims Claims
	if _, err := v.parser.ParseWithClaims(tokenString, &claims, v.keyFunc); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims.Subject, nil
}

// Generate signs a token for subject that expires after ttl.
func (v *JWTVerifier) Generate(subject string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
