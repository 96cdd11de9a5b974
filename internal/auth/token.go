// ABOUTME: JWT session tokens minted at login and checked on every API request
// ABOUTME: HS256 with registered claims only; the user ID travels as the subject

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer names this application in the iss claim; tokens minted by
// anything else are rejected even when signed with the same secret.
const tokenIssuer = "ordertrack"

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// JWTVerifier mints and checks session tokens. The token carries only
// registered claims; name and role are resolved against the store at
// request time so a stale token never pins an outdated role.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier signing and checking with the given secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Generate mints a session token for the given user ID.
func (v *JWTVerifier) Generate(userID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify checks the token's signature, expiry and issuer, and returns the
// user ID from the subject claim.
func (v *JWTVerifier) Verify(tokenString string) (userID string, err error) {
	var claims jwt.RegisteredClaims
	_, err = jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (interface{}, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
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
