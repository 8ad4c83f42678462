package testutil

import (
	"testing"
	"time"

	"github.com/cassiomorais/chainpay/internal/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// JWTSecret is long enough to pass config validation.
const JWTSecret = "test-secret-at-least-32-characters-long"

// SignToken returns a bearer token for userID signed with secret that
// expires in ttl. A negative ttl yields an expired token.
func SignToken(t testing.TB, secret, userID string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := middleware.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
