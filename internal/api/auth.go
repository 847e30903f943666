package api

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tgparkk/stockbot/internal/apperr"
)

// operatorSubject is the fixed JWT subject every valid operator token
// carries — there is exactly one operator, so there is no per-user claim
// to check beyond "is this a token we signed".
const operatorSubject = "operator"

type operatorClaims struct {
	jwt.RegisteredClaims
}

// GenerateOperatorToken mints a bearer token for the operator console,
// signed with the same secret the server validates against. Grounded on
// internal/auth/jwt.go's GenerateAccessToken, trimmed to the one claim
// this surface needs.
func GenerateOperatorToken(secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := operatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operatorSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func validateOperatorToken(secret, raw string) error {
	claims := &operatorClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.New(apperr.Validation, "unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return apperr.Wrap(apperr.Validation, "invalid operator token", err)
	}
	if claims.Subject != operatorSubject {
		return apperr.New(apperr.Validation, "token is not an operator token")
	}
	return nil
}

// authMiddleware extracts and validates the operator's Bearer token,
// aborting the request with 401 on failure. Grounded on internal/auth/
// middleware.go's Middleware, stripped of its per-user context values
// (user id, tier, admin flag) since there is only one operator.
func authMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			c.AbortWithStatusJSON(401, gin.H{"error": "missing bearer token"})
			return
		}
		raw := strings.TrimPrefix(header, prefix)
		if err := validateOperatorToken(secret, raw); err != nil {
			c.AbortWithStatusJSON(401, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}
