// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication for the operator API.
// Tokens are HS256 JWTs whose subject is the operator id; the optional role
// claim scopes what the dashboard may do.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Gin context keys set by OperatorAuth.
const (
	ctxKeyOperatorID   = "operatorID"
	ctxKeyOperatorRole = "operatorRole"
)

// OperatorClaims are the JWT claims carried by operator tokens.
type OperatorClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// TokenValidator verifies operator tokens signed with a shared secret.
type TokenValidator struct {
	secret []byte
	issuer string
}

// NewTokenValidator returns a validator for secret. An empty issuer skips
// the iss check.
func NewTokenValidator(secret, issuer string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret), issuer: issuer}
}

// Validate parses tokenStr and returns its claims. Expired tokens, tokens
// without a subject and tokens signed with anything but HS256 are rejected.
func (v *TokenValidator) Validate(tokenStr string) (*OperatorClaims, error) {
	if len(v.secret) == 0 {
		return nil, errors.New("token validator has no secret")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &OperatorClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token subject is required")
	}
	return claims, nil
}

// Issue signs a token for operatorID valid for ttl.
func (v *TokenValidator) Issue(operatorID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operatorID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// OperatorAuth rejects requests without a valid "Bearer <jwt>" header and
// stores the operator id and role in the Gin context. A nil validator fails
// closed.
func OperatorAuth(v *TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, tokenStr, ok := strings.Cut(header, " ")
		if header == "" || !ok || !strings.EqualFold(scheme, "Bearer") || tokenStr == "" {
			unauthorized(c, "missing or malformed Authorization header")
			return
		}
		if v == nil {
			unauthorized(c, "authentication not configured")
			return
		}
		claims, err := v.Validate(strings.TrimSpace(tokenStr))
		if err != nil {
			LoggerFrom(c).Debug().Err(err).Msg("operator token rejected")
			unauthorized(c, "invalid or expired token")
			return
		}
		c.Set(ctxKeyOperatorID, claims.Subject)
		c.Set(ctxKeyOperatorRole, claims.Role)
		withOperator(c, claims.Subject)
		c.Next()
	}
}

// OperatorID returns the authenticated operator, or "" outside OperatorAuth.
func OperatorID(c *gin.Context) string {
	v, _ := c.Get(ctxKeyOperatorID)
	return asString(v)
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="operator"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": GetRequestID(c),
		"code":       "unauthorized",
		"message":    msg,
	})
}
