// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key support for operator replies. A key is
// scoped to (operator, conversation): the validator checks the header,
// stashes it, and asks a lookup whether the same operator already completed
// the request in the same conversation. On a hit the stored message id is
// exposed to the handler, which serves the earlier result instead of sending
// the customer a second copy, and the rate limiter lets the replay through.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey     = "idem.key"
	ctxKeyIdemReplay  = "idem.replay" // string: stored message id
	ctxKeyRateBypass  = "rate.bypass" // bool: skip rate limiting
	defaultIdemMaxLen = 200
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key, if the request carried one.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// ReplayOf returns the message id stored for a replayed request.
func ReplayOf(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the request repeats a completed one.
func IsReplay(c *gin.Context) bool {
	_, ok := ReplayOf(c)
	return ok
}

// IdempotencyOptions configures header validation. TTL enforcement belongs
// to the lookup.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil uses ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyLookup returns the message id stored for (operatorID,
// conversationID, key) if it is still valid at now. Errors are logged and
// treated as a miss.
type IdempotencyLookup func(ctx context.Context, operatorID, conversationID, key string, now time.Time) (messageID string, found bool, err error)

// IdempotencyValidator validates the Idempotency-Key header when present
// and marks replays. Invalid keys get 400; everything else continues. It
// must run after OperatorAuth and on routes with a :id conversation param.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdemMaxLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": GetRequestID(c),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			msgID, found, err := lookup(c.Request.Context(), OperatorID(c), c.Param("id"), key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			} else if found {
				c.Set(ctxKeyIdemReplay, msgID)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
