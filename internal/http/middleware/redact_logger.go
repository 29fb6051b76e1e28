// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger. It never logs
// bodies (webhook payloads carry customer messages and phone numbers), masks
// credential headers including the WhatsApp and Paystack webhook signatures,
// hides secret query parameters such as hub.verify_token, and scrubs phone
// numbers, emails and UUIDs from whatever remains.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.RequestID())
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-Api-Key"},
//	}))
package middleware

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Headers and query parameters that are always masked.
var (
	defaultMaskHeaders = []string{
		"Authorization",
		"Cookie",
		"Set-Cookie",
		"X-Hub-Signature-256",
		"X-Hub-Signature",
		"X-Paystack-Signature",
	}
	defaultMaskQuery = []string{"hub.verify_token", "hub.challenge", "token"}
)

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// International and local phone numbers: "+233 24 123 4567", "0241234567".
	phoneRE = regexp.MustCompile(`\+?\d[\d .\-()]{7,}\d`)
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
// Header and query names match case-insensitively and extend the defaults.
type RedactOptions struct {
	MaskHeaders []string
	MaskQuery   []string
}

// Redact scrubs UUIDs, emails and phone numbers from s. UUIDs go first so
// the phone pattern cannot eat their digit runs.
func Redact(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// RedactingLogger returns a Gin middleware that attaches the request-scoped
// logger and writes one scrubbed access log line per request: info for
// 2xx/3xx, warn for 4xx, error for 5xx.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := lowerSet(defaultMaskHeaders, opts.MaskHeaders)
	maskQuery := lowerSet(defaultMaskQuery, opts.MaskQuery)

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		lg := attachRequestLogger(c, path)

		safeQuery := truncate(redactQuery(c.Request.URL.RawQuery, maskQuery), maxQueryLogLength)
		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = Redact(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		// The operator may have been attached by auth after the logger was built.
		lg = LoggerFrom(c)
		ev := lg.Info()
		switch {
		case status >= 500:
			ev = lg.Error()
		case status >= 400:
			ev = lg.Warn()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", Redact(c.Errors.String()))
		}
		ev.
			Str("query", safeQuery).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}

// redactQuery masks the values of secret parameters and scrubs the rest.
func redactQuery(raw string, mask map[string]struct{}) string {
	if raw == "" {
		return ""
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return Redact(raw)
	}
	for k, vs := range vals {
		if _, ok := mask[strings.ToLower(k)]; ok {
			vals[k] = []string{"[REDACTED]"}
			continue
		}
		for i := range vs {
			vs[i] = Redact(vs[i])
		}
	}
	// Encode escapes the brackets; logs stay readable without it.
	out, _ := url.QueryUnescape(vals.Encode())
	return out
}

func lowerSet(lists ...[]string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, l := range lists {
		for _, s := range l {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out[s] = struct{}{}
			}
		}
	}
	return out
}
