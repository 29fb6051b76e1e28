// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, a hardening middleware for the JSON
// API. HSTS is opt-in and only sent on HTTPS requests. Operator responses
// carry customer phone numbers and message logs, so the router enables
// NoStore on that group.
package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	EnableHSTS   bool          // set true only when traffic is HTTPS end-to-end
	HSTSMaxAge   time.Duration // defaults to 180 days
	NoStore      bool          // Cache-Control: no-store and friends
	EnablePolicy bool          // Permissions-Policy and cross-domain policy
}

// SecurityHeaders always sets X-Content-Type-Options, X-Frame-Options and
// Referrer-Policy, plus the optional headers selected by opt. X-Request-ID
// is exposed to browser clients.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := fmt.Sprintf("max-age=%d; includeSubDomains; preload", int64(maxAge/time.Second))

	fixed := [][2]string{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Referrer-Policy", "no-referrer"},
	}
	if opt.EnablePolicy {
		fixed = append(fixed,
			[2]string{"Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()"},
			[2]string{"X-Permitted-Cross-Domain-Policies", "none"},
		)
	}
	if opt.NoStore {
		fixed = append(fixed,
			[2]string{"Cache-Control", "no-store"},
			[2]string{"Pragma", "no-cache"},
			[2]string{"Expires", "0"},
		)
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		for _, kv := range fixed {
			h.Set(kv[0], kv[1])
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		if h.Get(requestIDHeader) != "" {
			exposeHeader(h, requestIDHeader)
		}
		c.Next()
	}
}

// exposeHeader adds name to Access-Control-Expose-Headers once.
func exposeHeader(h http.Header, name string) {
	const key = "Access-Control-Expose-Headers"
	cur := h.Get(key)
	if cur == "" {
		h.Set(key, name)
		return
	}
	for _, v := range strings.Split(cur, ",") {
		if strings.EqualFold(strings.TrimSpace(v), name) {
			return
		}
	}
	h.Set(key, cur+", "+name)
}

// isHTTPS reports whether the request used TLS directly or through a proxy
// that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
