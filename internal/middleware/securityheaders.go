package middleware

import (
	"net/http"
)

// apiCSP is the default policy: API responses load nothing.
const apiCSP = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders sets security headers on all responses. Handlers that
// render HTML may override Content-Security-Policy before writing.
func SecurityHeaders(enableHSTS bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			// Prevent MIME type sniffing
			h.Set("X-Content-Type-Options", "nosniff")
			// Prevent clickjacking
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			h.Set("Content-Security-Policy", apiCSP)

			// HSTS only over TLS and when enabled, so local development keeps working
			if enableHSTS && r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
			}

			next.ServeHTTP(w, r)
		})
	}
}
