package security

import "net/http"

// SetSecureHeaders applies standard security response headers for the OAuth
// endpoints: no caching of token material, no framing, no MIME sniffing.
func SetSecureHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "no-referrer")
}

// SecureHeadersMiddleware applies SetSecureHeaders to every response.
func SecureHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetSecureHeaders(w)
		next.ServeHTTP(w, r)
	})
}
