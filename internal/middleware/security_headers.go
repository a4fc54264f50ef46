package middleware

import (
	"net/http"
	"strings"
)

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// imageOrigins はアバター画像の配信元（ストレージの公開URLのオリジン）。
func NewSecurityHeadersMiddleware(imageOrigins ...string) func(next http.Handler) http.Handler {
	csp := strings.Join([]string{
		"default-src 'self'",
		strings.TrimSpace("img-src 'self' data: " + strings.Join(imageOrigins, " ")),
		"style-src 'self' 'unsafe-inline'",
		"form-action 'self'",
		"frame-ancestors 'none'",
	}, "; ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			h.Set("Content-Security-Policy", csp)
			next.ServeHTTP(w, r)
		})
	}
}
