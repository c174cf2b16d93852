package middleware

import "net/http"

// MaxBodySize caps request body size. Product submissions carry base64 image
// data, so the limit has to leave room for a few megabytes of encoded pixels.
func MaxBodySize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
