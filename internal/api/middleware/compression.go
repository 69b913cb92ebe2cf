package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForStreams wraps a compression middleware so event
// streams and the WebSocket upgrade bypass it. Compressed responses are
// buffered, which breaks SSE flushing and connection hijacking.
func SkipCompressionForStreams(compression func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compression(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.Header.Get("Accept"), "text/event-stream") ||
				r.URL.Path == "/dashboard/events" || r.URL.Path == "/ws" {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}
