package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS returns permissive defaults for a public read-only API. Server-Timing and
// X-Request-Id are exposed so browser clients can read them.
func CORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"X-Request-Id",
			"traceparent",
		},
		ExposedHeaders: []string{"Link", "Server-Timing", "X-Request-Id"},
		MaxAge:         300,
	})
}
