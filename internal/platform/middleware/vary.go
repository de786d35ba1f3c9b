package middleware

import (
	"net/http"
	"strings"
)

// Vary adds Accept to the Vary header, since the greeting is negotiated between JSON and CBOR.
// Existing Vary values are preserved and Accept is never listed twice.
func Vary() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addVary(w.Header(), "Accept")
			next.ServeHTTP(w, r)
		})
	}
}

func addVary(h http.Header, value string) {
	for _, existing := range h.Values("Vary") {
		for part := range strings.SplitSeq(existing, ",") {
			part = strings.TrimSpace(part)
			if part == "*" || strings.EqualFold(part, value) {
				return
			}
		}
	}
	h.Add("Vary", value)
}
