package middleware

import (
	"net/http"
	"strings"
)

// HSTS adds Strict-Transport-Security to enforce HTTPS for a year.
func HSTS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

// AllowedHosts rejects requests whose Host header is not in the allow list.
// An empty list disables the check (local development).
func AllowedHosts(hosts []string, next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		allowed[strings.ToLower(h)] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(allowed) > 0 {
			host := strings.ToLower(r.Host)
			if i := strings.LastIndex(host, ":"); i != -1 {
				host = host[:i]
			}
			if _, ok := allowed[host]; !ok {
				http.Error(w, "Invalid host", http.StatusBadRequest)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
