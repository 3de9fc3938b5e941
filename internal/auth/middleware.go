package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// QueryParam is the URL query parameter accepted in place of the header.
const QueryParam = "api_key"

// APIKey returns middleware that enforces API key authentication.
//
// Behaviour:
//   - If mode != "apikey" or key == "", every request is allowed.
//   - Requests whose path is listed in public are always allowed.
//   - Otherwise the key is read from header, falling back to the api_key
//     query parameter, and compared to key in constant time.
//   - A missing, empty, or incorrect key returns 401 with a JSON body.
func APIKey(mode, header, key string, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}

	return func(next http.Handler) http.Handler {
		if mode != "apikey" || key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			got := r.Header.Get(header)
			if got == "" {
				got = r.URL.Query().Get(QueryParam)
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				slog.Debug("auth: rejected request", "path", r.URL.Path, "remote", r.RemoteAddr)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid api key"}` + "\n")) //nolint:errcheck
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
