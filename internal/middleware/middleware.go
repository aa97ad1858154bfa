package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/EmpoweredVote/EV-Reforms/internal/logging"
)

// AdminKeyHeader carries the admin key on write endpoints.
const AdminKeyHeader = "X-Admin-Key"

// AdminKey admits requests whose X-Admin-Key matches the bcrypt hash. An
// empty hash closes the admin surface entirely.
func AdminKey(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hash == "" {
				http.Error(w, "Admin access disabled", http.StatusForbidden)
				return
			}

			key := r.Header.Get(AdminKeyHeader)
			if key == "" {
				http.Error(w, "Missing admin key", http.StatusUnauthorized)
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
				http.Error(w, "Invalid admin key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

var allowed = map[string]struct{}{
	"http://localhost:5173":              {},
	"http://localhost:5174":              {},
	"https://empoweredvote.github.io":    {},
	"https://reforms.empowered.vote":     {},
	"https://reforms-dev.empowered.vote": {},
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Echo the origin back only if it's on our allow-list
		if _, ok := allowed[origin]; ok {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods",
				"GET, POST, PATCH, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers",
				"Content-Type, "+AdminKeyHeader)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger puts a request-scoped logger on the context and logs one
// line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.With(r.Context(), "request_id", chimw.GetReqID(r.Context()))
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		logging.FromContext(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
