package middlewares

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"prodagent/prodagent/utils/logging"
)

// TraceMiddleware copies chi's request id into the context as the trace id
// timed calls log with. It must run after middleware.RequestID.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(logging.WithTraceID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
