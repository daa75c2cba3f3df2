package httpapi

import (
	"net/http"

	"github.com/lukasbauer/hotline/internal/ratelimit"
)

// withRateLimit admits the request under scope or answers 429 with Retry-After.
func (r *Router) withRateLimit(scope ratelimit.Scope, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.limiter == nil {
			next.ServeHTTP(w, req)
			return
		}
		d := r.limiter.AdmitScope(req.Context(), scope, r.clientID(req))
		if !d.Allowed {
			w.Header().Set("Retry-After", d.RetryAfterSeconds())
			writeError(w, http.StatusTooManyRequests, "Перевищено ліміт запитів. Спробуйте пізніше.")
			return
		}
		next.ServeHTTP(w, req)
	}
}
