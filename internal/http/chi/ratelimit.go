package chi

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/marcelsud/dispatch/ratelimit"
	"github.com/marcelsud/dispatch/routes"
)

// CompanyHeader carries the tenant of the caller
const CompanyHeader = "X-Company-ID"

// RuleSource resolves the throttle rule of a route id; *routes.Loader implements it
type RuleSource interface {
	RuleFor(routeID string) ratelimit.Rule
}

/* RateLimit throttles requests per (tenant, client ip, route)
 * It must run after routing, inside a Group or With, so the chi route
 * pattern is known. The client ip is whatever middleware.RealIP left in
 * RemoteAddr.
 */
func RateLimit(limiter *ratelimit.Limiter, rules RuleSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pattern := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				pattern = rctx.RoutePattern()
			}
			routeID := routes.ID(r.Method, pattern)
			rule := rules.RuleFor(routeID)

			d := limiter.Check(r.Context(), ratelimit.Identity{
				CompanyID: r.Header.Get(CompanyHeader),
				ClientIP:  clientIP(r.RemoteAddr),
			}, routeID, rule)

			if !d.FailOpen {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining(), 10))
			}
			if !d.Allowed {
				seconds := int64(math.Ceil(d.RetryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
				writeJSON(w, http.StatusTooManyRequests, throttledResponse{
					Error:      "too many requests",
					RetryAfter: seconds,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type throttledResponse struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retry_after"`
}

func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
