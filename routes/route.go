package routes

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/marcelsud/dispatch/ratelimit"
)

/* Route is a throttle override for one HTTP route
 * RouteID is "<METHOD> <chi route pattern>", e.g. "POST /v1/auth/login"
 */
type Route struct {
	RouteID    string
	Limit      int64
	TTLSeconds int
}

// Rule converts the override into a limiter rule
func (r *Route) Rule() ratelimit.Rule {
	return ratelimit.Rule{
		TTL:   time.Duration(r.TTLSeconds) * time.Second,
		Limit: r.Limit,
	}
}

// Validate checks if the route configuration is valid
func (r *Route) Validate() error {
	if r.RouteID == "" {
		return fmt.Errorf("route_id cannot be empty")
	}
	method, pattern, ok := strings.Cut(r.RouteID, " ")
	if !ok || !validMethod(method) {
		return fmt.Errorf("route_id must be \"<METHOD> <path>\" (got %q)", r.RouteID)
	}
	if !strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("path must start with / for route %s", r.RouteID)
	}
	if r.Limit < 1 {
		return fmt.Errorf("limit must be at least 1 for route %s", r.RouteID)
	}
	if r.TTLSeconds < 1 {
		return fmt.Errorf("ttl must be at least 1 second for route %s", r.RouteID)
	}
	return nil
}

// ID builds the route id the loader is keyed by
func ID(method, pattern string) string {
	return strings.ToUpper(method) + " " + pattern
}

func validMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// Defaults are the stricter built-in limits for sensitive routes
func Defaults() []*Route {
	return []*Route{
		{RouteID: "POST /v1/auth/login", Limit: 5, TTLSeconds: 30},
		{RouteID: "POST /v1/auth/register", Limit: 3, TTLSeconds: 30},
		{RouteID: "POST /v1/auth/forgot-password", Limit: 3, TTLSeconds: 30},
		{RouteID: "POST /v1/invites", Limit: 10, TTLSeconds: 30},
	}
}
