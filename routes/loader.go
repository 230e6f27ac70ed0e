package routes

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/marcelsud/dispatch/ratelimit"
	"gopkg.in/yaml.v3"
)

/* Loader holds the throttle overrides, built-in defaults first and then
 * whatever routes.yaml adds or replaces
 */

// Config represents the structure of routes.yaml
type Config struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig represents a single route in the YAML file
type RouteConfig struct {
	RouteID string `yaml:"route_id"`
	Limit   int64  `yaml:"limit"`
	TTL     int    `yaml:"ttl"` // seconds
}

// Loader holds the loaded routes
type Loader struct {
	mu       sync.RWMutex
	routes   map[string]*Route
	fallback ratelimit.Rule
}

// NewLoader creates a loader seeded with Defaults; fallback applies to every other route
func NewLoader(fallback ratelimit.Rule) *Loader {
	l := &Loader{
		routes:   make(map[string]*Route),
		fallback: fallback,
	}
	for _, r := range Defaults() {
		l.routes[r.RouteID] = r
	}
	return l
}

// Load reads and parses the routes.yaml file
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading routes file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("parsing routes YAML: %w", err)
	}

	loaded := make([]*Route, 0, len(config.Routes))
	for _, rc := range config.Routes {
		route := &Route{
			RouteID:    rc.RouteID,
			Limit:      rc.Limit,
			TTLSeconds: rc.TTL,
		}
		if err := route.Validate(); err != nil {
			return fmt.Errorf("validating route: %w", err)
		}
		loaded = append(loaded, route)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, route := range loaded {
		l.routes[route.RouteID] = route
	}
	return nil
}

// Get retrieves an override by its ID
func (l *Loader) Get(routeID string) (*Route, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	route, exists := l.routes[routeID]
	if !exists {
		return nil, fmt.Errorf("route not found: %s", routeID)
	}
	return route, nil
}

// RuleFor returns the override rule for routeID or the global fallback
func (l *Loader) RuleFor(routeID string) ratelimit.Rule {
	route, err := l.Get(routeID)
	if err != nil {
		return l.fallback
	}
	return route.Rule()
}

// Fallback returns the global default rule
func (l *Loader) Fallback() ratelimit.Rule {
	return l.fallback
}

// List returns all overrides sorted by route id
func (l *Loader) List() []*Route {
	l.mu.RLock()
	defer l.mu.RUnlock()
	routes := make([]*Route, 0, len(l.routes))
	for _, route := range l.routes {
		routes = append(routes, route)
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].RouteID < routes[j].RouteID
	})
	return routes
}

// Exists checks if a route ID has an override
func (l *Loader) Exists(routeID string) bool {
	_, err := l.Get(routeID)
	return err == nil
}
