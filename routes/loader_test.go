package routes_test

import (
	"os"
	"testing"
	"time"

	"github.com/marcelsud/dispatch/ratelimit"
	"github.com/marcelsud/dispatch/routes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fallback = ratelimit.Rule{TTL: 60 * time.Second, Limit: 100}

func writeRoutesFile(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "routes-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(content)
	require.NoError(t, err)
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoader_Load(t *testing.T) {
	t.Run("success - valid routes file", func(t *testing.T) {
		file := writeRoutesFile(t, `
routes:
  - route_id: "POST /v1/auth/login"
    limit: 2
    ttl: 10
  - route_id: "GET /v1/reports/{id}"
    limit: 20
    ttl: 60
`)

		loader := routes.NewLoader(fallback)
		err := loader.Load(file)
		require.NoError(t, err)

		route, err := loader.Get("POST /v1/auth/login")
		require.NoError(t, err)
		assert.Equal(t, int64(2), route.Limit)
		assert.Equal(t, 10, route.TTLSeconds)

		rule := loader.RuleFor("GET /v1/reports/{id}")
		assert.Equal(t, ratelimit.Rule{TTL: 60 * time.Second, Limit: 20}, rule)

		assert.Len(t, loader.List(), len(routes.Defaults())+1)
	})

	t.Run("error - file not found", func(t *testing.T) {
		loader := routes.NewLoader(fallback)
		err := loader.Load("nonexistent.yaml")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading routes file")
	})

	t.Run("error - invalid YAML", func(t *testing.T) {
		file := writeRoutesFile(t, `invalid yaml content: [[[`)

		loader := routes.NewLoader(fallback)
		err := loader.Load(file)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing routes YAML")
	})

	t.Run("error - invalid route leaves table untouched", func(t *testing.T) {
		file := writeRoutesFile(t, `
routes:
  - route_id: "POST /v1/invites"
    limit: 1
    ttl: 1
  - route_id: "FETCH /v1/things"
    limit: 1
    ttl: 1
`)

		loader := routes.NewLoader(fallback)
		err := loader.Load(file)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "route_id must be")
		route, err := loader.Get("POST /v1/invites")
		require.NoError(t, err)
		assert.Equal(t, int64(10), route.Limit)
	})
}

func TestLoader_RuleFor(t *testing.T) {
	loader := routes.NewLoader(fallback)

	t.Run("sensitive routes are stricter than the fallback", func(t *testing.T) {
		for _, id := range []string{"POST /v1/auth/login", "POST /v1/invites"} {
			rule := loader.RuleFor(id)
			assert.Less(t, rule.Limit, fallback.Limit, id)
			assert.Less(t, rule.TTL, fallback.TTL, id)
		}
	})

	t.Run("unknown route gets the fallback", func(t *testing.T) {
		assert.Equal(t, fallback, loader.RuleFor("GET /v1/webhooks"))
		assert.False(t, loader.Exists("GET /v1/webhooks"))
	})
}

func TestRoute_Validate(t *testing.T) {
	t.Run("valid route", func(t *testing.T) {
		route := &routes.Route{RouteID: routes.ID("post", "/v1/x"), Limit: 1, TTLSeconds: 1}
		require.NoError(t, route.Validate())
		assert.Equal(t, "POST /v1/x", route.RouteID)
	})

	t.Run("error - empty route_id", func(t *testing.T) {
		route := &routes.Route{Limit: 1, TTLSeconds: 1}
		err := route.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "route_id cannot be empty")
	})

	t.Run("error - relative path", func(t *testing.T) {
		route := &routes.Route{RouteID: "GET v1/x", Limit: 1, TTLSeconds: 1}
		err := route.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "path must start with /")
	})

	t.Run("error - zero limit", func(t *testing.T) {
		route := &routes.Route{RouteID: "GET /v1/x", TTLSeconds: 1}
		err := route.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "limit must be at least 1")
	})

	t.Run("error - zero ttl", func(t *testing.T) {
		route := &routes.Route{RouteID: "GET /v1/x", Limit: 1}
		err := route.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ttl must be at least 1 second")
	})
}

func TestShippedRoutesFile(t *testing.T) {
	loader := routes.NewLoader(fallback)
	require.NoError(t, loader.Load("../routes.yaml"))

	assert.True(t, loader.Exists("POST /v1/events"))
	assert.Equal(t, ratelimit.Rule{TTL: time.Minute, Limit: 3}, loader.RuleFor("POST /v1/webhooks/{id}/rotate-secret"))
	assert.Equal(t, fallback, loader.RuleFor("GET /v1/webhooks"))
}
