package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/marcelsud/dispatch/ratelimit"
	"github.com/marcelsud/dispatch/routes"
)

/* validate-routes - Standalone CLI tool to validate routes.yaml
 * Usage: go run cmd/validate-routes/main.go [routes.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	// Get routes file path from args or use default
	routesFile := "routes.yaml"
	if len(os.Args) > 1 {
		routesFile = os.Args[1]
	}

	fmt.Printf("Validating routes file: %s\n", routesFile)
	fmt.Println(strings.Repeat("-", 50))

	// the fallback only matters at runtime, THROTTLE_TTL and THROTTLE_LIMIT set it there
	loader := routes.NewLoader(ratelimit.Rule{})
	if err := loader.Load(routesFile); err != nil {
		fmt.Fprintf(os.Stderr, "❌ VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Success - print the effective overrides, built-in defaults included
	loadedRoutes := loader.List()
	fmt.Printf("✓ VALIDATION PASSED\n\n")
	fmt.Printf("Loaded %d route(s):\n", len(loadedRoutes))

	for i, route := range loadedRoutes {
		fmt.Printf("\n%d. Route: %s\n", i+1, route.RouteID)
		fmt.Printf("   Limit:  %d requests\n", route.Limit)
		fmt.Printf("   Window: %d seconds\n", route.TTLSeconds)
	}

	fmt.Printf("\n✓ All routes are valid!\n")
	os.Exit(0)
}
