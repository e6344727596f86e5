package api

import (
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type openAPIDoc struct {
	Paths map[string]map[string]any `yaml:"paths"`
}

var openAPIMethods = map[string]bool{
	"GET": true, "PUT": true, "POST": true, "DELETE": true, "PATCH": true, "HEAD": true, "OPTIONS": true,
}

// TestOpenAPIDrift compares the routes registered on the chi router with
// the paths documented in openapi.yaml.
func TestOpenAPIDrift(t *testing.T) {
	var doc openAPIDoc
	require.NoError(t, yaml.Unmarshal(openapiSpec, &doc))

	var documented []string
	for path, methods := range doc.Paths {
		for method := range methods {
			if m := strings.ToUpper(method); openAPIMethods[m] {
				documented = append(documented, m+" "+path)
			}
		}
	}

	// A zero-value API registers routes without a pipeline; handlers are
	// never invoked here.
	var registered []string
	err := chi.Walk((&API{}).Router(), func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		route = strings.TrimRight(route, "/")
		if route == "/openapi.yaml" || strings.HasPrefix(route, "/docs") || strings.HasPrefix(route, "/redoc") {
			return nil
		}
		registered = append(registered, method+" "+route)
		return nil
	})
	require.NoError(t, err)

	sort.Strings(documented)
	sort.Strings(registered)
	assert.Equal(t, documented, registered, "openapi.yaml and Router() disagree")
}

func TestPoliciesAreValid(t *testing.T) {
	policies := Policies()
	assert.Len(t, policies, 13)
	for name, p := range policies {
		assert.NoError(t, p.Validate(), name)
	}
	assert.True(t, policies["auth.login"].Checks.BruteForce)
	assert.False(t, policies["auth.login"].Checks.Token)
	assert.True(t, policies["auth.register"].Checks.BruteForce)
	assert.Equal(t, 10, policies["auth.register"].RateLimit)
	assert.Equal(t, "attempts", policies["admin.attempts"].Resource)
}
