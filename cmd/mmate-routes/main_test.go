package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/glimte/mmate-router/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const routesConfig = `
endpoint "events" {
  direction  = "outbound"
  connection = "Endpoint=amqp://rabbit/;EntityPath=events"
}

endpoint "replies" {
  connection = "Endpoint=amqp://rabbit/;EntityPath=svc.replies"
}

endpoint "any" {
  direction  = "outbound"
  connection = "Endpoint=amqp://rabbit/"
}

route "Sales.PlaceOrder" {
  endpoint = "events"
}

default_publish_endpoint = "events"
default_reply_endpoint   = "replies"
`

func run(t *testing.T, src string, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routes.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))

	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append(args, "--config", path))
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	out, err := run(t, routesConfig, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "3 endpoints, 1 routes")

	_, err = run(t, `route "Sales.PlaceOrder" { endpoint = "nowhere" }`, "validate")
	assert.Error(t, err)

	t.Run("routes may reference endpoints of another file", func(t *testing.T) {
		dir := t.TempDir()
		routes := filepath.Join(dir, "routes.hcl")
		endpoints := filepath.Join(dir, "endpoints.hcl")
		require.NoError(t, os.WriteFile(routes, []byte(`route "Sales.PlaceOrder" { endpoint = "orders" }`), 0o600))
		require.NoError(t, os.WriteFile(endpoints, []byte(`
endpoint "orders" {
  direction  = "outbound"
  connection = "Endpoint=rabbit;EntityPath=orders"
}`), 0o600))

		var out bytes.Buffer
		cmd := newRootCmd(&out)
		cmd.SetArgs([]string{"validate", "-c", routes, "-c", endpoints})
		cmd.SetErr(&bytes.Buffer{})
		require.NoError(t, cmd.Execute())
		assert.Contains(t, out.String(), "1 endpoints, 1 routes")
	})
}

func TestEndpoints(t *testing.T) {
	out, err := run(t, routesConfig, "endpoints")
	require.NoError(t, err)

	assert.Contains(t, out, "Endpoints (3)")
	assert.Contains(t, out, "svc.replies")
	assert.Contains(t, out, "publish")
	assert.Contains(t, out, "reply")
}

func TestRoutes(t *testing.T) {
	out, err := run(t, routesConfig, "routes")
	require.NoError(t, err)

	assert.Contains(t, out, "Sales.PlaceOrder")
	assert.Contains(t, out, "Unrouted messages are published to events")
}

func TestRoute(t *testing.T) {
	out, err := run(t, routesConfig, "route", "Sales.PlaceOrder")
	require.NoError(t, err)
	assert.Contains(t, out, "events")

	_, err = run(t, routesConfig, "route", "Sales.Unknown")
	assert.ErrorIs(t, err, routing.ErrEndpointNotFound)
}

func TestResolve(t *testing.T) {
	t.Run("known endpoint", func(t *testing.T) {
		out, err := run(t, routesConfig, "resolve", "endpoint=RABBIT; entitypath=svc.replies")
		require.NoError(t, err)
		assert.Contains(t, out, "replies")
		assert.NotContains(t, out, "computed")
	})

	t.Run("computed from wildcard", func(t *testing.T) {
		out, err := run(t, routesConfig, "resolve", "Endpoint=rabbit;EntityPath=caller.replies")
		require.NoError(t, err)
		assert.Contains(t, out, "computed-caller.replies")
	})

	t.Run("unknown host", func(t *testing.T) {
		_, err := run(t, routesConfig, "resolve", "Endpoint=elsewhere;EntityPath=caller.replies")
		assert.ErrorIs(t, err, routing.ErrEndpointNotFound)
	})
}

func TestReplyTo(t *testing.T) {
	out, err := run(t, routesConfig, "reply-to", "replies")
	require.NoError(t, err)
	assert.Equal(t, "Endpoint=rabbit;EntityPath=svc.replies\n", out)
}

func TestConfigRequired(t *testing.T) {
	cmd := newRootCmd(&bytes.Buffer{})
	cmd.SetArgs([]string{"endpoints"})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
