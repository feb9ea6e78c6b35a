package health

import (
	"context"

	"github.com/glimte/mmate-router/routing"
)

// RoutingChecker reports whether the endpoint registry can route anything.
// No endpoints is unhealthy; endpoints without any route or default
// publish endpoint is degraded.
type RoutingChecker struct {
	endpoints *routing.EndpointRegistry
}

// NewRoutingChecker creates a checker over an endpoint registry
func NewRoutingChecker(endpoints *routing.EndpointRegistry) *RoutingChecker {
	return &RoutingChecker{endpoints: endpoints}
}

func (c *RoutingChecker) Name() string {
	return "routing"
}

func (c *RoutingChecker) Check(ctx context.Context) CheckResult {
	endpoints := c.endpoints.Endpoints()
	routes := c.endpoints.Routes()
	_, hasPublish := c.endpoints.DefaultPublishEndpoint()
	_, hasReply := c.endpoints.DefaultReplyEndpoint()

	computed := 0
	for _, ep := range endpoints {
		if ep.Computed {
			computed++
		}
	}

	result := CheckResult{
		Status: StatusHealthy,
		Details: map[string]interface{}{
			"endpoints":             len(endpoints),
			"computedEndpoints":     computed,
			"routes":                len(routes),
			"defaultPublishEnabled": hasPublish,
			"defaultReplyEnabled":   hasReply,
		},
	}

	switch {
	case len(endpoints) == 0:
		result.Status = StatusUnhealthy
		result.Message = "no endpoints registered"
	case len(routes) == 0 && !hasPublish:
		result.Status = StatusDegraded
		result.Message = "no routes and no default publish endpoint"
	default:
		result.Message = "routing ready"
	}
	return result
}
