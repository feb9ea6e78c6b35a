// Package reliability guards broker operations.
//
// It provides two patterns used by the RabbitMQ transport:
//   - Retry policies: exponential backoff or fixed delay, with pluggable error
//     classification
//   - Circuit breaker: stops dispatching to a broker after consecutive
//     failures and probes it again after a cool-down
//
// Example usage:
//
//	cb := NewCircuitBreaker(
//	    WithFailureThreshold(5),
//	    WithTimeout(30 * time.Second),
//	)
//
//	err := cb.Execute(ctx, func() error {
//	    return publisher.Publish(ctx, "", queue, msg)
//	})
package reliability
