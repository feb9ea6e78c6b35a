// Package interceptors wraps inbound handlers with cross-cutting concerns.
//
// Interceptors run in the order they were added, each deciding whether to
// call the next one. Built-in interceptors:
//   - LoggingInterceptor: logs every inbound message with timing
//   - KnownTypesInterceptor: drops messages whose type identifier is not
//     registered
//   - TimeoutInterceptor: bounds handler execution time
//
// Example usage:
//
//	handler := interceptors.NewChain(logger).
//		Add(interceptors.NewLoggingInterceptor(logger)).
//		Add(interceptors.NewKnownTypesInterceptor(types, logger)).
//		Then(inbound)
package interceptors
