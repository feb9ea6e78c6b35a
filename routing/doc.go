// Package routing resolves where a message goes.
//
// This package includes:
//   - Endpoint: a named, directional binding to a transport connection and entity
//   - EndpointRegistry: named endpoints, the message route table and the
//     process-wide default publish and reply endpoints
//   - ReplyToResolver: turns reply descriptors into endpoints, synthesizing
//     computed endpoints from wildcard endpoints on demand
//
// Registries are populated during a single-threaded configuration phase and
// are safe for concurrent use afterwards. Lookups that write on the read path
// (default event routes, computed reply endpoints, reply descriptor caches)
// converge on a single winner when called concurrently for the same key.
package routing
