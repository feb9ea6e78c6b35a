// Package messaging provides the type-level registries of the routing core.
//
// This package implements:
//   - TypeRegistry: bidirectional mapping between message types and their
//     wire-level type identifiers
//   - SagaRegistry: saga types with their key, state and store contract types
//     and the message types each saga handles
//   - Discovery: a single capability scan over a candidate type universe that
//     populates both registries
//   - Transport: the contract transports implement to start endpoints and
//     dispatch payloads, plus the dispatch scheduling decision
//
// Saga and message type registration may happen in any order: whichever is
// registered second stamps the saga back-reference on the message descriptor.
//
// Example usage:
//
//	types := messaging.NewTypeRegistry()
//	sagas := messaging.NewSagaRegistry(types)
//
//	_, err := messaging.NewDiscovery(types, sagas).Discover(messaging.TypesOf(
//		&OrderPlaced{},
//		&PaymentReceived{},
//		&OrderSaga{}, // embeds messaging.SagaBase[OrderState, string]
//	))
//
//	desc, ok := types.LookupByIdentifier("Sales.OrderPlaced")
//	// desc.SagaType == reflect.TypeOf(OrderSaga{})
package messaging
