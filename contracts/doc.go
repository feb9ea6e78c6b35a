// Package contracts provides the message contracts shared by the routing core.
//
// This package defines:
//   - Message: Base interface for all messages
//   - Command: Represents an action to be performed, optionally expecting a reply
//   - Event: Represents something that has happened; events may fall back to
//     the default publish endpoint when no explicit route exists
//   - Reply: Represents a response to a command
//
// Capabilities are small interfaces a message type may opt into:
//   - Identified: declares the wire-level message type identifier
//   - PayloadExtractor: supplies custom payload extraction
//   - ReplyExpecter: a command that cannot be dispatched without a reply path
//
// Metadata carries the routing fields (ReplyTo, DispatchDelay, CreatedAtUTC)
// that travel with a message between transports.
package contracts
