package contracts

import (
	"time"
)

// Message is the base interface for all messages
type Message interface {
	GetID() string
	GetTimestamp() time.Time
	GetType() string
	GetCorrelationID() string
	SetCorrelationID(correlationID string)
}

// Command represents an action to be performed
type Command interface {
	Message
	GetTargetService() string
}

// Event represents something that has happened
type Event interface {
	Message
	GetAggregateID() string
	GetSequence() int64
}

// Reply represents a response to a command
type Reply interface {
	Message
	IsSuccess() bool
	GetError() error
}

// Identified is implemented by message types that declare a wire-level
// type identifier. The method must not depend on field values: it is
// invoked on zero values during discovery.
type Identified interface {
	MessageTypeID() string
}

// PayloadExtractor is implemented by message types that populate themselves
// from a raw transport payload instead of the default decoding.
type PayloadExtractor interface {
	ExtractPayload(body []byte) error
}

// ReplyExpecter is implemented by commands that require a reply path.
type ReplyExpecter interface {
	ExpectsReply() bool
}

// IsEvent reports whether msg is classified as an event.
func IsEvent(msg interface{}) bool {
	_, ok := msg.(Event)
	return ok
}

// ExpectsReply reports whether msg is a command that requires a reply path.
func ExpectsReply(msg interface{}) bool {
	r, ok := msg.(ReplyExpecter)
	return ok && r.ExpectsReply()
}
