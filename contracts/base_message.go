package contracts

import (
	"time"

	"github.com/google/uuid"
)

// BaseMessage provides common fields for all message types
type BaseMessage struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// NewBaseMessage creates a new base message with generated ID and current timestamp
func NewBaseMessage(messageTypeID string) BaseMessage {
	return BaseMessage{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      messageTypeID,
	}
}

// GetID returns the message ID
func (m BaseMessage) GetID() string {
	return m.ID
}

// GetTimestamp returns the message timestamp
func (m BaseMessage) GetTimestamp() time.Time {
	return m.Timestamp
}

// GetType returns the wire type identifier carried by the instance
func (m BaseMessage) GetType() string {
	return m.Type
}

// GetCorrelationID returns the correlation ID
func (m BaseMessage) GetCorrelationID() string {
	return m.CorrelationID
}

// SetCorrelationID sets the correlation ID
func (m *BaseMessage) SetCorrelationID(correlationID string) {
	m.CorrelationID = correlationID
}

// BaseCommand provides common fields for command messages
type BaseCommand struct {
	BaseMessage
	TargetService string `json:"targetService"`
}

// GetTargetService returns the target service for the command
func (c BaseCommand) GetTargetService() string {
	return c.TargetService
}

// NewBaseCommand creates a new command with generated ID and current timestamp
func NewBaseCommand(messageTypeID string) BaseCommand {
	return BaseCommand{
		BaseMessage: NewBaseMessage(messageTypeID),
	}
}

// BaseEvent provides common fields for event messages
type BaseEvent struct {
	BaseMessage
	AggregateID string `json:"aggregateId"`
	Sequence    int64  `json:"sequence"`
	Source      string `json:"source,omitempty"`
}

// GetAggregateID returns the aggregate ID
func (e BaseEvent) GetAggregateID() string {
	return e.AggregateID
}

// GetSequence returns the event sequence number
func (e BaseEvent) GetSequence() int64 {
	return e.Sequence
}

// NewBaseEvent creates a new event for the given aggregate
func NewBaseEvent(messageTypeID, aggregateID string) BaseEvent {
	return BaseEvent{
		BaseMessage: NewBaseMessage(messageTypeID),
		AggregateID: aggregateID,
	}
}

// BaseReply provides common fields for reply messages
type BaseReply struct {
	BaseMessage
	Success      bool   `json:"success"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// IsSuccess returns whether the reply indicates success
func (r BaseReply) IsSuccess() bool {
	return r.Success
}

// GetError returns the reply error, or nil for successful replies
func (r BaseReply) GetError() error {
	if r.Success {
		return nil
	}
	return &ReplyError{Code: r.ErrorCode, Message: r.ErrorMessage}
}

// NewBaseReply creates a successful reply correlated with a request
func NewBaseReply(messageTypeID, correlationID string) BaseReply {
	reply := BaseReply{
		BaseMessage: NewBaseMessage(messageTypeID),
		Success:     true,
	}
	reply.SetCorrelationID(correlationID)
	return reply
}

// ReplyError is the error carried by an unsuccessful reply
type ReplyError struct {
	Code    string
	Message string
}

func (e *ReplyError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}
