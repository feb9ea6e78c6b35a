package contracts

import (
	"time"
)

// Metadata contains the routing information travelling with a message
type Metadata struct {
	MessageID     string
	CorrelationID string
	// ReplyTo is a reply descriptor: Endpoint=<host>;EntityPath=<entity>
	ReplyTo string
	// DispatchDelay postpones delivery relative to CreatedAtUTC (or now).
	DispatchDelay time.Duration
	// CreatedAtUTC is the zero time when absent.
	CreatedAtUTC time.Time
	Headers      map[string]interface{}
}

// NewMetadata creates metadata stamped with the current time
func NewMetadata() *Metadata {
	return &Metadata{
		CreatedAtUTC: time.Now().UTC(),
		Headers:      make(map[string]interface{}),
	}
}

// HasCreatedAt reports whether a creation timestamp is present
func (m *Metadata) HasCreatedAt() bool {
	return m != nil && !m.CreatedAtUTC.IsZero()
}

// SetHeader sets a custom header, allocating the map when needed
func (m *Metadata) SetHeader(key string, value interface{}) {
	if m.Headers == nil {
		m.Headers = make(map[string]interface{})
	}
	m.Headers[key] = value
}
