package messaging

import (
	"errors"
	"fmt"
)

var (
	ErrNotAMessage       = errors.New("messaging: type does not declare a message type identifier")
	ErrInvalidType       = errors.New("messaging: invalid type")
	ErrMissingReplyRoute = errors.New("messaging: missing reply route")
)

// MissingReplyRouteError is returned when a reply path is required but none
// is available
type MissingReplyRouteError struct {
	MessageType string
	Reason      string
}

func (e *MissingReplyRouteError) Error() string {
	if e.MessageType == "" {
		return fmt.Sprintf("messaging: missing reply route: %s", e.Reason)
	}
	return fmt.Sprintf("messaging: missing reply route for %s: %s", e.MessageType, e.Reason)
}

func (e *MissingReplyRouteError) Is(target error) bool {
	return target == ErrMissingReplyRoute
}
