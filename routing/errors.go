package routing

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateRegistration   = errors.New("routing: duplicate registration")
	ErrEndpointNotFound        = errors.New("routing: endpoint not found")
	ErrInvalidReplyDescriptor  = errors.New("routing: invalid reply descriptor")
	ErrInvalidConnectionString = errors.New("routing: invalid connection string")
	ErrInvalidEndpoint         = errors.New("routing: invalid endpoint")
)

// DuplicateRegistrationError is returned when a name, identifier or type is
// registered twice. It is shared by the endpoint and type registries.
type DuplicateRegistrationError struct {
	Kind string // endpoint, route, connection, message type, saga ...
	Key  string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("routing: %s %q is already registered", e.Kind, e.Key)
}

func (e *DuplicateRegistrationError) Is(target error) bool {
	return target == ErrDuplicateRegistration
}

// EndpointNotFoundError is returned by endpoint and route lookups
type EndpointNotFoundError struct {
	By  string // name, message type, reply descriptor
	Key string
}

func (e *EndpointNotFoundError) Error() string {
	return fmt.Sprintf("routing: no endpoint found by %s %q", e.By, e.Key)
}

func (e *EndpointNotFoundError) Is(target error) bool {
	return target == ErrEndpointNotFound
}

// InvalidReplyDescriptorError is returned for malformed reply descriptors
type InvalidReplyDescriptorError struct {
	Descriptor string
	Reason     string
}

func (e *InvalidReplyDescriptorError) Error() string {
	return fmt.Sprintf("routing: invalid reply descriptor %q: %s", e.Descriptor, e.Reason)
}

func (e *InvalidReplyDescriptorError) Is(target error) bool {
	return target == ErrInvalidReplyDescriptor
}

// IsNotFound reports whether err is an endpoint lookup miss
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEndpointNotFound)
}

// IsDuplicate reports whether err is a duplicate registration
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateRegistration)
}
