package rollcall

import "errors"

var (
	// ErrInvalidEvent indicates that an event does not satisfy protocol invariants.
	ErrInvalidEvent = errors.New("rollcall: invalid event")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("rollcall: invalid subscription")
	// ErrSubscriptionClosed indicates that a subscription is no longer active.
	ErrSubscriptionClosed = errors.New("rollcall: subscription closed")
	// ErrEventDropped indicates a non-blocking backpressure drop.
	ErrEventDropped = errors.New("rollcall: event dropped due to backpressure")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("rollcall: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("rollcall: service not found")
	// ErrServiceTypeMismatch indicates that a registered service has an unexpected type.
	ErrServiceTypeMismatch = errors.New("rollcall: service type mismatch")
	// ErrCapabilityNotDeclared indicates a subscription outside the module's declared capabilities.
	ErrCapabilityNotDeclared = errors.New("rollcall: capability not declared")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("rollcall: module already registered")
	// ErrDriverAlreadyRegistered indicates duplicate driver registration.
	ErrDriverAlreadyRegistered = errors.New("rollcall: driver already registered")
	// ErrInvalidOutboundRequest indicates a malformed outbound request.
	ErrInvalidOutboundRequest = errors.New("rollcall: invalid outbound request")
	// ErrOutboundUnsupported indicates that a sink cannot perform an operation.
	ErrOutboundUnsupported = errors.New("rollcall: outbound operation unsupported")
	// ErrUserNotFound indicates that a user reference did not resolve.
	ErrUserNotFound = errors.New("rollcall: user not found")
)
