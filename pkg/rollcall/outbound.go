package rollcall

import (
	"context"
	"fmt"
)

// ServiceSinkDispatcher is the canonical service registry key for outbound messaging.
const ServiceSinkDispatcher = "rollcall.sink_dispatcher"

// EventSink identifies one outbound-capable driver instance.
type EventSink struct {
	// Platform is the destination platform.
	Platform Platform
	// ID is the configured driver instance name.
	ID string
}

// SinkDispatcher sends neutral outbound operations to one sink adapter.
type SinkDispatcher interface {
	// SendMessage publishes a new outbound message to a destination conversation.
	SendMessage(ctx context.Context, request SendMessageRequest) (*OutboundMessage, error)
	// AcknowledgeCommand confirms receipt of a command to the platform.
	//
	// Platforms without a receipt deadline treat it as a no-op.
	AcknowledgeCommand(ctx context.Context, request AcknowledgeCommandRequest) error
	// ListSinks returns all active sink identities.
	ListSinks(ctx context.Context) ([]EventSink, error)
	// ListSinksByPlatform returns active sink identities for one platform.
	ListSinksByPlatform(ctx context.Context, platform Platform) ([]EventSink, error)
}

// OutboundTarget identifies where an outbound operation should be delivered.
type OutboundTarget struct {
	// Conversation identifies the destination conversation.
	Conversation Conversation
	// Sink optionally overrides runtime-configured sink routing for this operation.
	Sink *EventSink
}

// Validate checks target identity fields used for outbound routing.
func (t OutboundTarget) Validate() error {
	if t.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidOutboundRequest)
	}
	if t.Sink != nil && t.Sink.Platform == "" && t.Sink.ID == "" {
		return fmt.Errorf("%w: missing sink identity", ErrInvalidOutboundRequest)
	}

	return nil
}

// OutboundTargetFromEvent derives a destination target from an inbound event.
func OutboundTargetFromEvent(event *Event) (OutboundTarget, error) {
	if event == nil {
		return OutboundTarget{}, fmt.Errorf("%w: nil event", ErrInvalidOutboundRequest)
	}
	target := OutboundTarget{
		Conversation: event.Conversation,
	}
	if event.Source.Platform != "" || event.Source.ID != "" {
		target.Sink = &EventSink{
			Platform: event.Source.Platform,
			ID:       event.Source.ID,
		}
	}
	if err := target.Validate(); err != nil {
		return OutboundTarget{}, fmt.Errorf("derive target from event %s: %w", event.Kind, err)
	}

	return target, nil
}

// OutboundMessage identifies a message successfully emitted by the dispatcher.
type OutboundMessage struct {
	// ID is the destination-platform message identifier. It may be empty when
	// the platform does not report one (for example webhook responses).
	ID string
	// Target is the destination where this message was delivered.
	Target OutboundTarget
}

// SendMessageRequest describes a new outbound text message.
type SendMessageRequest struct {
	// Target identifies where the message should be sent.
	Target OutboundTarget
	// Text is the message body.
	Text string
	// ReplyToMessageID optionally links this message as a reply.
	ReplyToMessageID string
	// ThreadID optionally places the message inside an existing thread.
	ThreadID string
	// CommandEventID links the message to the command source event it answers.
	// Drivers with command-scoped response channels use it to route the reply.
	CommandEventID string
}

// Validate checks the request envelope before dispatch.
func (r SendMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate send message target: %w", err)
	}
	if r.Text == "" {
		return fmt.Errorf("%w: missing message text", ErrInvalidOutboundRequest)
	}

	return nil
}

// AcknowledgeCommandRequest identifies the command source event being acknowledged.
type AcknowledgeCommandRequest struct {
	// Target identifies where the command was issued.
	Target OutboundTarget
	// CommandEventID is the source event ID of the command.
	CommandEventID string
}

// Validate checks the request envelope before dispatch.
func (r AcknowledgeCommandRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate acknowledge command target: %w", err)
	}
	if r.CommandEventID == "" {
		return fmt.Errorf("%w: missing command event id", ErrInvalidOutboundRequest)
	}

	return nil
}
