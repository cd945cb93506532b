package slack

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"

	"rollcall/pkg/rollcall"
)

// SendMessage posts text to a channel. Replies to a live slash command go to
// its response_url; everything else goes through chat.postMessage, threaded
// under ThreadID or ReplyToMessageID.
func (d *Driver) SendMessage(ctx context.Context, request rollcall.SendMessageRequest) (*rollcall.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("slack send message: %w", err)
	}
	if err := d.ownsTarget(request.Target); err != nil {
		return nil, fmt.Errorf("slack send message: %w", err)
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf(
			"slack send message: %w",
			mapOutboundError(rollcall.OutboundOperationSendMessage, d.source.ID, err),
		)
	}

	if request.CommandEventID != "" {
		if responseURL, _, live := d.commands.responseTarget(request.CommandEventID); live {
			return d.respondToCommand(ctx, request, responseURL)
		}
	}

	options := []slackapi.MsgOption{slackapi.MsgOptionText(request.Text, false)}
	thread := request.ThreadID
	if thread == "" && isMessageTimestamp(request.ReplyToMessageID) {
		thread = request.ReplyToMessageID
	}
	if thread != "" {
		options = append(options, slackapi.MsgOptionTS(thread))
	}

	_, timestamp, err := d.api.PostMessageContext(ctx, request.Target.Conversation.ID, options...)
	if err != nil {
		return nil, fmt.Errorf(
			"slack send message: %w",
			mapOutboundError(rollcall.OutboundOperationSendMessage, d.source.ID, err),
		)
	}
	d.logger.InfoContext(ctx, "slack outbound message",
		"channel", request.Target.Conversation.ID,
		"thread_ts", thread,
		"ts", timestamp,
	)

	return &rollcall.OutboundMessage{ID: timestamp, Target: d.resolvedTarget(request.Target)}, nil
}

func (d *Driver) respondToCommand(
	ctx context.Context,
	request rollcall.SendMessageRequest,
	responseURL string,
) (*rollcall.OutboundMessage, error) {
	d.commands.acknowledge(request.CommandEventID)

	err := d.webhook(ctx, responseURL, &slackapi.WebhookMessage{
		Text:         request.Text,
		ResponseType: d.cfg.ResponseType,
	})
	if err != nil {
		return nil, fmt.Errorf(
			"slack command response: %w",
			mapOutboundError(rollcall.OutboundOperationSendMessage, d.source.ID, err),
		)
	}
	d.logger.InfoContext(ctx, "slack outbound command response",
		"channel", request.Target.Conversation.ID,
		"command_event_id", request.CommandEventID,
		"response_type", d.cfg.ResponseType,
	)

	return &rollcall.OutboundMessage{Target: d.resolvedTarget(request.Target)}, nil
}

// AcknowledgeCommand acks the socket-mode envelope of a slash command.
// Unknown or already acknowledged commands are a no-op.
func (d *Driver) AcknowledgeCommand(_ context.Context, request rollcall.AcknowledgeCommandRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("slack acknowledge command: %w", err)
	}
	if err := d.ownsTarget(request.Target); err != nil {
		return fmt.Errorf("slack acknowledge command: %w", err)
	}
	d.commands.acknowledge(request.CommandEventID)

	return nil
}

// ListSinks returns this driver's sink.
func (d *Driver) ListSinks(ctx context.Context) ([]rollcall.EventSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("slack list sinks: %w", err)
	}

	return []rollcall.EventSink{{Platform: d.source.Platform, ID: d.source.ID}}, nil
}

// ListSinksByPlatform returns this driver's sink when platform is Slack.
func (d *Driver) ListSinksByPlatform(ctx context.Context, platform rollcall.Platform) ([]rollcall.EventSink, error) {
	if platform != d.source.Platform {
		return nil, nil
	}

	return d.ListSinks(ctx)
}

func (d *Driver) ownsTarget(target rollcall.OutboundTarget) error {
	sink := target.Sink
	if sink == nil {
		return nil
	}
	if (sink.ID != "" && sink.ID != d.source.ID) || (sink.Platform != "" && sink.Platform != d.source.Platform) {
		return fmt.Errorf("%w: sink %s/%s is not %s", rollcall.ErrOutboundUnsupported, sink.Platform, sink.ID, d.source.ID)
	}

	return nil
}

func (d *Driver) resolvedTarget(target rollcall.OutboundTarget) rollcall.OutboundTarget {
	target.Sink = &rollcall.EventSink{Platform: d.source.Platform, ID: d.source.ID}
	return target
}
