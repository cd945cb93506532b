package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"

	"rollcall/pkg/rollcall"
)

const defaultOutboundTimeout = 3 * time.Second

// textSender is the single RPC the sink needs.
type textSender interface {
	SendText(ctx context.Context, peer tg.InputPeerClass, text string, replyTo int, topID int) (int, error)
}

// SinkDispatcher sends text replies through a gotd client.
type SinkDispatcher struct {
	sink    rollcall.EventSink
	peers   *PeerCache
	sender  textSender
	timeout time.Duration
	logger  *slog.Logger
}

// NewSinkDispatcher creates a sink for the named driver instance.
func NewSinkDispatcher(
	name string,
	sender textSender,
	peers *PeerCache,
	timeout time.Duration,
	logger *slog.Logger,
) (*SinkDispatcher, error) {
	if sender == nil {
		return nil, fmt.Errorf("new telegram sink: nil sender")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram sink: nil peer cache")
	}
	if timeout <= 0 {
		timeout = defaultOutboundTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &SinkDispatcher{
		sink:    rollcall.EventSink{Platform: DriverPlatform, ID: name},
		peers:   peers,
		sender:  sender,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// SendMessage posts text as a reply to ReplyToMessageID, inside the forum
// topic named by ThreadID when that differs from the reply target.
func (d *SinkDispatcher) SendMessage(
	ctx context.Context,
	request rollcall.SendMessageRequest,
) (*rollcall.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("telegram send message: %w", err)
	}
	if sink := request.Target.Sink; sink != nil && sink.Platform != "" && sink.Platform != DriverPlatform {
		return nil, fmt.Errorf("telegram send message: %w: platform %s", rollcall.ErrOutboundUnsupported, sink.Platform)
	}

	peer, err := d.peers.Resolve(request.Target.Conversation)
	if err != nil {
		return nil, fmt.Errorf("telegram send message: %w", err)
	}
	replyTo, err := optionalMessageID(request.ReplyToMessageID)
	if err != nil {
		return nil, fmt.Errorf("telegram send message: reply id: %w", err)
	}
	// A thread equal to the reply target is the message itself, not a topic.
	topID := 0
	if request.ThreadID != request.ReplyToMessageID {
		topID, err = optionalMessageID(request.ThreadID)
		if err != nil {
			return nil, fmt.Errorf("telegram send message: thread id: %w", err)
		}
	}

	rpcCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	id, err := d.sender.SendText(rpcCtx, peer, request.Text, replyTo, topID)
	if err != nil {
		return nil, fmt.Errorf(
			"telegram send message to %s: %w",
			request.Target.Conversation.ID,
			mapOutboundError(rollcall.OutboundOperationSendMessage, d.sink, err),
		)
	}
	d.logger.InfoContext(ctx, "telegram outbound message",
		"conversation", request.Target.Conversation.ID,
		"message_id", id,
		"reply_to_message_id", request.ReplyToMessageID,
	)

	target := request.Target
	sink := d.sink
	target.Sink = &sink

	return &rollcall.OutboundMessage{ID: strconv.Itoa(id), Target: target}, nil
}

// AcknowledgeCommand is a no-op; Telegram has no command receipt deadline.
func (d *SinkDispatcher) AcknowledgeCommand(_ context.Context, request rollcall.AcknowledgeCommandRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("telegram acknowledge command: %w", err)
	}

	return nil
}

// ListSinks returns this driver's sink.
func (d *SinkDispatcher) ListSinks(ctx context.Context) ([]rollcall.EventSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("telegram list sinks: %w", err)
	}

	return []rollcall.EventSink{d.sink}, nil
}

// ListSinksByPlatform returns this driver's sink when platform is Telegram.
func (d *SinkDispatcher) ListSinksByPlatform(ctx context.Context, platform rollcall.Platform) ([]rollcall.EventSink, error) {
	if platform != d.sink.Platform {
		return nil, nil
	}

	return d.ListSinks(ctx)
}

func optionalMessageID(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%w: invalid message id %q", rollcall.ErrInvalidOutboundRequest, raw)
	}

	return value, nil
}

// gotdSender sends through messages.sendMessage.
type gotdSender struct {
	api  *tg.Client
	rand io.Reader
}

func newGotdSender(api *tg.Client) gotdSender {
	return gotdSender{api: api, rand: crypto.DefaultRand()}
}

func (s gotdSender) SendText(ctx context.Context, peer tg.InputPeerClass, text string, replyTo int, topID int) (int, error) {
	randomID, err := crypto.RandInt64(s.rand)
	if err != nil {
		return 0, fmt.Errorf("random id: %w", err)
	}

	request := &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: randomID,
	}
	if replyTo > 0 || topID > 0 {
		header := &tg.InputReplyToMessage{ReplyToMsgID: replyTo}
		if replyTo == 0 {
			header.ReplyToMsgID = topID
		}
		if topID > 0 {
			header.SetTopMsgID(topID)
		}
		request.SetReplyTo(header)
	}

	updates, err := s.api.MessagesSendMessage(ctx, request)
	if err != nil {
		return 0, err
	}
	id, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, fmt.Errorf("sent message id: %w", err)
	}

	return id, nil
}

var _ rollcall.SinkDispatcher = (*SinkDispatcher)(nil)
