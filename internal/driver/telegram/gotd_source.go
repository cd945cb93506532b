package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
)

const defaultUpdateBuffer = 256

// GotdClient runs fn inside a connected, authenticated gotd session.
type GotdClient interface {
	Run(ctx context.Context, fn func(runCtx context.Context) error) error
}

// GotdUpdateChannel is registered as the gotd UpdateHandler and buffers
// flattened message updates for GotdSource.
type GotdUpdateChannel struct {
	updates chan gotdEnvelope
}

// NewGotdUpdateChannel creates an update bridge with the given buffer.
func NewGotdUpdateChannel(buffer int) *GotdUpdateChannel {
	if buffer <= 0 {
		buffer = defaultUpdateBuffer
	}

	return &GotdUpdateChannel{updates: make(chan gotdEnvelope, buffer)}
}

// Handle implements gotd's telegram.UpdateHandler.
func (c *GotdUpdateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	batch, err := flattenUpdates(updates)
	if err != nil {
		return fmt.Errorf("handle gotd updates: %w", err)
	}

	for _, envelope := range batch {
		select {
		case <-ctx.Done():
			return fmt.Errorf("handle gotd updates: %w", ctx.Err())
		case c.updates <- envelope:
		}
	}

	return nil
}

// GotdSource runs a gotd session and maps its new messages into Updates.
type GotdSource struct {
	client GotdClient
	stream *GotdUpdateChannel
	peers  *PeerCache
}

// NewGotdSource creates a source over an authenticated gotd client.
func NewGotdSource(client GotdClient, stream *GotdUpdateChannel, peers *PeerCache) (*GotdSource, error) {
	if client == nil {
		return nil, fmt.Errorf("new gotd source: nil client")
	}
	if stream == nil {
		return nil, fmt.Errorf("new gotd source: nil stream")
	}

	return &GotdSource{client: client, stream: stream, peers: peers}, nil
}

// Consume forwards mapped updates to handler until ctx ends.
func (s *GotdSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return fmt.Errorf("consume gotd updates: nil handler")
	}

	err := s.client.Run(ctx, func(runCtx context.Context) error {
		for {
			select {
			case <-runCtx.Done():
				return nil
			case envelope := <-s.stream.updates:
				s.peers.RememberEnvelope(envelope)
				update, accepted := mapEnvelope(envelope, s.peers)
				if !accepted {
					continue
				}
				if err := handler(runCtx, update); err != nil {
					return fmt.Errorf("consume gotd update %s: %w", update.ID, err)
				}
			}
		}
	})
	if err != nil {
		return fmt.Errorf("consume gotd updates: %w", err)
	}

	return nil
}

// flattenUpdates unpacks gotd containers into one envelope per message
// update. Short updates are expanded into full messages.
func flattenUpdates(updates tg.UpdatesClass) ([]gotdEnvelope, error) {
	switch typed := updates.(type) {
	case nil:
		return nil, fmt.Errorf("flatten gotd updates: nil updates")
	case *tg.Updates:
		return flattenBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdatesCombined:
		return flattenBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdateShort:
		return flattenBatch([]tg.UpdateClass{typed.Update}, typed.Date, nil, nil), nil
	case *tg.UpdateShortMessage:
		message := &tg.Message{
			ID:      typed.ID,
			PeerID:  &tg.PeerUser{UserID: typed.UserID},
			Date:    typed.Date,
			Message: typed.Message,
		}
		message.SetFromID(&tg.PeerUser{UserID: typed.UserID})
		if replyTo, ok := typed.GetReplyTo(); ok {
			message.SetReplyTo(replyTo)
		}
		return []gotdEnvelope{{message: message, occurredAt: unixUTC(typed.Date)}}, nil
	case *tg.UpdateShortChatMessage:
		message := &tg.Message{
			ID:      typed.ID,
			PeerID:  &tg.PeerChat{ChatID: typed.ChatID},
			Date:    typed.Date,
			Message: typed.Message,
		}
		message.SetFromID(&tg.PeerUser{UserID: typed.FromID})
		if replyTo, ok := typed.GetReplyTo(); ok {
			message.SetReplyTo(replyTo)
		}
		return []gotdEnvelope{{message: message, occurredAt: unixUTC(typed.Date)}}, nil
	case *tg.UpdatesTooLong, *tg.UpdateShortSentMessage:
		return nil, nil
	default:
		return nil, fmt.Errorf("flatten gotd updates %s: unsupported container", updates.TypeName())
	}
}

func flattenBatch(updates []tg.UpdateClass, date int, users []tg.UserClass, chats []tg.ChatClass) []gotdEnvelope {
	occurredAt := unixUTC(date)
	usersByID := indexUsers(users)
	chatsByID := indexChats(chats)

	batch := make([]gotdEnvelope, 0, len(updates))
	for _, update := range updates {
		var message tg.MessageClass
		switch typed := update.(type) {
		case *tg.UpdateNewMessage:
			message = typed.Message
		case *tg.UpdateNewChannelMessage:
			message = typed.Message
		}
		plain, ok := message.(*tg.Message)
		if !ok {
			continue
		}
		batch = append(batch, gotdEnvelope{
			message:    plain,
			occurredAt: occurredAt,
			usersByID:  usersByID,
			chatsByID:  chatsByID,
		})
	}

	return batch
}

func unixUTC(value int) time.Time {
	if value <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(value), 0).UTC()
}
