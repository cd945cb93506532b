package telegram

import (
	"fmt"
	"maps"
	"time"

	"rollcall/pkg/rollcall"
)

// decodeUpdate turns a mapped update into an article.created event.
func decodeUpdate(update Update, source rollcall.EventSource, now func() time.Time) (*rollcall.Event, error) {
	if update.Message == nil {
		return nil, fmt.Errorf("decode telegram update %s: missing message payload", update.ID)
	}

	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now().UTC()
	}

	event := &rollcall.Event{
		ID:         update.ID,
		Kind:       rollcall.EventKindArticleCreated,
		OccurredAt: occurredAt,
		Source:     source,
		Conversation: rollcall.Conversation{
			ID:    update.Chat.ID,
			Type:  update.Chat.Type,
			Title: update.Chat.Title,
		},
		Actor: rollcall.Actor{
			ID:          update.Actor.ID,
			Username:    update.Actor.Username,
			DisplayName: update.Actor.DisplayName,
			IsBot:       update.Actor.IsBot,
		},
		Article: &rollcall.Article{
			ID:        update.Message.ID,
			ThreadID:  update.Message.ThreadID,
			ReplyToID: update.Message.ReplyToID,
			Text:      update.Message.Text,
		},
		Metadata: maps.Clone(update.Metadata),
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("decode telegram update %s: %w", update.ID, err)
	}

	return event, nil
}
