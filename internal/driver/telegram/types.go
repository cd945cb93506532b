package telegram

import (
	"time"

	"rollcall/pkg/rollcall"
)

// Update is one new Telegram message projected out of gotd types.
type Update struct {
	ID         string
	OccurredAt time.Time
	Chat       ChatRef
	Actor      ActorRef
	Message    *MessagePayload
	Metadata   map[string]string
}

// ChatRef identifies the chat a message was posted in.
type ChatRef struct {
	ID    string
	Title string
	Type  rollcall.ConversationType
}

// ActorRef identifies the message author.
type ActorRef struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

// MessagePayload is the message body and its reply linkage.
type MessagePayload struct {
	ID        string
	ThreadID  string
	ReplyToID string
	Text      string
}
