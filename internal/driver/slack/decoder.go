package slack

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"rollcall/pkg/rollcall"
)

const (
	// MetadataSlashCommand marks article events that came from a slash command.
	MetadataSlashCommand = "slack_command"
	// MetadataTeamID carries the Slack workspace ID.
	MetadataTeamID = "slack_team_id"
)

// visibleSubtypes are message subtypes that carry user-authored text.
var visibleSubtypes = map[string]struct{}{
	"":                 {},
	"bot_message":      {},
	"thread_broadcast": {},
	"file_share":       {},
	"me_message":       {},
}

// decoder turns Slack payloads into neutral events for one driver instance.
type decoder struct {
	source    rollcall.EventSource
	botUserID string
	now       func() time.Time
}

// decodeMessage converts a message callback. It returns nil for subtypes
// that do not represent a newly posted message.
func (d decoder) decodeMessage(message *slackevents.MessageEvent, teamID string) (*rollcall.Event, error) {
	if message == nil {
		return nil, fmt.Errorf("decode slack message: nil payload")
	}
	if _, visible := visibleSubtypes[message.SubType]; !visible {
		return nil, nil
	}
	if message.TimeStamp == "" || message.Channel == "" {
		return nil, fmt.Errorf("decode slack message: missing ts or channel")
	}

	threadID := message.ThreadTimeStamp
	if threadID == message.TimeStamp {
		threadID = ""
	}

	event := &rollcall.Event{
		ID:         message.Channel + ":" + message.TimeStamp,
		Kind:       rollcall.EventKindArticleCreated,
		OccurredAt: d.occurredAt(message.TimeStamp),
		Source:     d.source,
		Conversation: rollcall.Conversation{
			ID:   message.Channel,
			Type: conversationType(message.ChannelType),
		},
		Actor: rollcall.Actor{
			ID:       message.User,
			Username: message.Username,
			IsBot: message.SubType == "bot_message" ||
				message.BotID != "" ||
				(d.botUserID != "" && message.User == d.botUserID),
		},
		Article: &rollcall.Article{
			ID:       message.TimeStamp,
			ThreadID: threadID,
			Text:     message.Text,
		},
	}
	if teamID != "" {
		event.Metadata = map[string]string{MetadataTeamID: teamID}
	}

	return event, nil
}

// decodeSlashCommand converts a slash command into an article whose text
// starts with the command, so the kernel derives the command event from it.
func (d decoder) decodeSlashCommand(command slackapi.SlashCommand) (*rollcall.Event, error) {
	if command.TriggerID == "" {
		return nil, fmt.Errorf("decode slack slash command %s: missing trigger_id", command.Command)
	}
	if command.ChannelID == "" {
		return nil, fmt.Errorf("decode slack slash command %s: missing channel_id", command.Command)
	}

	name := command.Command
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	text := name
	if args := strings.TrimSpace(command.Text); args != "" {
		text += " " + args
	}

	metadata := map[string]string{MetadataSlashCommand: "true"}
	if command.TeamID != "" {
		metadata[MetadataTeamID] = command.TeamID
	}

	return &rollcall.Event{
		ID:         command.TriggerID,
		Kind:       rollcall.EventKindArticleCreated,
		OccurredAt: d.now().UTC(),
		Source:     d.source,
		Conversation: rollcall.Conversation{
			ID:    command.ChannelID,
			Type:  conversationTypeFromChannelID(command.ChannelID),
			Title: command.ChannelName,
		},
		Actor: rollcall.Actor{
			ID:       command.UserID,
			Username: command.UserName,
		},
		Article: &rollcall.Article{
			ID:   command.TriggerID,
			Text: text,
		},
		Metadata: metadata,
	}, nil
}

// occurredAt reads the Slack "seconds.micros" timestamp, falling back to now.
func (d decoder) occurredAt(ts string) time.Time {
	seconds, fraction, _ := strings.Cut(ts, ".")
	unix, err := strconv.ParseInt(seconds, 10, 64)
	if err != nil || unix <= 0 {
		return d.now().UTC()
	}
	micros, _ := strconv.ParseInt(fraction, 10, 64)

	return time.Unix(unix, micros*int64(time.Microsecond)).UTC()
}

func conversationType(channelType string) rollcall.ConversationType {
	switch channelType {
	case "im":
		return rollcall.ConversationTypePrivate
	case "mpim", "group":
		return rollcall.ConversationTypeGroup
	default:
		return rollcall.ConversationTypeChannel
	}
}

func conversationTypeFromChannelID(channelID string) rollcall.ConversationType {
	switch {
	case strings.HasPrefix(channelID, "D"):
		return rollcall.ConversationTypePrivate
	case strings.HasPrefix(channelID, "G"):
		return rollcall.ConversationTypeGroup
	default:
		return rollcall.ConversationTypeChannel
	}
}

// isMessageTimestamp reports whether id has the shape of a Slack message ts.
func isMessageTimestamp(id string) bool {
	seconds, fraction, found := strings.Cut(id, ".")
	if !found || seconds == "" || fraction == "" {
		return false
	}
	for _, part := range []string{seconds, fraction} {
		if _, err := strconv.ParseUint(part, 10, 64); err != nil {
			return false
		}
	}

	return true
}
