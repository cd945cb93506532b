package groups

import (
	"context"
	"errors"
	"fmt"

	"rollcall/pkg/rollcall"
)

const mentionsUnavailableText = "Group mentions are unavailable right now: the group directory could not be read."

// handleArticle expands every known, non-empty @group in a message into one
// threaded reply listing its members.
func (m *Module) handleArticle(ctx context.Context, event *rollcall.Event) error {
	if event == nil || event.Article == nil || event.Kind != rollcall.EventKindArticleCreated {
		return nil
	}
	// Automated senders are never answered; the bot would otherwise expand its own replies.
	if event.Actor.IsBot {
		return nil
	}
	if m.isRegisteredCommand(ctx, event.Article.Text) {
		return nil
	}

	tokens := ScanMentions(event.Article.Text)
	if len(tokens) == 0 {
		return nil
	}

	target, err := rollcall.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("groups derive mention target: %w", err)
	}

	snapshot, err := m.directory.Snapshot(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "group directory unavailable for mention resolution",
			"event_id", event.ID,
			"conversation_id", event.Conversation.ID,
			"error", err,
		)
		if _, sendErr := m.dispatcher.SendMessage(ctx, rollcall.SendMessageRequest{
			Target:           target,
			Text:             mentionsUnavailableText,
			ReplyToMessageID: event.Article.ID,
			ThreadID:         event.ReplyThreadID(),
		}); sendErr != nil {
			err = errors.Join(err, fmt.Errorf("send unavailable notice: %w", sendErr))
		}
		return fmt.Errorf("groups resolve mentions: %w", err)
	}

	var sendErrs []error
	replied := 0
	for _, token := range tokens {
		members, exists := snapshot.Lookup(token)
		if !exists || len(members) == 0 {
			continue
		}

		_, err := m.dispatcher.SendMessage(ctx, rollcall.SendMessageRequest{
			Target:           target,
			Text:             formatMembers(event.Source.Platform, members, " "),
			ReplyToMessageID: event.Article.ID,
			ThreadID:         event.ReplyThreadID(),
		})
		if err != nil {
			sendErrs = append(sendErrs, fmt.Errorf("group %s: %w", token, err))
			continue
		}
		replied++
	}
	if replied > 0 {
		m.recorder.MentionReplied(replied)
	}
	if len(sendErrs) > 0 {
		return fmt.Errorf("groups send mention replies: %w", errors.Join(sendErrs...))
	}

	return nil
}

// isRegisteredCommand reports whether text invokes a command known to the
// kernel. Those messages belong to the command pipeline.
func (m *Module) isRegisteredCommand(ctx context.Context, text string) bool {
	candidate, matched, err := rollcall.ParseCommandCandidate(text)
	if !matched || err != nil {
		return false
	}

	if m.catalog != nil {
		commands, err := m.catalog.ListCommands(ctx)
		if err == nil {
			for _, command := range commands {
				if command.Command.Prefix == candidate.Prefix && command.Command.Name == candidate.Name {
					return true
				}
			}
			return false
		}
	}

	switch candidate.Name {
	case commandCreate, commandList, commandShow, commandDelete:
		return true
	default:
		return false
	}
}
