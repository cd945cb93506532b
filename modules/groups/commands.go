package groups

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rollcall/pkg/directory"
	"rollcall/pkg/rollcall"
)

const (
	outcomeOK         = "ok"
	outcomeBadRequest = "bad_request"
	outcomeNotFound   = "not_found"
	outcomeStoreError = "store_error"
)

const (
	usageCreate = "Usage: /group-create groupname @user1 @user2 ..."
	usageShow   = "Usage: /group-show groupname"
	usageDelete = "Usage: /group-delete groupname"

	noMembersGivenText = "Please provide at least one valid user mention."
	noGroupsText       = "No groups have been created yet."
	unreadableText     = "The group directory could not be read; an operator has been notified."
)

// errGroupNotFound aborts a directory mutation that targets a missing group.
var errGroupNotFound = errors.New("group not found")

// commandResult is the outcome of one command: the reply to send, the metrics
// outcome label, and an operator-facing error when the store failed.
type commandResult struct {
	reply   string
	outcome string
	err     error
}

// handleCommand acknowledges a directory command, executes it, and responds.
func (m *Module) handleCommand(ctx context.Context, event *rollcall.Event) error {
	if event == nil || event.Command == nil || event.Kind != rollcall.EventKindCommandReceived {
		return nil
	}

	target, err := rollcall.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("groups derive command target: %w", err)
	}
	commandEventID := event.Command.SourceEventID

	// Acknowledge before touching the store so platform receipt deadlines hold.
	if err := m.dispatcher.AcknowledgeCommand(ctx, rollcall.AcknowledgeCommandRequest{
		Target:         target,
		CommandEventID: commandEventID,
	}); err != nil {
		m.logger.WarnContext(ctx, "groups acknowledge command failed",
			"command", event.Command.Name,
			"event_id", commandEventID,
			"error", err,
		)
	}

	var result commandResult
	switch event.Command.Name {
	case commandCreate:
		result = m.createGroup(ctx, event)
	case commandList:
		result = m.listGroups(ctx, event)
	case commandShow:
		result = m.showGroup(ctx, event)
	case commandDelete:
		result = m.deleteGroup(ctx, event)
	default:
		return nil
	}
	m.recorder.CommandHandled(event.Command.Name, result.outcome)

	if result.err != nil {
		m.logger.ErrorContext(ctx, "groups command failed",
			"command", event.Command.Name,
			"event_id", commandEventID,
			"actor_id", event.Actor.ID,
			"error", result.err,
		)
	}

	replyTo := ""
	if event.Article != nil {
		replyTo = event.Article.ID
	}
	_, sendErr := m.dispatcher.SendMessage(ctx, rollcall.SendMessageRequest{
		Target:           target,
		Text:             result.reply,
		ReplyToMessageID: replyTo,
		CommandEventID:   commandEventID,
	})
	if sendErr != nil {
		sendErr = fmt.Errorf("groups send %s response: %w", event.Command.Name, sendErr)
	}

	if result.err != nil {
		return errors.Join(fmt.Errorf("groups %s: %w", event.Command.Name, result.err), sendErr)
	}

	return sendErr
}

func (m *Module) createGroup(ctx context.Context, event *rollcall.Event) commandResult {
	args := event.Command.Args
	if len(args) < 2 {
		return commandResult{reply: usageCreate, outcome: outcomeBadRequest}
	}

	name := normalizeGroupArgument(args[0])
	if !ValidGroupName(name) {
		return commandResult{
			reply:   fmt.Sprintf("Invalid group name `%s`: use letters, digits, '-' and '_'.", args[0]),
			outcome: outcomeBadRequest,
		}
	}

	members := make([]string, 0, len(args)-1)
	for _, argument := range args[1:] {
		token, ok := firstMention(argument)
		if !ok {
			continue
		}

		memberID, err := m.users.ResolveUser(ctx, rollcall.UserLookup{
			Platform: event.Source.Platform,
			SinkID:   event.Source.ID,
			Token:    token,
		})
		if errors.Is(err, rollcall.ErrUserNotFound) {
			return commandResult{
				reply:   fmt.Sprintf("Unknown user `@%s`.", token),
				outcome: outcomeNotFound,
			}
		}
		if err != nil {
			return commandResult{
				reply:   fmt.Sprintf("Could not verify user `@%s`; please try again.", token),
				outcome: outcomeStoreError,
				err:     fmt.Errorf("resolve user %s: %w", token, err),
			}
		}
		members = append(members, memberID)
	}
	if len(members) == 0 {
		return commandResult{reply: noMembersGivenText, outcome: outcomeBadRequest}
	}

	err := m.directory.Update(ctx, func(groups *directory.Directory) error {
		groups.Put(name, members)
		return nil
	})
	if err != nil {
		return storeFailure(err, fmt.Sprintf("Failed to save changes to group `@%s`; no changes were made.", name))
	}

	m.logger.InfoContext(ctx, "group saved",
		"group", name,
		"members", len(members),
		"actor_id", event.Actor.ID,
	)

	return commandResult{
		reply:   fmt.Sprintf("Group `@%s` created/updated with %d members.", name, len(members)),
		outcome: outcomeOK,
	}
}

func (m *Module) listGroups(ctx context.Context, _ *rollcall.Event) commandResult {
	snapshot, err := m.directory.Snapshot(ctx)
	if err != nil {
		return storeFailure(err, unreadableText)
	}

	names := snapshot.Names()
	if len(names) == 0 {
		return commandResult{reply: noGroupsText, outcome: outcomeOK}
	}

	lines := make([]string, 0, len(names))
	for _, name := range names {
		members, _ := snapshot.Lookup(name)
		lines = append(lines, fmt.Sprintf("`@%s`: %d members", name, len(members)))
	}

	return commandResult{
		reply:   "Available groups:\n" + strings.Join(lines, "\n"),
		outcome: outcomeOK,
	}
}

func (m *Module) showGroup(ctx context.Context, event *rollcall.Event) commandResult {
	args := event.Command.Args
	if len(args) != 1 {
		return commandResult{reply: usageShow, outcome: outcomeBadRequest}
	}
	name := normalizeGroupArgument(args[0])

	snapshot, err := m.directory.Snapshot(ctx)
	if err != nil {
		return storeFailure(err, unreadableText)
	}

	members, exists := snapshot.Lookup(name)
	if !exists {
		return commandResult{reply: fmt.Sprintf("Group `@%s` does not exist.", name), outcome: outcomeNotFound}
	}
	if len(members) == 0 {
		return commandResult{reply: fmt.Sprintf("Group `@%s` has no members.", name), outcome: outcomeOK}
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "Members of group `@%s`:\n", name)
	for _, member := range members {
		builder.WriteString(rollcall.FormatUserMention(event.Source.Platform, member))
		builder.WriteByte('\n')
	}

	return commandResult{reply: builder.String(), outcome: outcomeOK}
}

func (m *Module) deleteGroup(ctx context.Context, event *rollcall.Event) commandResult {
	args := event.Command.Args
	if len(args) != 1 {
		return commandResult{reply: usageDelete, outcome: outcomeBadRequest}
	}
	name := normalizeGroupArgument(args[0])

	err := m.directory.Update(ctx, func(groups *directory.Directory) error {
		if !groups.Delete(name) {
			return errGroupNotFound
		}
		return nil
	})
	if errors.Is(err, errGroupNotFound) {
		return commandResult{reply: fmt.Sprintf("Group `@%s` does not exist.", name), outcome: outcomeNotFound}
	}
	if err != nil {
		return storeFailure(err, fmt.Sprintf("Failed to delete group `@%s`; no changes were made.", name))
	}

	m.logger.InfoContext(ctx, "group deleted", "group", name, "actor_id", event.Actor.ID)

	return commandResult{reply: fmt.Sprintf("Group `@%s` has been deleted.", name), outcome: outcomeOK}
}

// storeFailure maps a directory error to its user reply. Read-side failures
// share one message regardless of the operation.
func storeFailure(err error, writeReply string) commandResult {
	reply := writeReply
	if errors.Is(err, directory.ErrStoreCorrupt) || errors.Is(err, directory.ErrStoreReadFailed) {
		reply = unreadableText
	}

	return commandResult{reply: reply, outcome: outcomeStoreError, err: err}
}
