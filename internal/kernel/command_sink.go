package kernel

import (
	"context"
	"fmt"
	"strings"

	"rollcall/pkg/rollcall"
)

const derivedCommandSuffix = "#command"

type commandRegistration struct {
	moduleName string
	spec       rollcall.CommandSpec
}

// registerModuleCommands validates module-owned commands and registers them
// all or none.
func (k *Kernel) registerModuleCommands(moduleName string, commands []rollcall.CommandSpec) error {
	if len(commands) == 0 {
		return nil
	}

	normalized := make(map[string]rollcall.CommandSpec, len(commands))
	for index, command := range commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("register command[%d] for module %s: %w", index, moduleName, err)
		}
		command.Name = normalizeCommandName(command.Name)
		key := commandRegistryKey(command.Prefix, command.Name)
		if _, exists := normalized[key]; exists {
			return fmt.Errorf("register command %s%s for module %s: duplicate declaration", command.Prefix, command.Name, moduleName)
		}
		normalized[key] = command
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for key, command := range normalized {
		if existing, exists := k.commands[key]; exists {
			return fmt.Errorf(
				"register command %s%s for module %s: already registered by module %s",
				command.Prefix,
				command.Name,
				moduleName,
				existing.moduleName,
			)
		}
	}
	for key, command := range normalized {
		k.commands[key] = commandRegistration{moduleName: moduleName, spec: command}
	}

	return nil
}

// unregisterModuleCommands removes every command owned by one module.
func (k *Kernel) unregisterModuleCommands(moduleName string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for key, registration := range k.commands {
		if registration.moduleName == moduleName {
			delete(k.commands, key)
		}
	}
}

// lookupCommand resolves one command spec by prefix and normalized name.
func (k *Kernel) lookupCommand(prefix rollcall.CommandPrefix, name string) (rollcall.CommandSpec, bool) {
	k.mu.RLock()
	registration, exists := k.commands[commandRegistryKey(prefix, name)]
	k.mu.RUnlock()

	return registration.spec, exists
}

// newDriverDispatcher returns the dispatcher handed to drivers: it publishes
// source events and derives command events from them.
func (k *Kernel) newDriverDispatcher() rollcall.EventDispatcher {
	return &commandDerivingDispatcher{
		base:          k.bus,
		lookupCommand: k.lookupCommand,
		serviceLookup: k.services,
		reportAsync:   k.cfg.onAsyncError,
	}
}

// commandDerivingDispatcher publishes source events and derives command events.
type commandDerivingDispatcher struct {
	base          rollcall.EventDispatcher
	lookupCommand func(prefix rollcall.CommandPrefix, name string) (rollcall.CommandSpec, bool)
	serviceLookup rollcall.ServiceRegistry
	reportAsync   func(context.Context, string, error)
}

// Publish forwards one source event and, when its text invokes a registered
// command, publishes the derived command.received event after it.
func (d *commandDerivingDispatcher) Publish(ctx context.Context, event *rollcall.Event) error {
	if event == nil {
		return fmt.Errorf("publish command deriving dispatcher: nil event")
	}
	if d.base == nil {
		return fmt.Errorf("publish command deriving dispatcher: nil base dispatcher")
	}

	if err := d.base.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish source event %s: %w", event.Kind, err)
	}

	if event.Kind != rollcall.EventKindArticleCreated || event.Article == nil {
		return nil
	}
	candidate, matched, parseErr := rollcall.ParseCommandCandidate(event.Article.Text)
	if !matched || parseErr != nil {
		return nil
	}
	spec, registered := d.lookupCommand(candidate.Prefix, candidate.Name)
	if !registered {
		return nil
	}

	invocation, bindErr := rollcall.BindCommand(candidate, spec, event)
	if bindErr != nil {
		d.replyCommandError(ctx, event, spec, bindErr)
		return nil
	}

	commandEvent := derivedCommandEvent(event, invocation)
	if err := d.base.Publish(ctx, commandEvent); err != nil {
		return fmt.Errorf("publish derived command %s: %w", invocation.Name, err)
	}

	return nil
}

// replyCommandError answers a command that could not be bound with its usage.
func (d *commandDerivingDispatcher) replyCommandError(
	ctx context.Context,
	sourceEvent *rollcall.Event,
	spec rollcall.CommandSpec,
	bindErr error,
) {
	if d.serviceLookup == nil {
		d.reportAsyncError(ctx, "command error reply resolve dispatcher", fmt.Errorf("service lookup unavailable"))
		return
	}
	dispatcher, err := rollcall.ResolveAs[rollcall.SinkDispatcher](d.serviceLookup, rollcall.ServiceSinkDispatcher)
	if err != nil {
		d.reportAsyncError(ctx, "command error reply resolve dispatcher", err)
		return
	}

	target, err := rollcall.OutboundTargetFromEvent(sourceEvent)
	if err != nil {
		d.reportAsyncError(ctx, "command error reply derive target", err)
		return
	}

	_, err = dispatcher.SendMessage(ctx, rollcall.SendMessageRequest{
		Target:           target,
		Text:             fmt.Sprintf("%s\nusage: %s", bindErr.Error(), spec.Synopsis()),
		ReplyToMessageID: sourceEvent.Article.ID,
		CommandEventID:   sourceEvent.ID,
	})
	if err != nil {
		d.reportAsyncError(ctx, "command error reply send", err)
	}
}

func (d *commandDerivingDispatcher) reportAsyncError(ctx context.Context, scope string, err error) {
	if d.reportAsync != nil {
		d.reportAsync(ctx, scope, err)
	}
}

func derivedCommandEvent(sourceEvent *rollcall.Event, invocation rollcall.CommandInvocation) *rollcall.Event {
	article := *sourceEvent.Article
	invocation.Args = append([]string(nil), invocation.Args...)

	return &rollcall.Event{
		ID:           sourceEvent.ID + derivedCommandSuffix,
		Kind:         rollcall.EventKindCommandReceived,
		OccurredAt:   sourceEvent.OccurredAt,
		Source:       sourceEvent.Source,
		Conversation: sourceEvent.Conversation,
		Actor:        sourceEvent.Actor,
		Article:      &article,
		Command:      &invocation,
		Metadata:     cloneStringMap(sourceEvent.Metadata),
	}
}

func commandRegistryKey(prefix rollcall.CommandPrefix, name string) string {
	return fmt.Sprintf("%s:%s", prefix, normalizeCommandName(name))
}

func normalizeCommandName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func cloneStringMap(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}

	cloned := make(map[string]string, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}

	return cloned
}
