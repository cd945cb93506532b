package help

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"rollcall/pkg/rollcall"
)

const helpCommandName = "help"

// Module replies with command reference text when it receives a /help command.
type Module struct {
	dispatcher     rollcall.SinkDispatcher
	commandCatalog rollcall.CommandCatalog
}

// New creates a help module with default configuration.
func New() *Module {
	return &Module{}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "help"
}

// Spec declares interest in help command events.
func (m *Module) Spec() rollcall.ModuleSpec {
	return rollcall.ModuleSpec{
		Handlers: []rollcall.ModuleHandler{
			{
				Capability: rollcall.Capability{
					Name:        "help-command-handler",
					Description: "renders registered command help for /help",
					Interest: rollcall.InterestSet{
						Kinds:          []rollcall.EventKind{rollcall.EventKindCommandReceived},
						RequireCommand: true,
						CommandNames:   []string{helpCommandName},
					},
					RequiredServices: []string{
						rollcall.ServiceSinkDispatcher,
						rollcall.ServiceCommandCatalog,
					},
				},
				Subscription: rollcall.NewDefaultSubscriptionSpec("help-commands"),
				Handler:      m.handleCommand,
			},
		},
		Commands: []rollcall.CommandSpec{
			{
				Prefix:      rollcall.CommandPrefixOrdinary,
				Name:        helpCommandName,
				Description: "show all available commands",
			},
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime rollcall.ModuleRuntime) error {
	dispatcher, err := rollcall.ResolveAs[rollcall.SinkDispatcher](
		runtime.Services(),
		rollcall.ServiceSinkDispatcher,
	)
	if err != nil {
		return fmt.Errorf("help resolve sink dispatcher: %w", err)
	}
	commandCatalog, err := rollcall.ResolveAs[rollcall.CommandCatalog](
		runtime.Services(),
		rollcall.ServiceCommandCatalog,
	)
	if err != nil {
		return fmt.Errorf("help resolve command catalog: %w", err)
	}

	m.dispatcher = dispatcher
	m.commandCatalog = commandCatalog

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleCommand(ctx context.Context, event *rollcall.Event) error {
	if event == nil || event.Command == nil {
		return nil
	}
	if event.Kind != rollcall.EventKindCommandReceived {
		return nil
	}
	if event.Command.Name != helpCommandName {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("help handle command: sink dispatcher not configured")
	}
	if m.commandCatalog == nil {
		return fmt.Errorf("help handle command: command catalog not configured")
	}

	target, err := rollcall.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("help derive outbound target: %w", err)
	}
	commandEventID := event.Command.SourceEventID
	if err := m.dispatcher.AcknowledgeCommand(ctx, rollcall.AcknowledgeCommandRequest{
		Target:         target,
		CommandEventID: commandEventID,
	}); err != nil {
		return fmt.Errorf("help acknowledge command: %w", err)
	}

	commands, err := m.commandCatalog.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("help list commands: %w", err)
	}

	replyTo := ""
	if event.Article != nil {
		replyTo = event.Article.ID
	}
	_, err = m.dispatcher.SendMessage(ctx, rollcall.SendMessageRequest{
		Target:           target,
		Text:             renderHelp(commands),
		ReplyToMessageID: replyTo,
		CommandEventID:   commandEventID,
	})
	if err != nil {
		return fmt.Errorf("help send help message: %w", err)
	}

	return nil
}

// renderHelp lists commands by synopsis, one block per command.
func renderHelp(commands []rollcall.RegisteredCommand) string {
	if len(commands) == 0 {
		return "Available commands:\n(none)"
	}

	sorted := append([]rollcall.RegisteredCommand(nil), commands...)
	sort.Slice(sorted, func(i, j int) bool {
		left := commandLabel(sorted[i].Command)
		right := commandLabel(sorted[j].Command)
		if left == right {
			return sorted[i].ModuleName < sorted[j].ModuleName
		}
		return left < right
	})

	lines := make([]string, 0, len(sorted)*3+1)
	lines = append(lines, "Available commands:\n")
	for index, command := range sorted {
		if index > 0 {
			lines = append(lines, "")
		}
		moduleName := strings.TrimSpace(command.ModuleName)
		if moduleName == "" {
			moduleName = "unknown"
		}

		lines = append(lines, fmt.Sprintf("`%s`", command.Command.Synopsis()))
		if description := strings.TrimSpace(command.Command.Description); description != "" {
			lines = append(lines, description)
		}
		lines = append(lines, fmt.Sprintf("(%s)", moduleName))
	}

	return strings.Join(lines, "\n")
}

func commandLabel(command rollcall.CommandSpec) string {
	return string(command.Prefix) + strings.ToLower(strings.TrimSpace(command.Name))
}

var (
	_ rollcall.Module          = (*Module)(nil)
	_ rollcall.ModuleRegistrar = (*Module)(nil)
)
