package groups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"rollcall/pkg/directory"
	"rollcall/pkg/rollcall"
)

const (
	commandCreate = "group-create"
	commandList   = "group-list"
	commandShow   = "group-show"
	commandDelete = "group-delete"
)

// Directory is the group directory owner used by the module.
type Directory interface {
	// Snapshot returns a consistent copy of the directory.
	Snapshot(ctx context.Context) (directory.Directory, error)
	// Update runs one serialized load, mutate, and save cycle.
	Update(ctx context.Context, mutate func(*directory.Directory) error) error
}

// Recorder receives module outcomes for metrics.
type Recorder interface {
	// CommandHandled counts one command by name and outcome.
	CommandHandled(command string, outcome string)
	// MentionReplied counts one article that produced replies and the number of groups expanded.
	MentionReplied(groups int)
}

// Option mutates groups module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing service lookup.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// WithRecorder injects a metrics recorder.
func WithRecorder(recorder Recorder) Option {
	return func(module *Module) {
		if recorder != nil {
			module.recorder = recorder
		}
	}
}

// WithUserDirectory injects the user directory, bypassing service lookup.
func WithUserDirectory(users rollcall.UserDirectory) Option {
	return func(module *Module) {
		if users != nil {
			module.users = users
		}
	}
}

// Module resolves @group mentions and manages groups through slash commands.
type Module struct {
	directory  Directory
	logger     *slog.Logger
	recorder   Recorder
	users      rollcall.UserDirectory
	dispatcher rollcall.SinkDispatcher
	catalog    rollcall.CommandCatalog
}

// New creates a groups module backed by dir.
func New(dir Directory, options ...Option) *Module {
	module := &Module{
		directory: dir,
		recorder:  nopRecorder{},
	}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "groups"
}

// Spec declares the mention resolver and the four directory commands.
func (m *Module) Spec() rollcall.ModuleSpec {
	return rollcall.ModuleSpec{
		Handlers: []rollcall.ModuleHandler{
			{
				Capability: rollcall.Capability{
					Name:        "group-mention-resolver",
					Description: "replies with member mentions for every known @group in a message",
					Interest: rollcall.InterestSet{
						Kinds:          []rollcall.EventKind{rollcall.EventKindArticleCreated},
						RequireArticle: true,
					},
					RequiredServices: []string{rollcall.ServiceSinkDispatcher},
				},
				Subscription: rollcall.NewDefaultSubscriptionSpec("groups-mentions"),
				Handler:      m.handleArticle,
			},
			{
				Capability: rollcall.Capability{
					Name:        "group-directory-commands",
					Description: "creates, lists, shows, and deletes groups",
					Interest: rollcall.InterestSet{
						Kinds:          []rollcall.EventKind{rollcall.EventKindCommandReceived},
						RequireCommand: true,
						CommandNames:   []string{commandCreate, commandList, commandShow, commandDelete},
					},
					RequiredServices: []string{rollcall.ServiceSinkDispatcher},
				},
				Subscription: rollcall.NewDefaultSubscriptionSpec("groups-commands"),
				Handler:      m.handleCommand,
			},
		},
		Commands: []rollcall.CommandSpec{
			{
				Prefix:      rollcall.CommandPrefixOrdinary,
				Name:        commandCreate,
				Description: "create a group or replace its members",
				Usage:       "groupname @user1 @user2 ...",
			},
			{
				Prefix:      rollcall.CommandPrefixOrdinary,
				Name:        commandList,
				Description: "list all groups with their member counts",
			},
			{
				Prefix:      rollcall.CommandPrefixOrdinary,
				Name:        commandShow,
				Description: "show the members of a group",
				Usage:       "groupname",
			},
			{
				Prefix:      rollcall.CommandPrefixOrdinary,
				Name:        commandDelete,
				Description: "delete a group",
				Usage:       "groupname",
			},
		},
	}
}

// OnRegister resolves the dispatcher and the optional logger, catalog, and user directory.
func (m *Module) OnRegister(_ context.Context, runtime rollcall.ModuleRuntime) error {
	if m.directory == nil {
		return fmt.Errorf("groups: nil directory")
	}

	dispatcher, err := rollcall.ResolveAs[rollcall.SinkDispatcher](
		runtime.Services(),
		rollcall.ServiceSinkDispatcher,
	)
	if err != nil {
		return fmt.Errorf("groups resolve sink dispatcher: %w", err)
	}
	m.dispatcher = dispatcher

	if m.logger == nil {
		logger, err := rollcall.ResolveAs[*slog.Logger](runtime.Services(), rollcall.ServiceLogger)
		switch {
		case err == nil:
			m.logger = logger
		case errors.Is(err, rollcall.ErrServiceNotFound):
			m.logger = slog.Default()
		default:
			return fmt.Errorf("groups resolve logger: %w", err)
		}
	}

	if m.users == nil {
		users, err := rollcall.ResolveAs[rollcall.UserDirectory](runtime.Services(), rollcall.ServiceUserDirectory)
		switch {
		case err == nil:
			m.users = users
		case errors.Is(err, rollcall.ErrServiceNotFound):
			m.users = rollcall.PassthroughUserDirectory
		default:
			return fmt.Errorf("groups resolve user directory: %w", err)
		}
	}

	catalog, err := rollcall.ResolveAs[rollcall.CommandCatalog](runtime.Services(), rollcall.ServiceCommandCatalog)
	switch {
	case err == nil:
		m.catalog = catalog
	case errors.Is(err, rollcall.ErrServiceNotFound):
	default:
		return fmt.Errorf("groups resolve command catalog: %w", err)
	}

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

type nopRecorder struct{}

func (nopRecorder) CommandHandled(string, string) {}
func (nopRecorder) MentionReplied(int)            {}
