package groups

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"rollcall/pkg/directory"
	"rollcall/pkg/rollcall"
)

func newTestModule(t *testing.T, dir Directory, options ...Option) (*Module, *captureDispatcher) {
	t.Helper()

	dispatcher := &captureDispatcher{}
	options = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, options...)
	module := New(dir, options...)
	err := module.OnRegister(context.Background(), moduleRuntimeStub{
		registry: serviceRegistryStub{values: map[string]any{
			rollcall.ServiceSinkDispatcher: dispatcher,
		}},
	})
	if err != nil {
		t.Fatalf("OnRegister failed: %v", err)
	}

	return module, dispatcher
}

func newFileDirectory(t *testing.T, groups map[string][]string) (*directory.Service, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "groups.json")
	store := directory.NewFileStore(path)
	if groups != nil {
		if err := store.Save(context.Background(), directory.New(groups)); err != nil {
			t.Fatalf("seed directory: %v", err)
		}
	}

	return directory.NewService(store), path
}

func newArticleEvent(text string) *rollcall.Event {
	return &rollcall.Event{
		ID:         "slack:slack-main:C1:1712.0001",
		Kind:       rollcall.EventKindArticleCreated,
		OccurredAt: time.Unix(1, 0).UTC(),
		Source: rollcall.EventSource{
			Platform: rollcall.PlatformSlack,
			ID:       "slack-main",
		},
		Conversation: rollcall.Conversation{
			ID:   "C1",
			Type: rollcall.ConversationTypeChannel,
		},
		Actor: rollcall.Actor{ID: "U9"},
		Article: &rollcall.Article{
			ID:   "1712.0001",
			Text: text,
		},
	}
}

func newCommandEvent(text string) *rollcall.Event {
	candidate, matched, err := rollcall.ParseCommandCandidate(text)
	if err != nil {
		panic(err)
	}
	if !matched {
		panic("newCommandEvent expects command text")
	}

	source := newArticleEvent(text)
	invocation, err := rollcall.BindCommand(candidate, rollcall.CommandSpec{
		Prefix: rollcall.CommandPrefixOrdinary,
		Name:   candidate.Name,
	}, source)
	if err != nil {
		panic(err)
	}

	event := *source
	event.ID = source.ID + "#command"
	event.Kind = rollcall.EventKindCommandReceived
	event.Command = &invocation

	return &event
}

type captureDispatcher struct {
	mu       sync.Mutex
	sent     []rollcall.SendMessageRequest
	acks     []rollcall.AcknowledgeCommandRequest
	sendErr  error
	ackErr   error
	sequence []string
}

func (d *captureDispatcher) SendMessage(
	_ context.Context,
	request rollcall.SendMessageRequest,
) (*rollcall.OutboundMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, request)
	d.sequence = append(d.sequence, "send")
	if d.sendErr != nil {
		return nil, d.sendErr
	}

	return &rollcall.OutboundMessage{ID: fmt.Sprintf("m%d", len(d.sent)), Target: request.Target}, nil
}

func (d *captureDispatcher) AcknowledgeCommand(_ context.Context, request rollcall.AcknowledgeCommandRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acks = append(d.acks, request)
	d.sequence = append(d.sequence, "ack")

	return d.ackErr
}

func (d *captureDispatcher) ListSinks(context.Context) ([]rollcall.EventSink, error) {
	return nil, nil
}

func (d *captureDispatcher) ListSinksByPlatform(context.Context, rollcall.Platform) ([]rollcall.EventSink, error) {
	return nil, nil
}

func (d *captureDispatcher) texts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	texts := make([]string, 0, len(d.sent))
	for _, request := range d.sent {
		texts = append(texts, request.Text)
	}

	return texts
}

type moduleRuntimeStub struct {
	registry rollcall.ServiceRegistry
}

func (s moduleRuntimeStub) Services() rollcall.ServiceRegistry {
	return s.registry
}

func (moduleRuntimeStub) Subscribe(
	context.Context,
	rollcall.InterestSet,
	rollcall.SubscriptionSpec,
	rollcall.EventHandler,
) (rollcall.Subscription, error) {
	return nil, nil
}

type serviceRegistryStub struct {
	values map[string]any
}

func (s serviceRegistryStub) Register(string, any) error {
	return nil
}

func (s serviceRegistryStub) Resolve(name string) (any, error) {
	value, ok := s.values[name]
	if !ok {
		return nil, rollcall.ErrServiceNotFound
	}

	return value, nil
}

// failingDirectory returns fixed errors from every operation.
type failingDirectory struct {
	snapshotErr error
	updateErr   error
	updates     int
}

func (d *failingDirectory) Snapshot(context.Context) (directory.Directory, error) {
	return directory.Directory{}, d.snapshotErr
}

func (d *failingDirectory) Update(_ context.Context, mutate func(*directory.Directory) error) error {
	d.updates++
	if d.updateErr != nil {
		return d.updateErr
	}
	var scratch directory.Directory

	return mutate(&scratch)
}

type countingRecorder struct {
	mu       sync.Mutex
	commands map[string]int
	replies  int
}

func (r *countingRecorder) CommandHandled(command string, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commands == nil {
		r.commands = make(map[string]int)
	}
	r.commands[command+"/"+outcome]++
}

func (r *countingRecorder) MentionReplied(groups int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies += groups
}
