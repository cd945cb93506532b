package kernel

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"rollcall/pkg/rollcall"
)

func TestRegisterModuleRequiresDeclaredServices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		register bool
		wantErr  bool
	}{
		{name: "missing service rejects module", register: false, wantErr: true},
		{name: "registered service accepts module", register: true, wantErr: false},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := newTestKernel(t)
			if testCase.register {
				if err := kernelRuntime.RegisterService(rollcall.ServiceSinkDispatcher, &recordingSinkDispatcher{}); err != nil {
					t.Fatalf("register service: %v", err)
				}
			}

			module := &stubModule{
				name: "needs-dispatcher",
				spec: rollcall.ModuleSpec{
					AdditionalCapabilities: []rollcall.Capability{
						{Name: "reply", RequiredServices: []string{rollcall.ServiceSinkDispatcher}},
					},
				},
			}
			err := kernelRuntime.RegisterModule(context.Background(), module)
			if (err != nil) != testCase.wantErr {
				t.Fatalf("RegisterModule() error = %v, wantErr %v", err, testCase.wantErr)
			}
		})
	}
}

func TestKernelRunDrivesLifecycle(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	module := &stubModule{name: "lifecycle"}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("RegisterModule() error = %v", err)
	}
	driver := &stubDriver{name: "driver-a"}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("RegisterDriver() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(ctx)
	}()

	waitUntil(t, func() bool { return driver.started.Load() > 0 })
	cancel()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	for label, counter := range map[string]*atomic.Int32{
		"OnRegister":      &module.registered,
		"OnStart":         &module.started,
		"OnShutdown":      &module.shutdown,
		"driver Shutdown": &driver.stopped,
	} {
		if counter.Load() != 1 {
			t.Fatalf("%s calls = %d, want 1", label, counter.Load())
		}
	}
}

func TestKernelRunReturnsFatalDriverError(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	failure := errors.New("socket closed")
	driver := &stubDriver{name: "broken", startErr: failure}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("RegisterDriver() error = %v", err)
	}

	err := kernelRuntime.Run(context.Background())
	if !errors.Is(err, failure) {
		t.Fatalf("Run() error = %v, want %v", err, failure)
	}
	if driver.stopped.Load() != 1 {
		t.Fatalf("driver Shutdown calls = %d, want 1", driver.stopped.Load())
	}
}

func TestKernelRunRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	driver := &stubDriver{name: "blocking"}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("RegisterDriver() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(ctx)
	}()
	waitUntil(t, func() bool { return driver.started.Load() > 0 })

	if err := kernelRuntime.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("second Run() error = %v, want already running", err)
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRegisterModuleSubscribesDeclaredHandlers(t *testing.T) {
	t.Parallel()

	kernelRuntime := newTestKernel(t)
	handled := make(chan string, 1)
	module := &stubModule{
		name: "declarative",
		spec: rollcall.ModuleSpec{
			Handlers: []rollcall.ModuleHandler{
				{
					Capability: rollcall.Capability{
						Name:     "articles",
						Interest: rollcall.InterestSet{Kinds: []rollcall.EventKind{rollcall.EventKindArticleCreated}},
					},
					Subscription: rollcall.SubscriptionSpec{Name: "declarative-articles", Buffer: 1, Workers: 1},
					Handler: func(_ context.Context, event *rollcall.Event) error {
						handled <- event.ID
						return nil
					},
				},
			},
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("RegisterModule() error = %v", err)
	}

	if err := kernelRuntime.EventBus().Publish(context.Background(), newArticleEvent("e1", "hello")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case id := <-handled:
		if id != "e1" {
			t.Fatalf("handled event = %q, want e1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("declared handler was not invoked")
	}
}

func TestRegisterModuleAppliesRouteSources(t *testing.T) {
	t.Parallel()

	kernelRuntime := newTestKernel(t, WithModuleRouting(nil, map[string]ModuleRoute{
		"routed": {Sources: []rollcall.EventSource{{Platform: rollcall.PlatformSlack, ID: "slack-main"}}},
	}))
	handled := make(chan string, 2)
	module := &stubModule{
		name: "routed",
		spec: rollcall.ModuleSpec{
			Handlers: []rollcall.ModuleHandler{
				{
					Capability: rollcall.Capability{
						Name:     "articles",
						Interest: rollcall.InterestSet{Kinds: []rollcall.EventKind{rollcall.EventKindArticleCreated}},
					},
					Subscription: rollcall.SubscriptionSpec{Name: "routed-articles", Workers: 1},
					Handler: func(_ context.Context, event *rollcall.Event) error {
						handled <- event.ID
						return nil
					},
				},
			},
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("RegisterModule() error = %v", err)
	}

	other := newArticleEvent("from-telegram", "hi")
	other.Source = rollcall.EventSource{Platform: rollcall.PlatformTelegram, ID: "tg"}
	if err := kernelRuntime.EventBus().Publish(context.Background(), other); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := kernelRuntime.EventBus().Publish(context.Background(), newArticleEvent("from-slack", "hi")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case id := <-handled:
		if id != "from-slack" {
			t.Fatalf("handled event = %q, want from-slack", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("routed handler was not invoked")
	}
}

func TestRegisterModuleImperativeSubscribeNeedsCapability(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		spec    rollcall.ModuleSpec
		wantErr error
	}{
		{
			name:    "undeclared interest is rejected",
			spec:    rollcall.ModuleSpec{},
			wantErr: rollcall.ErrCapabilityNotDeclared,
		},
		{
			name: "additional capability admits subscription",
			spec: rollcall.ModuleSpec{
				AdditionalCapabilities: []rollcall.Capability{
					{
						Name:     "imperative",
						Interest: rollcall.InterestSet{Kinds: []rollcall.EventKind{rollcall.EventKindArticleCreated}},
					},
				},
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := newTestKernel(t)
			module := &stubModule{
				name: "imperative",
				spec: testCase.spec,
				onRegister: func(ctx context.Context, runtime rollcall.ModuleRuntime) error {
					_, err := runtime.Subscribe(
						ctx,
						rollcall.InterestSet{Kinds: []rollcall.EventKind{rollcall.EventKindArticleCreated}},
						rollcall.NewDefaultSubscriptionSpec("imperative-articles"),
						func(context.Context, *rollcall.Event) error { return nil },
					)
					return err
				},
			}

			err := kernelRuntime.RegisterModule(context.Background(), module)
			if testCase.wantErr == nil && err != nil {
				t.Fatalf("RegisterModule() error = %v", err)
			}
			if testCase.wantErr != nil && !errors.Is(err, testCase.wantErr) {
				t.Fatalf("RegisterModule() error = %v, want %v", err, testCase.wantErr)
			}
		})
	}
}

func TestRegisterModuleRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *rollcall.Event) error { return nil }
	articles := rollcall.InterestSet{Kinds: []rollcall.EventKind{rollcall.EventKindArticleCreated}}

	tests := []struct {
		name       string
		spec       rollcall.ModuleSpec
		wantErrSub string
	}{
		{
			name: "handler without capability name",
			spec: rollcall.ModuleSpec{Handlers: []rollcall.ModuleHandler{
				{Capability: rollcall.Capability{Interest: articles}, Handler: noop},
			}},
			wantErrSub: "empty capability name",
		},
		{
			name: "duplicate capability",
			spec: rollcall.ModuleSpec{Handlers: []rollcall.ModuleHandler{
				{Capability: rollcall.Capability{Name: "dup", Interest: articles}, Handler: noop},
				{Capability: rollcall.Capability{Name: "dup", Interest: articles}, Handler: noop},
			}},
			wantErrSub: "duplicate capability name",
		},
		{
			name: "nil handler",
			spec: rollcall.ModuleSpec{Handlers: []rollcall.ModuleHandler{
				{Capability: rollcall.Capability{Name: "nil", Interest: articles}},
			}},
			wantErrSub: "nil handler",
		},
		{
			name: "duplicate subscription",
			spec: rollcall.ModuleSpec{Handlers: []rollcall.ModuleHandler{
				{Capability: rollcall.Capability{Name: "a", Interest: articles}, Subscription: rollcall.SubscriptionSpec{Name: "same"}, Handler: noop},
				{Capability: rollcall.Capability{Name: "b", Interest: articles}, Subscription: rollcall.SubscriptionSpec{Name: "same"}, Handler: noop},
			}},
			wantErrSub: "duplicate subscription name",
		},
		{
			name: "additional capability clashes with handler",
			spec: rollcall.ModuleSpec{
				Handlers:               []rollcall.ModuleHandler{{Capability: rollcall.Capability{Name: "cap", Interest: articles}, Handler: noop}},
				AdditionalCapabilities: []rollcall.Capability{{Name: "cap"}},
			},
			wantErrSub: "duplicate capability name",
		},
		{
			name:       "command without name",
			spec:       rollcall.ModuleSpec{Commands: []rollcall.CommandSpec{{Prefix: rollcall.CommandPrefixOrdinary}}},
			wantErrSub: "register command[0]",
		},
		{
			name: "command declared twice",
			spec: rollcall.ModuleSpec{Commands: []rollcall.CommandSpec{
				{Prefix: rollcall.CommandPrefixOrdinary, Name: "group-list"},
				{Prefix: rollcall.CommandPrefixOrdinary, Name: "Group-List"},
			}},
			wantErrSub: "duplicate declaration",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := newTestKernel(t)
			err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "invalid", spec: testCase.spec})
			if err == nil || !strings.Contains(err.Error(), testCase.wantErrSub) {
				t.Fatalf("RegisterModule() error = %v, want substring %q", err, testCase.wantErrSub)
			}
		})
	}
}

func TestRegisterModuleRollsBackOnHookFailure(t *testing.T) {
	t.Parallel()

	kernelRuntime := newTestKernel(t)
	failing := &stubModule{
		name: "groups",
		spec: rollcall.ModuleSpec{Commands: []rollcall.CommandSpec{
			{Prefix: rollcall.CommandPrefixOrdinary, Name: "group-list"},
		}},
		onRegister: func(context.Context, rollcall.ModuleRuntime) error {
			return errors.New("directory unavailable")
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), failing); err == nil {
		t.Fatal("RegisterModule() succeeded, want hook failure")
	}
	if _, found := kernelRuntime.lookupCommand(rollcall.CommandPrefixOrdinary, "group-list"); found {
		t.Fatal("command from failed module is still registered")
	}

	retry := &stubModule{
		name: "groups",
		spec: rollcall.ModuleSpec{Commands: []rollcall.CommandSpec{
			{Prefix: rollcall.CommandPrefixOrdinary, Name: "group-list"},
		}},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), retry); err != nil {
		t.Fatalf("RegisterModule() retry error = %v", err)
	}
}

func TestRegisterModuleRecoversHookPanic(t *testing.T) {
	t.Parallel()

	kernelRuntime := newTestKernel(t)
	module := &stubModule{
		name: "panicky",
		onRegister: func(context.Context, rollcall.ModuleRuntime) error {
			panic("boom")
		},
	}

	err := kernelRuntime.RegisterModule(context.Background(), module)
	if err == nil || !strings.Contains(err.Error(), "panic: boom") {
		t.Fatalf("RegisterModule() error = %v, want recovered panic", err)
	}
}

func TestCommandCatalogListsRegisteredCommands(t *testing.T) {
	t.Parallel()

	kernelRuntime := newTestKernel(t)
	catalog, err := rollcall.ResolveAs[rollcall.CommandCatalog](kernelRuntime.Services(), rollcall.ServiceCommandCatalog)
	if err != nil {
		t.Fatalf("resolve catalog: %v", err)
	}

	module := &stubModule{
		name: "groups",
		spec: rollcall.ModuleSpec{Commands: []rollcall.CommandSpec{
			{Prefix: rollcall.CommandPrefixOrdinary, Name: "group-show", Usage: "<group>"},
			{Prefix: rollcall.CommandPrefixOrdinary, Name: "Group-Create", Usage: "<group> <user>..."},
		}},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("RegisterModule() error = %v", err)
	}
	conflicting := &stubModule{
		name: "other",
		spec: rollcall.ModuleSpec{Commands: []rollcall.CommandSpec{
			{Prefix: rollcall.CommandPrefixOrdinary, Name: "group-show"},
		}},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), conflicting); err == nil ||
		!strings.Contains(err.Error(), "already registered by module groups") {
		t.Fatalf("RegisterModule() error = %v, want ownership conflict", err)
	}

	commands, err := catalog.ListCommands(context.Background())
	if err != nil {
		t.Fatalf("ListCommands() error = %v", err)
	}
	var synopses []string
	for _, command := range commands {
		if command.ModuleName != "groups" {
			t.Fatalf("command %s owned by %q, want groups", command.Command.Name, command.ModuleName)
		}
		synopses = append(synopses, command.Command.Synopsis())
	}
	want := "/group-create <group> <user>...|/group-show <group>"
	if got := strings.Join(synopses, "|"); got != want {
		t.Fatalf("synopses = %q, want %q", got, want)
	}
}

func newTestKernel(t *testing.T, options ...Option) *Kernel {
	t.Helper()

	kernelRuntime := New(options...)
	t.Cleanup(func() {
		if err := kernelRuntime.EventBus().Close(context.Background()); err != nil {
			t.Errorf("close bus: %v", err)
		}
	})

	return kernelRuntime
}

func newArticleEvent(id string, text string) *rollcall.Event {
	return &rollcall.Event{
		ID:           id,
		Kind:         rollcall.EventKindArticleCreated,
		OccurredAt:   time.Unix(1712000000, 0).UTC(),
		Source:       rollcall.EventSource{Platform: rollcall.PlatformSlack, ID: "slack-main"},
		Conversation: rollcall.Conversation{ID: "C1", Type: rollcall.ConversationTypeChannel},
		Actor:        rollcall.Actor{ID: "U9"},
		Article:      &rollcall.Article{ID: id, Text: text},
	}
}

func waitUntil(t *testing.T, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type stubModule struct {
	name       string
	spec       rollcall.ModuleSpec
	onRegister func(ctx context.Context, runtime rollcall.ModuleRuntime) error

	registered atomic.Int32
	started    atomic.Int32
	shutdown   atomic.Int32
}

func (m *stubModule) Name() string {
	return m.name
}

func (m *stubModule) Spec() rollcall.ModuleSpec {
	return m.spec
}

func (m *stubModule) OnRegister(ctx context.Context, runtime rollcall.ModuleRuntime) error {
	m.registered.Add(1)
	if m.onRegister != nil {
		return m.onRegister(ctx, runtime)
	}

	return nil
}

func (m *stubModule) OnStart(context.Context) error {
	m.started.Add(1)
	return nil
}

func (m *stubModule) OnShutdown(context.Context) error {
	m.shutdown.Add(1)
	return nil
}

type stubDriver struct {
	name     string
	startErr error

	started atomic.Int32
	stopped atomic.Int32
}

func (d *stubDriver) Name() string {
	return d.name
}

func (d *stubDriver) Start(ctx context.Context, _ rollcall.EventDispatcher) error {
	d.started.Add(1)
	if d.startErr != nil {
		return d.startErr
	}
	<-ctx.Done()

	return ctx.Err()
}

func (d *stubDriver) Shutdown(context.Context) error {
	d.stopped.Add(1)
	return nil
}
