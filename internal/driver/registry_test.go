package driver

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"rollcall/pkg/rollcall"
)

func TestNewRegistryValidatesDescriptors(t *testing.T) {
	t.Parallel()

	builder := func(context.Context, Definition, *slog.Logger) (Runtime, error) { return Runtime{}, nil }
	tests := []struct {
		name        string
		descriptors []Descriptor
		wantErrSub  string
	}{
		{name: "missing type", descriptors: []Descriptor{{Platform: rollcall.PlatformSlack, Builder: builder}}, wantErrSub: "has no type"},
		{name: "missing platform", descriptors: []Descriptor{{Type: "slack", Builder: builder}}, wantErrSub: "has no platform"},
		{name: "missing builder", descriptors: []Descriptor{{Type: "slack", Platform: rollcall.PlatformSlack}}, wantErrSub: "has no builder"},
		{
			name: "duplicate type",
			descriptors: []Descriptor{
				{Type: "slack", Platform: rollcall.PlatformSlack, Builder: builder},
				{Type: "slack", Platform: rollcall.PlatformSlack, Builder: builder},
			},
			wantErrSub: "registered twice",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewRegistry(testCase.descriptors)
			if err == nil || !strings.Contains(err.Error(), testCase.wantErrSub) {
				t.Fatalf("NewRegistry() error = %v, want substring %q", err, testCase.wantErrSub)
			}
		})
	}
}

func TestRegistryBuildEnabled(t *testing.T) {
	t.Parallel()

	buildFailure := errors.New("bad token")
	registry, err := NewRegistry([]Descriptor{
		{
			Type:     "slack",
			Platform: rollcall.PlatformSlack,
			Builder: func(_ context.Context, definition Definition, _ *slog.Logger) (Runtime, error) {
				if definition.Name == "broken" {
					return Runtime{}, buildFailure
				}
				return Runtime{Driver: stubDriver{name: definition.Name}}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	tests := []struct {
		name        string
		definitions []Definition
		wantSources []rollcall.EventSource
		wantErr     error
		wantErrSub  string
	}{
		{
			name: "disabled definitions are skipped",
			definitions: []Definition{
				{Name: "slack-main", Type: "slack", Enabled: true},
				{Name: "slack-off", Type: "slack"},
			},
			wantSources: []rollcall.EventSource{{Platform: rollcall.PlatformSlack, ID: "slack-main"}},
		},
		{
			name:        "builder failure is wrapped",
			definitions: []Definition{{Name: "broken", Type: "slack", Enabled: true}},
			wantErr:     buildFailure,
		},
		{
			name:        "unknown type",
			definitions: []Definition{{Name: "irc", Type: "irc", Enabled: true}},
			wantErrSub:  "unsupported type",
		},
		{
			name: "duplicate name",
			definitions: []Definition{
				{Name: "slack-main", Type: "slack", Enabled: true},
				{Name: "slack-main", Type: "slack", Enabled: true},
			},
			wantErrSub: "name used twice",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			runtimes, err := registry.BuildEnabled(context.Background(), testCase.definitions, nil)
			if testCase.wantErr != nil && !errors.Is(err, testCase.wantErr) {
				t.Fatalf("BuildEnabled() error = %v, want %v", err, testCase.wantErr)
			}
			if testCase.wantErrSub != "" && (err == nil || !strings.Contains(err.Error(), testCase.wantErrSub)) {
				t.Fatalf("BuildEnabled() error = %v, want substring %q", err, testCase.wantErrSub)
			}
			if testCase.wantErr != nil || testCase.wantErrSub != "" {
				return
			}
			if err != nil {
				t.Fatalf("BuildEnabled() error = %v", err)
			}
			if len(runtimes) != len(testCase.wantSources) {
				t.Fatalf("built %d runtimes, want %d", len(runtimes), len(testCase.wantSources))
			}
			for index, runtime := range runtimes {
				if runtime.Source != testCase.wantSources[index] {
					t.Fatalf("runtime[%d].Source = %+v, want %+v", index, runtime.Source, testCase.wantSources[index])
				}
			}
		})
	}
}

type stubDriver struct {
	name string
}

func (d stubDriver) Name() string { return d.name }

func (d stubDriver) Start(ctx context.Context, _ rollcall.EventDispatcher) error {
	<-ctx.Done()
	return nil
}

func (d stubDriver) Shutdown(context.Context) error { return nil }
