package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"rollcall/pkg/rollcall"
)

// Definition is one configured driver instance.
type Definition struct {
	// Name is the instance identifier; it becomes the event source and sink ID.
	Name string
	// Type selects the builder, e.g. "slack" or "telegram".
	Type string
	// Enabled excludes the definition from BuildEnabled when false.
	Enabled bool
	// Config is the raw driver-specific JSON object.
	Config []byte
}

// Runtime is one built driver and the outbound services it offers.
type Runtime struct {
	Source         rollcall.EventSource
	Driver         rollcall.Driver
	SinkDispatcher rollcall.SinkDispatcher
	// UserDirectory validates user references for this source, when the
	// platform supports it.
	UserDirectory rollcall.UserDirectory
}

// BuilderFunc constructs a Runtime from a definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor registers one driver type.
type Descriptor struct {
	Type     string
	Platform rollcall.Platform
	Builder  BuilderFunc
}

// Registry resolves driver types to builders. It is immutable once built.
type Registry struct {
	descriptors map[string]Descriptor
}

// NewRegistry validates descriptors and indexes them by type.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	indexed := make(map[string]Descriptor, len(descriptors))
	for index, descriptor := range descriptors {
		switch {
		case descriptor.Type == "":
			return nil, fmt.Errorf("new driver registry: descriptor %d has no type", index)
		case descriptor.Platform == "":
			return nil, fmt.Errorf("new driver registry: type %s has no platform", descriptor.Type)
		case descriptor.Builder == nil:
			return nil, fmt.Errorf("new driver registry: type %s has no builder", descriptor.Type)
		}
		if _, duplicate := indexed[descriptor.Type]; duplicate {
			return nil, fmt.Errorf("new driver registry: type %s registered twice", descriptor.Type)
		}
		indexed[descriptor.Type] = descriptor
	}

	return &Registry{descriptors: indexed}, nil
}

// Types lists registered driver types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.descriptors))
	for driverType := range r.descriptors {
		types = append(types, driverType)
	}
	sort.Strings(types)

	return types
}

// PlatformForType returns the platform a driver type publishes as.
func (r *Registry) PlatformForType(driverType string) (rollcall.Platform, error) {
	descriptor, found := r.descriptors[driverType]
	if !found {
		return "", fmt.Errorf("driver type %q is not registered", driverType)
	}

	return descriptor.Platform, nil
}

// BuildEnabled builds every enabled definition in order. Instance names must
// be unique.
func (r *Registry) BuildEnabled(ctx context.Context, definitions []Definition, logger *slog.Logger) ([]Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var built []Runtime
	names := make(map[string]struct{}, len(definitions))

	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build driver of type %q: missing name", definition.Type)
		}
		if _, taken := names[definition.Name]; taken {
			return nil, fmt.Errorf("build driver %s: name used twice", definition.Name)
		}
		names[definition.Name] = struct{}{}

		descriptor, found := r.descriptors[definition.Type]
		if !found {
			return nil, fmt.Errorf("build driver %s: unsupported type %q", definition.Name, definition.Type)
		}
		runtime, err := descriptor.Builder(ctx, definition, logger.With("driver", definition.Name))
		if err != nil {
			return nil, fmt.Errorf("build driver %s (%s): %w", definition.Name, definition.Type, err)
		}
		if runtime.Driver == nil {
			return nil, fmt.Errorf("build driver %s (%s): builder returned no driver", definition.Name, definition.Type)
		}
		if runtime.Source.Platform == "" {
			runtime.Source.Platform = descriptor.Platform
		}
		if runtime.Source.ID == "" {
			runtime.Source.ID = definition.Name
		}

		built = append(built, runtime)
	}

	return built, nil
}
