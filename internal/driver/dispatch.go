package driver

import (
	"context"
	"fmt"
	"sort"

	"rollcall/pkg/rollcall"
)

type sinkEntry struct {
	sink       rollcall.EventSink
	dispatcher rollcall.SinkDispatcher
}

// CompositeSinkDispatcher routes outbound requests to the driver that owns
// the target sink.
type CompositeSinkDispatcher struct {
	entries []sinkEntry
	byID    map[string]sinkEntry
}

// NewCompositeSinkDispatcher indexes every runtime that can send.
func NewCompositeSinkDispatcher(runtimes []Runtime) (*CompositeSinkDispatcher, error) {
	composite := &CompositeSinkDispatcher{byID: make(map[string]sinkEntry)}
	for _, runtime := range runtimes {
		if runtime.SinkDispatcher == nil {
			continue
		}
		if runtime.Source.ID == "" {
			return nil, fmt.Errorf("new composite sink dispatcher: runtime without sink id")
		}
		if _, duplicate := composite.byID[runtime.Source.ID]; duplicate {
			return nil, fmt.Errorf("new composite sink dispatcher: sink %s registered twice", runtime.Source.ID)
		}
		entry := sinkEntry{
			sink:       rollcall.EventSink{Platform: runtime.Source.Platform, ID: runtime.Source.ID},
			dispatcher: runtime.SinkDispatcher,
		}
		composite.byID[entry.sink.ID] = entry
		composite.entries = append(composite.entries, entry)
	}
	sort.Slice(composite.entries, func(i, j int) bool {
		return composite.entries[i].sink.ID < composite.entries[j].sink.ID
	})

	return composite, nil
}

// SendMessage forwards request to its target sink.
func (d *CompositeSinkDispatcher) SendMessage(
	ctx context.Context,
	request rollcall.SendMessageRequest,
) (*rollcall.OutboundMessage, error) {
	entry, err := d.route(request.Target)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	message, err := entry.dispatcher.SendMessage(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("send message via %s: %w", entry.sink.ID, err)
	}

	return message, nil
}

// AcknowledgeCommand forwards request to its target sink.
func (d *CompositeSinkDispatcher) AcknowledgeCommand(ctx context.Context, request rollcall.AcknowledgeCommandRequest) error {
	entry, err := d.route(request.Target)
	if err != nil {
		return fmt.Errorf("acknowledge command: %w", err)
	}
	if err := entry.dispatcher.AcknowledgeCommand(ctx, request); err != nil {
		return fmt.Errorf("acknowledge command via %s: %w", entry.sink.ID, err)
	}

	return nil
}

// ListSinks returns every sink sorted by ID.
func (d *CompositeSinkDispatcher) ListSinks(ctx context.Context) ([]rollcall.EventSink, error) {
	return d.listSinks(ctx, "")
}

// ListSinksByPlatform returns the sinks of one platform sorted by ID.
func (d *CompositeSinkDispatcher) ListSinksByPlatform(
	ctx context.Context,
	platform rollcall.Platform,
) ([]rollcall.EventSink, error) {
	return d.listSinks(ctx, platform)
}

func (d *CompositeSinkDispatcher) listSinks(ctx context.Context, platform rollcall.Platform) ([]rollcall.EventSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}

	sinks := make([]rollcall.EventSink, 0, len(d.entries))
	for _, entry := range d.entries {
		if platform == "" || entry.sink.Platform == platform {
			sinks = append(sinks, entry.sink)
		}
	}

	return sinks, nil
}

// route picks the sink for target. Without an explicit sink, a lone
// configured sink is used.
func (d *CompositeSinkDispatcher) route(target rollcall.OutboundTarget) (sinkEntry, error) {
	if len(d.entries) == 0 {
		return sinkEntry{}, fmt.Errorf("%w: no sinks configured", rollcall.ErrOutboundUnsupported)
	}

	ref := target.Sink
	if ref == nil {
		if len(d.entries) == 1 {
			return d.entries[0], nil
		}
		return sinkEntry{}, fmt.Errorf("%w: target names no sink", rollcall.ErrOutboundUnsupported)
	}

	if ref.ID != "" {
		entry, found := d.byID[ref.ID]
		if !found {
			return sinkEntry{}, fmt.Errorf("%w: unknown sink %s", rollcall.ErrOutboundUnsupported, ref.ID)
		}
		if ref.Platform != "" && ref.Platform != entry.sink.Platform {
			return sinkEntry{}, fmt.Errorf(
				"%w: sink %s is %s, not %s",
				rollcall.ErrOutboundUnsupported,
				ref.ID,
				entry.sink.Platform,
				ref.Platform,
			)
		}
		return entry, nil
	}

	var matched []sinkEntry
	for _, entry := range d.entries {
		if entry.sink.Platform == ref.Platform {
			matched = append(matched, entry)
		}
	}
	switch len(matched) {
	case 0:
		return sinkEntry{}, fmt.Errorf("%w: no %s sink", rollcall.ErrOutboundUnsupported, ref.Platform)
	case 1:
		return matched[0], nil
	default:
		return sinkEntry{}, fmt.Errorf("%w: %d %s sinks, name one", rollcall.ErrOutboundUnsupported, len(matched), ref.Platform)
	}
}

var _ rollcall.SinkDispatcher = (*CompositeSinkDispatcher)(nil)

// CompositeUserDirectory routes user lookups to the directory of the sink
// that received the reference. Sinks without one accept tokens verbatim.
type CompositeUserDirectory struct {
	bySink map[string]rollcall.UserDirectory
}

// NewCompositeUserDirectory collects the user directories offered by runtimes.
func NewCompositeUserDirectory(runtimes []Runtime) *CompositeUserDirectory {
	directory := &CompositeUserDirectory{bySink: make(map[string]rollcall.UserDirectory)}
	for _, runtime := range runtimes {
		if runtime.UserDirectory != nil {
			directory.bySink[runtime.Source.ID] = runtime.UserDirectory
		}
	}

	return directory
}

// ResolveUser delegates to the sink's directory or passes the token through.
func (d *CompositeUserDirectory) ResolveUser(ctx context.Context, lookup rollcall.UserLookup) (string, error) {
	if delegate, found := d.bySink[lookup.SinkID]; found {
		return delegate.ResolveUser(ctx, lookup)
	}

	return rollcall.PassthroughUserDirectory.ResolveUser(ctx, lookup)
}

var _ rollcall.UserDirectory = (*CompositeUserDirectory)(nil)
