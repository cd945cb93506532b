package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"rollcall/pkg/rollcall"
)

// moduleRecord tracks one registered module and the subscriptions it owns.
type moduleRecord struct {
	name          string
	module        rollcall.Module
	capabilities  []rollcall.Capability
	subMu         sync.Mutex
	subscriptions []rollcall.Subscription
}

func (m *moduleRecord) track(subscription rollcall.Subscription) {
	m.subMu.Lock()
	m.subscriptions = append(m.subscriptions, subscription)
	m.subMu.Unlock()
}

// closeSubscriptions closes every tracked subscription once; later calls are no-ops.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.subMu.Lock()
	owned := m.subscriptions
	m.subscriptions = nil
	m.subMu.Unlock()

	var closeErr error
	for _, subscription := range owned {
		if err := subscription.Close(ctx); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return closeErr
}

// moduleRuntime is the ModuleRuntime handed to one module.
type moduleRuntime struct {
	moduleName    string
	serviceLookup rollcall.ServiceRegistry
	bus           rollcall.EventBus
	record        *moduleRecord
	defaultSink   *rollcall.EventSink
}

// Services returns a registry view that applies the module's default sink to
// outbound requests.
func (r *moduleRuntime) Services() rollcall.ServiceRegistry {
	return routedServices{
		base: r.serviceLookup,
		sink: cloneSinkRef(r.defaultSink),
	}
}

// Subscribe attaches a handler after checking it against the module's capabilities.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	interest rollcall.InterestSet,
	spec rollcall.SubscriptionSpec,
	handler rollcall.EventHandler,
) (rollcall.Subscription, error) {
	if spec.Name == "" {
		spec.Name = r.moduleName + "-subscription"
	}
	if !capabilitiesAllow(r.record.capabilities, interest) {
		return nil, fmt.Errorf(
			"module %s subscribe %s: %w: interest not covered by declared capabilities",
			r.moduleName,
			spec.Name,
			rollcall.ErrCapabilityNotDeclared,
		)
	}

	subscription, err := r.bus.Subscribe(ctx, interest, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}
	r.record.track(subscription)

	return subscription, nil
}

func capabilitiesAllow(capabilities []rollcall.Capability, interest rollcall.InterestSet) bool {
	for _, capability := range capabilities {
		if capability.Interest.Allows(interest) {
			return true
		}
	}

	return false
}

// routedServices wraps the sink dispatcher so module sends inherit a default sink.
type routedServices struct {
	base rollcall.ServiceRegistry
	sink *rollcall.EventSink
}

func (r routedServices) Register(name string, service any) error {
	if err := r.base.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

func (r routedServices) Resolve(name string) (any, error) {
	service, err := r.base.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("resolve service %s: %w", name, err)
	}
	if name != rollcall.ServiceSinkDispatcher || r.sink == nil {
		return service, nil
	}
	dispatcher, ok := service.(rollcall.SinkDispatcher)
	if !ok {
		return nil, fmt.Errorf("resolve service %s: %w", name, rollcall.ErrServiceTypeMismatch)
	}

	return routedDispatcher{base: dispatcher, sink: cloneSinkRef(r.sink)}, nil
}

// routedDispatcher fills in a default sink for targets that do not name one.
type routedDispatcher struct {
	base rollcall.SinkDispatcher
	sink *rollcall.EventSink
}

func (d routedDispatcher) SendMessage(
	ctx context.Context,
	request rollcall.SendMessageRequest,
) (*rollcall.OutboundMessage, error) {
	request.Target = withDefaultSink(request.Target, d.sink)
	message, err := d.base.SendMessage(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("routed send message: %w", err)
	}

	return message, nil
}

func (d routedDispatcher) AcknowledgeCommand(ctx context.Context, request rollcall.AcknowledgeCommandRequest) error {
	request.Target = withDefaultSink(request.Target, d.sink)
	if err := d.base.AcknowledgeCommand(ctx, request); err != nil {
		return fmt.Errorf("routed acknowledge command: %w", err)
	}

	return nil
}

func (d routedDispatcher) ListSinks(ctx context.Context) ([]rollcall.EventSink, error) {
	return d.base.ListSinks(ctx)
}

func (d routedDispatcher) ListSinksByPlatform(ctx context.Context, platform rollcall.Platform) ([]rollcall.EventSink, error) {
	return d.base.ListSinksByPlatform(ctx, platform)
}

func withDefaultSink(target rollcall.OutboundTarget, sink *rollcall.EventSink) rollcall.OutboundTarget {
	if target.Sink == nil && sink != nil {
		target.Sink = cloneSinkRef(sink)
	}

	return target
}

func cloneSinkRef(sink *rollcall.EventSink) *rollcall.EventSink {
	if sink == nil {
		return nil
	}
	cloned := *sink

	return &cloned
}
