package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"rollcall/pkg/rollcall"
)

var errBusClosed = errors.New("event bus closed")

// EventBus is the kernel asynchronous pub/sub implementation.
//
// Each subscriber owns a bounded queue drained by its own workers. On close,
// workers finish what is already queued before exiting.
type EventBus struct {
	defaults subscriberDefaults
	report   func(context.Context, string, error)

	lastID atomic.Uint64

	mu          sync.RWMutex
	closed      bool
	subscribers map[uint64]*subscriber
}

type subscriberDefaults struct {
	buffer  int
	workers int
	timeout time.Duration
}

// NewEventBus creates an asynchronous event bus with bounded queues.
func NewEventBus(
	defaultBuffer int,
	defaultWorkers int,
	defaultHandlerTimeout time.Duration,
	onAsyncError func(context.Context, string, error),
) *EventBus {
	return &EventBus{
		defaults: subscriberDefaults{
			buffer:  defaultBuffer,
			workers: defaultWorkers,
			timeout: defaultHandlerTimeout,
		},
		report:      onAsyncError,
		subscribers: make(map[uint64]*subscriber),
	}
}

// Publish offers event to every subscriber whose interest matches it.
//
// Drops caused by backpressure are reported asynchronously; only blocking
// failures are returned.
func (b *EventBus) Publish(ctx context.Context, event *rollcall.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	targets, err := b.matching(event)
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, err)
	}

	var failed error
	for _, target := range targets {
		err := target.offer(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, rollcall.ErrEventDropped), errors.Is(err, rollcall.ErrSubscriptionClosed):
			b.reportAsync(ctx, target.Name(), err)
		default:
			failed = errors.Join(failed, err)
		}
	}
	if failed != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, failed)
	}

	return nil
}

func (b *EventBus) matching(event *rollcall.Event) ([]*subscriber, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errBusClosed
	}
	matched := make([]*subscriber, 0, len(b.subscribers))
	for _, candidate := range b.subscribers {
		if candidate.interest.Matches(event) {
			matched = append(matched, candidate)
		}
	}

	return matched, nil
}

// Subscribe registers a bounded asynchronous consumer.
func (b *EventBus) Subscribe(
	ctx context.Context,
	interest rollcall.InterestSet,
	spec rollcall.SubscriptionSpec,
	handler rollcall.EventHandler,
) (rollcall.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: %w: nil handler", spec.Name, rollcall.ErrInvalidSubscription)
	}

	id := b.lastID.Add(1)
	spec, err := b.withDefaults(spec, id)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, errBusClosed)
	}
	sub := startSubscriber(id, interest, spec, handler, b)
	b.subscribers[id] = sub

	return sub, nil
}

// Close stops every subscriber and rejects later publishes and subscribes.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	remaining := b.subscribers
	b.subscribers = make(map[uint64]*subscriber)
	b.mu.Unlock()

	var closeErr error
	for _, sub := range remaining {
		closeErr = errors.Join(closeErr, sub.stop(ctx))
	}
	if closeErr != nil {
		return fmt.Errorf("close event bus: %w", closeErr)
	}

	return nil
}

func (b *EventBus) withDefaults(spec rollcall.SubscriptionSpec, id uint64) (rollcall.SubscriptionSpec, error) {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", id)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaults.buffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaults.workers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaults.timeout
	}
	if spec.Backpressure == "" {
		spec.Backpressure = rollcall.BackpressureDropNewest
	}
	if _, known := enqueuePolicies[spec.Backpressure]; !known {
		return spec, fmt.Errorf("%w: unknown backpressure policy %q", rollcall.ErrInvalidSubscription, spec.Backpressure)
	}

	return spec, nil
}

func (b *EventBus) remove(ctx context.Context, id uint64) error {
	b.mu.Lock()
	sub, found := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()

	if !found {
		return nil
	}

	return sub.stop(ctx)
}

func (b *EventBus) reportAsync(ctx context.Context, scope string, err error) {
	if b.report != nil {
		b.report(ctx, scope, err)
	}
}

// enqueuePolicy places one event on a subscriber queue.
type enqueuePolicy func(ctx context.Context, s *subscriber, event *rollcall.Event) error

var enqueuePolicies = map[rollcall.BackpressurePolicy]enqueuePolicy{
	rollcall.BackpressureDropNewest: func(_ context.Context, s *subscriber, event *rollcall.Event) error {
		select {
		case s.queue <- event:
			return nil
		default:
			return rollcall.ErrEventDropped
		}
	},
	rollcall.BackpressureDropOldest: func(_ context.Context, s *subscriber, event *rollcall.Event) error {
		for attempt := 0; attempt < 2; attempt++ {
			select {
			case s.queue <- event:
				return nil
			default:
			}
			select {
			case <-s.queue:
			default:
			}
		}

		return rollcall.ErrEventDropped
	},
	rollcall.BackpressureBlock: func(ctx context.Context, s *subscriber, event *rollcall.Event) error {
		select {
		case s.queue <- event:
			return nil
		case <-s.stopping:
			return rollcall.ErrSubscriptionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	},
}

// subscriber owns one queue and the workers draining it.
type subscriber struct {
	id       uint64
	interest rollcall.InterestSet
	spec     rollcall.SubscriptionSpec
	handler  rollcall.EventHandler
	bus      *EventBus

	queue    chan *rollcall.Event
	stopping chan struct{}
	stopOnce sync.Once
	// abort cancels in-flight handlers when a graceful drain runs out of time.
	abort   context.CancelFunc
	baseCtx context.Context
	done    chan struct{}
}

func startSubscriber(
	id uint64,
	interest rollcall.InterestSet,
	spec rollcall.SubscriptionSpec,
	handler rollcall.EventHandler,
	bus *EventBus,
) *subscriber {
	baseCtx, abort := context.WithCancel(context.Background())
	sub := &subscriber{
		id:       id,
		interest: cloneInterestSet(interest),
		spec:     spec,
		handler:  handler,
		bus:      bus,
		queue:    make(chan *rollcall.Event, spec.Buffer),
		stopping: make(chan struct{}),
		abort:    abort,
		baseCtx:  baseCtx,
		done:     make(chan struct{}),
	}

	var workers errgroup.Group
	for worker := 1; worker <= spec.Workers; worker++ {
		workers.Go(func() error {
			sub.work(worker)
			return nil
		})
	}
	go func() {
		_ = workers.Wait()
		abort()
		close(sub.done)
	}()

	return sub
}

// cloneInterestSet copies the slices so later caller mutation cannot change matching.
func cloneInterestSet(interest rollcall.InterestSet) rollcall.InterestSet {
	cloned := interest
	cloned.Kinds = append([]rollcall.EventKind(nil), interest.Kinds...)
	cloned.CommandNames = append([]string(nil), interest.CommandNames...)
	cloned.Sources = append([]rollcall.EventSource(nil), interest.Sources...)

	return cloned
}

// Name returns the subscription name.
func (s *subscriber) Name() string {
	return s.spec.Name
}

// Close detaches the subscription from its bus and drains its queue.
func (s *subscriber) Close(ctx context.Context) error {
	return s.bus.remove(ctx, s.id)
}

func (s *subscriber) offer(ctx context.Context, event *rollcall.Event) error {
	select {
	case <-s.stopping:
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, rollcall.ErrSubscriptionClosed)
	default:
	}

	if err := enqueuePolicies[s.spec.Backpressure](ctx, s, event); err != nil {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, err)
	}

	return nil
}

func (s *subscriber) work(worker int) {
	for {
		select {
		case event := <-s.queue:
			s.handle(worker, event)
		case <-s.stopping:
			s.drain(worker)
			return
		}
	}
}

// drain handles whatever is still queued once stopping is signaled.
func (s *subscriber) drain(worker int) {
	for {
		select {
		case event := <-s.queue:
			s.handle(worker, event)
		default:
			return
		}
	}
}

func (s *subscriber) handle(worker int, event *rollcall.Event) {
	ctx, cancel := s.baseCtx, context.CancelFunc(func() {})
	if s.spec.HandlerTimeout > 0 {
		ctx, cancel = context.WithTimeout(s.baseCtx, s.spec.HandlerTimeout)
	}
	defer cancel()

	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, worker)
	if err := runSafely(scope, func() error {
		return s.handler(ctx, event)
	}); err != nil {
		s.bus.reportAsync(ctx, s.spec.Name, fmt.Errorf("handle event %s: %w", event.ID, err))
	}
}

// stop signals workers and waits for the drain to finish. When ctx expires
// first, in-flight handlers are canceled.
func (s *subscriber) stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopping) })

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.abort()
		return fmt.Errorf("stop subscription %s: %w", s.spec.Name, ctx.Err())
	}
}
