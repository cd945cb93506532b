package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rollcall/pkg/rollcall"
)

const (
	// DriverType is the configuration token for Telegram drivers.
	DriverType = "telegram"
	// DriverPlatform is the platform Telegram drivers publish as.
	DriverPlatform = rollcall.PlatformTelegram

	defaultPublishTimeout = 2 * time.Second
)

type driverConfig struct {
	name           string
	publishTimeout time.Duration
	onAsyncError   func(context.Context, error)
}

// DriverOption mutates Telegram driver configuration.
type DriverOption func(*driverConfig)

// WithName sets the instance name reported to the kernel and stamped on events.
func WithName(name string) DriverOption {
	return func(cfg *driverConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithPublishTimeout bounds each Publish call.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(cfg *driverConfig) {
		if timeout > 0 {
			cfg.publishTimeout = timeout
		}
	}
}

// WithErrorHandler receives per-update failures that do not stop the driver.
func WithErrorHandler(handler func(context.Context, error)) DriverOption {
	return func(cfg *driverConfig) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// Driver publishes new Telegram messages as article events.
type Driver struct {
	cfg    driverConfig
	source UpdateSource
	now    func() time.Time
}

// NewDriver creates a Telegram driver reading from source.
func NewDriver(source UpdateSource, options ...DriverOption) (*Driver, error) {
	if source == nil {
		return nil, fmt.Errorf("new telegram driver: nil source")
	}

	cfg := driverConfig{
		name:           DriverType,
		publishTimeout: defaultPublishTimeout,
		onAsyncError:   func(context.Context, error) {},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Driver{cfg: cfg, source: source, now: time.Now}, nil
}

// Name returns the instance name.
func (d *Driver) Name() string {
	return d.cfg.name
}

// Start consumes updates until ctx ends. Decode and publish failures are
// reported through the error handler and do not stop the loop.
func (d *Driver) Start(ctx context.Context, dispatcher rollcall.EventDispatcher) error {
	if dispatcher == nil {
		return fmt.Errorf("start telegram driver: nil dispatcher")
	}

	err := d.source.Consume(ctx, func(handlerCtx context.Context, update Update) error {
		if err := d.handleUpdate(handlerCtx, update, dispatcher); err != nil {
			d.cfg.onAsyncError(handlerCtx, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return fmt.Errorf("start telegram driver: consume updates: %w", err)
	}

	return nil
}

func (d *Driver) handleUpdate(ctx context.Context, update Update, dispatcher rollcall.EventDispatcher) error {
	event, err := decodeUpdate(update, rollcall.EventSource{Platform: DriverPlatform, ID: d.cfg.name}, d.now)
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, d.cfg.publishTimeout)
	defer cancel()

	if err := dispatcher.Publish(publishCtx, event); err != nil {
		return fmt.Errorf("publish telegram update %s: %w", update.ID, err)
	}

	return nil
}

// Shutdown is a no-op; the gotd session ends with the Start context.
func (d *Driver) Shutdown(context.Context) error {
	return nil
}

var _ rollcall.Driver = (*Driver)(nil)
