package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"rollcall/pkg/rollcall"
)

const (
	// DriverType is the configuration token for Slack drivers.
	DriverType = "slack"
	// DriverPlatform is the platform Slack drivers publish as.
	DriverPlatform = rollcall.PlatformSlack
)

type webAPI interface {
	userLister
	AuthTestContext(ctx context.Context) (*slackapi.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// socketConn is the socket-mode connection the driver consumes.
type socketConn interface {
	RunContext(ctx context.Context) error
	Events() <-chan socketmode.Event
	Ack(request socketmode.Request, payload ...interface{})
}

type socketModeConn struct {
	client *socketmode.Client
}

func (c socketModeConn) RunContext(ctx context.Context) error {
	return c.client.RunContext(ctx)
}

func (c socketModeConn) Events() <-chan socketmode.Event {
	return c.client.Events
}

func (c socketModeConn) Ack(request socketmode.Request, payload ...interface{}) {
	c.client.Ack(request, payload...)
}

type webhookPoster func(ctx context.Context, url string, message *slackapi.WebhookMessage) error

// Driver connects one Slack workspace over socket mode. It is both the
// inbound driver and the outbound sink for that workspace.
type Driver struct {
	source  rollcall.EventSource
	cfg     parsedConfig
	logger  *slog.Logger
	api     webAPI
	socket  socketConn
	webhook webhookPoster
	limiter *rate.Limiter

	commands *commandRegistry
	users    *UserDirectory

	mu      sync.RWMutex
	decoder decoder
}

// BuildRuntime builds a Slack driver from its JSON config. Tokens missing from
// the config are read from SLACK_BOT_TOKEN and SLACK_APP_TOKEN.
func BuildRuntime(name string, logger *slog.Logger, rawConfig []byte) (*Driver, error) {
	cfg, err := parseConfig(rawConfig)
	if err != nil {
		return nil, err
	}

	api := slackapi.New(
		cfg.BotToken,
		slackapi.OptionAppLevelToken(cfg.AppToken),
		slackapi.OptionDebug(cfg.Debug),
	)
	socket := socketmode.New(api, socketmode.OptionDebug(cfg.Debug))

	return newDriver(name, cfg, logger, api, socketModeConn{client: socket}, slackapi.PostWebhookContext), nil
}

func newDriver(
	name string,
	cfg parsedConfig,
	logger *slog.Logger,
	api webAPI,
	socket socketConn,
	webhook webhookPoster,
) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	source := rollcall.EventSource{Platform: DriverPlatform, ID: name}

	driver := &Driver{
		source:  source,
		cfg:     cfg,
		logger:  logger,
		api:     api,
		socket:  socket,
		webhook: webhook,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		decoder: decoder{source: source, now: time.Now},
	}
	driver.commands = newCommandRegistry(cfg.AckDeadline, func(eventID string) {
		logger.Warn("slack command acknowledged by fallback timer", "event_id", eventID)
	})
	if cfg.VerifyUsers {
		driver.users = newUserDirectory(api, name, cfg.UserCacheTTL)
	}

	return driver
}

// Name returns the configured instance name.
func (d *Driver) Name() string {
	return d.source.ID
}

// Source returns the event source this driver publishes as.
func (d *Driver) Source() rollcall.EventSource {
	return d.source
}

// UserDirectory returns the workspace user directory, or nil when user
// verification is disabled.
func (d *Driver) UserDirectory() rollcall.UserDirectory {
	if d.users == nil {
		return nil
	}

	return d.users
}

// Start identifies the bot user, then consumes socket-mode events until ctx
// ends or the connection fails.
func (d *Driver) Start(ctx context.Context, dispatcher rollcall.EventDispatcher) error {
	if dispatcher == nil {
		return fmt.Errorf("start slack driver: nil dispatcher")
	}
	identity, err := d.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	d.mu.Lock()
	d.decoder.botUserID = identity.UserID
	d.mu.Unlock()
	d.logger.InfoContext(ctx, "slack driver authenticated",
		"team", identity.Team,
		"bot_user_id", identity.UserID,
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := d.socket.RunContext(groupCtx); err != nil {
			return fmt.Errorf("slack socket mode: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		for {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			case event, open := <-d.socket.Events():
				if !open {
					return nil
				}
				d.handle(groupCtx, dispatcher, event)
			}
		}
	})

	if err := group.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}

	return nil
}

// Shutdown acks any command still waiting on its module.
func (d *Driver) Shutdown(context.Context) error {
	d.commands.close()
	return nil
}

func (d *Driver) handle(ctx context.Context, dispatcher rollcall.EventDispatcher, event socketmode.Event) {
	switch event.Type {
	case socketmode.EventTypeConnecting:
		d.logger.InfoContext(ctx, "slack connecting")
	case socketmode.EventTypeConnected:
		d.logger.InfoContext(ctx, "slack connected")
	case socketmode.EventTypeHello:
		d.logger.DebugContext(ctx, "slack hello")
	case socketmode.EventTypeDisconnect:
		d.logger.WarnContext(ctx, "slack asked to reconnect")
	case socketmode.EventTypeConnectionError, socketmode.EventTypeInvalidAuth,
		socketmode.EventTypeIncomingError, socketmode.EventTypeErrorBadMessage,
		socketmode.EventTypeErrorWriteFailed:
		d.logger.WarnContext(ctx, "slack connection problem", "type", event.Type, "data", event.Data)
	case socketmode.EventTypeEventsAPI:
		d.ackRequest(event.Request)
		d.handleEventsAPI(ctx, dispatcher, event.Data)
	case socketmode.EventTypeSlashCommand:
		d.handleSlashCommand(ctx, dispatcher, event)
	case socketmode.EventTypeInteractive:
		d.ackRequest(event.Request)
	default:
		d.logger.DebugContext(ctx, "slack event ignored", "type", event.Type)
	}
}

func (d *Driver) handleEventsAPI(ctx context.Context, dispatcher rollcall.EventDispatcher, data interface{}) {
	payload, ok := data.(slackevents.EventsAPIEvent)
	if !ok {
		d.logger.WarnContext(ctx, "slack events api payload has unexpected type", "type", fmt.Sprintf("%T", data))
		return
	}
	if payload.Type != slackevents.CallbackEvent {
		return
	}

	message, ok := payload.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}

	d.mu.RLock()
	current := d.decoder
	d.mu.RUnlock()

	event, err := current.decodeMessage(message, payload.TeamID)
	if err != nil {
		d.logger.WarnContext(ctx, "slack message decode failed", "error", err)
		return
	}
	if event == nil {
		return
	}
	d.publish(ctx, dispatcher, event)
}

func (d *Driver) handleSlashCommand(ctx context.Context, dispatcher rollcall.EventDispatcher, socketEvent socketmode.Event) {
	command, ok := socketEvent.Data.(slackapi.SlashCommand)
	if !ok {
		d.ackRequest(socketEvent.Request)
		d.logger.WarnContext(ctx, "slack slash command payload has unexpected type", "type", fmt.Sprintf("%T", socketEvent.Data))
		return
	}

	d.mu.RLock()
	current := d.decoder
	d.mu.RUnlock()

	event, err := current.decodeSlashCommand(command)
	if err != nil {
		d.ackRequest(socketEvent.Request)
		d.logger.WarnContext(ctx, "slack slash command decode failed", "error", err)
		return
	}

	request := socketEvent.Request
	d.commands.register(event.ID, command.ResponseURL, command.ChannelID, func() {
		d.ackRequest(request)
	})
	if !d.publish(ctx, dispatcher, event) {
		d.commands.acknowledge(event.ID)
	}
}

// publish reports whether the event reached the dispatcher.
func (d *Driver) publish(ctx context.Context, dispatcher rollcall.EventDispatcher, event *rollcall.Event) bool {
	publishCtx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	defer cancel()

	if err := dispatcher.Publish(publishCtx, event); err != nil {
		d.logger.ErrorContext(ctx, "slack event publish failed", "event_id", event.ID, "error", err)
		return false
	}

	return true
}

func (d *Driver) ackRequest(request *socketmode.Request) {
	if request == nil {
		return
	}
	d.socket.Ack(*request)
}

var (
	_ rollcall.Driver         = (*Driver)(nil)
	_ rollcall.SinkDispatcher = (*Driver)(nil)
)
