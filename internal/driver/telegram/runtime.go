package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/kelseyhightower/envconfig"

	"rollcall/pkg/rollcall"
)

const (
	defaultSessionFile = ".cache/telegram/session.json"
	defaultAuthTimeout = time.Minute
)

type runtimeConfig struct {
	AppID          int    `json:"app_id"`
	AppHash        string `json:"app_hash"`
	BotToken       string `json:"bot_token"`
	PublishTimeout string `json:"publish_timeout"`
	UpdateBuffer   int    `json:"update_buffer"`
	AuthTimeout    string `json:"auth_timeout"`
	SessionFile    string `json:"session_file"`
}

// secretEnv supplies credentials kept out of the config file.
type secretEnv struct {
	AppHash  string `envconfig:"TELEGRAM_APP_HASH"`
	BotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
}

type parsedRuntimeConfig struct {
	AppID          int           `validate:"gt=0"`
	AppHash        string        `validate:"required"`
	BotToken       string        `validate:"required,contains=:"`
	PublishTimeout time.Duration `validate:"gt=0"`
	UpdateBuffer   int           `validate:"gte=1"`
	AuthTimeout    time.Duration `validate:"gt=0"`
	SessionFile    string        `validate:"required"`
}

var runtimeValidator = validator.New()

// BuildRuntimeFromConfig builds a bot-account Telegram driver and its sink.
// The gotd client connects only once the driver starts.
func BuildRuntimeFromConfig(
	name string,
	logger *slog.Logger,
	rawConfig []byte,
) (rollcall.EventSource, rollcall.Driver, rollcall.SinkDispatcher, error) {
	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return rollcall.EventSource{}, nil, nil, fmt.Errorf("parse telegram runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	storage, err := newFileSessionStorage(cfg.SessionFile)
	if err != nil {
		return rollcall.EventSource{}, nil, nil, err
	}
	updates := NewGotdUpdateChannel(cfg.UpdateBuffer)
	client := gotdtelegram.NewClient(cfg.AppID, cfg.AppHash, gotdtelegram.Options{
		UpdateHandler:  updates,
		SessionStorage: storage,
	})

	peers := NewPeerCache()
	source, err := NewGotdSource(botClient{client: client, cfg: cfg, logger: logger}, updates, peers)
	if err != nil {
		return rollcall.EventSource{}, nil, nil, err
	}
	driver, err := NewDriver(
		source,
		WithName(name),
		WithPublishTimeout(cfg.PublishTimeout),
		WithErrorHandler(func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "telegram update dropped", "error", err)
		}),
	)
	if err != nil {
		return rollcall.EventSource{}, nil, nil, err
	}
	sink, err := NewSinkDispatcher(name, newGotdSender(client.API()), peers, cfg.PublishTimeout, logger)
	if err != nil {
		return rollcall.EventSource{}, nil, nil, err
	}

	return rollcall.EventSource{Platform: DriverPlatform, ID: name}, driver, sink, nil
}

func parseRuntimeConfig(raw []byte) (parsedRuntimeConfig, error) {
	var cfg runtimeConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return parsedRuntimeConfig{}, fmt.Errorf("unmarshal: %w", err)
		}
	}

	var env secretEnv
	if err := envconfig.Process("", &env); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("read telegram environment: %w", err)
	}
	if cfg.AppHash == "" {
		cfg.AppHash = env.AppHash
	}
	if cfg.BotToken == "" {
		cfg.BotToken = env.BotToken
	}

	parsed := parsedRuntimeConfig{
		AppID:          cfg.AppID,
		AppHash:        cfg.AppHash,
		BotToken:       cfg.BotToken,
		PublishTimeout: defaultPublishTimeout,
		UpdateBuffer:   cfg.UpdateBuffer,
		AuthTimeout:    defaultAuthTimeout,
		SessionFile:    cfg.SessionFile,
	}
	if parsed.UpdateBuffer == 0 {
		parsed.UpdateBuffer = defaultUpdateBuffer
	}
	if parsed.SessionFile == "" {
		parsed.SessionFile = defaultSessionFile
	}
	if cfg.PublishTimeout != "" {
		timeout, err := time.ParseDuration(cfg.PublishTimeout)
		if err != nil {
			return parsedRuntimeConfig{}, fmt.Errorf("parse publish_timeout: %w", err)
		}
		parsed.PublishTimeout = timeout
	}
	if cfg.AuthTimeout != "" {
		timeout, err := time.ParseDuration(cfg.AuthTimeout)
		if err != nil {
			return parsedRuntimeConfig{}, fmt.Errorf("parse auth_timeout: %w", err)
		}
		parsed.AuthTimeout = timeout
	}

	if err := runtimeValidator.Struct(parsed); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("validate: %w", err)
	}

	return parsed, nil
}

// botClient logs in with the bot token before handing the session to fn.
type botClient struct {
	client *gotdtelegram.Client
	cfg    parsedRuntimeConfig
	logger *slog.Logger
}

func (c botClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	return c.client.Run(ctx, func(runCtx context.Context) error {
		if err := c.authenticate(runCtx); err != nil {
			return fmt.Errorf("authenticate telegram bot: %w", err)
		}
		return fn(runCtx)
	})
}

func (c botClient) authenticate(ctx context.Context) error {
	authCtx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()

	status, err := c.client.Auth().Status(authCtx)
	if err != nil {
		return fmt.Errorf("auth status: %w", err)
	}
	if status.Authorized {
		c.logger.InfoContext(ctx, "telegram session restored", "session_file", c.cfg.SessionFile)
		return nil
	}
	if _, err := c.client.Auth().Bot(authCtx, c.cfg.BotToken); err != nil {
		return fmt.Errorf("bot login: %w", err)
	}
	c.logger.InfoContext(ctx, "telegram bot authorized", "session_file", c.cfg.SessionFile)

	return nil
}
