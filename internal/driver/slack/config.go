package slack

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

const (
	defaultPublishTimeout = 2 * time.Second
	defaultAckDeadline    = 2500 * time.Millisecond
	defaultRateLimit      = 1.0
	defaultRateBurst      = 5
	defaultUserCacheTTL   = 10 * time.Minute
	defaultResponseType   = "in_channel"
)

// runtimeConfig is the JSON object under a slack driver entry.
type runtimeConfig struct {
	BotToken       string  `json:"bot_token"`
	AppToken       string  `json:"app_token"`
	PublishTimeout string  `json:"publish_timeout"`
	AckDeadline    string  `json:"ack_deadline"`
	RateLimit      float64 `json:"rate_limit"`
	RateBurst      int     `json:"rate_burst"`
	VerifyUsers    bool    `json:"verify_users"`
	UserCacheTTL   string  `json:"user_cache_ttl"`
	ResponseType   string  `json:"response_type"`
	Debug          bool    `json:"debug"`
}

// tokenEnv supplies tokens kept out of the config file.
type tokenEnv struct {
	BotToken string `envconfig:"SLACK_BOT_TOKEN"`
	AppToken string `envconfig:"SLACK_APP_TOKEN"`
}

type parsedConfig struct {
	BotToken       string        `validate:"required,startswith=xoxb-"`
	AppToken       string        `validate:"required,startswith=xapp-"`
	PublishTimeout time.Duration `validate:"gt=0"`
	AckDeadline    time.Duration `validate:"gt=0,lt=3s"`
	RateLimit      float64       `validate:"gt=0"`
	RateBurst      int           `validate:"gte=1"`
	VerifyUsers    bool
	UserCacheTTL   time.Duration `validate:"gt=0"`
	ResponseType   string        `validate:"oneof=in_channel ephemeral"`
	Debug          bool
}

var configValidator = validator.New()

func parseConfig(raw []byte) (parsedConfig, error) {
	var cfg runtimeConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return parsedConfig{}, fmt.Errorf("decode slack config: %w", err)
		}
	}

	var env tokenEnv
	if err := envconfig.Process("", &env); err != nil {
		return parsedConfig{}, fmt.Errorf("read slack token environment: %w", err)
	}
	if cfg.BotToken == "" {
		cfg.BotToken = env.BotToken
	}
	if cfg.AppToken == "" {
		cfg.AppToken = env.AppToken
	}

	parsed := parsedConfig{
		BotToken:     cfg.BotToken,
		AppToken:     cfg.AppToken,
		RateLimit:    cfg.RateLimit,
		RateBurst:    cfg.RateBurst,
		VerifyUsers:  cfg.VerifyUsers,
		ResponseType: cfg.ResponseType,
		Debug:        cfg.Debug,
	}
	if parsed.RateLimit == 0 {
		parsed.RateLimit = defaultRateLimit
	}
	if parsed.RateBurst == 0 {
		parsed.RateBurst = defaultRateBurst
	}
	if parsed.ResponseType == "" {
		parsed.ResponseType = defaultResponseType
	}

	durations := []struct {
		field    string
		raw      string
		fallback time.Duration
		target   *time.Duration
	}{
		{"publish_timeout", cfg.PublishTimeout, defaultPublishTimeout, &parsed.PublishTimeout},
		{"ack_deadline", cfg.AckDeadline, defaultAckDeadline, &parsed.AckDeadline},
		{"user_cache_ttl", cfg.UserCacheTTL, defaultUserCacheTTL, &parsed.UserCacheTTL},
	}
	for _, duration := range durations {
		if duration.raw == "" {
			*duration.target = duration.fallback
			continue
		}
		value, err := time.ParseDuration(duration.raw)
		if err != nil {
			return parsedConfig{}, fmt.Errorf("parse slack %s: %w", duration.field, err)
		}
		*duration.target = value
	}

	if err := configValidator.Struct(parsed); err != nil {
		return parsedConfig{}, fmt.Errorf("validate slack config: %w", err)
	}

	return parsed, nil
}
