package slack

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseConfigDefaults(t *testing.T) {
	t.Parallel()

	got, err := parseConfig([]byte(`{"bot_token":"xoxb-1","app_token":"xapp-1"}`))
	if err != nil {
		t.Fatalf("parseConfig() error = %v", err)
	}

	want := parsedConfig{
		BotToken:       "xoxb-1",
		AppToken:       "xapp-1",
		PublishTimeout: defaultPublishTimeout,
		AckDeadline:    defaultAckDeadline,
		RateLimit:      defaultRateLimit,
		RateBurst:      defaultRateBurst,
		UserCacheTTL:   defaultUserCacheTTL,
		ResponseType:   defaultResponseType,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("parseConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Parallel()

	got, err := parseConfig([]byte(`{
		"bot_token":"xoxb-1",
		"app_token":"xapp-1",
		"publish_timeout":"5s",
		"ack_deadline":"1s",
		"rate_limit":3,
		"rate_burst":1,
		"verify_users":true,
		"user_cache_ttl":"1m",
		"response_type":"ephemeral"
	}`))
	if err != nil {
		t.Fatalf("parseConfig() error = %v", err)
	}
	if got.PublishTimeout != 5*time.Second || got.AckDeadline != time.Second {
		t.Fatalf("durations = %v/%v, want 5s/1s", got.PublishTimeout, got.AckDeadline)
	}
	if got.RateLimit != 3 || got.RateBurst != 1 || !got.VerifyUsers {
		t.Fatalf("parsed = %+v", got)
	}
	if got.UserCacheTTL != time.Minute || got.ResponseType != "ephemeral" {
		t.Fatalf("parsed = %+v", got)
	}
}

func TestParseConfigRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{name: "malformed json", raw: `{`, wantErr: "decode slack config"},
		{name: "user token", raw: `{"bot_token":"xoxp-1","app_token":"xapp-1"}`, wantErr: "BotToken"},
		{name: "bot token as app token", raw: `{"bot_token":"xoxb-1","app_token":"xoxb-2"}`, wantErr: "AppToken"},
		{name: "ack deadline past slack limit", raw: `{"bot_token":"xoxb-1","app_token":"xapp-1","ack_deadline":"3s"}`, wantErr: "AckDeadline"},
		{name: "bad duration", raw: `{"bot_token":"xoxb-1","app_token":"xapp-1","publish_timeout":"soon"}`, wantErr: "publish_timeout"},
		{name: "unknown response type", raw: `{"bot_token":"xoxb-1","app_token":"xapp-1","response_type":"loud"}`, wantErr: "ResponseType"},
		{name: "negative rate", raw: `{"bot_token":"xoxb-1","app_token":"xapp-1","rate_limit":-1}`, wantErr: "RateLimit"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := parseConfig([]byte(testCase.raw))
			if err == nil {
				t.Fatal("parseConfig() error = nil, want error")
			}
			if !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("parseConfig() error = %v, want substring %q", err, testCase.wantErr)
			}
		})
	}
}

func TestParseConfigReadsTokensFromEnvironment(t *testing.T) {
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-env")
	t.Setenv("SLACK_APP_TOKEN", "xapp-env")

	got, err := parseConfig(nil)
	if err != nil {
		t.Fatalf("parseConfig() error = %v", err)
	}
	if got.BotToken != "xoxb-env" || got.AppToken != "xapp-env" {
		t.Fatalf("tokens = %q/%q, want env values", got.BotToken, got.AppToken)
	}

	got, err = parseConfig([]byte(`{"bot_token":"xoxb-file"}`))
	if err != nil {
		t.Fatalf("parseConfig() error = %v", err)
	}
	if got.BotToken != "xoxb-file" {
		t.Fatalf("bot token = %q, want file value to win", got.BotToken)
	}
}
