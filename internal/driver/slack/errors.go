package slack

import (
	"context"
	"errors"
	"net/http"

	slackapi "github.com/slack-go/slack"

	"rollcall/pkg/rollcall"
)

// permanentErrors are Slack API error tokens that retrying cannot fix.
var permanentErrors = map[string]struct{}{
	"channel_not_found":                 {},
	"not_in_channel":                    {},
	"is_archived":                       {},
	"invalid_auth":                      {},
	"account_inactive":                  {},
	"token_revoked":                     {},
	"missing_scope":                     {},
	"msg_too_long":                      {},
	"no_text":                           {},
	"restricted_action":                 {},
	"expired_url":                       {},
	"used_url":                          {},
	"user_not_found":                    {},
	"users_not_found":                   {},
	"not_authed":                        {},
	"no_permission":                     {},
	"cannot_dm_bot":                     {},
	"invalid_blocks":                    {},
	"thread_not_found":                  {},
	"invalid_thread_ts":                 {},
	"posting_to_general_channel_denied": {},
}

// mapOutboundError classifies a Slack client error into a rollcall.OutboundError.
func mapOutboundError(operation rollcall.OutboundOperation, sinkID string, err error) error {
	if err == nil {
		return nil
	}

	outbound := &rollcall.OutboundError{
		Operation: operation,
		Kind:      rollcall.OutboundErrorKindUnknown,
		Platform:  DriverPlatform,
		SinkID:    sinkID,
		Cause:     err,
	}

	var rateLimited *slackapi.RateLimitedError
	var apiErr slackapi.SlackErrorResponse
	var statusErr slackapi.StatusCodeError
	switch {
	case errors.As(err, &rateLimited):
		outbound.Kind = rollcall.OutboundErrorKindRateLimited
		outbound.RetryAfter = rateLimited.RetryAfter
		outbound.Code = http.StatusTooManyRequests
	case errors.As(err, &apiErr):
		outbound.Type = apiErr.Err
		if _, permanent := permanentErrors[apiErr.Err]; permanent {
			outbound.Kind = rollcall.OutboundErrorKindPermanent
		} else {
			outbound.Kind = rollcall.OutboundErrorKindTemporary
		}
	case errors.As(err, &statusErr):
		outbound.Code = statusErr.Code
		switch {
		case statusErr.Code == http.StatusTooManyRequests:
			outbound.Kind = rollcall.OutboundErrorKindRateLimited
		case statusErr.Code >= http.StatusInternalServerError:
			outbound.Kind = rollcall.OutboundErrorKindTemporary
		default:
			outbound.Kind = rollcall.OutboundErrorKindPermanent
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		outbound.Kind = rollcall.OutboundErrorKindTemporary
	}

	return outbound
}
