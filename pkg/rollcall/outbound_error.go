package rollcall

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// OutboundOperation identifies one outbound dispatcher operation type.
type OutboundOperation string

const (
	// OutboundOperationSendMessage identifies SendMessage operations.
	OutboundOperationSendMessage OutboundOperation = "send_message"
	// OutboundOperationAcknowledgeCommand identifies AcknowledgeCommand operations.
	OutboundOperationAcknowledgeCommand OutboundOperation = "acknowledge_command"
	// OutboundOperationResolveUser identifies user directory lookups.
	OutboundOperationResolveUser OutboundOperation = "resolve_user"
)

// OutboundErrorKind describes coarse-grained outbound failure classification.
type OutboundErrorKind string

const (
	// OutboundErrorKindRateLimited indicates platform-side rate limiting.
	OutboundErrorKindRateLimited OutboundErrorKind = "rate_limited"
	// OutboundErrorKindTemporary indicates retryable transient failure.
	OutboundErrorKindTemporary OutboundErrorKind = "temporary"
	// OutboundErrorKindPermanent indicates non-retryable permanent failure.
	OutboundErrorKindPermanent OutboundErrorKind = "permanent"
	// OutboundErrorKindUnknown indicates unclassified failure.
	OutboundErrorKindUnknown OutboundErrorKind = "unknown"
)

// OutboundError carries structured metadata for one outbound operation failure.
type OutboundError struct {
	Operation OutboundOperation
	Kind      OutboundErrorKind
	Platform  Platform
	SinkID    string
	// RetryAfter is the platform-suggested delay for rate-limited failures.
	RetryAfter time.Duration
	// Code is the platform RPC or HTTP status code when known.
	Code int
	// Type is the platform error token when known, e.g. "channel_not_found".
	Type  string
	Cause error
}

// Error renders the populated fields as key=value pairs followed by the cause.
func (e *OutboundError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var builder strings.Builder
	builder.WriteString("outbound error")

	separator := ": "
	appendField := func(key, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		builder.WriteString(separator)
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(value)
		separator = " "
	}
	appendField("operation", string(e.Operation))
	appendField("kind", string(e.Kind))
	appendField("platform", string(e.Platform))
	appendField("sink_id", e.SinkID)
	if e.RetryAfter > 0 {
		appendField("retry_after", e.RetryAfter.String())
	}
	if e.Code != 0 {
		appendField("code", strconv.Itoa(e.Code))
	}
	appendField("type", e.Type)

	if e.Cause != nil {
		builder.WriteString(": ")
		builder.WriteString(e.Cause.Error())
	}

	return builder.String()
}

// Unwrap returns the wrapped root cause.
func (e *OutboundError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// AsOutboundError extracts one OutboundError from wrapped error chains.
func AsOutboundError(err error) (*OutboundError, bool) {
	var outboundErr *OutboundError
	if err != nil && errors.As(err, &outboundErr) && outboundErr != nil {
		return outboundErr, true
	}

	return nil, false
}

// AsOutboundRateLimit extracts retry delay metadata from outbound rate-limit errors.
//
// It returns (0, false) if err is not classified as rate-limited and (0, true)
// when rate-limited without a retry-after hint.
func AsOutboundRateLimit(err error) (time.Duration, bool) {
	outboundErr, ok := AsOutboundError(err)
	if !ok || outboundErr.Kind != OutboundErrorKindRateLimited {
		return 0, false
	}

	return outboundErr.RetryAfter, true
}
