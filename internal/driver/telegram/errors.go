package telegram

import (
	"context"
	"errors"
	"strings"

	"github.com/gotd/td/tgerr"

	"rollcall/pkg/rollcall"
)

// mapOutboundError classifies a gotd RPC failure into a rollcall.OutboundError.
func mapOutboundError(operation rollcall.OutboundOperation, sink rollcall.EventSink, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, rollcall.ErrInvalidOutboundRequest) {
		return err
	}

	outbound := &rollcall.OutboundError{
		Operation: operation,
		Kind:      rollcall.OutboundErrorKindUnknown,
		Platform:  sink.Platform,
		SinkID:    sink.ID,
		Cause:     err,
	}

	if retryAfter, ok := tgerr.AsFloodWait(err); ok {
		outbound.Kind = rollcall.OutboundErrorKindRateLimited
		outbound.RetryAfter = retryAfter
	}
	if rpcErr, ok := tgerr.As(err); ok {
		outbound.Code = rpcErr.Code
		outbound.Type = rpcErr.Type
		if outbound.Kind == rollcall.OutboundErrorKindUnknown {
			outbound.Kind = classifyRPCError(rpcErr)
		}
		return outbound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		outbound.Kind = rollcall.OutboundErrorKindTemporary
	}

	return outbound
}

func classifyRPCError(rpcErr *tgerr.Error) rollcall.OutboundErrorKind {
	if rpcErr.Code == 420 || rpcErr.Code == 429 || strings.Contains(strings.ToUpper(rpcErr.Type), "FLOOD") {
		return rollcall.OutboundErrorKindRateLimited
	}

	switch {
	case rpcErr.Code == 303 || rpcErr.Code >= 500:
		return rollcall.OutboundErrorKindTemporary
	case rpcErr.Code >= 400:
		return rollcall.OutboundErrorKindPermanent
	default:
		return rollcall.OutboundErrorKindUnknown
	}
}
