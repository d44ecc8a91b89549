package errorpolicy

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/windrose/agentkit/telemetry"
)

// RetryHandler retries any Retryable error with exponential backoff
// (BaseDelayMs * 2^(attempt-1)) while attempt is below MaxAttempts, so at
// most MaxAttempts attempts run in total; once the budget is exhausted it
// passes so a later handler (or the default throw) takes over.
type RetryHandler struct {
	MaxAttempts int
	BaseDelayMs int64
}

func (r RetryHandler) Handle(_ context.Context, err error, attempt int) Decision {
	if attempt >= r.MaxAttempts {
		return Pass
	}
	var e *Error
	if !errors.As(err, &e) || !e.Retryable {
		return Pass
	}
	delay := r.BaseDelayMs * int64(math.Pow(2, float64(attempt-1)))
	return Decision{Action: ActionRetry, Delay: delay}
}

// RateLimitMatcher recognizes provider rate-limit errors (by substring,
// since model adapters surface them as plain errors from their SDKs rather
// than a shared typed error) and always passes through to the next handler.
// It sets Retryable only when err is or wraps an *Error; a plain error is
// left unmarked, so RetryHandler passes it.
type RateLimitMatcher struct{}

func (RateLimitMatcher) Handle(_ context.Context, err error, _ int) Decision {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") {
		if e := FromError(err); e != nil {
			e.Retryable = true
		}
	}
	return Pass
}

// TimeoutMatcher recognizes context.DeadlineExceeded (not cancellation) as a
// distinct, non-retryable class, so a timed-out tool call surfaces as an
// error instead of spinning through the retry budget. With RetryOnTimeout
// it marks the error Retryable, which takes effect only when err is or
// wraps an *Error; a bare deadline error is left unmarked.
type TimeoutMatcher struct {
	RetryOnTimeout bool
}

func (t TimeoutMatcher) Handle(_ context.Context, err error, _ int) Decision {
	if !errors.Is(err, context.DeadlineExceeded) {
		return Pass
	}
	if t.RetryOnTimeout {
		if e := FromError(err); e != nil {
			e.Retryable = true
		}
	}
	return Pass
}

// LoggingHandler records every failure it sees at Warn level and always
// passes, so it can sit anywhere in a Chain purely for observability.
type LoggingHandler struct {
	Log telemetry.Logger
}

func (l LoggingHandler) Handle(ctx context.Context, err error, attempt int) Decision {
	if l.Log != nil {
		l.Log.Warn(ctx, "errorpolicy: handler chain observed failure",
			"attempt", attempt,
			"error", err.Error(),
		)
	}
	return Pass
}

// Default is the terminal handler every Chain should end with: it always
// throws, so an exhausted chain produces a deterministic ActionThrow rather
// than relying on Chain.Handle's implicit fallback.
var Default = HandlerFunc(func(_ context.Context, _ error, _ int) Decision {
	return Decision{Action: ActionThrow}
})
