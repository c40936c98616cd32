package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

// EscalationRequest asks the escalation collaborator to re-read one page.
type EscalationRequest struct {
	PageID   string
	ImageRef string
	Reasons  []string
}

// EscalationResult is what the collaborator returns. Success=false is a
// failure even when no error was returned.
type EscalationResult struct {
	Lines   []LineRecord
	Success bool
	Message string
}

// Escalator is the expensive fallback recognizer.
type Escalator interface {
	Escalate(ctx context.Context, req EscalationRequest) (*EscalationResult, error)
}

// EscalatorFunc adapts a function to Escalator.
type EscalatorFunc func(ctx context.Context, req EscalationRequest) (*EscalationResult, error)

func (f EscalatorFunc) Escalate(ctx context.Context, req EscalationRequest) (*EscalationResult, error) {
	return f(ctx, req)
}

// escalationOutcome is fed back into the page run after the call.
type escalationOutcome struct {
	reserved bool
	result   *EscalationResult
	attempts int
	err      error
}

// callEscalator runs the collaborator with a per-attempt timeout and a single
// retry. It never blocks past timeout*2 + retryDelay, and returns as soon as
// ctx is cancelled, abandoning the in-flight attempt.
func callEscalator(ctx context.Context, esc Escalator, req EscalationRequest, timeout, retryDelay time.Duration, logger *slog.Logger) (*EscalationResult, int, error) {
	attempts := 0
	result, err := retry.DoWithData(
		func() (*EscalationResult, error) {
			attempts++
			return attemptEscalation(ctx, esc, req, timeout)
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && !errors.Is(err, ErrEscalationCancelled)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("escalation attempt failed, retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, attempts, fmt.Errorf("%w: %v", ErrEscalationCancelled, ctx.Err())
		}
		return nil, attempts, err
	}
	return result, attempts, nil
}

func attemptEscalation(ctx context.Context, esc Escalator, req EscalationRequest, timeout time.Duration) (*EscalationResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		result *EscalationResult
		err    error
	}
	// Buffered so an abandoned call does not leak a blocked goroutine.
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- reply{err: fmt.Errorf("escalator panicked: %v", p)}
			}
		}()
		res, err := esc.Escalate(attemptCtx, req)
		done <- reply{res, err}
	}()

	select {
	case r := <-done:
		switch {
		case r.err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
			return nil, fmt.Errorf("%w after %s: %v", ErrEscalationTimeout, timeout, r.err)
		case r.err != nil:
			return nil, fmt.Errorf("%w: %v", ErrEscalationFailed, r.err)
		case r.result == nil:
			return nil, fmt.Errorf("%w: empty result", ErrEscalationFailed)
		case !r.result.Success:
			msg := r.result.Message
			if msg == "" {
				msg = "collaborator reported failure"
			}
			return nil, fmt.Errorf("%w: %s", ErrEscalationFailed, msg)
		}
		return r.result, nil
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrEscalationCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("%w after %s", ErrEscalationTimeout, timeout)
	}
}
