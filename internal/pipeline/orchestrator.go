package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Backend is one capability in a fallback chain. Both transcription
// and guide-generation backends satisfy it structurally.
type Backend[I, O any] interface {
	Name() string
	Available() bool
	Timeout() time.Duration
	Invoke(ctx context.Context, in I) (O, error)
}

// Attempt records the outcome of trying one backend in a chain.
type Attempt struct {
	Backend string
	Err     error
	Elapsed time.Duration
	Skipped bool
}

// ExhaustedError reports that every backend in a chain was tried and
// none produced a result.
type ExhaustedError struct {
	Stage    string
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	var parts []string
	for _, attempt := range e.Attempts {
		if attempt.Skipped {
			parts = append(parts, attempt.Backend+": unavailable")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %v", attempt.Backend, attempt.Err))
	}
	return fmt.Sprintf("%s: all %d backends exhausted (%s)", e.Stage, len(e.Attempts), strings.Join(parts, "; "))
}

func (e *ExhaustedError) Unwrap() []error {
	var errs []error
	for _, attempt := range e.Attempts {
		if attempt.Err != nil {
			errs = append(errs, attempt.Err)
		}
	}
	return errs
}

// RunChain tries each backend in order and returns the first result.
// Unavailable backends are skipped, failing ones advance the chain,
// and each attempt runs under the backend's own timeout when it
// declares one. Cancellation of ctx aborts the whole chain rather
// than advancing it.
func RunChain[I, O any, B Backend[I, O]](ctx context.Context, stage string, backends []B, in I, logger *zap.Logger) (O, string, []Attempt, error) {
	var zero O
	attempts := make([]Attempt, 0, len(backends))

	for _, backend := range backends {
		if err := ctx.Err(); err != nil {
			return zero, "", attempts, err
		}

		if !backend.Available() {
			logger.Info("backend unavailable, skipping",
				zap.String("stage", stage),
				zap.String("backend", backend.Name()))
			attempts = append(attempts, Attempt{Backend: backend.Name(), Skipped: true})
			continue
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if timeout := backend.Timeout(); timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		logger.Info("trying backend",
			zap.String("stage", stage),
			zap.String("backend", backend.Name()))

		start := time.Now()
		out, err := backend.Invoke(attemptCtx, in)
		elapsed := time.Since(start)
		cancel()

		if err == nil {
			logger.Info("backend succeeded",
				zap.String("stage", stage),
				zap.String("backend", backend.Name()),
				zap.Duration("elapsed", elapsed))
			attempts = append(attempts, Attempt{Backend: backend.Name(), Elapsed: elapsed})
			return out, backend.Name(), attempts, nil
		}

		if ctx.Err() != nil {
			return zero, "", attempts, ctx.Err()
		}

		logger.Warn("backend failed, falling back",
			zap.String("stage", stage),
			zap.String("backend", backend.Name()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		attempts = append(attempts, Attempt{Backend: backend.Name(), Err: err, Elapsed: elapsed})
	}

	return zero, "", attempts, &ExhaustedError{Stage: stage, Attempts: attempts}
}
