package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/flyingrobots/slaps/internal/llm"
	"github.com/flyingrobots/slaps/internal/logger"
)

var (
	ErrTaskTimeout  = errors.New("worker: task execution timed out")
	ErrTaskCanceled = errors.New("worker: task execution canceled")
)

// Executor bounds and classifies one LLM invocation, applying the hard
// guardrail prefix uniformly (spec.md §4.4 step 4).
type Executor struct {
	runner llm.Runner
}

func NewExecutor(runner llm.Runner) *Executor {
	return &Executor{runner: runner}
}

// Execute runs prompt through the LLM runner, bounded by timeout, and
// turns a panicking Runner into an ordinary error so the caller routes
// it exactly like any other failed attempt.
func (e *Executor) Execute(ctx context.Context, issue int, prompt string, timeout time.Duration) (result llm.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.Error().
				Int("issue", issue).
				Interface("panic", r).
				Str("stack", string(stack)).
				Msg("llm runner panicked")
			err = fmt.Errorf("worker: runner panicked: %v", r)
		}
	}()

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := logger.WithIssue(issue)
	start := time.Now()
	result, err = e.runner.Run(taskCtx, llm.GuardrailPrefix+prompt)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Dur("duration", duration).Msg("task timed out")
			return llm.Result{}, ErrTaskTimeout
		}
		if errors.Is(err, context.Canceled) {
			log.Warn().Dur("duration", duration).Msg("task canceled")
			return llm.Result{}, ErrTaskCanceled
		}
		log.Error().Err(err).Dur("duration", duration).Msg("task execution errored")
		return llm.Result{}, err
	}

	log.Debug().Dur("duration", duration).Int("exit_code", result.ExitCode).Msg("task executed")
	return result, nil
}
