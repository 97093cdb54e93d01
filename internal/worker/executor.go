package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/nexusflow/taskqueue/internal/logger"
	"github.com/nexusflow/taskqueue/internal/task"
	"github.com/nexusflow/taskqueue/internal/taskerr"
)

// Handler executes one task kind, returning its opaque result payload or a
// TaskError. Handlers are supplied by the host; the core never interprets
// Payload or Result beyond passing them through. Per the Executor contract,
// handlers must be idempotent (at-least-once delivery) and must surface
// retryable vs. terminal errors via the taskerr taxonomy.
type Handler func(ctx context.Context, t *task.Task) ([]byte, error)

// Executor is the pluggable dispatch table keyed by task.Kind.
type Executor struct {
	handlers map[task.Kind]Handler
}

func NewExecutor(handlers map[task.Kind]Handler) *Executor {
	if handlers == nil {
		handlers = make(map[task.Kind]Handler)
	}
	return &Executor{handlers: handlers}
}

func (e *Executor) RegisterHandler(kind task.Kind, h Handler) {
	e.handlers[kind] = h
}

func (e *Executor) HasHandler(kind task.Kind) bool {
	_, ok := e.handlers[kind]
	return ok
}

func (e *Executor) HandlerTypes() []task.Kind {
	kinds := make([]task.Kind, 0, len(e.handlers))
	for k := range e.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Execute runs the handler registered for t.Type, recovering from panics
// and translating context cancellation into the taskerr taxonomy so the
// retry policy can classify it like any other handler error.
func (e *Executor) Execute(ctx context.Context, t *task.Task) (result []byte, execErr *taskerr.TaskError) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.Error().
				Str("task_id", t.ID).
				Str("type", string(t.Type)).
				Interface("panic", r).
				Str("stack", string(stack)).
				Msg("task handler panicked")
			execErr = taskerr.New(taskerr.TaskExecutionFailed, fmt.Sprintf("handler panicked: %v", r))
		}
	}()

	handler, ok := e.handlers[t.Type]
	if !ok {
		return nil, taskerr.New(taskerr.TaskExecutionFailed, "no handler registered for type "+string(t.Type))
	}

	log := logger.WithTask(t.ID)
	log.Debug().Str("type", string(t.Type)).Int("attempt", t.RetryCount).Msg("executing task")

	start := time.Now()
	result, err := handler(ctx, t)
	duration := time.Since(start)

	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			log.Warn().Dur("duration", duration).Msg("task timed out")
			return nil, taskerr.New(taskerr.TaskTimeout, "execution deadline exceeded")
		case errors.Is(err, context.Canceled):
			log.Warn().Dur("duration", duration).Msg("task canceled")
			return nil, taskerr.New(taskerr.TaskCancelled, "execution canceled")
		}
		if te := taskerr.As(err); te != nil {
			log.Error().Err(err).Dur("duration", duration).Msg("task failed")
			return nil, te
		}
		log.Error().Err(err).Dur("duration", duration).Msg("task failed")
		return nil, taskerr.Wrap(taskerr.TaskExecutionFailed, "handler returned error", err)
	}

	log.Debug().Dur("duration", duration).Msg("task executed successfully")
	return result, nil
}
