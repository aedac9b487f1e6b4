package processor

import (
	"context"
	"fmt"
)

// Runner invokes the strategy callback matching a context's command.
type Runner struct {
	strategy Strategy
}

// NewRunner wraps strategy.
func NewRunner(strategy Strategy) *Runner {
	return &Runner{strategy: strategy}
}

// Start runs OnStart.
func (r *Runner) Start(ctx context.Context, c *Context) error {
	return r.strategy.OnStart(ctx, c)
}

// Stop runs OnStop.
func (r *Runner) Stop(ctx context.Context, c *Context) error {
	return r.strategy.OnStop(ctx, c)
}

// Process runs OnProcess.
func (r *Runner) Process(ctx context.Context, c *Context) error {
	return r.strategy.OnProcess(ctx, c)
}

// Run dispatches on c.Command.
func (r *Runner) Run(ctx context.Context, c *Context) error {
	switch c.Command {
	case CommandStart:
		return r.Start(ctx, c)
	case CommandStop:
		return r.Stop(ctx, c)
	case CommandProcess:
		return r.Process(ctx, c)
	}
	return fmt.Errorf("unknown command %q", c.Command)
}
