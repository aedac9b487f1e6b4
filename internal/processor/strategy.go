// Package processor defines the contract between the engine and bot
// strategies, and runs one strategy callback per command.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"smart-trade-bot-go/internal/models"
)

// Strategy is implemented by bot templates. Exactly one callback runs per
// command. Errors are returned to the dispatcher unchanged.
type Strategy interface {
	OnStart(ctx context.Context, c *Context) error
	OnStop(ctx context.Context, c *Context) error
	OnProcess(ctx context.Context, c *Context) error
}

// Factory builds a strategy from the bot's template settings.
type Factory func(settings json.RawMessage) (Strategy, error)

// Registry maps template names to strategy factories.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Factory)}
}

// Register adds a template. A later registration replaces an earlier one.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = factory
}

// Create builds the strategy for template name.
func (r *Registry) Create(name string, settings json.RawMessage) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.strategies[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy template %q: %w", name, models.ErrNotFound)
	}
	return factory(settings)
}

// Names lists registered templates in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
