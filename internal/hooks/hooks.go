// Package hooks provides the execution hooks dispatched tasks run.
//
// A hook is opaque to the scheduler: it receives the task category and its
// params and reports success plus an arbitrary payload. Returning an error
// and returning Result{OK: false} are treated the same.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"adaptived/internal/task/model"
)

type Result struct {
	OK      bool
	Payload any
}

type Hook interface {
	Execute(ctx context.Context, category model.Category, params model.Params) (Result, error)
}

// Func adapts a plain function to Hook.
type Func func(ctx context.Context, category model.Category, params model.Params) (Result, error)

func (f Func) Execute(ctx context.Context, category model.Category, params model.Params) (Result, error) {
	return f(ctx, category, params)
}

// Registry maps categories to hooks. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	hooks map[model.Category]Hook
}

func NewRegistry() *Registry {
	return &Registry{hooks: make(map[model.Category]Hook)}
}

func (r *Registry) Register(c model.Category, h Hook) error {
	if h == nil {
		return fmt.Errorf("hooks: nil hook for %s", c)
	}
	r.mu.Lock()
	r.hooks[c] = h
	r.mu.Unlock()
	return nil
}

func (r *Registry) Lookup(c model.Category) (Hook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[c]
	return h, ok
}

// Categories returns the registered categories, sorted.
func (r *Registry) Categories() []model.Category {
	r.mu.RLock()
	out := make([]model.Category, 0, len(r.hooks))
	for c := range r.hooks {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RegisterDefaults binds health to system_health and sim to every other category.
func RegisterDefaults(r *Registry, sim, health Hook) error {
	for _, c := range model.Categories() {
		h := sim
		if c == model.CategorySystemHealth && health != nil {
			h = health
		}
		if err := r.Register(c, h); err != nil {
			return err
		}
	}
	return nil
}
