package guard

import (
	"context"
	"sync"
)

// Handler executes a query once interception has finished. The terminal
// handler is the backend executor.
type Handler func(ctx context.Context, query string) error

// Interceptor observes a query before execution. An interceptor either
// aborts by returning an error without calling next, or delegates to next
// exactly once and returns its result.
type Interceptor func(ctx context.Context, query string, next Handler) error

// Chain composes interceptors over a terminal executor. The most recently
// installed interceptor runs first; an empty chain runs the executor
// directly. Aborted calls never mutate the chain.
type Chain struct {
	mu      sync.RWMutex
	entries []Interceptor
}

// NewChain creates an empty interceptor chain.
func NewChain() *Chain {
	return &Chain{}
}

// Install wraps the current chain head with ic.
func (c *Chain) Install(ic Interceptor) {
	c.mu.Lock()
	c.entries = append(c.entries, ic)
	c.mu.Unlock()
}

// Remove uninstalls the most recently installed interceptor, restoring
// its predecessor as the chain head. Returns false on an empty chain.
func (c *Chain) Remove() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return false
	}
	c.entries = c.entries[:len(c.entries)-1]
	return true
}

// Len returns the number of installed interceptors.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Run sends query through the installed interceptors and, unless one of
// them aborts, into exec. Interceptors installed while a call is in
// flight do not affect that call.
func (c *Chain) Run(ctx context.Context, query string, exec Handler) error {
	c.mu.RLock()
	entries := c.entries
	c.mu.RUnlock()

	next := exec
	for _, ic := range entries {
		ic, inner := ic, next
		next = func(ctx context.Context, query string) error {
			return ic(ctx, query, inner)
		}
	}
	return next(ctx, query)
}

// Interceptor returns the enforcement interceptor: it evaluates the query
// against the current modes first and delegates only when not blocked.
func (g *Guard) Interceptor() Interceptor {
	return func(ctx context.Context, query string, next Handler) error {
		decision := g.Evaluate(query)
		if decision.Blocked() {
			return decision.Err
		}
		return next(ctx, query)
	}
}
