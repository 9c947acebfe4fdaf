// Package tools holds the named metered operations. Each tool runs behind
// its own circuit breaker so a flapping tool degrades alone instead of
// taking the pipeline with it.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sony/gobreaker"
)

var ErrUnknownTool = errors.New("unknown tool")

type Handler func(ctx context.Context, prompt string) (string, error)

type Registry struct {
	handlers map[string]Handler
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (r *Registry) Register(name string, h Handler) {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	r.handlers[name] = h
	r.breakers[name] = gobreaker.NewCircuitBreaker(settings)
}

// Execute runs the named tool through its breaker. An open breaker surfaces
// as an error like any other tool failure; the recorder logs it as a failed
// attempt.
func (r *Registry) Execute(ctx context.Context, name, prompt string) (string, error) {
	h, ok := r.handlers[name]
	if !ok {
		return "", ErrUnknownTool
	}

	cb := r.breakers[name]
	result, err := cb.Execute(func() (interface{}, error) {
		return h(ctx, prompt)
	})
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}

	return result.(string), nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
