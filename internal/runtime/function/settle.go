package function

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/drblury/funcflow/internal/runtime/config"
)

// SettleStatus is the outcome of one fan-out target.
type SettleStatus string

const (
	StatusFulfilled SettleStatus = "fulfilled"
	StatusRejected  SettleStatus = "rejected"
)

// Settled is the result of dispatching to one declared output or state store.
type Settled struct {
	Target string
	Status SettleStatus
	Value  any
	Err    error
}

func (s Settled) Fulfilled() bool { return s.Status == StatusFulfilled }

// JoinErrors collects the failures of a fan-out, or returns nil when every
// target was fulfilled.
func JoinErrors(results []Settled) error {
	var errs []error
	for _, r := range results {
		if r.Status == StatusRejected {
			errs = append(errs, fmt.Errorf("%s: %w", r.Target, r.Err))
		}
	}
	return errors.Join(errs...)
}

type target struct {
	name      string
	component *config.Component
}

// selectTargets returns the named component, or every component when name is
// empty, ordered by name.
func selectTargets(components map[string]*config.Component, name string) []target {
	if name != "" {
		c, ok := components[name]
		if !ok {
			return nil
		}
		return []target{{name: name, component: c}}
	}

	targets := make([]target, 0, len(components))
	for n, c := range components {
		targets = append(targets, target{name: n, component: c})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].name < targets[j].name })
	return targets
}

type dispatchFunc func(ctx context.Context, t target) (any, error)

// settleAll runs call for every target concurrently and waits for all of them.
// A failing or panicking target never affects the others.
func settleAll(ctx context.Context, targets []target, call dispatchFunc) []Settled {
	results := make([]Settled, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t target) {
			defer wg.Done()
			results[i] = settle(ctx, t, call)
		}(i, t)
	}
	wg.Wait()
	return results
}

func settle(ctx context.Context, t target, call dispatchFunc) (result Settled) {
	result.Target = t.name
	defer func() {
		if r := recover(); r != nil {
			result.Status = StatusRejected
			result.Value = nil
			result.Err = fmt.Errorf("panic: %v", r)
		}
	}()

	value, err := call(ctx, t)
	if err != nil {
		result.Status = StatusRejected
		result.Err = err
		return result
	}
	result.Status = StatusFulfilled
	result.Value = value
	return result
}
