package loader

import (
	"context"
	"errors"
	"fmt"
	goplugin "plugin"
)

// ExportsSymbol is the symbol a shared-object module exports its values under.
const ExportsSymbol = "Exports"

// Module holds the exported values of a loaded module. Nested maps model
// namespaces, so the target "a.b.c" resolves through Module["a"]["b"]["c"].
type Module map[string]any

// ModuleLoader loads the module stored at path.
type ModuleLoader interface {
	Load(ctx context.Context, path string) (Module, error)
}

// LoaderFunc adapts a function to a ModuleLoader.
type LoaderFunc func(ctx context.Context, path string) (Module, error)

func (f LoaderFunc) Load(ctx context.Context, path string) (Module, error) {
	return f(ctx, path)
}

// SharedObjectLoader opens Go plugins built with -buildmode=plugin and reads
// their Exports variable.
type SharedObjectLoader struct{}

func (SharedObjectLoader) Load(_ context.Context, path string) (Module, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	sym, err := p.Lookup(ExportsSymbol)
	if err != nil {
		return nil, err
	}
	switch exports := sym.(type) {
	case *Module:
		return *exports, nil
	case *map[string]any:
		return Module(*exports), nil
	default:
		return nil, fmt.Errorf("symbol %s has type %T, want map[string]any", ExportsSymbol, sym)
	}
}

// AsyncLoader runs the wrapped loader in its own goroutine and stops waiting
// when ctx is done.
type AsyncLoader struct {
	Loader ModuleLoader
}

func (a AsyncLoader) Load(ctx context.Context, path string) (Module, error) {
	if a.Loader == nil {
		return nil, errors.New("async loader has no module loader")
	}
	type result struct {
		module Module
		err    error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		defer func() {
			if p := recover(); p != nil {
				r = result{err: fmt.Errorf("panic while loading %s: %v", path, p)}
			}
			done <- r
		}()
		r.module, r.err = a.Loader.Load(ctx, path)
	}()

	select {
	case r := <-done:
		return r.module, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
