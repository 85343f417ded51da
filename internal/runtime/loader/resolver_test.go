package loader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/function"
)

type handlerSpy struct {
	name  string
	calls *[]string
}

func (s handlerSpy) handler() function.Handler {
	return func(context.Context, *function.Context, []byte) error {
		*s.calls = append(*s.calls, s.name)
		return nil
	}
}

func staticLoader(module Module, err error) LoaderFunc {
	return func(context.Context, string) (Module, error) { return module, err }
}

func codeDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, DefaultFallbackFile), "")
	return dir
}

func newTestResolver(module Module, err error, opts ...ResolverOption) *Resolver {
	base := []ResolverOption{
		WithFormatLoader(FormatClassic, staticLoader(module, err)),
		WithFormatLoader(FormatESModule, staticLoader(module, err)),
		WithRegistry(function.NewRegistry()),
	}
	return NewResolver(append(base, opts...)...)
}

func call(t *testing.T, h function.Handler) {
	t.Helper()
	require.NotNil(t, h)
	require.NoError(t, h(context.Background(), nil, nil))
}

func TestResolveWalksNestedTarget(t *testing.T) {
	var calls []string
	module := Module{
		"a": map[string]any{
			"b": Module{"c": handlerSpy{name: "a.b.c", calls: &calls}.handler()},
		},
		"function": handlerSpy{name: "fallback", calls: &calls}.handler(),
	}

	h, err := newTestResolver(module, nil).Resolve(context.Background(), codeDir(t), "a.b.c")
	require.NoError(t, err)
	call(t, h)
	assert.Equal(t, []string{"a.b.c"}, calls)
}

func TestResolveAcceptsPlainFuncLiteral(t *testing.T) {
	called := false
	module := Module{"hello": func(context.Context, *function.Context, []byte) error {
		called = true
		return nil
	}}

	h, err := newTestResolver(module, nil).Resolve(context.Background(), codeDir(t), "hello")
	require.NoError(t, err)
	call(t, h)
	assert.True(t, called)
}

func TestResolveFallsBackToFunctionExport(t *testing.T) {
	var calls []string
	module := Module{
		"a":        map[string]any{"x": 1},
		"function": handlerSpy{name: "fallback", calls: &calls}.handler(),
	}

	h, err := newTestResolver(module, nil).Resolve(context.Background(), codeDir(t), "a.b.c")
	require.NoError(t, err)
	call(t, h)
	assert.Equal(t, []string{"fallback"}, calls)
}

func TestResolveRegisteredFunctionWins(t *testing.T) {
	var calls []string
	registry := function.NewRegistry()
	registry.Register("hello", handlerSpy{name: "registered", calls: &calls}.handler())
	module := Module{"hello": handlerSpy{name: "module", calls: &calls}.handler()}

	h, err := newTestResolver(module, nil, WithRegistry(registry)).Resolve(context.Background(), codeDir(t), "hello")
	require.NoError(t, err)
	call(t, h)
	assert.Equal(t, []string{"registered"}, calls)
}

func TestResolveRegisteredFunctionWithoutModule(t *testing.T) {
	var calls []string
	registry := function.NewRegistry()
	registry.Register("hello", handlerSpy{name: "registered", calls: &calls}.handler())

	h, err := NewResolver(WithRegistry(registry)).Resolve(context.Background(), t.TempDir(), "hello")
	require.NoError(t, err)
	call(t, h)
	assert.Equal(t, []string{"registered"}, calls)
}

func TestResolveFunctionRegisteredWhileLoading(t *testing.T) {
	var calls []string
	registry := function.NewRegistry()
	r := NewResolver(
		WithRegistry(registry),
		WithFormatLoader(FormatClassic, LoaderFunc(func(context.Context, string) (Module, error) {
			registry.Register("hello", handlerSpy{name: "init", calls: &calls}.handler())
			return Module{}, nil
		})),
	)

	h, err := r.Resolve(context.Background(), codeDir(t), "hello")
	require.NoError(t, err)
	call(t, h)
	assert.Equal(t, []string{"init"}, calls)
}

func TestResolveUsesCodeLocationFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "handler.so")
	writeFile(t, path, "")

	var loaded string
	r := NewResolver(
		WithRegistry(function.NewRegistry()),
		WithFormatLoader(FormatClassic, LoaderFunc(func(_ context.Context, p string) (Module, error) {
			loaded = p
			return Module{"function": function.Handler(func(context.Context, *function.Context, []byte) error { return nil })}, nil
		})),
	)
	_, err := r.Resolve(context.Background(), path, "function")
	require.NoError(t, err)
	assert.Equal(t, path, loaded)
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name   string
		module Module
		target string
		want   error
	}{
		{name: "missing target", module: Module{"other": 1}, target: "hello", want: errspkg.ErrTargetNotDefined},
		{name: "not callable", module: Module{"hello": "world"}, target: "hello", want: errspkg.ErrTargetNotCallable},
		{name: "fallback not callable", module: Module{"function": 42}, target: "hello", want: errspkg.ErrTargetNotCallable},
		{name: "nil handler", module: Module{"hello": function.Handler(nil)}, target: "hello", want: errspkg.ErrTargetNotCallable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestResolver(tt.module, nil).Resolve(context.Background(), codeDir(t), tt.target)
			require.ErrorIs(t, err, tt.want)

			var resErr *ResolutionError
			require.ErrorAs(t, err, &resErr)
			assert.Equal(t, tt.target, resErr.Target)
		})
	}
}

func TestResolveMissingModule(t *testing.T) {
	_, err := newTestResolver(Module{}, nil).Resolve(context.Background(), t.TempDir(), "hello")
	require.ErrorIs(t, err, errspkg.ErrModuleNotLoadable)
}

func TestResolveLoadFailureHints(t *testing.T) {
	_, err := newTestResolver(nil, fmt.Errorf("open lib.so: %w", errors.New("cannot open shared object file"))).
		Resolve(context.Background(), codeDir(t), "hello")
	require.ErrorIs(t, err, errspkg.ErrLoadFailure)
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, hintModuleNotFound, resErr.Hint)

	_, err = newTestResolver(nil, errors.New("plugin was built with a different version of package x")).
		Resolve(context.Background(), codeDir(t), "hello")
	require.ErrorIs(t, err, errspkg.ErrLoadFailure)
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, hintBuildError, resErr.Hint)
}

func TestResolveRecoversLoaderPanic(t *testing.T) {
	r := NewResolver(
		WithRegistry(function.NewRegistry()),
		WithFormatLoader(FormatClassic, LoaderFunc(func(context.Context, string) (Module, error) {
			panic("boom")
		})),
	)
	_, err := r.Resolve(context.Background(), codeDir(t), "hello")
	require.ErrorIs(t, err, errspkg.ErrLoadFailure)
	assert.Contains(t, err.Error(), "boom")
}

func TestResolveESModuleRuntimeGate(t *testing.T) {
	dir := codeDir(t)
	writeFile(t, filepath.Join(dir, "package.json"), `{"type":"module"}`)
	module := Module{"function": function.Handler(func(context.Context, *function.Context, []byte) error { return nil })}

	_, err := newTestResolver(module, nil, WithHostVersion("v1.20.0"), WithMinVersion("v1.21.0")).
		Resolve(context.Background(), dir, "hello")
	require.ErrorIs(t, err, errspkg.ErrUnsupportedRuntime)

	h, err := newTestResolver(module, nil, WithHostVersion("v1.22.3"), WithMinVersion("v1.21.0")).
		Resolve(context.Background(), dir, "hello")
	require.NoError(t, err)
	assert.NotNil(t, h)
}

func TestGoVersion(t *testing.T) {
	assert.Equal(t, "v1.22.3", goVersion("go1.22.3"))
}

func TestAsyncLoaderHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	blocking := LoaderFunc(func(context.Context, string) (Module, error) {
		<-release
		return Module{}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := AsyncLoader{Loader: blocking}.Load(ctx, "x.so")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	module, err := AsyncLoader{Loader: staticLoader(Module{"a": 1}, nil)}.Load(context.Background(), "x.so")
	require.NoError(t, err)
	assert.Equal(t, 1, module["a"])
}

func TestSharedObjectLoaderRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.so")
	writeFile(t, path, "not an elf file")

	_, err := SharedObjectLoader{}.Load(context.Background(), path)
	require.Error(t, err)
}
