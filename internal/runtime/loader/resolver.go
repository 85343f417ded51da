// Package loader resolves the user function from a code location and a
// dotted target path.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/drblury/funcflow/internal/runtime/config"
	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/function"
	"github.com/drblury/funcflow/internal/runtime/logging"
)

const (
	// DefaultFallbackFile is tried inside codeLocation when it is not a file.
	DefaultFallbackFile = "function.so"
	// FallbackExport is used when the target path does not exist in the module.
	FallbackExport = "function"

	hintModuleNotFound = "Are all shared libraries the module depends on installed, and does the file exist?"
	hintBuildError     = "Was the module built with the same Go toolchain and dependency versions as the runtime?"
)

// ResolutionError describes why a function could not be resolved. Kind is
// one of the resolution sentinels and matches with errors.Is.
type ResolutionError struct {
	Kind   error
	Target string
	Path   string
	Hint   string
	Err    error
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Target != "" {
		fmt.Fprintf(&b, ": target %q", e.Target)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " in %s", e.Path)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Hint != "" {
		b.WriteString(" (" + e.Hint + ")")
	}
	return b.String()
}

func (e *ResolutionError) Is(target error) bool { return target == e.Kind }

func (e *ResolutionError) Unwrap() error { return e.Err }

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithFormatLoader replaces the loader used for modules of the given format.
func WithFormatLoader(f Format, l ModuleLoader) ResolverOption {
	return func(r *Resolver) { r.loaders[f] = l }
}

func WithRegistry(reg *function.Registry) ResolverOption {
	return func(r *Resolver) { r.registry = reg }
}

// WithHostVersion overrides the runtime version checked before loading ES modules.
func WithHostVersion(v string) ResolverOption {
	return func(r *Resolver) { r.hostVersion = v }
}

func WithMinVersion(v string) ResolverOption {
	return func(r *Resolver) { r.minVersion = v }
}

func WithFallbackFile(name string) ResolverOption {
	return func(r *Resolver) { r.fallbackFile = name }
}

func WithLogger(log logging.ServiceLogger) ResolverOption {
	return func(r *Resolver) { r.logger = log }
}

// Resolver turns a code location and target into a function.Handler.
type Resolver struct {
	loaders      map[Format]ModuleLoader
	registry     *function.Registry
	hostVersion  string
	minVersion   string
	fallbackFile string
	logger       logging.ServiceLogger
}

func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		loaders: map[Format]ModuleLoader{
			FormatClassic:  SharedObjectLoader{},
			FormatESModule: AsyncLoader{Loader: SharedObjectLoader{}},
		},
		registry:     function.DefaultRegistry,
		hostVersion:  goVersion(goruntime.Version()),
		minVersion:   config.DefaultESModuleMinVersion,
		fallbackFile: DefaultFallbackFile,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDiscard(r.logger)
	return r
}

// Resolve locates, loads and walks the module. Every failure is logged and
// returned as a *ResolutionError; Resolve never panics.
func (r *Resolver) Resolve(ctx context.Context, codeLocation, target string) (function.Handler, error) {
	h, err := r.resolve(ctx, codeLocation, target)
	if err != nil {
		r.logger.Error("Failed to resolve function", err, logging.LogFields{
			"code_location": codeLocation,
			"target":        target,
		})
		return nil, err
	}
	return h, nil
}

func (r *Resolver) resolve(ctx context.Context, codeLocation, target string) (function.Handler, error) {
	if r.registry != nil {
		if h, ok := r.registry.Lookup(target); ok {
			return h, nil
		}
	}

	path, ok := r.locate(codeLocation)
	if !ok {
		return nil, &ResolutionError{Kind: errspkg.ErrModuleNotLoadable, Path: codeLocation}
	}

	format, err := DetectFormat(path)
	if err != nil {
		return nil, &ResolutionError{Kind: errspkg.ErrLoadFailure, Path: path, Err: err}
	}
	if format == FormatESModule && !r.supportsESModules() {
		return nil, &ResolutionError{
			Kind: errspkg.ErrUnsupportedRuntime,
			Path: path,
			Err:  fmt.Errorf("cannot load ES module on runtime %s", r.hostVersion),
			Hint: "Please upgrade to " + r.minVersion + " and up.",
		}
	}

	module, err := r.load(ctx, format, path)
	if err != nil {
		return nil, &ResolutionError{Kind: errspkg.ErrLoadFailure, Path: path, Err: err, Hint: loadHint(err)}
	}

	// Loading runs the module's init functions, which may register the target.
	if r.registry != nil {
		if h, ok := r.registry.Lookup(target); ok {
			return h, nil
		}
	}

	value, found := walk(module, target)
	if !found {
		value, found = module[FallbackExport]
	}
	if !found {
		return nil, &ResolutionError{
			Kind:   errspkg.ErrTargetNotDefined,
			Target: target,
			Path:   path,
			Hint:   "Did you specify the correct target function to execute?",
		}
	}

	h, ok := asHandler(value)
	if !ok {
		return nil, &ResolutionError{
			Kind:   errspkg.ErrTargetNotCallable,
			Target: target,
			Path:   path,
			Err:    fmt.Errorf("got %T", value),
		}
	}
	return h, nil
}

func (r *Resolver) locate(codeLocation string) (string, bool) {
	if isFile(codeLocation) {
		return codeLocation, true
	}
	if r.fallbackFile == "" {
		return "", false
	}
	fallback := filepath.Join(codeLocation, r.fallbackFile)
	if isFile(fallback) {
		return fallback, true
	}
	return "", false
}

func (r *Resolver) supportsESModules() bool {
	if !semver.IsValid(r.hostVersion) || !semver.IsValid(r.minVersion) {
		return true
	}
	return semver.Compare(r.hostVersion, r.minVersion) >= 0
}

func (r *Resolver) load(ctx context.Context, format Format, path string) (module Module, err error) {
	l, ok := r.loaders[format]
	if !ok || l == nil {
		return nil, fmt.Errorf("no loader registered for %s modules", format)
	}
	defer func() {
		if p := recover(); p != nil {
			module, err = nil, fmt.Errorf("panic while loading %s: %v", path, p)
		}
	}()
	module, err = l.Load(ctx, path)
	if err == nil && module == nil {
		module = Module{}
	}
	return module, err
}

func walk(module Module, target string) (any, bool) {
	var current any = module
	for _, part := range strings.Split(target, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case Module:
		return m, true
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}

func asHandler(v any) (function.Handler, bool) {
	switch h := v.(type) {
	case function.Handler:
		return h, h != nil
	case func(context.Context, *function.Context, []byte) error:
		return h, h != nil
	default:
		return nil, false
	}
}

func loadHint(err error) string {
	if errors.Is(err, os.ErrNotExist) {
		return hintModuleNotFound
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "no such file") || strings.Contains(msg, "cannot open shared object") || strings.Contains(msg, "not found") {
		return hintModuleNotFound
	}
	return hintBuildError
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// goVersion converts "go1.22.3" into the semver "v1.22.3".
func goVersion(v string) string {
	return "v" + strings.TrimPrefix(v, "go")
}
