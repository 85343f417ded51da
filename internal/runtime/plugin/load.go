package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/drblury/funcflow/internal/runtime/config"
	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/loader"
	"github.com/drblury/funcflow/internal/runtime/logging"
)

// Dir is the directory below the code location scanned for plugin modules.
const Dir = "plugins"

// Exports read from a plugin module.
const (
	ExportName    = "Name"
	ExportVersion = "Version"
	ExportNew     = "New"
)

type loadOptions struct {
	loader   loader.ModuleLoader
	logger   logging.ServiceLogger
	discover bool
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithModuleLoader sets the loader used to read plugin modules during discovery.
func WithModuleLoader(l loader.ModuleLoader) LoadOption {
	return func(o *loadOptions) { o.loader = l }
}

func WithLogger(log logging.ServiceLogger) LoadOption {
	return func(o *loadOptions) { o.logger = log }
}

// WithoutDiscovery limits Load to the host manifest.
func WithoutDiscovery() LoadOption {
	return func(o *loadOptions) { o.discover = false }
}

// Load builds the user plugin registry for conf. Factories come from the host
// manifest and from modules discovered under {codeLocation}/plugins, with
// the manifest taking precedence. Load never fails: plugins that cannot be
// found, created or initialised are logged and left out.
func Load(ctx context.Context, codeLocation string, conf *config.Function, manifest Manifest, opts ...LoadOption) *Registry {
	o := loadOptions{loader: loader.SharedObjectLoader{}, discover: true}
	for _, opt := range opts {
		opt(&o)
	}
	log := logging.OrDiscard(o.logger)

	if conf == nil || !conf.HasPlugins() {
		return NewRegistry(nil, nil)
	}
	reg := NewRegistry(conf.PrePlugins, conf.PostPlugins)

	factories := manifest
	if o.discover {
		factories = manifest.Merge(Discover(ctx, filepath.Join(codeLocation, Dir), o.loader, log))
	}

	for _, name := range conf.PluginNames() {
		factory, ok := factories[name]
		if !ok {
			log.Info("Plugin not found, skipping", logging.LogFields{"plugin": name})
			continue
		}
		inst, err := instantiate(ctx, name, factory)
		if err != nil {
			log.Error("Failed to load plugin", err, logging.LogFields{"plugin": name})
			continue
		}
		reg.Add(inst)
		log.Debug("Plugin loaded", logging.LogFields{"plugin": inst.Name, "version": inst.Version})
	}
	return reg
}

func instantiate(ctx context.Context, name string, factory Factory) (inst *Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst, err = nil, fmt.Errorf("%w: %s: panic: %v", errspkg.ErrPluginInstantiation, name, r)
		}
	}()

	if factory.New == nil {
		return nil, fmt.Errorf("%w: %s: no constructor", errspkg.ErrPluginInstantiation, name)
	}
	p, err := factory.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errspkg.ErrPluginInstantiation, name, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s: constructor returned nil", errspkg.ErrPluginInstantiation, name)
	}

	version := factory.Version
	if version == "" {
		version = DefaultVersion
	}
	if err := p.Init(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: init: %w", errspkg.ErrPluginInstantiation, name, err)
	}
	return &Instance{Plugin: p, Name: name, Version: version}, nil
}

// Discover loads every module in dir and returns the factories of those
// exporting a Name and a New constructor. A missing directory yields an
// empty manifest; unreadable modules are logged and skipped.
func Discover(ctx context.Context, dir string, l loader.ModuleLoader, log logging.ServiceLogger) Manifest {
	log = logging.OrDiscard(log)
	manifest := Manifest{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Error("Failed to read plugin directory", err, logging.LogFields{"dir": dir})
		}
		return manifest
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		factory, err := discoverOne(ctx, path, l)
		if err != nil {
			log.Error("Skipping plugin module", err, logging.LogFields{"path": path})
			continue
		}
		if factory.Name == "" {
			continue
		}
		manifest[factory.Name] = factory
	}
	return manifest
}

func discoverOne(ctx context.Context, path string, l loader.ModuleLoader) (f Factory, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while loading %s: %v", path, r)
		}
	}()

	module, err := l.Load(ctx, path)
	if err != nil {
		return Factory{}, err
	}
	name, _ := module[ExportName].(string)
	if name == "" {
		return Factory{}, nil
	}
	version, _ := module[ExportVersion].(string)

	newFn, err := constructor(module[ExportNew])
	if err != nil {
		return Factory{}, fmt.Errorf("plugin %s: %w", name, err)
	}
	return Factory{Name: name, Version: version, New: newFn}, nil
}

func constructor(v any) (func() (Plugin, error), error) {
	switch fn := v.(type) {
	case func() (Plugin, error):
		return fn, nil
	case func() Plugin:
		return func() (Plugin, error) { return fn(), nil }, nil
	case nil:
		return nil, fmt.Errorf("missing %s export", ExportNew)
	default:
		return nil, fmt.Errorf("%s has type %T", ExportNew, v)
	}
}
