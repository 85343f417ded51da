// Package plugin defines the hook plugins that wrap a user function and the
// registries that hold them.
package plugin

import (
	"context"

	"github.com/drblury/funcflow/internal/runtime/function"
)

// DefaultVersion is assigned to plugins that do not declare a version.
const DefaultVersion = "v1"

// Fields every Instance answers in Get.
const (
	FieldName    = "pluginName"
	FieldVersion = "pluginVersion"
)

// Plugin is a unit of cross-cutting behaviour run around the user function.
// A plugin is created once per process and shared by concurrent invocations,
// so per-invocation state belongs in function.Context.Locals.
type Plugin interface {
	Init(ctx context.Context) error
	ExecPreHook(ctx context.Context, fc *function.Context, plugins Lookup) error
	ExecPostHook(ctx context.Context, fc *function.Context, plugins Lookup) error
	Get(field string) (any, bool)
}

// Base implements every Plugin method as a no-op. Embed it and override the
// hooks you need.
type Base struct{}

func (Base) Init(context.Context) error { return nil }

func (Base) ExecPreHook(context.Context, *function.Context, Lookup) error { return nil }

func (Base) ExecPostHook(context.Context, *function.Context, Lookup) error { return nil }

func (Base) Get(string) (any, bool) { return nil, false }

// Lookup finds loaded plugins by name.
type Lookup interface {
	Lookup(name string) (*Instance, bool)
}

// Instance is a created plugin tagged with its declared name and version.
type Instance struct {
	Plugin
	Name    string
	Version string
}

// Get answers the plugin's own fields first, then its name and version.
func (i *Instance) Get(field string) (any, bool) {
	if i.Plugin != nil {
		if v, ok := i.Plugin.Get(field); ok {
			return v, true
		}
	}
	switch field {
	case FieldName:
		return i.Name, true
	case FieldVersion:
		return i.Version, true
	}
	return nil, false
}

// Factory creates the plugin registered under Name.
type Factory struct {
	Name    string
	Version string
	New     func() (Plugin, error)
}

// Manifest maps plugin names to their factories.
type Manifest map[string]Factory

// NewManifest indexes factories by name. Later factories replace earlier ones.
func NewManifest(factories ...Factory) Manifest {
	m := make(Manifest, len(factories))
	for _, f := range factories {
		m[f.Name] = f
	}
	return m
}

// Merge returns a manifest holding m's entries layered over other's.
func (m Manifest) Merge(other Manifest) Manifest {
	out := make(Manifest, len(m)+len(other))
	for name, f := range other {
		out[name] = f
	}
	for name, f := range m {
		out[name] = f
	}
	return out
}

// Simple wraps a constructor that cannot fail.
func Simple(name, version string, newFn func() Plugin) Factory {
	return Factory{
		Name:    name,
		Version: version,
		New:     func() (Plugin, error) { return newFn(), nil },
	}
}
