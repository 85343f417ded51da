package plugin

import (
	"sort"

	"github.com/drblury/funcflow/internal/runtime/function"
)

// Registry holds the plugins of one scope together with the declared pre
// and post hook orders. It is read-only once loaded.
type Registry struct {
	instances map[string]*Instance
	pre       []string
	post      []string
}

// NewRegistry creates a registry with the given hook orders.
func NewRegistry(pre, post []string) *Registry {
	return &Registry{
		instances: make(map[string]*Instance),
		pre:       append([]string(nil), pre...),
		post:      append([]string(nil), post...),
	}
}

// Add stores inst under its name, replacing an earlier instance.
func (r *Registry) Add(inst *Instance) {
	if inst == nil || inst.Plugin == nil {
		return
	}
	r.instances[inst.Name] = inst
}

func (r *Registry) Lookup(name string) (*Instance, bool) {
	if r == nil {
		return nil, false
	}
	inst, ok := r.instances[name]
	return inst, ok
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.instances)
}

// Names returns the loaded plugin names in lexical order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PreHooks returns the loaded plugins in declared pre order. Declared names
// without a loaded plugin are skipped.
func (r *Registry) PreHooks() []*Instance {
	if r == nil {
		return nil
	}
	return r.ordered(r.pre)
}

// PostHooks returns the loaded plugins in declared post order.
func (r *Registry) PostHooks() []*Instance {
	if r == nil {
		return nil
	}
	return r.ordered(r.post)
}

func (r *Registry) ordered(names []string) []*Instance {
	out := make([]*Instance, 0, len(names))
	for _, name := range names {
		if inst, ok := r.instances[name]; ok {
			out = append(out, inst)
		}
	}
	return out
}

// Chain searches several registries in order.
type Chain []*Registry

func (c Chain) Lookup(name string) (*Instance, bool) {
	for _, r := range c {
		if inst, ok := r.Lookup(name); ok {
			return inst, true
		}
	}
	return nil, false
}

// LookupPlugin lets a Chain back function.Context.Plugin.
func (c Chain) LookupPlugin(name string) (function.PluginInstance, bool) {
	inst, ok := c.Lookup(name)
	if !ok {
		return nil, false
	}
	return inst, true
}

var _ function.PluginLookup = Chain(nil)
