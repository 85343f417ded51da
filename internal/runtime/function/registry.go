package function

import "sync"

// Registry holds functions registered declaratively by target name. User
// code registers from init functions; the resolver consults the registry
// before walking the loaded module.
type Registry struct {
	mu        sync.RWMutex
	functions map[string]Handler
}

// DefaultRegistry is the process-wide function registry.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{functions: make(map[string]Handler)}
}

// Register stores h under target, replacing any earlier registration.
func (r *Registry) Register(target string, h Handler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[target] = h
}

func (r *Registry) Lookup(target string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.functions[target]
	return h, ok
}

// Register adds h to DefaultRegistry.
func Register(target string, h Handler) {
	DefaultRegistry.Register(target, h)
}
