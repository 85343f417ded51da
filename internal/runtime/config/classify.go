package config

import "strings"

// ComponentCategory is the leading segment of a component type tag.
type ComponentCategory string

const (
	CategoryBindings ComponentCategory = "bindings"
	CategoryPubSub   ComponentCategory = "pubsub"
	CategoryState    ComponentCategory = "state"
)

// Category returns the part of ComponentType before the first dot.
func (c *Component) Category() ComponentCategory {
	if c == nil {
		return ""
	}
	category, _, _ := strings.Cut(c.ComponentType, ".")
	return ComponentCategory(category)
}

func IsBindingComponent(c *Component) bool { return c.Category() == CategoryBindings }

func IsPubSubComponent(c *Component) bool { return c.Category() == CategoryPubSub }

func IsStateComponent(c *Component) bool { return c.Category() == CategoryState }

// IsKnativeRuntime matches the synchronous HTTP runtime, ignoring case.
func IsKnativeRuntime(kind RuntimeKind) bool {
	return strings.EqualFold(string(kind), string(RuntimeKnative))
}

// IsAsyncRuntime matches the event-driven runtime, ignoring case.
func IsAsyncRuntime(kind RuntimeKind) bool {
	return strings.EqualFold(string(kind), string(RuntimeAsync))
}

func (f *Function) IsKnativeRuntime() bool { return f != nil && IsKnativeRuntime(f.Runtime) }

func (f *Function) IsAsyncRuntime() bool { return f != nil && IsAsyncRuntime(f.Runtime) }
