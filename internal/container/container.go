package container

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/kingrea/orchestra/internal/config"
)

var (
	// ErrNotFound reports that no component matches a lookup.
	ErrNotFound = errors.New("container: component not found")
	// ErrAmbiguous reports that a type lookup matched more than one component.
	ErrAmbiguous = errors.New("container: ambiguous component type")
)

// Provider lazily builds a component. It runs at most once per container.
type Provider func(*Container) (any, error)

type entry struct {
	name     string
	typ      reflect.Type
	provider Provider

	once  sync.Once
	value any
	err   error
}

func (e *entry) get(c *Container) (any, error) {
	e.once.Do(func() {
		value, err := e.provider(c)
		if err == nil && value == nil {
			err = fmt.Errorf("container: provider for %s returned nil", e.name)
		}
		e.value, e.err = value, err
	})
	return e.value, e.err
}

// Container is the host registry of named singletons plus the property
// snapshot the application started with.
type Container struct {
	props config.Snapshot

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// New returns an empty container backed by props.
func New(props config.Snapshot) *Container {
	return &Container{props: props, entries: map[string]*entry{}}
}

// Register installs an already built component under name.
func (c *Container) Register(name string, value any) error {
	if value == nil {
		return fmt.Errorf("container: component %s is nil", name)
	}
	return c.add(name, reflect.TypeOf(value), func(*Container) (any, error) { return value, nil })
}

// MustRegister panics if registration fails.
func (c *Container) MustRegister(name string, value any) {
	if err := c.Register(name, value); err != nil {
		panic(err)
	}
}

// Provide installs a lazily built singleton. typ is the type the provider
// promises to return; type lookups match against it before the component is
// built.
func (c *Container) Provide(name string, typ reflect.Type, provider Provider) error {
	if typ == nil {
		return fmt.Errorf("container: type is required for %s", name)
	}
	if provider == nil {
		return fmt.Errorf("container: provider is required for %s", name)
	}
	return c.add(name, typ, provider)
}

func (c *Container) add(name string, typ reflect.Type, provider Provider) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("container: name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[name]; exists {
		return fmt.Errorf("container: %s already registered", name)
	}
	c.entries[name] = &entry{name: name, typ: typ, provider: provider}
	c.order = append(c.order, name)
	return nil
}

// Has reports whether a component is registered under name.
func (c *Container) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[strings.TrimSpace(name)]
	return ok
}

// ResolveByName returns the component registered under name, building it on
// first use.
func (c *Container) ResolveByName(name string) (any, error) {
	c.mu.RLock()
	e, ok := c.entries[strings.TrimSpace(name)]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("container: name %q: %w", name, ErrNotFound)
	}
	return e.get(c)
}

// ResolveByType returns the single component assignable to typ. An exact
// type match wins over interface implementations.
func (c *Container) ResolveByType(typ reflect.Type) (any, error) {
	if typ == nil {
		return nil, fmt.Errorf("container: type is required")
	}
	c.mu.RLock()
	var exact, assignable []*entry
	for _, name := range c.order {
		e := c.entries[name]
		switch {
		case e.typ == typ:
			exact = append(exact, e)
		case e.typ.AssignableTo(typ):
			assignable = append(assignable, e)
		}
	}
	c.mu.RUnlock()
	candidates := exact
	if len(candidates) == 0 {
		candidates = assignable
	}
	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("container: type %s: %w", typ, ErrNotFound)
	case 1:
		return candidates[0].get(c)
	default:
		names := make([]string, len(candidates))
		for i, e := range candidates {
			names[i] = e.name
		}
		return nil, fmt.Errorf("container: type %s matches %s: %w", typ, strings.Join(names, ", "), ErrAmbiguous)
	}
}

// Property reads a property from the startup snapshot.
func (c *Container) Property(key, def string) string {
	return c.props.Get(key, def)
}

// Properties returns the snapshot the container was built with.
func (c *Container) Properties() config.Snapshot {
	return c.props
}

// Names returns the sorted component names.
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TypeOf returns the declared type of a named component.
func (c *Container) TypeOf(name string) (reflect.Type, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[strings.TrimSpace(name)]
	if !ok {
		return nil, false
	}
	return e.typ, true
}
