package resolver

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// ErrTypeNotFound reports a name no type was registered under.
var ErrTypeNotFound = errors.New("resolver: type not found")

// TypeLoader maps a name written in a definition to a Go type.
type TypeLoader interface {
	Load(name string) (reflect.Type, error)
}

// TypeRegistry is an explicit name -> type table.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: map[string]reflect.Type{}}
}

// Register records the dynamic type of sample under name. Pass a typed nil
// pointer to register an interface, e.g. (*Greeter)(nil).
func (r *TypeRegistry) Register(name string, sample any) error {
	if sample == nil {
		return fmt.Errorf("resolver: sample for %s is nil", name)
	}
	typ := reflect.TypeOf(sample)
	if typ.Kind() == reflect.Pointer && typ.Elem().Kind() == reflect.Interface {
		typ = typ.Elem()
	}
	return r.RegisterType(name, typ)
}

// RegisterType records typ under name.
func (r *TypeRegistry) RegisterType(name string, typ reflect.Type) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("resolver: type name is required")
	}
	if typ == nil {
		return fmt.Errorf("resolver: type for %s is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.types[name]; ok && existing != typ {
		return fmt.Errorf("resolver: %s already registered as %s", name, existing)
	}
	r.types[name] = typ
	return nil
}

// RegisterGoType records typ under its Go spelling (for example
// "*payments.Charger") and under name when name is not empty.
func (r *TypeRegistry) RegisterGoType(name string, typ reflect.Type) error {
	if typ == nil {
		return fmt.Errorf("resolver: type is nil")
	}
	if err := r.RegisterType(typ.String(), typ); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return nil
	}
	return r.RegisterType(name, typ)
}

// MustRegister panics if registration fails.
func (r *TypeRegistry) MustRegister(name string, sample any) {
	if err := r.Register(name, sample); err != nil {
		panic(err)
	}
}

// Load returns the type registered under name.
func (r *TypeRegistry) Load(name string) (reflect.Type, error) {
	r.mu.RLock()
	typ, ok := r.types[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, name)
	}
	return typ, nil
}

// Names returns the sorted registered names.
func (r *TypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
