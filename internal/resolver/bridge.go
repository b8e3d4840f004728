package resolver

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kingrea/orchestra/internal/logging"
)

// Host is the part of the container the bridge consults.
type Host interface {
	ResolveByType(typ reflect.Type) (any, error)
	ResolveByName(name string) (any, error)
}

// Policy selects what happens when a name does not load as a type.
type Policy int

const (
	// PolicyTypeOnly fails when the name is not a registered type.
	PolicyTypeOnly Policy = iota
	// PolicyTypeThenName falls back to a container lookup by component name.
	PolicyTypeThenName
)

// ParsePolicy reads the orchestra.resolver.policy property.
func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "type-only":
		return PolicyTypeOnly, nil
	case "type-then-name":
		return PolicyTypeThenName, nil
	}
	return PolicyTypeOnly, fmt.Errorf("resolver: unknown policy %q", raw)
}

func (p Policy) String() string {
	if p == PolicyTypeThenName {
		return "type-then-name"
	}
	return "type-only"
}

// ResolutionError reports a name that could not be turned into a component.
type ResolutionError struct {
	Name  string
	Cause error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolver: cannot resolve %q: %v", e.Name, e.Cause)
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// Bridge resolves definition class names against the host container. It
// keeps no cache: every call loads the type and asks the container again.
type Bridge struct {
	host   Host
	types  TypeLoader
	policy Policy
	logger logrus.FieldLogger
}

// Option customizes a bridge.
type Option func(*Bridge)

// WithPolicy selects the fallback policy.
func WithPolicy(p Policy) Option {
	return func(b *Bridge) {
		b.policy = p
	}
}

// WithLogger overrides the default discard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// New wires a bridge to the host container and type loader.
func New(host Host, types TypeLoader, opts ...Option) (*Bridge, error) {
	if host == nil {
		return nil, fmt.Errorf("resolver: host container is required")
	}
	if types == nil {
		return nil, fmt.Errorf("resolver: type loader is required")
	}
	b := &Bridge{host: host, types: types, logger: logging.Discard()}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Access returns the live component for name.
func (b *Bridge) Access(name string) (any, error) {
	typ, err := b.types.Load(name)
	if err != nil {
		if b.policy != PolicyTypeThenName {
			return nil, &ResolutionError{Name: name, Cause: err}
		}
		component, nameErr := b.host.ResolveByName(name)
		if nameErr != nil {
			return nil, &ResolutionError{Name: name, Cause: fmt.Errorf("%w; by name: %v", err, nameErr)}
		}
		b.logger.WithField("name", name).Debug("resolved component by name")
		return component, nil
	}
	component, err := b.host.ResolveByType(typ)
	if err != nil {
		return nil, &ResolutionError{Name: name, Cause: err}
	}
	return component, nil
}

// Policy returns the configured fallback policy.
func (b *Bridge) Policy() Policy {
	return b.policy
}
