package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/kingrea/orchestra/internal/engine/definition"
	"github.com/kingrea/orchestra/internal/metrics"
)

var (
	// ErrNotInitialized is returned by services of an engine whose Init has not succeeded.
	ErrNotInitialized = errors.New("engine: not initialized")
	// ErrNotFound reports an unknown definition, instance or execution.
	ErrNotFound = errors.New("engine: not found")
	// ErrNotActive reports an operation on an execution or instance that already finished.
	ErrNotActive = errors.New("engine: not active")
)

// Option names an engine feature switch.
type Option string

// OptionServiceOrchestration enables service-orchestration mode: definitions
// drive calls to container components instead of persisted user tasks.
const OptionServiceOrchestration Option = "service-orchestration"

// OptionSet is the set of enabled options.
type OptionSet map[Option]bool

// Enable switches o on.
func (s OptionSet) Enable(o Option) {
	s[o] = true
}

// Enabled reports whether o is switched on.
func (s OptionSet) Enabled(o Option) bool {
	return s[o]
}

// Executor runs the branches of a parallel fork.
type Executor interface {
	Submit(task func()) error
}

// InstanceAccessor turns the class name written in a definition into a live
// component.
type InstanceAccessor interface {
	Access(name string) (any, error)
}

// InstanceAccessorFunc adapts a function to InstanceAccessor.
type InstanceAccessorFunc func(name string) (any, error)

// Access calls f.
func (f InstanceAccessorFunc) Access(name string) (any, error) {
	return f(name)
}

// Configuration is everything an engine needs at Init.
type Configuration struct {
	Executor         Executor
	InstanceAccessor InstanceAccessor
	Options          OptionSet
	Logger           logrus.FieldLogger
	Metrics          *metrics.Set
}

// NewConfiguration returns a configuration with an empty option set.
func NewConfiguration() *Configuration {
	return &Configuration{Options: OptionSet{}}
}

// Clone copies the configuration so later changes by the caller are not seen.
func (c *Configuration) Clone() *Configuration {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Options = make(OptionSet, len(c.Options))
	for o, on := range c.Options {
		clone.Options[o] = on
	}
	return &clone
}

// Validate ensures the configuration is complete.
func (c *Configuration) Validate() error {
	if c == nil {
		return fmt.Errorf("engine: configuration is required")
	}
	if c.Executor == nil {
		return fmt.Errorf("engine: executor is required")
	}
	if c.InstanceAccessor == nil {
		return fmt.Errorf("engine: instance accessor is required")
	}
	return nil
}

// Engine is the process-orchestration engine driven by the bootstrapper.
type Engine interface {
	Init(cfg *Configuration) error
	RepositoryCommandService() RepositoryCommandService
	ProcessCommandService() ProcessCommandService
	ExecutionCommandService() ExecutionCommandService
	RepositoryQueryService() RepositoryQueryService
	ProcessQueryService() ProcessQueryService
	ExecutionQueryService() ExecutionQueryService
}

// Factory builds an uninitialized engine.
type Factory func() (Engine, error)

// RepositoryCommandService deploys process definitions.
type RepositoryCommandService interface {
	Deploy(r io.Reader) (*definition.ProcessDefinition, error)
}

// RepositoryQueryService reads deployed definitions.
type RepositoryQueryService interface {
	// Find returns the definition; an empty version selects the latest deployment.
	Find(id, version string) (*definition.ProcessDefinition, error)
	List() []*definition.ProcessDefinition
}

// ProcessCommandService starts and aborts process instances.
type ProcessCommandService interface {
	Start(ctx context.Context, definitionID, version string, vars map[string]any) (*ProcessInstance, error)
	Abort(ctx context.Context, instanceID string) error
}

// ProcessQueryService reads process instances.
type ProcessQueryService interface {
	Find(instanceID string) (*ProcessInstance, error)
	List() []*ProcessInstance
}

// ExecutionCommandService resumes waiting executions.
type ExecutionCommandService interface {
	Signal(ctx context.Context, executionID string, vars map[string]any) (*ProcessInstance, error)
}

// ExecutionQueryService reads activity executions.
type ExecutionQueryService interface {
	Find(executionID string) (*Execution, error)
	FindActive(instanceID string) ([]*Execution, error)
	List(instanceID string) ([]*Execution, error)
}
